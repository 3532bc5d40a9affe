//go:build linux

package scan

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/robertelee78/unicornscan/pkg/aggregator"
	"github.com/robertelee78/unicornscan/pkg/binaryparse"
	"github.com/robertelee78/unicornscan/pkg/payload"
)

// followUpTimeout bounds a single banner-grab connect, and bannerReadMax
// bounds how much of a response is read before summarizing it.
const (
	followUpTimeout = 3 * time.Second
	bannerReadMax   = 4096
)

// bannerParser adapts binaryparse.Summarize to aggregator.BannerParser.
type bannerParser struct{}

func (bannerParser) Summarize(buf []byte) string { return binaryparse.Summarize(buf) }

// followUpConnect performs the real TCP handshake+payload exchange the
// spec calls for after a SYN-ACK: payloads never ride the scan's SYN
// segment itself, only a genuine net.Dial connection established after
// the fact (SPEC_FULL.md's Open Question resolution on payload
// placement). It returns an OutputDatum describing whatever banner came
// back, or a zero value if the connect/read never completed.
func followUpConnect(ctx context.Context, host net.IP, port uint16, reg *payload.Registry, bp aggregator.BannerParser) (aggregator.OutputDatum, bool) {
	dialCtx, cancel := context.WithTimeout(ctx, followUpTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return aggregator.OutputDatum{}, false
	}
	defer conn.Close()

	if reg != nil {
		if body, err := reg.GetPayload(payload.TCP, port, 0); err == nil && len(body) > 0 {
			conn.SetWriteDeadline(time.Now().Add(followUpTimeout))
			if _, err := conn.Write(body); err != nil {
				return aggregator.OutputDatum{}, false
			}
		}
	}

	conn.SetReadDeadline(time.Now().Add(followUpTimeout))
	buf := make([]byte, bannerReadMax)
	n, err := conn.Read(buf)
	if n == 0 {
		return aggregator.OutputDatum{}, false
	}
	_ = err // a short read (EOF, timeout) still summarizes whatever arrived

	text := banner(bp, buf[:n])
	return aggregator.OutputDatum{Kind: "banner", Text: text}, true
}

func banner(bp aggregator.BannerParser, buf []byte) string {
	if bp == nil {
		bp = bannerParser{}
	}
	return bp.Summarize(buf)
}
