package ipc

import (
	"encoding/binary"
	"fmt"
)

// WorkunitStats is the progress/done message of spec §4.6.
type WorkunitStats struct {
	WorkunitID uint64
	Sent       uint64
	Recv       uint64
	Done       bool
}

func (s WorkunitStats) Marshal() []byte {
	buf := make([]byte, 8+8+8+1)
	binary.BigEndian.PutUint64(buf[0:8], s.WorkunitID)
	binary.BigEndian.PutUint64(buf[8:16], s.Sent)
	binary.BigEndian.PutUint64(buf[16:24], s.Recv)
	if s.Done {
		buf[24] = 1
	}
	return buf
}

func UnmarshalWorkunitStats(buf []byte) (WorkunitStats, error) {
	if len(buf) < 25 {
		return WorkunitStats{}, fmt.Errorf("ipc: workunit-stats frame too short: %d bytes", len(buf))
	}
	return WorkunitStats{
		WorkunitID: binary.BigEndian.Uint64(buf[0:8]),
		Sent:       binary.BigEndian.Uint64(buf[8:16]),
		Recv:       binary.BigEndian.Uint64(buf[16:24]),
		Done:       buf[24] != 0,
	}, nil
}

// WorkunitWrapperKind distinguishes a send- from a recv-workunit inside
// a workunit-wrapper frame, spec §4.6.
type WorkunitWrapperKind uint8

const (
	WrapSend WorkunitWrapperKind = iota
	WrapRecv
)

// WorkunitWrapper carries an encoded workunit with an ID, spec §4.6. The
// inner Body is opaque to this package — callers encode/decode the
// actual SendWorkunit/RecvWorkunit (pkg/workunit doesn't import pkg/ipc,
// so the wire codec for those structs lives alongside them to avoid a
// dependency cycle; this wrapper only carries the envelope).
type WorkunitWrapper struct {
	ID   uint64
	Kind WorkunitWrapperKind
	Body []byte
}

func (w WorkunitWrapper) Marshal() []byte {
	buf := make([]byte, 8+1+4+len(w.Body))
	binary.BigEndian.PutUint64(buf[0:8], w.ID)
	buf[8] = byte(w.Kind)
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(w.Body)))
	copy(buf[13:], w.Body)
	return buf
}

func UnmarshalWorkunitWrapper(buf []byte) (WorkunitWrapper, error) {
	if len(buf) < 13 {
		return WorkunitWrapper{}, fmt.Errorf("ipc: workunit-wrapper frame too short: %d bytes", len(buf))
	}
	id := binary.BigEndian.Uint64(buf[0:8])
	kind := WorkunitWrapperKind(buf[8])
	bodyLen := binary.BigEndian.Uint32(buf[9:13])
	if int(bodyLen) > len(buf)-13 {
		return WorkunitWrapper{}, fmt.Errorf("ipc: workunit-wrapper body length %d exceeds frame", bodyLen)
	}
	body := make([]byte, bodyLen)
	copy(body, buf[13:13+bodyLen])
	return WorkunitWrapper{ID: id, Kind: kind, Body: body}, nil
}

// TerminatePayload is the empty-body terminate broadcast of spec §5
// ("SIGINT/SIGTERM at the master ⇒ broadcast 'terminate' on the IPC
// bus"). Kept as a named zero-length type for symmetry with the other
// message constructors rather than passing nil payloads around.
type TerminatePayload struct{}

func (TerminatePayload) Marshal() []byte { return nil }
