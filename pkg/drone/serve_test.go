//go:build linux

package drone

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robertelee78/unicornscan/pkg/ipc"
)

func TestServerHandshakeAcceptsMatchingVersion(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	clientConn := ipc.NewConn(client)
	serverConn := ipc.NewConn(server)

	done := make(chan error, 1)
	go func() { done <- serverHandshake(serverConn) }()

	req := make([]byte, 4)
	req[3] = byte(ProtocolVersion)
	require.NoError(t, clientConn.Send(ipc.Frame{Magic: ipc.MagicHeader, Payload: req}))
	resp, err := clientConn.Recv()
	require.NoError(t, err)
	require.Equal(t, ipc.MagicHeader, resp.Magic)

	require.NoError(t, <-done)
}

func TestServerHandshakeRejectsVersionMismatch(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	clientConn := ipc.NewConn(client)
	serverConn := ipc.NewConn(server)

	done := make(chan error, 1)
	go func() { done <- serverHandshake(serverConn) }()

	req := []byte{0, 0, 0, byte(ProtocolVersion) + 1}
	require.NoError(t, clientConn.Send(ipc.Frame{Magic: ipc.MagicHeader, Payload: req}))
	_, err := clientConn.Recv()
	require.NoError(t, err)

	require.Error(t, <-done)
}
