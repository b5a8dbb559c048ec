package rdt

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Roughly S1/S4: a full network_init/socket/peer/send/recv/close cycle
// over RDT-4 on the reliable channel delivers the payload and close()
// releases the socket without error.
func TestFullCycle_RDT4_SendRecvClose(t *testing.T) {
	shim := NetworkInit(0, 0)

	clientPC, err := Socket(shim, Options{Version: V4})
	require.NoError(t, err)
	serverPC, err := Socket(shim, Options{Version: V4})
	require.NoError(t, err)

	serverAddr := serverPC.LocalAddr().(*net.UDPAddr)
	clientAddr := clientPC.LocalAddr().(*net.UDPAddr)

	clientToServer, err := Peer(serverAddr.IP.String(), serverAddr.Port)
	require.NoError(t, err)
	serverToClient, err := Peer(clientAddr.IP.String(), clientAddr.Port)
	require.NoError(t, err)

	client, err := NewV4(clientPC, shim, clientToServer, 4, Options{})
	require.NoError(t, err)
	server, err := NewV4(serverPC, shim, serverToClient, 4, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan []byte, 1)
	go func() {
		p, err := server.Recv(ctx)
		require.NoError(t, err)
		done <- p
	}()

	n, err := client.Send(ctx, []byte("integration"))
	require.NoError(t, err)
	require.Equal(t, len("integration"), n)
	require.Equal(t, "integration", string(<-done))

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer closeCancel()
	require.NoError(t, client.Close(closeCtx))
	require.NoError(t, server.Close(closeCtx))
}

func TestBind_RejectsNonUDPConn(t *testing.T) {
	_, err := Bind(nil, 0)
	require.Error(t, err)
}
