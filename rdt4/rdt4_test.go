package rdt4

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coursenet/rdt/internal/channel"
	"github.com/coursenet/rdt/internal/frame"
)

func loopbackPair(t *testing.T) (a, b net.PacketConn) {
	t.Helper()
	a, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	b, err = net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return a, b
}

// S4: W=4, sending 3500 bytes produces 4 frames and Send returns 3500
// once the single cumulative final ACK arrives.
func TestSend_BatchOfFour_CumulativeACK(t *testing.T) {
	aConn, bConn := loopbackPair(t)
	shim := channel.New(0, 0)

	sender, err := New(aConn, shim, bConn.LocalAddr(), 4)
	require.NoError(t, err)
	receiver, err := New(bConn, shim, aConn.LocalAddr(), 4)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	msg := bytes.Repeat([]byte("A"), 3500)

	var got []byte
	done := make(chan struct{})
	go func() {
		defer close(done)
		for len(got) < len(msg) {
			p, err := receiver.Recv(ctx)
			require.NoError(t, err)
			got = append(got, p...)
		}
	}()

	n, err := sender.Send(ctx, msg)
	require.NoError(t, err)
	require.Equal(t, 3500, n)

	<-done
	require.Equal(t, msg, got)
}

func TestSend_ErrBatchTooLarge(t *testing.T) {
	aConn, bConn := loopbackPair(t)
	shim := channel.New(0, 0)
	sender, err := New(aConn, shim, bConn.LocalAddr(), 2)
	require.NoError(t, err)

	_, err = sender.Send(context.Background(), bytes.Repeat([]byte("x"), 2*frame.Payload+1))
	require.ErrorIs(t, err, ErrBatchTooLarge)
}

func TestNew_RejectsWindowOutOfRange(t *testing.T) {
	aConn, bConn := loopbackPair(t)
	shim := channel.New(0, 0)

	_, err := New(aConn, shim, bConn.LocalAddr(), 0)
	require.ErrorIs(t, err, ErrWindowTooBig)

	_, err = New(aConn, shim, bConn.LocalAddr(), SeqSize)
	require.ErrorIs(t, err, ErrWindowTooBig)
}

func TestSeqBetween_HandlesWraparound(t *testing.T) {
	require.True(t, seqBetween(254, 253, 2))
	require.True(t, seqBetween(0, 253, 2))
	require.True(t, seqBetween(2, 253, 2))
	require.False(t, seqBetween(3, 253, 2))
	require.False(t, seqBetween(252, 253, 2))
}

func TestSeqDelta(t *testing.T) {
	require.Equal(t, 0, seqDelta(10, 10))
	require.Equal(t, 5, seqDelta(10, 15))
	require.Equal(t, 251, seqDelta(10, 5)) // wraps backward across 256
}

// S6: with W<=128, sending past 512 frames exercises the mod-256 wrap
// without losing or misordering data.
func TestSendRecv_SequenceWraparound(t *testing.T) {
	aConn, bConn := loopbackPair(t)
	shim := channel.New(0, 0)

	const window = 4
	sender, err := New(aConn, shim, bConn.LocalAddr(), window)
	require.NoError(t, err)
	receiver, err := New(bConn, shim, aConn.LocalAddr(), window)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	totalFrames := 520
	msg := bytes.Repeat([]byte("Z"), window*frame.Payload)

	var gotFrames int
	done := make(chan struct{})
	go func() {
		defer close(done)
		for gotFrames < totalFrames {
			_, err := receiver.Recv(ctx)
			require.NoError(t, err)
			gotFrames++
		}
	}()

	sent := 0
	for sent < totalFrames {
		batch := window
		if totalFrames-sent < batch {
			batch = totalFrames - sent
		}
		_, err := sender.Send(ctx, msg[:batch*frame.Payload])
		require.NoError(t, err)
		sent += batch
	}

	<-done
	require.Equal(t, totalFrames, gotFrames)
}
