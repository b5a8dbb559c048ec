package rdt3

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/coursenet/rdt/internal/frame"
)

// Send transmits msg (truncated to frame.Payload bytes) as a single DATA
// frame and blocks until the matching ACK arrives, retransmitting on
// each TIMEOUT, per spec §4.3. It returns the number of payload bytes
// accepted by the peer.
func (c *Conn) Send(ctx context.Context, msg []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return -1, ErrClosed
	}
	if c.peer == nil {
		return -1, ErrPeerNotSet
	}

	if len(msg) > frame.Payload {
		msg = msg[:frame.Payload]
	}

	pkt := frame.Pack(frame.TypeData, c.sendState, msg)
	sentLen, err := c.shim.Send(c.pc, c.peer, pkt)
	if err != nil {
		return -1, fmt.Errorf("rdt3: send: %w", err)
	}
	c.m.FramesSent.Inc()
	c.log.Debug("rdt3: sent data", zap.Uint8("seq", c.sendState), zap.Int("len", sentLen))

	buf := make([]byte, frame.Payload+frame.HeaderSize)
	for {
		if err := ctx.Err(); err != nil {
			return -1, err
		}

		if err := c.pc.SetReadDeadline(time.Now().Add(Timeout)); err != nil {
			return -1, fmt.Errorf("rdt3: set deadline: %w", err)
		}
		n, err := c.shim.Recv(c.pc, buf)
		if err != nil {
			if isTimeout(err) {
				if _, rerr := c.shim.Send(c.pc, c.peer, pkt); rerr != nil {
					return -1, fmt.Errorf("rdt3: retransmit: %w", rerr)
				}
				c.m.FramesRetransmitted.Inc()
				c.log.Debug("rdt3: timeout, retransmit", zap.Uint8("seq", c.sendState))
				continue
			}
			return -1, fmt.Errorf("rdt3: recv: %w", err)
		}

		raw := append([]byte(nil), buf[:n]...)
		if frame.IsCorrupt(raw) {
			c.m.FramesCorrupt.Inc()
			c.log.Debug("rdt3: send: corrupt frame ignored")
			continue
		}

		fr, err := frame.Unpack(raw)
		if err != nil {
			continue
		}

		switch {
		case fr.Type == frame.TypeACK && fr.Seq == other1bit(c.sendState):
			// Duplicate ACK for the previous round; ignore.
			continue

		case fr.Type == frame.TypeACK && fr.Seq == c.sendState:
			c.m.AcksReceived.Inc()
			c.sendState = other1bit(c.sendState)
			c.log.Debug("rdt3: received expected ack", zap.Uint8("seq", fr.Seq))
			return len(msg), nil

		default:
			// DATA arriving from the peer while we wait for our ACK
			// (spec §4.3 step 4, last bullet): buffer it for a future
			// Recv and opportunistically ACK it so the peer's own
			// sender makes progress.
			if !containsFrame(c.dataBuffer, raw) {
				c.dataBuffer = append(c.dataBuffer, raw)
			}
			ack := frame.Ack(fr.Seq)
			if _, err := c.shim.Send(c.pc, c.peer, ack); err != nil {
				return -1, fmt.Errorf("rdt3: ack piggyback: %w", err)
			}
			c.lastAckNum = fr.Seq
			c.hasLastAckNum = true
			c.log.Debug("rdt3: send: acked incoming data", zap.Uint8("seq", fr.Seq))
		}
	}
}

// ErrPeerNotSet is returned by Send when Peer has not been configured.
var ErrPeerNotSet = errors.New("rdt: peer address not set")

// ErrClosed is returned by Send/Recv once the connection has been closed.
var ErrClosed = errors.New("rdt: connection closed")

func containsFrame(buf [][]byte, raw []byte) bool {
	for _, b := range buf {
		if string(b) == string(raw) {
			return true
		}
	}
	return false
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
