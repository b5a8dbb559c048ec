package rdt4

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/coursenet/rdt/internal/frame"
)

// Recv returns the next in-order DATA payload from peer, blocking until
// one arrives. It first drains any frame Send buffered while it was
// waiting on its own window's ACKs (spec §4.6 step 1), then falls back
// to reading the channel directly.
func (c *Conn) Recv(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.peer == nil {
		return nil, ErrPeerNotSet
	}

	if payload, ok := c.drainBuffer(); ok {
		return payload, nil
	}

	buf := make([]byte, frame.Payload+frame.HeaderSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := c.pc.SetReadDeadline(noDeadline); err != nil {
			return nil, fmt.Errorf("rdt4: clear deadline: %w", err)
		}
		n, err := c.shim.Recv(c.pc, buf)
		if err != nil {
			return nil, fmt.Errorf("rdt4: recv: %w", err)
		}

		raw := append([]byte(nil), buf[:n]...)
		if frame.IsCorrupt(raw) {
			c.m.FramesCorrupt.Inc()
			c.log.Debug("rdt4: recv: corrupt frame ignored")
			continue
		}

		fr, err := frame.Unpack(raw)
		if err != nil {
			continue
		}

		// A bare ACK arriving here belongs to a concurrent Send call;
		// Recv has nothing to do with it (spec §4.6 step 2's guard
		// against treating ACKs as input).
		if fr.Type == frame.TypeACK {
			continue
		}

		if fr.Seq == c.expSeqNum {
			ack := frame.Ack(c.expSeqNum)
			if _, err := c.shim.Send(c.pc, c.peer, ack); err != nil {
				return nil, fmt.Errorf("rdt4: ack: %w", err)
			}
			c.lastAckSent, c.hasLastAckSent = c.expSeqNum, true
			c.log.Debug("rdt4: delivered data", zap.Uint8("seq", fr.Seq))
			c.expSeqNum++
			return fr.Payload, nil
		}

		// Out-of-order arrival: re-ACK the last in-order sequence so the
		// sender's Go-Back-N timer knows where the window base really
		// is, per spec §4.6 step 3.
		prev := c.expSeqNum - 1
		ack := frame.Ack(prev)
		if _, err := c.shim.Send(c.pc, c.peer, ack); err != nil {
			return nil, fmt.Errorf("rdt4: ack re-send: %w", err)
		}
		c.lastAckSent, c.hasLastAckSent = prev, true
		c.log.Debug("rdt4: recv: out-of-order data re-acked previous", zap.Uint8("seq", prev), zap.Uint8("got", fr.Seq))
	}
}

// drainBuffer pops frames Send buffered while waiting on its own
// window's ACKs, delivering the first one matching expSeqNum and
// discarding the rest, per spec §4.6 step 1.
func (c *Conn) drainBuffer() ([]byte, bool) {
	for len(c.dataBuffer) > 0 {
		raw := c.dataBuffer[0]
		c.dataBuffer = c.dataBuffer[1:]

		if frame.IsCorrupt(raw) {
			continue
		}
		fr, err := frame.Unpack(raw)
		if err != nil {
			continue
		}
		if fr.Type == frame.TypeData && fr.Seq == c.expSeqNum {
			c.expSeqNum++
			return fr.Payload, true
		}
	}
	return nil, false
}
