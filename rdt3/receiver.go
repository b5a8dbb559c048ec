package rdt3

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/coursenet/rdt/internal/frame"
)

// Recv returns the next in-order DATA payload from peer, blocking until
// one arrives. It first drains any frame Send buffered while it was
// waiting on its own ACK (spec §4.4 step 1), then falls back to reading
// the channel directly.
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
			return nil, fmt.Errorf("rdt3: clear deadline: %w", err)
		}
		n, err := c.shim.Recv(c.pc, buf)
		if err != nil {
			return nil, fmt.Errorf("rdt3: recv: %w", err)
		}

		raw := append([]byte(nil), buf[:n]...)
		if frame.IsCorrupt(raw) {
			c.m.FramesCorrupt.Inc()
			c.log.Debug("rdt3: recv: corrupt frame, re-ack last")
			c.reAckLast()
			continue
		}

		fr, err := frame.Unpack(raw)
		if err != nil {
			c.reAckLast()
			continue
		}

		switch {
		case fr.Type == frame.TypeData && fr.Seq == c.recvState:
			ack := frame.Ack(fr.Seq)
			if _, err := c.shim.Send(c.pc, c.peer, ack); err != nil {
				return nil, fmt.Errorf("rdt3: ack: %w", err)
			}
			c.lastAckNum = fr.Seq
			c.hasLastAckNum = true
			c.recvState = other1bit(c.recvState)
			c.log.Debug("rdt3: delivered data", zap.Uint8("seq", fr.Seq))
			return fr.Payload, nil

		case fr.Type == frame.TypeData:
			// Stale retransmission of the frame we already delivered;
			// re-ACK it so the sender can advance, per spec §4.4 step 3.
			c.log.Debug("rdt3: recv: stale data re-acked", zap.Uint8("seq", fr.Seq))
			c.reAckLast()

		default:
			// A bare ACK arriving here belongs to a concurrent Send; it
			// has nothing for Recv to do but keep waiting.
			continue
		}
	}
}

// drainBuffer pops frames Send buffered while waiting on its own ACK,
// delivering the first one matching recvState and discarding the rest,
// per spec §4.4 step 1.
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
		if fr.Type == frame.TypeData && fr.Seq == c.recvState {
			c.recvState = other1bit(c.recvState)
			return fr.Payload, true
		}
	}
	return nil, false
}

// reAckLast replies ack(1 - recv_state) for a corrupt or stale frame,
// per spec §4.4 step 2 — unconditional, exactly as rdt_recv's
// create_ack(1-rcv_state) call, even before any DATA has ever been
// delivered (spec §8 scenario S3: the very first frame arriving
// corrupted still gets an old-ACK reply).
func (c *Conn) reAckLast() {
	ack := frame.Ack(other1bit(c.recvState))
	_, _ = c.shim.Send(c.pc, c.peer, ack)
}
