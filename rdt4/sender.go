package rdt4

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/coursenet/rdt/internal/frame"
)

// ErrBatchTooLarge is returned by Send when msg needs more than window
// frames to carry, per spec §4.5 ("callers MUST NOT exceed W * PAYLOAD
// bytes per call").
var ErrBatchTooLarge = errors.New("rdt4: message exceeds window * payload bytes")

// Send partitions msg into ⌈len(msg)/PAYLOAD⌉ DATA frames (at most
// window of them), transmits them back-to-back, and blocks until the
// whole batch is cumulatively acknowledged. It returns len(msg).
func (c *Conn) Send(ctx context.Context, msg []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return -1, ErrClosed
	}
	if c.peer == nil {
		return -1, ErrPeerNotSet
	}

	n := (len(msg) + frame.Payload - 1) / frame.Payload
	if n == 0 {
		n = 1
	}
	if n > c.window {
		return -1, ErrBatchTooLarge
	}

	base := c.nextSeqNum
	last := base + uint8(n) - 1 // last sequence number in this batch, mod 256
	pkts := make([][]byte, n)
	rest := msg
	for i := 0; i < n; i++ {
		chunk := rest
		if len(rest) > frame.Payload {
			chunk = rest[:frame.Payload]
			rest = rest[frame.Payload:]
		} else {
			rest = nil
		}
		pkts[i] = frame.Pack(frame.TypeData, c.nextSeqNum, chunk)
		if _, err := c.shim.Send(c.pc, c.peer, pkts[i]); err != nil {
			return -1, fmt.Errorf("rdt4: send: %w", err)
		}
		c.m.FramesSent.Inc()
		c.log.Debug("rdt4: sent data", zap.Uint8("seq", c.nextSeqNum), zap.Int("len", len(chunk)))
		c.nextSeqNum = c.nextSeqNum + 1
	}

	firstUnacked := 0
	buf := make([]byte, frame.Payload+frame.HeaderSize)

	for {
		if err := ctx.Err(); err != nil {
			return -1, err
		}

		if err := c.pc.SetReadDeadline(time.Now().Add(Timeout)); err != nil {
			return -1, fmt.Errorf("rdt4: set deadline: %w", err)
		}
		rn, err := c.shim.Recv(c.pc, buf)
		if err != nil {
			if isTimeout(err) {
				for i := firstUnacked; i < n; i++ {
					if _, rerr := c.shim.Send(c.pc, c.peer, pkts[i]); rerr != nil {
						return -1, fmt.Errorf("rdt4: retransmit: %w", rerr)
					}
					c.m.FramesRetransmitted.Inc()
				}
				c.log.Debug("rdt4: timeout, retransmit window", zap.Int("from", firstUnacked), zap.Int("to", n))
				continue
			}
			return -1, fmt.Errorf("rdt4: recv: %w", err)
		}

		raw := append([]byte(nil), buf[:rn]...)
		if frame.IsCorrupt(raw) {
			c.m.FramesCorrupt.Inc()
			c.log.Debug("rdt4: send: corrupt frame ignored")
			continue
		}

		fr, err := frame.Unpack(raw)
		if err != nil {
			continue
		}

		switch {
		case fr.Type == frame.TypeACK && seqBetween(fr.Seq, base, last):
			c.m.AcksReceived.Inc()
			if fr.Seq == last {
				c.log.Debug("rdt4: batch fully acknowledged", zap.Uint8("seq", fr.Seq))
				return len(msg), nil
			}
			newFirst := seqDelta(base, fr.Seq) + 1
			if newFirst > firstUnacked {
				firstUnacked = newFirst
			}
			c.log.Debug("rdt4: partial cumulative ack", zap.Uint8("through", fr.Seq))

		case fr.Type == frame.TypeACK:
			c.log.Debug("rdt4: send: out-of-range ack ignored", zap.Uint8("seq", fr.Seq))

		case fr.Type == frame.TypeData && fr.Seq == c.expSeqNum:
			if !containsFrame(c.dataBuffer, raw) {
				c.dataBuffer = append(c.dataBuffer, raw)
			}
			ack := frame.Ack(c.expSeqNum)
			if _, err := c.shim.Send(c.pc, c.peer, ack); err != nil {
				return -1, fmt.Errorf("rdt4: ack piggyback: %w", err)
			}
			c.lastAckSent, c.hasLastAckSent = c.expSeqNum, true
			c.log.Debug("rdt4: send: acked expected incoming data", zap.Uint8("seq", fr.Seq))

		default:
			prev := c.expSeqNum - 1
			ack := frame.Ack(prev)
			if _, err := c.shim.Send(c.pc, c.peer, ack); err != nil {
				return -1, fmt.Errorf("rdt4: ack re-send: %w", err)
			}
			c.lastAckSent, c.hasLastAckSent = prev, true
			c.log.Debug("rdt4: send: unexpected data, re-acked previous", zap.Uint8("seq", prev))
		}
	}
}

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
