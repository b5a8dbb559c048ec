package rdt

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/coursenet/rdt/internal/frame"
)

// TWait is the close-quiescence drain duration: 10 * TIMEOUT, per spec
// §4.7/§9.
const TWait = 500 * time.Millisecond

// drainAndClose implements rdt_close's TIME_WAIT analogue: wait up to
// TWait for any inbound frame, re-acking eligible DATA as it arrives
// (c.ShouldReAck decides eligibility per protocol version), and release
// the socket once a full TWait interval passes with no traffic. Any I/O
// error seen during the drain is accumulated and returned, but never
// prevents the final release — per spec §4.7, "any I/O error during
// drain is reported but does not prevent the final release."
func drainAndClose(ctx context.Context, c closer) error {
	var errs *multierror.Error

	pc := c.PacketConn()
	buf := make([]byte, frame.Payload+frame.HeaderSize)

	for {
		if err := ctx.Err(); err != nil {
			errs = multierror.Append(errs, err)
			break
		}

		if err := pc.SetReadDeadline(time.Now().Add(TWait)); err != nil {
			errs = multierror.Append(errs, err)
			break
		}

		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			if isTimeoutErr(err) {
				break
			}
			errs = multierror.Append(errs, err)
			continue
		}

		raw := append([]byte(nil), buf[:n]...)
		if frame.IsCorrupt(raw) {
			continue
		}
		fr, err := frame.Unpack(raw)
		if err != nil {
			continue
		}
		if !c.ShouldReAck(fr) {
			continue
		}
		if _, err := c.Shim().Send(pc, c.Peer(), c.LastAck(fr)); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	c.MarkClosed()
	if err := pc.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

func isTimeoutErr(err error) bool {
	type timeout interface{ Timeout() bool }
	te, ok := err.(timeout)
	return ok && te.Timeout()
}
