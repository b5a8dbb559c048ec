// Package rdt3 implements RDT version 3: stop-and-wait with a 1-bit
// sequence number, per spec §4.3/§4.4.
package rdt3

import (
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/coursenet/rdt/internal/channel"
	"github.com/coursenet/rdt/internal/frame"
	"github.com/coursenet/rdt/internal/metrics"
)

// Timeout is the retransmission timeout: 50ms, per spec §3/§9.
const Timeout = 50 * time.Millisecond

// Conn holds all RDT-3 protocol state for one peer. Unlike the
// reference implementation's module-scope globals, every field here is
// per-connection (Design Note, spec §9) and guarded by mu so a Conn may
// safely be driven from more than one goroutine, even though the
// documented contract is one call at a time (spec §5).
type Conn struct {
	mu sync.Mutex

	pc   net.PacketConn
	peer net.Addr
	shim *channel.Shim

	sendState uint8 // 0 or 1
	recvState uint8 // 0 or 1

	lastAckNum    uint8
	hasLastAckNum bool

	// dataBuffer holds raw, already-validated DATA frames received by
	// Send while it was waiting on its own ACK, awaiting a future Recv
	// (spec §4.3 step 4 last bullet, §4.4 step 1).
	dataBuffer [][]byte

	log    *zap.Logger
	m      *metrics.Registry
	closed bool
}

// Option configures a Conn at construction time.
type Option func(*Conn)

// WithLogger attaches a structured logger; default is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Conn) { c.log = log }
}

// WithMetrics attaches a metrics registry; default is an unregistered one.
func WithMetrics(m *metrics.Registry) Option {
	return func(c *Conn) { c.m = m }
}

// New builds an RDT-3 connection bound to pc, exchanging frames with
// peer over shim.
func New(pc net.PacketConn, shim *channel.Shim, peer net.Addr, opts ...Option) *Conn {
	c := &Conn{
		pc:   pc,
		peer: peer,
		shim: shim,
		log:  zap.NewNop(),
		m:    metrics.NewRegistry(nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// other1bit flips a single bit 0<->1, the Go spelling of the reference
// implementation's "1 - send_state" / "1 - rcv_state".
func other1bit(b uint8) uint8 { return b ^ 1 }

// noDeadline clears any previously set read deadline; Recv blocks
// indefinitely (modulo ctx) rather than polling on a timer, since only
// Send owns the retransmission timeout (spec §9, "Timers").
var noDeadline time.Time

// PacketConn returns the underlying datagram socket, for the shared
// close-path drain in package rdt.
func (c *Conn) PacketConn() net.PacketConn { return c.pc }

// Peer returns the configured peer address.
func (c *Conn) Peer() net.Addr { return c.peer }

// Shim returns the channel this connection sends and receives through.
func (c *Conn) Shim() *channel.Shim { return c.shim }

// ShouldReAck reports whether a frame seen during the close-quiescence
// drain warrants a re-acknowledgement: in RDT-3 that is exactly a DATA
// frame carrying the last sequence number this side ever acked (spec
// §4.7) — anything else (a stray ACK, a frame for a sequence this side
// has not seen) is ignored.
func (c *Conn) ShouldReAck(fr frame.Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasLastAckNum && fr.Type == frame.TypeData && fr.Seq == c.lastAckNum
}

// LastAck builds the ACK frame to resend for fr during close drain.
func (c *Conn) LastAck(fr frame.Frame) []byte { return frame.Ack(fr.Seq) }

// MarkClosed records that the underlying socket has been released, so a
// subsequent Send/Recv fails fast instead of touching a dead pc.
func (c *Conn) MarkClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}
