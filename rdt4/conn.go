// Package rdt4 implements RDT version 4: a pipelined, Go-Back-N sender
// with an 8-bit sequence space and a cumulative-ACK receiver, per
// spec §4.5/§4.6.
package rdt4

import (
	"errors"
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

// SeqSize is the size of the modular sequence-number space: sequence
// numbers wrap at 256 (spec §4.5, "8-bit seq").
const SeqSize = 256

// ErrPeerNotSet is returned by Send/Recv when Peer has not been configured.
var ErrPeerNotSet = errors.New("rdt: peer address not set")

// ErrClosed is returned by Send/Recv once the connection has been closed.
var ErrClosed = errors.New("rdt: connection closed")

// ErrWindowTooBig is returned by New when window is outside
// [1, SeqSize-1]; SeqSize-1 is the largest window that keeps in-flight
// sequence numbers unambiguous.
var ErrWindowTooBig = errors.New("rdt4: window size must be < 256")

// Conn holds all RDT-4 protocol state for one peer. Every field is
// per-connection and guarded by mu, mirroring rdt3.Conn.
type Conn struct {
	mu sync.Mutex

	pc     net.PacketConn
	peer   net.Addr
	shim   *channel.Shim
	window int

	nextSeqNum uint8 // next_seq_num: next seq a new Send call will use
	expSeqNum  uint8 // exp_seq_num: next seq Recv expects

	lastAckSent    uint8
	hasLastAckSent bool

	// dataBuffer holds raw, already-validated DATA frames Send buffered
	// while waiting on its own window's ACKs, for a future Recv.
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

// New builds an RDT-4 connection bound to pc, exchanging frames with
// peer over shim with a send window of window frames.
func New(pc net.PacketConn, shim *channel.Shim, peer net.Addr, window int, opts ...Option) (*Conn, error) {
	if window <= 0 || window >= SeqSize {
		return nil, ErrWindowTooBig
	}
	c := &Conn{
		pc:     pc,
		peer:   peer,
		shim:   shim,
		window: window,
		log:    zap.NewNop(),
		m:      metrics.NewRegistry(nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// seqDelta returns the modular distance of s taken forward from base,
// i.e. the value in [0, SeqSize) such that base+delta == s (mod SeqSize).
// All sequence comparisons in this package go through this helper, never
// a literal <, since the space wraps at SeqSize (spec §4.5, §9 "Sequence
// number comparison").
func seqDelta(base, s uint8) int {
	return int(s-base) & 0xFF
}

// seqBetween reports whether s falls in the inclusive modular window
// [low, high], measured forward from low.
func seqBetween(s, low, high uint8) bool {
	span := seqDelta(low, high)
	d := seqDelta(low, s)
	return d <= span
}

// PacketConn returns the underlying datagram socket, for the shared
// close-path drain in package rdt.
func (c *Conn) PacketConn() net.PacketConn { return c.pc }

// Peer returns the configured peer address.
func (c *Conn) Peer() net.Addr { return c.peer }

// Shim returns the channel this connection sends and receives through.
func (c *Conn) Shim() *channel.Shim { return c.shim }

// ShouldReAck reports whether a frame seen during the close-quiescence
// drain warrants a re-acknowledgement: any non-corrupt DATA frame, ACKed
// with its own sequence number (spec §4.7) — RDT-4 re-acks whatever
// sequence actually arrived, unlike RDT-3's single last-ack slot.
func (c *Conn) ShouldReAck(fr frame.Frame) bool {
	return fr.Type == frame.TypeData
}

// LastAck builds the ACK frame to resend for fr during close drain.
func (c *Conn) LastAck(fr frame.Frame) []byte { return frame.Ack(fr.Seq) }

// MarkClosed records that the underlying socket has been released.
func (c *Conn) MarkClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

var noDeadline time.Time
