// Package channel implements the unreliable datagram shim: a thin wrapper
// over a net.PacketConn that can simulate packet loss and single-byte
// corruption for testing, per spec §4.2. Production use leaves both
// rates at zero, in which case Shim is a transparent passthrough.
package channel

import (
	"fmt"
	"math/rand/v2"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/coursenet/rdt/internal/metrics"
)

// Shim wraps a datagram socket and optionally drops or corrupts outbound
// frames before they hit the wire. Loss/error rates are mutable so tests
// can change them between sends on a single shim instance.
type Shim struct {
	mu   sync.Mutex
	rng  *rand.Rand
	loss float64
	err  float64
	log  *zap.Logger
	m    *metrics.Registry
}

// New builds a shim with the given loss and corruption probabilities,
// seeding its RNG from a process-wide source so repeated NetworkInit
// calls in one process still vary run to run (tests inject a seeded
// *rand.Rand via WithRand for determinism — see Design Note "Random
// number source").
func New(lossRate, errRate float64, opts ...Option) *Shim {
	s := &Shim{
		loss: lossRate,
		err:  errRate,
		rng:  rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		log:  zap.NewNop(),
		m:    metrics.NewRegistry(nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Option configures a Shim at construction time.
type Option func(*Shim)

// WithRand injects a deterministic random source, for reproducible tests.
func WithRand(r *rand.Rand) Option {
	return func(s *Shim) { s.rng = r }
}

// WithLogger attaches a structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Shim) { s.log = log }
}

// WithMetrics attaches a metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(s *Shim) { s.m = m }
}

// SetRates updates the loss/corruption probabilities in place.
func (s *Shim) SetRates(lossRate, errRate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loss = lossRate
	s.err = errRate
}

// Send transmits b to peer over pc, first rolling for simulated loss,
// then for simulated single-byte corruption, per §4.2:
//
//  1. drop ~ U(0,1): if drop < lossRate, report success but send nothing.
//  2. else corrupt ~ U(0,1): if corrupt < errRate, flip one random byte
//     (subtract 2, or set to 254 if the byte was 0 or 1) and send that.
//  3. else send b unmodified.
func (s *Shim) Send(pc net.PacketConn, peer net.Addr, b []byte) (int, error) {
	// s.rng is a *rand.Rand (math/rand/v2), not safe for concurrent use,
	// and one Shim is routinely shared across the Conns on both ends of
	// a connection (DESIGN.md); every roll and every use of s.rng must
	// therefore stay under s.mu, not just the loss/errRate copy.
	s.mu.Lock()
	loss, errRate := s.loss, s.err
	drop := s.rng.Float64()
	corrupt := s.rng.Float64()
	var corrupted []byte
	if drop >= loss && corrupt < errRate {
		corrupted = corruptOneByte(b, s.rng)
	}
	s.mu.Unlock()

	if drop < loss {
		s.m.SimulatedLoss.Inc()
		s.log.Debug("channel: simulated loss", zap.Int("len", len(b)))
		return len(b), nil
	}

	if corrupt < errRate {
		s.m.SimulatedCorruption.Inc()
		s.log.Debug("channel: simulated corruption", zap.Int("len", len(b)))
		return pc.WriteTo(corrupted, peer)
	}

	return pc.WriteTo(b, peer)
}

// Recv performs a plain blocking datagram receive, discarding the
// source address the way the reference __udt_recv does (the caller
// already knows its single configured peer).
func (s *Shim) Recv(pc net.PacketConn, buf []byte) (int, error) {
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		return 0, fmt.Errorf("channel: recv: %w", err)
	}
	return n, nil
}

// corruptOneByte mutates a uniformly random byte position of b, returning
// a new slice so the caller's original frame (still referenced by the
// sender's retransmission buffer) is never mutated in place.
func corruptOneByte(b []byte, rng *rand.Rand) []byte {
	out := append([]byte(nil), b...)
	if len(out) == 0 {
		return out
	}
	pos := rng.IntN(len(out))
	if out[pos] >= 2 {
		out[pos] -= 2
	} else {
		out[pos] = 254
	}
	return out
}
