// Package rdt is the public entry point for the reliable-data-transfer
// layer: network_init/socket/bind/peer/send/recv/close, implemented by
// wrapping one of the rdt3 (stop-and-wait) or rdt4 (Go-Back-N) protocol
// engines over an unreliable-channel shim.
package rdt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"go.uber.org/zap"

	"github.com/coursenet/rdt/internal/channel"
	"github.com/coursenet/rdt/internal/frame"
	"github.com/coursenet/rdt/internal/metrics"
	"github.com/coursenet/rdt/rdt3"
	"github.com/coursenet/rdt/rdt4"
)

// Version names a protocol engine. The engine itself is chosen by
// calling NewV3 or NewV4; Socket does not read Options.Version.
type Version int

const (
	V3 Version = iota // stop-and-wait, 1-bit sequence number
	V4                // Go-Back-N, 8-bit sequence number, window W
)

// SocketError wraps a failure from socket() or bind(), mirroring the
// reference implementation's practice of catching and reporting every
// syscall.error rather than letting it escape raw.
type SocketError struct {
	Op  string
	Err error
}

func (e *SocketError) Error() string { return fmt.Sprintf("rdt: %s: %v", e.Op, e.Err) }
func (e *SocketError) Unwrap() error { return e.Err }

// Conn is the application-facing handle returned by NewV3 and NewV4: a
// peer-configured connection driving either protocol engine.
type Conn interface {
	// Send transmits msg and blocks until it is fully acknowledged,
	// returning the number of bytes accepted.
	Send(ctx context.Context, msg []byte) (int, error)
	// Recv blocks for the next in-order payload from the peer.
	Recv(ctx context.Context) ([]byte, error)
	// Close drains the channel for TWAIT and releases the socket.
	Close(ctx context.Context) error
}

// closer is the subset of rdt3.Conn / rdt4.Conn the shared Close drain
// needs. Both engines satisfy it structurally; neither imports this
// package, so there is no import cycle.
type closer interface {
	PacketConn() net.PacketConn
	Peer() net.Addr
	Shim() *channel.Shim
	ShouldReAck(fr frame.Frame) bool
	LastAck(fr frame.Frame) []byte
	MarkClosed()
}

// Options carries per-connection settings. NewV3 and NewV4 read Logger
// and Metrics; Version, Window, DropRate and ErrRate are not read by
// this package (the window is NewV4's argument, the rates live on the
// *channel.Shim).
type Options struct {
	Version  Version
	Window   int
	DropRate float64
	ErrRate  float64
	Logger   *zap.Logger
	Metrics  *metrics.Registry
}

// NetworkInit seeds channel-shim configuration shared by sockets created
// after it runs, mirroring rdt_network_init(drop_rate, err_rate[, W]).
// The rates live on the returned *channel.Shim rather than in
// package-level state (Design Note, spec §9 "Process-wide mutable
// state"); NetworkInit is kept to preserve the function name
// applications built against the reference API expect, and its shim is
// the one to pass to NewV3/NewV4.
func NetworkInit(dropRate, errRate float64, opts ...channel.Option) *channel.Shim {
	return channel.New(dropRate, errRate, opts...)
}

// Socket allocates a UDP datagram socket on an ephemeral port and
// returns it as a net.PacketConn. shim and opts are not used; the
// protocol engine is attached by NewV3 or NewV4. It does not bind to a
// chosen port or configure a peer; call Bind and Peer afterward.
func Socket(shim *channel.Shim, opts Options) (net.PacketConn, error) {
	pc, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return nil, &SocketError{Op: "socket", Err: err}
	}
	return pc, nil
}

// Bind rebinds pc's underlying file descriptor to port on all
// interfaces with SO_REUSEADDR set, the Go equivalent of rdt_bind.
// net.PacketConn offers no re-bind primitive, so Bind actually opens a
// fresh socket on the requested port and closes pc, returning the
// replacement — callers must use the returned PacketConn.
func Bind(pc net.PacketConn, port int) (net.PacketConn, error) {
	udpConn, ok := pc.(*net.UDPConn)
	if !ok {
		return nil, &SocketError{Op: "bind", Err: errors.New("not a UDP socket")}
	}
	rc, err := udpConn.SyscallConn()
	if err != nil {
		return nil, &SocketError{Op: "bind", Err: err}
	}
	var ctlErr error
	if err := rc.Control(func(fd uintptr) { ctlErr = setReuseAddr(fd) }); err != nil {
		return nil, &SocketError{Op: "bind", Err: err}
	}
	if ctlErr != nil {
		return nil, &SocketError{Op: "bind", Err: ctlErr}
	}

	addr := &net.UDPAddr{IP: net.IPv4zero, Port: port}
	lc := net.ListenConfig{Control: func(_, _ string, raw syscall.RawConn) error {
		var reuseErr error
		if err := raw.Control(func(fd uintptr) { reuseErr = setReuseAddr(fd) }); err != nil {
			return err
		}
		return reuseErr
	}}
	next, err := lc.ListenPacket(context.Background(), "udp", addr.String())
	if err != nil {
		pc.Close()
		return nil, &SocketError{Op: "bind", Err: err}
	}
	pc.Close()
	return next, nil
}

// Peer resolves host:port into the net.Addr a Conn sends to. No network
// I/O is performed, matching rdt_peer's pure bookkeeping.
func Peer(host string, port int) (net.Addr, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	if err != nil {
		return nil, &SocketError{Op: "peer", Err: err}
	}
	return addr, nil
}

// NewV3 builds a stop-and-wait Conn.
func NewV3(pc net.PacketConn, shim *channel.Shim, peer net.Addr, opts Options) Conn {
	var rOpts []rdt3.Option
	if opts.Logger != nil {
		rOpts = append(rOpts, rdt3.WithLogger(opts.Logger))
	}
	if opts.Metrics != nil {
		rOpts = append(rOpts, rdt3.WithMetrics(opts.Metrics))
	}
	return &conn3{rdt3.New(pc, shim, peer, rOpts...)}
}

// NewV4 builds a Go-Back-N Conn with the given window size.
func NewV4(pc net.PacketConn, shim *channel.Shim, peer net.Addr, window int, opts Options) (Conn, error) {
	var rOpts []rdt4.Option
	if opts.Logger != nil {
		rOpts = append(rOpts, rdt4.WithLogger(opts.Logger))
	}
	if opts.Metrics != nil {
		rOpts = append(rOpts, rdt4.WithMetrics(opts.Metrics))
	}
	c, err := rdt4.New(pc, shim, peer, window, rOpts...)
	if err != nil {
		return nil, err
	}
	return &conn4{c}, nil
}

type conn3 struct{ c *rdt3.Conn }

func (w *conn3) Send(ctx context.Context, msg []byte) (int, error) { return w.c.Send(ctx, msg) }
func (w *conn3) Recv(ctx context.Context) ([]byte, error)          { return w.c.Recv(ctx) }
func (w *conn3) Close(ctx context.Context) error                   { return drainAndClose(ctx, w.c) }

type conn4 struct{ c *rdt4.Conn }

func (w *conn4) Send(ctx context.Context, msg []byte) (int, error) { return w.c.Send(ctx, msg) }
func (w *conn4) Recv(ctx context.Context) ([]byte, error)          { return w.c.Recv(ctx) }
func (w *conn4) Close(ctx context.Context) error                   { return drainAndClose(ctx, w.c) }
