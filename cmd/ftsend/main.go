// Command ftsend sends a file to an ftrecv peer over RDT-4.
//
// It reproduces the control-frame handshake of the coursework's UDP
// file-transfer client: a "<filename>:<size>" header frame followed by
// the file contents chunked to fit one window's worth of DATA frames
// per Send call.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coursenet/rdt"
	"github.com/coursenet/rdt/internal/frame"
	"github.com/coursenet/rdt/internal/metrics"
)

func main() {
	var (
		host      string
		port      int
		localPort int
		window    int
		dropRate  float64
		errRate   float64
	)

	cmd := &cobra.Command{
		Use:   "ftsend <file>",
		Short: "Send a file to an ftrecv peer over RDT-4",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], host, port, localPort, window, dropRate, errRate)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "peer host")
	cmd.Flags().IntVar(&port, "port", 32341, "peer port")
	cmd.Flags().IntVar(&localPort, "local-port", 32340, "local port to bind, so the receiver can target us back")
	cmd.Flags().IntVar(&window, "window", 4, "RDT-4 send window size")
	cmd.Flags().Float64Var(&dropRate, "drop-rate", 0, "simulated packet loss probability")
	cmd.Flags().Float64Var(&errRate, "err-rate", 0, "simulated packet corruption probability")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(path string, host string, port, localPort, window int, dropRate, errRate float64) error {
	log, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("ftsend: logger: %w", err)
	}
	defer log.Sync()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("ftsend: open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("ftsend: stat: %w", err)
	}

	shim := rdt.NetworkInit(dropRate, errRate)

	pc, err := rdt.Socket(shim, rdt.Options{Version: rdt.V4})
	if err != nil {
		return err
	}
	pc, err = rdt.Bind(pc, localPort)
	if err != nil {
		return err
	}

	peer, err := rdt.Peer(host, port)
	if err != nil {
		pc.Close()
		return err
	}

	m := metrics.NewRegistry(nil)
	conn, err := rdt.NewV4(pc, shim, peer, window, rdt.Options{Logger: log, Metrics: m})
	if err != nil {
		pc.Close()
		return err
	}

	ctx := context.Background()

	header := fmt.Sprintf("%s:%d", filepath.Base(path), info.Size())
	if _, err := conn.Send(ctx, []byte(header)); err != nil {
		return fmt.Errorf("ftsend: header: %w", err)
	}
	log.Info("ftsend: sent header", zap.String("header", header))

	chunk := make([]byte, window*frame.Payload)
	remaining := info.Size()
	for remaining > 0 {
		n, err := f.Read(chunk)
		if n == 0 {
			break
		}
		if err != nil && n == 0 {
			return fmt.Errorf("ftsend: read: %w", err)
		}
		if _, err := conn.Send(ctx, chunk[:n]); err != nil {
			return fmt.Errorf("ftsend: send: %w", err)
		}
		remaining -= int64(n)
	}

	log.Info("ftsend: transfer complete", zap.String("file", path), zap.Int64("bytes", info.Size()))
	return conn.Close(ctx)
}
