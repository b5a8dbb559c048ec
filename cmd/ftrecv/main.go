// Command ftrecv receives a file from an ftsend peer over RDT-4.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coursenet/rdt"
	"github.com/coursenet/rdt/internal/metrics"
)

func main() {
	var (
		port     int
		window   int
		peerHost string
		peerPort int
	)

	cmd := &cobra.Command{
		Use:   "ftrecv",
		Short: "Receive a file from an ftsend peer over RDT-4",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(port, window, peerHost, peerPort)
		},
	}

	cmd.Flags().IntVar(&port, "port", 32341, "port to bind")
	cmd.Flags().IntVar(&window, "window", 4, "RDT-4 receive window size, must match the sender")
	cmd.Flags().StringVar(&peerHost, "peer-host", "127.0.0.1", "sender host (RDT presumes both peers are already configured)")
	cmd.Flags().IntVar(&peerPort, "peer-port", 32340, "sender's bound source port")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(port, window int, peerHost string, peerPort int) error {
	log, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("ftrecv: logger: %w", err)
	}
	defer log.Sync()

	shim := rdt.NetworkInit(0, 0)

	pc, err := rdt.Socket(shim, rdt.Options{Version: rdt.V4})
	if err != nil {
		return err
	}
	pc, err = rdt.Bind(pc, port)
	if err != nil {
		return err
	}

	peer, err := rdt.Peer(peerHost, peerPort)
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

	header, err := conn.Recv(ctx)
	if err != nil {
		return fmt.Errorf("ftrecv: header: %w", err)
	}
	name, sizeStr, ok := strings.Cut(string(header), ":")
	if !ok {
		return fmt.Errorf("ftrecv: malformed header %q", header)
	}
	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil {
		return fmt.Errorf("ftrecv: malformed size %q: %w", sizeStr, err)
	}
	log.Info("ftrecv: receiving", zap.String("file", name), zap.Int64("size", size))

	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("ftrecv: create: %w", err)
	}
	defer f.Close()

	var received int64
	for received < size {
		payload, err := conn.Recv(ctx)
		if err != nil {
			return fmt.Errorf("ftrecv: recv: %w", err)
		}
		if _, err := f.Write(payload); err != nil {
			return fmt.Errorf("ftrecv: write: %w", err)
		}
		received += int64(len(payload))
	}

	log.Info("ftrecv: transfer complete", zap.String("file", name), zap.Int64("bytes", received))
	return conn.Close(ctx)
}
