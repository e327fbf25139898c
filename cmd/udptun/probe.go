package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/postalsys/udptun/internal/probe"
)

func probeCmd() *cobra.Command {
	var (
		relayAddr string
		target    string
		payload   string
		count     int
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Send test datagrams to a target through a relay",
		Long: `Send a tunnel frame straight to the relay and wait for the target's reply.
Use "udptun probe listen" on the target host to run an echo responder.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if relayAddr == "" || target == "" {
				return errors.New("--relay and --target are required")
			}

			failed := 0
			for i := 0; i < count; i++ {
				res := probe.Probe(cmd.Context(), probe.Options{
					Relay:   relayAddr,
					Target:  target,
					Payload: []byte(payload),
					Timeout: timeout,
				})
				if !res.Success {
					failed++
					fmt.Printf("probe %d: FAILED: %s\n", i+1, res.ErrorDetail)
					continue
				}
				fmt.Printf("probe %d: %s from %s in %s\n",
					i+1, humanize.Bytes(uint64(res.ReplyBytes)), res.ReplySource, res.RTT.Round(time.Microsecond))
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d probes failed", failed, count)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&relayAddr, "relay", "r", "", "Relay address (host:port)")
	cmd.Flags().StringVarP(&target, "target", "t", "", "Destination the relay forwards to (host:port)")
	cmd.Flags().StringVar(&payload, "payload", "udptun-probe", "Payload to send")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of probes")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Timeout per probe")

	cmd.AddCommand(probeListenCmd())

	return cmd
}

func probeListenCmd() *cobra.Command {
	var (
		address string
		prefix  string
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Run a UDP echo responder for probes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			events := make(chan probe.EchoEvent, 16)
			ready := make(chan net.Addr, 1)
			errCh := make(chan error, 1)
			go func() { errCh <- probe.Listen(ctx, probe.ListenOptions{Address: address, Prefix: []byte(prefix)}, events, ready) }()

			for {
				select {
				case addr := <-ready:
					fmt.Printf("Echo listener on %s\n", addr)
				case ev := <-events:
					if ev.Error != "" {
						fmt.Printf("%s %s: echo failed: %s\n", ev.Timestamp.Format(time.TimeOnly), ev.RemoteAddr, ev.Error)
						continue
					}
					fmt.Printf("%s %s: %s\n", ev.Timestamp.Format(time.TimeOnly), ev.RemoteAddr, humanize.Bytes(uint64(ev.Bytes)))
				case err := <-errCh:
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				}
			}
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "0.0.0.0:9000", "UDP listen address")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Prefix added to echoed payloads")

	return cmd
}
