// Package main provides the CLI entry point for udptun.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/postalsys/udptun/internal/sysinfo"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "udptun",
		Short: "udptun - UDP tunnel agent and relay",
		Long: `udptun carries UDP datagrams from one host to arbitrary destinations
through a relay.

The agent captures UDP packets on a TUN device, wraps each payload in a
tunnel frame naming its destination and sends it to the relay. The relay
forwards the payload from a dedicated per-agent socket and returns replies
through the same tunnel, where the agent injects them back so they appear
to come from the original destination.`,
		Version:       sysinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(relayCmd())
	rootCmd.AddCommand(setupCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(probeCmd())
	rootCmd.AddCommand(serviceCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
