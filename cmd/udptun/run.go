package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/postalsys/udptun/internal/agent"
	"github.com/postalsys/udptun/internal/capture"
	"github.com/postalsys/udptun/internal/config"
	"github.com/postalsys/udptun/internal/health"
	"github.com/postalsys/udptun/internal/logging"
	"github.com/postalsys/udptun/internal/metrics"
	"github.com/postalsys/udptun/internal/relay"
	"github.com/postalsys/udptun/internal/supervise"
)

type agentHealth struct{ a *agent.Agent }

func (h agentHealth) IsRunning() bool  { return h.a.IsRunning() }
func (h agentHealth) HealthStats() any { return h.a.Stats() }

type relayHealth struct{ m *relay.Manager }

func (h relayHealth) IsRunning() bool  { return h.m.IsRunning() }
func (h relayHealth) HealthStats() any { return h.m.Stats() }

// loadConfig reads path when given, otherwise starts from defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func agentCmd() *cobra.Command {
	var (
		configPath string
		relayAddr  string
		tunName    string
	)

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the local agent",
		Long:  "Capture UDP traffic on a TUN device and tunnel it to the relay.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if relayAddr != "" {
				cfg.Agent.RelayAddress = relayAddr
			}
			if tunName != "" {
				cfg.Agent.Capture.TUNName = tunName
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.ValidateAgent(); err != nil {
				return err
			}

			logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
			m := metrics.Default()

			dev, err := capture.OpenTUN(capture.TUNConfig{
				Name:  cfg.Agent.Capture.TUNName,
				MTU:   cfg.Agent.Capture.MTU,
				Queue: cfg.Agent.Capture.Queue,
			}, logger)
			if err != nil {
				return fmt.Errorf("failed to open capture device: %w", err)
			}
			defer dev.Close()

			a := agent.New(agent.Config{
				RelayAddress:    cfg.Agent.RelayAddress,
				BindAddress:     cfg.Agent.BindAddress,
				TranslationTTL:  cfg.Agent.TranslationTTL,
				AcceptAnySource: cfg.Agent.AcceptAnySource,
				BufferSize:      cfg.Socket.BufferSize.Int(),
				ReceiveBuffer:   cfg.Socket.ReceiveBuffer.Int(),
				SendBuffer:      cfg.Socket.SendBuffer.Int(),
			}, dev, dev, logger, m)

			fmt.Printf("Starting udptun agent on %s...\n", dev.Name())
			fmt.Printf("Relay: %s\n", cfg.Agent.RelayAddress)

			return serve(cfg, "agent", agentHealth{a}, logger, m, a.Run)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVarP(&relayAddr, "relay", "r", "", "Relay address (host:port), overrides config")
	cmd.Flags().StringVar(&tunName, "tun", "", "TUN device name, overrides config")

	return cmd
}

func relayCmd() *cobra.Command {
	var (
		configPath string
		listenAddr string
	)

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the relay",
		Long:  "Accept tunnel frames from agents and forward them to their destinations.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.Relay.ListenAddress = listenAddr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.ValidateRelay(); err != nil {
				return err
			}

			logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
			m := metrics.Default()

			mgr := relay.NewManager(relay.Config{
				ListenAddress:      cfg.Relay.ListenAddress,
				SessionBindAddress: cfg.Relay.SessionBindAddress,
				AllowedPorts:       cfg.Relay.AllowedPorts,
				MaxSessions:        cfg.Relay.MaxSessions,
				SessionIdleTimeout: cfg.Relay.SessionIdleTimeout,
				BufferSize:         cfg.Socket.BufferSize.Int(),
				ResolveTimeout:     cfg.Relay.ResolveTimeout,
				RateLimit: relay.RateLimit{
					PacketsPerSecond: cfg.Relay.RateLimit.PacketsPerSecond,
					Burst:            cfg.Relay.RateLimit.Burst,
				},
				ReusePort:     cfg.Relay.ReusePort,
				ReceiveBuffer: cfg.Socket.ReceiveBuffer.Int(),
				SendBuffer:    cfg.Socket.SendBuffer.Int(),
			}, logger, m)
			defer mgr.Close()

			fmt.Printf("Starting udptun relay on %s...\n", cfg.Relay.ListenAddress)

			return serve(cfg, "relay", relayHealth{mgr}, logger, m, mgr.ListenAndServe)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "Listen address, overrides config")

	return cmd
}

// serve runs fn until SIGINT/SIGTERM, under the supervisor when enabled,
// with the health server alongside when enabled.
func serve(cfg *config.Config, role string, provider health.StatsProvider, logger *slog.Logger, m *metrics.Metrics, fn func(context.Context) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Health.Enabled {
		hs := health.NewServer(health.ServerConfig{
			Address:      cfg.Health.Address,
			Role:         role,
			ReadTimeout:  cfg.Health.ReadTimeout,
			WriteTimeout: cfg.Health.WriteTimeout,
		}, provider)
		if err := hs.Start(); err != nil {
			return fmt.Errorf("failed to start health server: %w", err)
		}
		defer hs.Stop()
		fmt.Printf("Health endpoint: http://%s/healthz\n", hs.Address())
	}

	var err error
	if cfg.Supervisor.Enabled {
		scfg := supervise.DefaultConfig()
		scfg.InitialDelay = cfg.Supervisor.InitialDelay
		scfg.MaxDelay = cfg.Supervisor.MaxDelay
		scfg.Multiplier = cfg.Supervisor.Multiplier
		scfg.Jitter = cfg.Supervisor.Jitter
		scfg.MaxRestarts = cfg.Supervisor.MaxRestarts
		err = supervise.New(scfg, logger, m).Run(ctx, role, fn)
	} else {
		err = fn(ctx)
	}

	if ctx.Err() != nil {
		fmt.Printf("\nShutting down %s...\n", role)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	fmt.Printf("%s stopped.\n", role)
	return nil
}
