package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/postalsys/udptun/internal/service"
)

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the systemd service",
	}

	cmd.AddCommand(serviceInstallCmd())
	cmd.AddCommand(serviceUninstallCmd())
	cmd.AddCommand(serviceStatusCmd())

	return cmd
}

func serviceInstallCmd() *cobra.Command {
	var (
		configPath string
		name       string
		user       string
		group      string
	)

	cmd := &cobra.Command{
		Use:       "install agent|relay",
		Short:     "Install and start udptun as a systemd service",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{service.RoleAgent, service.RoleRelay},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := service.DefaultConfig(args[0], configPath)
			if name != "" {
				cfg.Name = name
			}
			cfg.User = user
			cfg.Group = group

			if service.IsInstalled(cfg.Name) {
				return fmt.Errorf("service %s is already installed", cfg.Name)
			}
			return service.Install(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "/etc/udptun/config.yaml", "Path to configuration file")
	cmd.Flags().StringVar(&name, "name", "", "Service name (default udptun-<role>)")
	cmd.Flags().StringVar(&user, "user", "", "Run the service as this user")
	cmd.Flags().StringVar(&group, "group", "", "Run the service as this group")

	return cmd
}

func serviceUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <name>",
		Short: "Stop and remove a udptun systemd service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return service.Uninstall(args[0])
		},
	}
}

func serviceStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <name>",
		Short: "Show whether a udptun systemd service is active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !service.IsInstalled(args[0]) {
				fmt.Printf("%s: not installed\n", args[0])
				return nil
			}
			status, err := service.Status(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", args[0], status)
			return nil
		},
	}
}
