package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/postalsys/udptun/internal/wizard"
)

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long:  "Walk through agent or relay configuration and write a config file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := wizard.New().Run()
			if err != nil {
				if errors.Is(err, wizard.ErrNotInteractive) {
					return fmt.Errorf("%w; write a config file by hand instead", err)
				}
				return err
			}
			fmt.Printf("Configuration written to %s\n", res.ConfigPath)
			return nil
		},
	}
}
