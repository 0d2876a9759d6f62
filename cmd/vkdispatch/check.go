package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config file and report how many credentials it declares",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			fmt.Printf("config ok: %d credential(s), metrics=%v, tracing=%v, audit=%v, queue=%v\n",
				len(cfg.Credentials), cfg.Metrics.Enabled, cfg.Tracing.Enabled, cfg.Audit.Enabled, cfg.Queue.Enabled)
			return nil
		},
	}
}
