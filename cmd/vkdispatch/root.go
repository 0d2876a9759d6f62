package main

import (
	"github.com/spf13/cobra"

	"github.com/oriys/vkdispatch/internal/logging"
)

var (
	configPath string
	logFormat  string
	logLevel   string
)

// Execute builds and runs the root command.
func Execute() error {
	root := &cobra.Command{
		Use:   "vkdispatch",
		Short: "Dispatch VK API calls through a credential-sharded, batching client",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "vkdispatch.yaml", "path to the credential/config YAML file")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log output format: text or json")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	cobra.OnInitialize(func() {
		logging.InitStructured(logFormat, logLevel)
	})

	root.AddCommand(newRunCommand())
	root.AddCommand(newCheckCommand())
	root.AddCommand(newEnqueueCommand())
	root.AddCommand(newWorkerCommand())
	return root.Execute()
}
