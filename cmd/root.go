package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/worker-supervisor/worker"
)

var (
	logLevel   string // Log verbosity level
	configPath string // Worker config YAML; empty = built-in ComfyUI defaults

	// Overrides applied on top of the config file when set explicitly
	backendURL  string
	backendPort int
	logFile     string
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "worker-supervisor",
	Short: "Supervise an inference backend and gate its traffic",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up flags shared by every subcommand
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to worker config YAML (default: built-in ComfyUI worker)")
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend-url", worker.DefaultBackendURL, "Backend base URL")
	rootCmd.PersistentFlags().IntVar(&backendPort, "backend-port", worker.DefaultBackendPort, "Backend port (0 keeps the URL's port)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", worker.DefaultLogFile, "Backend log file to monitor")
}
