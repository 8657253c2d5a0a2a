package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/inference-sim/worker-supervisor/worker"
)

// configCmd prints the effective configuration after defaults and flag overrides
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective worker configuration as YAML",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := resolveConfig(cmd.Flags())
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		if err := writeConfig(os.Stdout, cfg); err != nil {
			logrus.Fatalf("%v", err)
		}
	},
}

func writeConfig(w io.Writer, cfg *worker.WorkerConfig) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encoding worker config: %w", err)
	}
	return enc.Close()
}

func init() {
	rootCmd.AddCommand(configCmd)
}
