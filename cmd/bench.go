package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/inference-sim/worker-supervisor/worker/bench"
	"github.com/inference-sim/worker-supervisor/worker/trace"
)

var (
	datasetPath      string  // Optional dataset file replacing the config's benchmark datasets
	datasetRoute     string  // Route for dataset entries that name none
	benchConcurrency int     // Bound on in-flight items (0 = follow the route policy)
	benchRate        float64 // Items submitted per second (0 = unpaced)
	startupTimeout   float64 // Seconds to wait for Ready
	benchTraceLevel  string  // Admission decision tracing
	headerOutput     string  // Report header YAML path
	dataOutput       string  // Report data CSV path
)

// benchCmd replays a dataset through the supervisor's own request path
var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run the benchmark dataset through the supervisor",
	Run: func(cmd *cobra.Command, args []string) {
		if (headerOutput == "") != (dataOutput == "") {
			logrus.Fatalf("--header-output and --data-output must be set together")
		}
		cfg, err := resolveConfig(cmd.Flags())
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		st, err := newStack(cfg, benchTraceLevel)
		if err != nil {
			logrus.Fatalf("%v", err)
		}

		var items []bench.Item
		if datasetPath != "" {
			items, err = bench.LoadDataset(datasetPath, datasetRoute)
		} else {
			items, err = bench.ItemsFromConfig(cfg)
		}
		if err != nil {
			logrus.Fatalf("loading benchmark dataset: %v", err)
		}
		if len(items) == 0 {
			logrus.Fatalf("benchmark dataset is empty")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		supDone := make(chan error, 1)
		go func() { supDone <- st.supervisor.Run(ctx) }()

		runner := bench.NewRunner(st.router, st.supervisor, bench.Config{
			StartupTimeout: time.Duration(startupTimeout * float64(time.Second)),
			Concurrency:    benchConcurrency,
			RatePerSecond:  benchRate,
		})
		report, runErr := runner.Run(ctx, items)

		st.supervisor.Stop()
		if err := <-supDone; err != nil {
			logrus.Warnf("supervisor: %v", err)
		}
		if report == nil {
			logrus.Fatalf("benchmark failed: %v", runErr)
		}
		if runErr != nil {
			logrus.Warnf("benchmark incomplete: %v", runErr)
		}

		if err := printReport(os.Stdout, report, st.trace); err != nil {
			logrus.Fatalf("%v", err)
		}
		if headerOutput != "" {
			header := bench.NewReportHeader(report, configPath, cfg.Backend.BaseURL())
			if err := bench.ExportReport(header, report, headerOutput, dataOutput); err != nil {
				logrus.Fatalf("exporting report: %v", err)
			}
			logrus.Infof("report written to %s and %s", headerOutput, dataOutput)
		}
	},
}

// printReport writes the benchmark summary and, when tracing was on, the admission summary.
func printReport(w io.Writer, report *bench.Report, at *trace.AdmissionTrace) error {
	out := map[string]any{"benchmark": bench.Summarize(report)}
	if at.Enabled() {
		ts := trace.Summarize(at)
		out["admission"] = map[string]any{
			"decisions": ts.TotalDecisions,
			"admitted":  ts.AdmittedCount,
			"rejected":  ts.RejectedCount,
			"queued":    ts.QueuedCount,
			"mean_wait": ts.MeanWait,
			"max_wait":  ts.MaxWait,
			"outcomes":  ts.OutcomeDistribution,
		}
	}
	data, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshaling benchmark summary: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func init() {
	benchCmd.Flags().StringVar(&datasetPath, "dataset", "", "YAML/JSON dataset file (default: the config's per-route datasets)")
	benchCmd.Flags().StringVar(&datasetRoute, "dataset-route", "/generate/sync", "Route for dataset entries without one")
	benchCmd.Flags().IntVar(&benchConcurrency, "concurrency", 0, "Max in-flight items (0 = sequential on serialized routes)")
	benchCmd.Flags().Float64Var(&benchRate, "rate", 0, "Items submitted per second (0 = as fast as admitted)")
	benchCmd.Flags().Float64Var(&startupTimeout, "startup-timeout", 600, "Seconds to wait for the worker to become Ready")
	benchCmd.Flags().StringVar(&benchTraceLevel, "trace-level", "decisions", "Admission trace level (none, decisions)")
	benchCmd.Flags().StringVar(&headerOutput, "header-output", "", "Write the report header (YAML) to this path")
	benchCmd.Flags().StringVar(&dataOutput, "data-output", "", "Write per-item results (CSV) to this path")
	rootCmd.AddCommand(benchCmd)
}
