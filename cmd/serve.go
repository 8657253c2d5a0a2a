package cmd

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/inference-sim/worker-supervisor/worker/server"
)

var (
	listenAddr      string // Address of the inbound HTTP interface
	serveTraceLevel string // Admission decision tracing
)

// serveCmd runs the supervisor and its HTTP interface until interrupted or the backend exits
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Supervise the backend and serve inbound traffic",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := resolveConfig(cmd.Flags())
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		st, err := newStack(cfg, serveTraceLevel)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		srv, err := server.New(st.supervisor, st.router, server.WithMetricsHandler(st.metrics.Handler()))
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		ln, err := net.Listen("tcp", listenAddr)
		if err != nil {
			logrus.Fatalf("listening on %s: %v", listenAddr, err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		logrus.WithFields(logrus.Fields{
			"listen":   ln.Addr().String(),
			"backend":  cfg.Backend.BaseURL(),
			"log_file": cfg.LogFile,
			"routes":   len(cfg.Routes),
		}).Info("worker supervisor starting")

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			// A backend exit ends the supervisor, and with it the server.
			defer cancel()
			return st.supervisor.Run(gctx)
		})
		g.Go(func() error {
			return srv.Serve(gctx, ln)
		})
		if err := g.Wait(); err != nil {
			logrus.Fatalf("worker supervisor: %v", err)
		}
		logrus.Info("worker supervisor stopped")
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", ":8080", "Address for the inbound HTTP interface")
	serveCmd.Flags().StringVar(&serveTraceLevel, "trace-level", "none", "Admission trace level (none, decisions)")
	rootCmd.AddCommand(serveCmd)
}
