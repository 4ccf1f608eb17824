package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/memory-service/internal/logging"
	"github.com/rcliao/memory-service/internal/maintenance"
	"github.com/rcliao/memory-service/internal/mcpserver"
	"github.com/rcliao/memory-service/internal/metrics"
)

// Version is set at build time.
var Version = "dev"

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server, metrics endpoint and maintenance jobs",
		Long: "Serve the memory tools over MCP stdio (--mcp), expose prometheus metrics (--metrics-addr),\n" +
			"and run scheduled purge and dedupe jobs (--maintenance). Stops on SIGINT/SIGTERM or when stdin closes.",
		RunE: runServe,
	}

	cmd.Flags().Bool("mcp", true, "Serve MCP over stdio")
	cmd.Flags().String("metrics-addr", "", "Listen address for /metrics (default: metrics.addr)")
	cmd.Flags().Bool("maintenance", false, "Run scheduled purge and dedupe jobs")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	serveMCP, _ := cmd.Flags().GetBool("mcp")
	runMaintenance, _ := cmd.Flags().GetBool("maintenance")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Metrics.Addr, _ = cmd.Flags().GetString("metrics-addr")
	}
	if !serveMCP && !runMaintenance && cfg.Metrics.Addr == "" {
		return fmt.Errorf("nothing to serve: enable --mcp, --maintenance or --metrics-addr")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Addr != "" {
		m = metrics.New()
	}
	s, err := openSession(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer s.Close()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logging.Infof("metrics listening on %s", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if runMaintenance {
		sched, err := maintenance.New(s.store, maintenance.OptionsFromConfig(cfg))
		if err != nil {
			return err
		}
		sched.Start()
		g.Go(func() error {
			<-ctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return sched.Stop(stopCtx)
		})
	}

	if serveMCP {
		srv := mcpserver.New(s.store, Version)
		g.Go(func() error {
			defer stop()
			return mcpserver.ServeStdio(srv)
		})
	}

	return g.Wait()
}
