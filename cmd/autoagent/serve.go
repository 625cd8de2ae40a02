package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/martinemde/autoagent/registry"
	"github.com/martinemde/autoagent/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the streaming agent API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts, prometheus.DefaultRegisterer, registry.NewToolRegistry())
			if err != nil {
				return err
			}
			if addr != "" {
				a.cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := server.New(a.engine, server.Config{
				Addr:            a.cfg.Server.Addr,
				CORSOrigins:     a.cfg.Server.CORSOrigins,
				ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
				Gatherer:        prometheus.DefaultGatherer,
			}, a.logger)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.ListenAndServe(gctx) })
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return a.close(shutdownCtx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
