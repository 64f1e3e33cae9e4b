package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ProjectEKA/consent-manager-sub002/pkg/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		withListener, _ := cmd.Flags().GetBool("with-listener")
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, withListener, listenTCP)
	},
}

var listenTCP = func(addr string) (net.Listener, error) { return net.Listen("tcp", addr) }

func serve(ctx context.Context, withListener bool, listen func(string) (net.Listener, error)) error {
	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	a, err := newApp(ctx, cfg, withListener || len(cfg.Kafka.Brokers) == 0)
	if err != nil {
		return err
	}
	defer a.close()

	ln, err := listen(cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.HTTP.Addr, err)
	}
	server := &http.Server{
		Handler:      a.server.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		log.Info().Msg("shutting down http server")
		return server.Shutdown(shutdownCtx)
	})
	if a.listener != nil {
		g.Go(func() error { return a.listener.Run(gctx) })
	}
	return g.Wait()
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("with-listener", false,
		"also consume the data flow queue in this process (always on without kafka brokers)")
}
