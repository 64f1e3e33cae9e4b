package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Consume the data flow queue and forward requests to HIPs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return listen(ctx)
	},
}

func listen(ctx context.Context) error {
	if len(cfg.Kafka.Brokers) == 0 {
		return errors.New("listen requires kafka.brokers; serve runs the listener in-process without them")
	}
	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.close()
	return a.listener.Run(ctx)
}

func init() {
	rootCmd.AddCommand(listenCmd)
}
