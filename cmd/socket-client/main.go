// cmd/socket-client/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/PetroSa2/petrosa-socket-client/internal/app"
	"github.com/PetroSa2/petrosa-socket-client/internal/config"
	"github.com/PetroSa2/petrosa-socket-client/pkg/logger"
)

var version = "1.0.0"

func main() {
	var cfgFile string

	root := &cobra.Command{
		Use:   "socket-client",
		Short: "Petrosa Socket Client — Binance WebSocket to NATS bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			log, err := logger.New(logger.Config{
				Level:   cfg.Logging.Level,
				DevMode: cfg.Logging.DevMode,
			})
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if cfg.Logging.DevMode {
				cfg.Print()
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return app.Run(ctx, cfg, log)
		},
	}
	root.Flags().StringVar(&cfgFile, "config", "", "path to config file (optional)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("petrosa-socket-client v%s\n", version)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
