package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hopon-app/hopon-go/internal/config"
	"github.com/hopon-app/hopon-go/internal/devserver"
	"github.com/hopon-app/hopon-go/internal/log"
)

func newDevCmd(flags *rootFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Run a local HopOn backend for development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bootLog := log.New("warn")
			cfg, _, err := config.Load(bootLog, flags.configPath)
			if err != nil {
				return err
			}
			cfg.UpdateFrom(config.Config{LogLevel: flags.logLevel, DevAddr: addr})

			logger := log.New(cfg.LogLevel)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return devserver.New(logger).Run(ctx, cfg.DevAddr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
