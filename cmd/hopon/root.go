package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hopon-app/hopon-go/internal/api"
	"github.com/hopon-app/hopon-go/internal/config"
	"github.com/hopon-app/hopon-go/internal/log"
	"github.com/hopon-app/hopon-go/internal/realtime"
	"github.com/hopon-app/hopon-go/internal/session"
)

type rootFlags struct {
	configPath string
	logLevel   string
	apiURL     string
}

// app bundles the wired client stack a command operates on.
type app struct {
	cfg      config.Config
	log      *zerolog.Logger
	api      *api.Client
	channel  *realtime.Channel
	registry *realtime.Registry
	coord    *session.Coordinator
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "hopon",
		Short:         "HopOn pickup-sports client",
		Long:          "Find and join pickup sports games from the terminal.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to config file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flags.apiURL, "api-url", "", "HopOn API base URL")

	root.AddCommand(
		newLoginCmd(flags),
		newLogoutCmd(flags),
		newWhoamiCmd(flags),
		newEventsCmd(flags),
		newJoinCmd(flags),
		newLeaveCmd(flags),
		newNotificationsCmd(flags),
		newWatchCmd(flags),
		newDevCmd(flags),
	)
	return root
}

// newApp loads config and wires store, API client, realtime channel, registry
// and coordinator together.
func newApp(flags *rootFlags) (*app, error) {
	bootLog := log.New("warn")
	cfg, _, err := config.Load(bootLog, flags.configPath)
	if err != nil {
		return nil, err
	}
	cfg.UpdateFrom(config.Config{APIBaseURL: flags.apiURL, LogLevel: flags.logLevel})

	logger := log.New(cfg.LogLevel)
	store := session.OpenStore(cfg.SessionDBPath(), logger)
	client := api.New(cfg.APIBaseURL, cfg.HTTPTimeout, logger)
	channel := realtime.NewChannel(cfg.ResolvedRealtimeURL(), logger)
	registry := realtime.NewRegistry(channel, logger)
	channel.OnReconnect(registry.Resubscribe)
	coord := session.NewCoordinator(store, client, channel, logger)

	return &app{
		cfg:      cfg,
		log:      logger,
		api:      client,
		channel:  channel,
		registry: registry,
		coord:    coord,
	}, nil
}
