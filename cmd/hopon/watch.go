package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hopon-app/hopon-go/internal/api"
	"github.com/hopon-app/hopon-go/internal/realtime"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
)

func newWatchCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [event-id...]",
		Short: "Stream live updates, optionally scoped to specific events",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			dropped := make(chan struct{}, 1)
			a.channel.On(realtime.KindNotification, func(data json.RawMessage) {
				var n api.Notification
				if json.Unmarshal(data, &n) == nil {
					fmt.Printf("[notification] %s: %s\n", n.Type, n.Message)
				}
			})
			a.channel.On(realtime.KindEventUpdated, func(data json.RawMessage) {
				var ev api.Event
				if json.Unmarshal(data, &ev) == nil {
					fmt.Printf("[event] %s: %d/%d players (%s)\n", ev.Name, ev.CurrentPlayers, ev.MaxPlayers, ev.Status)
				}
			})
			a.channel.On(realtime.KindNewMessage, func(data json.RawMessage) {
				var m api.Message
				if json.Unmarshal(data, &m) == nil {
					fmt.Printf("[message] from #%d: %s\n", m.SenderID, m.Content)
				}
			})
			a.channel.On(realtime.KindConnectionError, func(data json.RawMessage) {
				select {
				case dropped <- struct{}{}:
				default:
				}
			})

			if err := requireSession(ctx, a); err != nil {
				return err
			}

			subs := make([]*realtime.Subscription, 0, len(args))
			for _, arg := range args {
				id, err := parseEventID(arg)
				if err != nil {
					return err
				}
				subs = append(subs, a.registry.Subscribe(id))
			}
			defer func() {
				for _, sub := range subs {
					sub.Release()
				}
			}()

			fmt.Println("watching for updates, ctrl-c to stop")
			for {
				select {
				case <-ctx.Done():
					a.coord.Shutdown()
					return nil
				case <-dropped:
					a.reconnectLoop(ctx)
				}
			}
		},
	}
}

// reconnectLoop retries the channel with bounded exponential backoff until it
// is up again or ctx ends. Room membership is restored by the registry's
// resubscribe hook.
func (a *app) reconnectLoop(ctx context.Context) {
	delay := reconnectBaseDelay
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		if err := a.coord.Reconnect(ctx); err != nil {
			a.log.Warn().Err(err).Msg("reconnect aborted")
			return
		}
		if a.channel.Connected() {
			a.log.Info().Msg("realtime connection restored")
			return
		}

		delay = min(delay*2, reconnectMaxDelay)
	}
}
