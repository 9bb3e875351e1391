package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hopon-app/hopon-go/internal/api"
	"github.com/hopon-app/hopon-go/internal/session"
)

// requireSession restores the persisted session and fails when none is live.
func requireSession(ctx context.Context, a *app) error {
	if err := a.coord.Start(ctx); err != nil {
		return err
	}
	if a.coord.Session().Status != session.StatusAuthenticated {
		return session.ErrNotAuthenticated
	}
	return nil
}

func newEventsCmd(flags *rootFlags) *cobra.Command {
	var filters api.EventFilters

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List nearby events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := requireSession(ctx, a); err != nil {
				return err
			}

			var page *api.EventPage
			err = a.coord.Authed(ctx, func(ctx context.Context) error {
				page, err = a.api.Events(ctx, filters)
				return err
			})
			if err != nil {
				return err
			}

			if len(page.Events) == 0 {
				fmt.Println("no events found")
				return nil
			}
			for _, ev := range page.Events {
				full := ""
				if ev.IsFull {
					full = " [full]"
				}
				fmt.Printf("#%-4d %-24s %-12s %s  %d/%d players%s\n",
					ev.ID, ev.Name, ev.Sport, ev.Location, ev.CurrentPlayers, ev.MaxPlayers, full)
			}
			fmt.Printf("page %d/%d, %d total\n", page.Page, page.TotalPages, page.Total)
			return nil
		},
	}

	cmd.Flags().StringVar(&filters.Sport, "sport", "", "filter by sport")
	cmd.Flags().StringVar(&filters.SkillLevel, "skill", "", "filter by skill level")
	cmd.Flags().StringVar(&filters.Status, "status", "", "filter by status")
	cmd.Flags().Float64Var(&filters.Latitude, "lat", 0, "your latitude")
	cmd.Flags().Float64Var(&filters.Longitude, "lon", 0, "your longitude")
	cmd.Flags().Float64Var(&filters.RadiusKM, "radius", 0, "radius in km")
	cmd.Flags().IntVar(&filters.Page, "page", 0, "page number")
	return cmd
}

func parseEventID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid event id %q", arg)
	}
	return id, nil
}

func newJoinCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "join <event-id>",
		Short: "Join an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEventID(args[0])
			if err != nil {
				return err
			}
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := requireSession(ctx, a); err != nil {
				return err
			}

			var ev *api.Event
			err = a.coord.Authed(ctx, func(ctx context.Context) error {
				ev, err = a.api.JoinEvent(ctx, id)
				return err
			})
			if err != nil {
				return err
			}
			fmt.Printf("joined %s, %d spots left\n", ev.Name, ev.SpotsLeft)
			return nil
		},
	}
}

func newLeaveCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "leave <event-id>",
		Short: "Leave an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEventID(args[0])
			if err != nil {
				return err
			}
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := requireSession(ctx, a); err != nil {
				return err
			}

			var ev *api.Event
			err = a.coord.Authed(ctx, func(ctx context.Context) error {
				ev, err = a.api.LeaveEvent(ctx, id)
				return err
			})
			if err != nil {
				return err
			}
			fmt.Printf("left %s\n", ev.Name)
			return nil
		},
	}
}

func newNotificationsCmd(flags *rootFlags) *cobra.Command {
	var markRead bool

	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := requireSession(ctx, a); err != nil {
				return err
			}

			var page *api.NotificationPage
			err = a.coord.Authed(ctx, func(ctx context.Context) error {
				page, err = a.api.Notifications(ctx, 1, 20)
				return err
			})
			if err != nil {
				return err
			}

			if len(page.Notifications) == 0 {
				fmt.Println("no notifications")
				return nil
			}
			for _, n := range page.Notifications {
				marker := "*"
				if n.Read {
					marker = " "
				}
				fmt.Printf("%s %-14s %s\n", marker, n.Type, n.Message)
			}

			if markRead {
				return a.coord.Authed(ctx, a.api.MarkAllNotificationsRead)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&markRead, "read", false, "mark all as read")
	return cmd
}
