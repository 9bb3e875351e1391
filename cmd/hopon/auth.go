package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hopon-app/hopon-go/internal/session"
)

func newLoginCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "login <email> <password>",
		Short: "Log in and persist the session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			creds, err := a.api.Login(ctx, args[0], args[1])
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}
			if err := a.coord.Login(ctx, creds.AccessToken, creds.RefreshToken); err != nil {
				return err
			}

			sess := a.coord.Session()
			fmt.Printf("logged in as %s (#%d)\n", sess.User.Name, sess.User.ID)
			return nil
		},
	}
}

func newLogoutCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the persisted session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			a.coord.Logout()
			fmt.Println("logged out")
			return nil
		},
	}
}

func newWhoamiCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			if err := a.coord.Start(cmd.Context()); err != nil && !errors.Is(err, session.ErrSessionExpired) {
				return err
			}

			sess := a.coord.Session()
			if sess.Status != session.StatusAuthenticated {
				fmt.Println("not logged in")
				return nil
			}
			fmt.Printf("%s (#%d)", sess.User.Name, sess.User.ID)
			if sess.User.Email != "" {
				fmt.Printf(" <%s>", sess.User.Email)
			}
			fmt.Println()
			return nil
		},
	}
}
