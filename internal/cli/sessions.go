package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/asklp/asklp/internal/repository"
	"github.com/asklp/asklp/internal/service"
)

func newSessionsCommand(factory sessionAdminFactory) *cobra.Command {
	cmd := &cobra.Command{Use: "sessions", Short: "Inspect and maintain stored sessions"}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List sessions whose access token has not expired",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			admin, cleanup, err := factory(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			views, err := admin.Sessions.ListActiveSessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			renderSessions(cmd.OutOrStdout(), views, time.Now())
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "maximum rows to show")

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Delete every expired session once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			admin, cleanup, err := factory(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			removed, err := admin.Sessions.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired sessions\n", removed)
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show <user-id>",
		Short: "Show the active session of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, cleanup, err := factory(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			view, err := admin.Sessions.ActiveSessionForUser(cmd.Context(), args[0])
			if errors.Is(err, repository.ErrSessionNotFound) {
				fmt.Fprintf(cmd.OutOrStdout(), "no active session for user %s\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			renderSessions(cmd.OutOrStdout(), []service.SessionView{*view}, time.Now())
			return nil
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke <user-id>",
		Short: "Delete all sessions of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, cleanup, err := factory(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			removed, err := admin.Sessions.RevokeUserSessions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %d sessions for user %s\n", removed, args[0])
			return nil
		},
	}

	cmd.AddCommand(list, show, sweep, revoke)
	return cmd
}

func renderSessions(w io.Writer, views []service.SessionView, now time.Time) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Session", "User", "Expires At", "Remaining"})
	for _, v := range views {
		t.AppendRow(table.Row{v.ID, v.UserID, v.ExpiresAt.UTC().Format(time.RFC3339), v.ExpiresAt.Sub(now).Truncate(time.Second).String()})
	}
	t.AppendFooter(table.Row{"", "", "Total", len(views)})
	t.Render()
}
