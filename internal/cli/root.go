package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/asklp/asklp/internal/di"
)

// sessionAdminFactory builds the session service graph for operator commands.
type sessionAdminFactory func(ctx context.Context) (*di.SessionAdmin, func(), error)

func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "asklp",
		Short:        "Discord-authenticated session gateway",
		SilenceUsage: true,
	}
	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newSessionsCommand(di.InitializeSessionAdmin))
	return cmd
}

func Execute(ctx context.Context, args []string, out io.Writer) error {
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(out)
	return root.ExecuteContext(ctx)
}
