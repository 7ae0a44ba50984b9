package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/asklp/asklp/internal/di"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the expired session sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := di.InitializeApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize app: %w", err)
			}
			defer cleanup()
			return a.Run(cmd.Context())
		},
	}
}
