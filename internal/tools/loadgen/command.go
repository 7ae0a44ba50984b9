package loadgen

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/asklp/asklp/internal/tools/common"
	"github.com/asklp/asklp/internal/tools/ui"
)

func NewRootCommand() *cobra.Command {
	cfg := Config{}
	var ci bool
	cmd := &cobra.Command{
		Use:          "loadgen",
		Short:        "Drive paced traffic at a running asklp instance",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			title := fmt.Sprintf("loadgen %s against %s", normalizeProfile(cfg.Profile), cfg.BaseURL)
			fn := func(ctx context.Context) ([]string, error) {
				res, err := Run(ctx, cfg)
				if err != nil {
					return nil, err
				}
				return res.Summary(), nil
			}
			if ci {
				details, err := fn(cmd.Context())
				common.PrintCIResult(err == nil, title, details, err)
				return err
			}
			_, err := ui.Run(title, fn)
			return err
		},
	}
	cmd.Flags().StringVar(&cfg.BaseURL, "base-url", "http://localhost:3000", "asklp base URL")
	cmd.Flags().StringVar(&cfg.Profile, "profile", "mixed", "traffic profile: burst, gate or mixed")
	cmd.Flags().DurationVar(&cfg.Duration, "duration", 10*time.Second, "how long to send traffic")
	cmd.Flags().Float64Var(&cfg.RPS, "rps", 50, "aggregate requests per second")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", 4, "concurrent workers")
	cmd.Flags().Int64Var(&cfg.Seed, "seed", 42, "path selection seed")
	cmd.Flags().StringVar(&cfg.SessionCookie, "session", "", "session id to send as cookie")
	cmd.Flags().BoolVar(&ci, "ci", false, "non-interactive machine-readable output")
	return cmd
}
