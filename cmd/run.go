package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/venturescope/scraperd/internal/pipeline"
)

func newRunCmd() *cobra.Command {
	var site string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scrape the configured sites once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			runner := a.Runner()
			var report pipeline.Report
			if site != "" {
				report, err = runner.RunSlug(cmd.Context(), site)
				if err != nil {
					return err
				}
			} else {
				report = runner.RunAll(cmd.Context())
			}

			if n := report.Errs(); n > 0 {
				return fmt.Errorf("run finished with %d stage errors", n)
			}
			a.Logger().Info("run complete",
				zap.Int("sites", report.Sites),
				zap.Duration("duration", report.Duration))
			return nil
		},
	}

	cmd.Flags().StringVar(&site, "site", "", "scrape a single site by slug")

	return cmd
}
