package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and HTTP status server until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			errCh := make(chan error, 2)
			go func() {
				errCh <- a.Scheduler().Run(ctx)
			}()
			go func() {
				errCh <- a.Server().Run(ctx)
			}()

			// The first failure stops the other component; the
			// second result is drained so both goroutines exit.
			first := <-errCh
			cancel()
			second := <-errCh

			for _, err := range []error{first, second} {
				if err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
			}
			return nil
		},
	}
}
