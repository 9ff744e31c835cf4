package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"taskboard/internal/app"
)

const stopTimeout = 10 * time.Second

func (c *CLI) newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context())
		},
	}
}

func (c *CLI) serve(ctx context.Context) error {
	a, err := app.New(ctx, c.cfgPath)
	if err != nil {
		return err
	}
	stop := func() error {
		sctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		return a.Stop(sctx)
	}
	if err := a.Start(ctx); err != nil {
		_ = stop()
		return err
	}

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	fatal := a.Err()
	if err := stop(); err != nil && fatal == nil {
		return err
	}
	return fatal
}
