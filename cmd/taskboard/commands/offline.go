package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"taskboard/internal/app"
	"taskboard/internal/notifier"
	"taskboard/internal/task"
	logx "taskboard/pkg/logx"
)

// openCore opens the store and boards without Telegram. The bot should not
// be running against the same store at the same time.
func (c *CLI) openCore(ctx context.Context) (*app.Core, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	return app.OpenCore(ctx, cfg, logx.NewConsole("WARN"), nil, nil)
}

func closeCore(core *app.Core) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = core.Close(ctx)
}

func (c *CLI) newResetAllCmd() *cobra.Command {
	var by string
	cmd := &cobra.Command{
		Use:   "reset-all",
		Short: "Force-reset every running or cooling-down execution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			core, err := c.openCore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeCore(core)

			res, err := core.Engine.ResetAll(cmd.Context(), by)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %d executions (%d actors, %d tasks)\n",
				res.CancelledExecutions, res.AffectedActors, res.TasksReset)
			return nil
		},
	}
	cmd.Flags().StringVar(&by, "by", "cli", "operator recorded in the audit log")
	return cmd
}

func (c *CLI) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <actor_id> <task>",
		Short: "Print an actor's status for a task (id or name)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := c.openCore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeCore(core)

			def, guild, ok := findTask(core, args[1])
			if !ok {
				return fmt.Errorf("%w: %s", task.ErrTaskNotFound, args[1])
			}
			v, err := core.Engine.CheckStatus(cmd.Context(), args[0], def.ID, guild)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s", def.Name, v.State)
			if v.Remaining.Duration > 0 {
				fmt.Fprintf(out, " (%s left)", notifier.FormatDuration(v.Remaining.Duration))
			}
			fmt.Fprintf(out, " uses=%d/%d\n", v.CurrentUses, v.MaxUses)
			return nil
		},
	}
}

func findTask(core *app.Core, query string) (task.Definition, string, bool) {
	for _, b := range core.Catalog.Boards() {
		for _, def := range b.Tasks {
			if def.ID == query || strings.EqualFold(def.Name, query) {
				return def, b.GuildID, true
			}
		}
	}
	return task.Definition{}, "", false
}
