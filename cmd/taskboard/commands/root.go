// Package commands implements the taskboard CLI.
package commands

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"taskboard/internal/config"
)

// CLI is the taskboard command tree.
type CLI struct {
	rootCmd *cobra.Command
	cfgPath string
}

func New() *CLI {
	c := &CLI{}
	rootCmd := &cobra.Command{
		Use:           "taskboard",
		Short:         "Task board bot: timed tasks, cooldowns and reminders over Telegram",
		SilenceUsage:  true,
		SilenceErrors: true,
		// Without a subcommand the bot is served.
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context())
		},
	}
	rootCmd.PersistentFlags().StringVarP(&c.cfgPath, "config", "c", "./config.yaml", "path to config.yaml or config.json")

	rootCmd.AddCommand(c.newServeCmd())
	rootCmd.AddCommand(c.newBoardsCmd())
	rootCmd.AddCommand(c.newResetAllCmd())
	rootCmd.AddCommand(c.newStatusCmd())

	c.rootCmd = rootCmd
	return c
}

// Execute runs the root command with the given context.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// SetOutput redirects command output. Used for testing.
func (c *CLI) SetOutput(w io.Writer) {
	c.rootCmd.SetOut(w)
	c.rootCmd.SetErr(w)
}

func (c *CLI) loadConfig() (*config.Config, error) {
	return config.NewManager(c.cfgPath).Load()
}
