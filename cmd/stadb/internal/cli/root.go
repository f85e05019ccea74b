// Package cli implements the stadb commands.
package cli

import (
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/syssam/sensorthings/config"
)

// RootOptions holds the global flags and the state shared by all commands.
type RootOptions struct {
	Config  string
	Verbose bool

	settings *config.Settings
	logger   *slog.Logger
}

// NewRootCommand creates the root command of stadb.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	cmd := &cobra.Command{
		Use:           "stadb",
		Short:         "Manage the database of a SensorThings store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if opts.Config != "" {
				opts.settings, err = config.Load(opts.Config)
			} else {
				opts.settings, err = config.Parse(strings.NewReader(""))
			}
			if err != nil {
				return err
			}
			level := slog.LevelInfo
			if opts.Verbose || opts.settings.Database.Debug {
				level = slog.LevelDebug
			}
			opts.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "settings file (YAML)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewExplainCommand(opts))
	cmd.AddCommand(NewListenCommand(opts))
	return cmd
}
