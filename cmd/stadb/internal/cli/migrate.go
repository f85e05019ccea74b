package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	ddl "github.com/syssam/sensorthings/dialect/sql/schema"
)

// MigrateOptions holds the flags of the migrate command.
type MigrateOptions struct {
	*RootOptions
	DryRun bool
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(root *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: root}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the missing tables of the data model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print the statements instead of executing them")
	return cmd
}

func runMigrate(cmd *cobra.Command, opts *MigrateOptions) error {
	s := opts.settings
	g, err := mapping(s)
	if err != nil {
		return err
	}
	tables, err := ddl.Tables(g)
	if err != nil {
		return err
	}
	if res := ddl.ValidateSchema(tables); res.HasWarnings() {
		for _, w := range res.Warnings {
			opts.logger.Warn("migrate: " + w.Error())
		}
	}
	if opts.DryRun {
		stmts, err := ddl.Statements(cmd.Context(), s.Database.Dialect, tables, s.Database.ForeignKeys)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, stmt := range stmts {
			fmt.Fprintf(out, "%s;\n", stmt)
		}
		return nil
	}
	drv, err := openDriver(s, opts.logger)
	if err != nil {
		return err
	}
	defer drv.Close()
	err = ddl.Create(cmd.Context(), drv, s.Database.Dialect, tables,
		ddl.WithForeignKeys(s.Database.ForeignKeys),
		ddl.WithLogger(opts.logger),
	)
	if err != nil {
		return err
	}
	opts.logger.Info("migrate: tables ready", "dialect", s.Database.Dialect, "tables", len(tables))
	return nil
}
