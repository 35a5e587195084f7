package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vexscan/api/internal/config"
	"github.com/vexscan/api/internal/infra/postgres"
	"github.com/vexscan/api/pkg/logger"
	"github.com/vexscan/api/pkg/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
	Long: `Apply or roll back schema migrations. The database connection comes
from the server configuration (config file and DB_* environment variables),
not from the CLI context.`,
}

func init() {
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRunner(func(r *migrations.Runner) error {
				return r.Up(cmd.Context())
			})
		},
	}, &cobra.Command{
		Use:   "down [STEPS]",
		Short: "Roll back migrations (default 1 step)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("steps must be a positive integer, got %q", args[0])
				}
				steps = n
			}
			return withRunner(func(r *migrations.Runner) error {
				return r.Down(cmd.Context(), steps)
			})
		},
	}, &cobra.Command{
		Use:   "version",
		Short: "Show the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRunner(func(r *migrations.Runner) error {
				st, err := r.Version(cmd.Context())
				if err != nil {
					return err
				}
				return render(st, func() {
					dirty := ""
					if st.Dirty {
						dirty = " (dirty)"
					}
					fmt.Fprintf(stdout, "Schema version: %d%s\n", st.Version, dirty)
				})
			})
		},
	})
}

func withRunner(fn func(*migrations.Runner) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := postgres.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	log := logger.NewDefault()
	if flagVerbose {
		log = logger.NewDevelopment()
	}
	return fn(migrations.NewRunner(db.DB, log))
}
