package main

import (
	"github.com/spf13/cobra"

	"github.com/Ai-Whisperers/LangAi-sub013/config"
	"github.com/Ai-Whisperers/LangAi-sub013/internal/store"
)

func migrateCMD() *cobra.Command {
	var (
		cfgPath string
		dir     string
		down    bool
		steps   int
	)
	var cmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			dsn := getenv("DOSSIER_STORAGE_POSTGRES_URL", cfg.Storage.Postgres.DSN())
			return store.Migrate(dsn, dir, down, steps)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config)")
	cmd.Flags().StringVar(&dir, "dir", "migrations", "migrations directory")
	cmd.Flags().BoolVar(&down, "down", false, "migrate down instead of up")
	cmd.Flags().IntVar(&steps, "steps", 0, "apply exactly n steps (negative for down)")
	return cmd
}
