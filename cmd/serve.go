package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ai-Whisperers/LangAi-sub013/config"
	srv "github.com/Ai-Whisperers/LangAi-sub013/internal/server"
)

func serveCMD() *cobra.Command {
	var cfgPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the research engine HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			logger := log.New(os.Stdout, "", log.LstdFlags)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			engine, err := srv.BuildEngine(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer engine.Repo.Close()

			engine.Manager.Start()
			api := srv.New(cfg, engine.Manager, engine.Bus, engine.Tele, logger)

			if cfg.Watchlist.Enabled {
				sched, err := srv.NewScheduler(cfg.Watchlist, engine.Manager, engine.Redis, logger)
				if err != nil {
					return err
				}
				go sched.Run(ctx)
			}

			errCh := make(chan error, 1)
			go func() { errCh <- api.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Printf("[BOOT] shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := api.Shutdown(shutdownCtx); err != nil {
				logger.Printf("[BOOT] http shutdown: %v", err)
			}
			engine.Manager.Stop(shutdownCtx)
			return nil
		},
	}
	serve.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config)")
	return serve
}
