package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ai-Whisperers/LangAi-sub013/config"
	srv "github.com/Ai-Whisperers/LangAi-sub013/internal/server"
)

func tokenCMD() *cobra.Command {
	var (
		cfgPath string
		subject string
		ttl     time.Duration
	)
	var cmd = &cobra.Command{
		Use:   "token",
		Short: "Mint an API access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if cfg.Server.JWTSecret == "" {
				return fmt.Errorf("server.jwt_secret is not configured")
			}
			token, err := srv.SignToken(cfg.Server.JWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config)")
	cmd.Flags().StringVar(&subject, "subject", "cli", "token subject claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
