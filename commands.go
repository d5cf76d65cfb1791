package main

import (
	"fmt"
	"time"

	"CragProject/global/config"
	toolsec "CragProject/tools/security"

	"github.com/spf13/cobra"
)

func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the websocket hub, HTTP and gRPC health servers",
		Long: `Start the realtime node.

The store is PostgreSQL when database.dsn is set and in-memory otherwise.
The offline queue lives in Redis when redis.addr is set. Persisted events are
mirrored to NATS or Kafka when either is configured.

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func buildTokenCmd() *cobra.Command {
	var (
		userID string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a session token for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			opts := jwtOptions(cfg.Auth)
			if ttl > 0 {
				opts.TTL = ttl
			}
			tok, exp, err := toolsec.Generate(opts, userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User id carried in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Override auth.ttl")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func jwtOptions(a config.AuthConfig) toolsec.Options {
	opts := toolsec.DefaultOptions([]byte(a.Secret))
	if a.Alg != "" {
		opts.Alg = a.Alg
	}
	if a.TTL > 0 {
		opts.TTL = a.TTL
	}
	opts.Issuer = a.Issuer
	return opts
}
