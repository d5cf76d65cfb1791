// Command crag runs the realtime event node of the climbing platform.
//
//	crag serve --config crag.yaml
//	crag token --user u123
//
// Settings may also come from CRAG_* environment variables, e.g.
// CRAG_AUTH_SECRET or CRAG_REDIS_ADDR.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"CragProject/logger"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:          "crag",
		Short:        "Realtime event distribution for the crag platform",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("config", "c", os.Getenv("CRAG_CONFIG"), "Path to YAML configuration file")
	root.AddCommand(buildServeCmd(), buildTokenCmd())

	if err := root.ExecuteContext(ctx); err != nil {
		logger.Errorf("%v", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}
