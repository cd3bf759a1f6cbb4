// Command weddingdrop is the operator CLI: upload files from disk, watch the
// gallery and inspect the landing page.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ArmandoV15/wedding-photo-gallery/internal/config"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/logging"
)

var logLevel string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "weddingdrop: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "weddingdrop",
		Short: "Wedding gallery operator CLI",
		Long: `weddingdrop talks to the same blob store, collection and cache as the server.
Use it to bulk upload photos and videos from disk, follow the live gallery,
or check what the landing page shows.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override WEDDING_LOG_LEVEL")
	cmd.AddCommand(
		newUploadCmd(),
		newGalleryCmd(),
		newLandingCmd(),
	)
	return cmd
}

// setup loads the config and a logger honoring --log-level.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	log, err := logging.New(cfg.LogLevel, true)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
