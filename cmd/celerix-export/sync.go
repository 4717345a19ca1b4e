package main

import (
	"fmt"

	"github.com/celerix-dev/celerix-export/internal/engine"
	"github.com/celerix-dev/celerix-export/pkg/sdk"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Copy every client and submission from the portal API into the local store",
	Long: `Copies the portal's clients and submissions into store.data_dir, keeping
IDs and timestamps, so exports keep working while the portal is offline.
Buckets are encrypted when store.encryption_key is set.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	if cfg.Backend.BaseURL == "" {
		return fmt.Errorf("sync needs backend.base_url")
	}
	key, err := cfg.Store.Key()
	if err != nil {
		return err
	}

	src, err := sdk.New(cmd.Context(), sdk.Config{
		BaseURL:     cfg.Backend.BaseURL,
		Role:        sdk.Role(cfg.Backend.Role),
		UserName:    cfg.Backend.UserName,
		Password:    cfg.Backend.Password,
		InsecureTLS: cfg.Backend.InsecureTLS,
		Timeout:     cfg.Backend.Timeout,
		Logger:      logger.Named("backend"),
	})
	if err != nil {
		return err
	}
	dst, err := sdk.OpenEmbedded(cfg.Store.DataDir, key, cfg.Store.Owner, logger.Named("store"))
	if err != nil {
		return err
	}
	defer dst.Wait()

	stats, err := engine.Migrate(cmd.Context(), src, dst)
	if err != nil {
		return err
	}
	logger.Info("sync complete",
		zap.Int("clients", stats.Clients),
		zap.Int("submissions", stats.Submissions),
		zap.String("data_dir", cfg.Store.DataDir))
	fmt.Printf("Synced %d clients and %d submissions into %s\n", stats.Clients, stats.Submissions, cfg.Store.DataDir)
	return nil
}
