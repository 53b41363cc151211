package main

import (
	"minidrive/jobs"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Purge expired trash once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			st, err := openStore(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer closeStore(st)

			blobs, err := openStorage(ctx, cfg)
			if err != nil {
				return err
			}

			cleaner := jobs.NewTrashCleaner(st, blobs,
				jobs.WithRetention(cfg.TrashRetention),
				jobs.WithCleanupWorkers(cfg.TrashCleanupWorkers),
			)
			res, err := cleaner.RunOnce(ctx)
			if err != nil {
				return err
			}
			log.Info().Int("purged", res.Purged).Int("failed", res.Failed).Msg("Sweep finished")
			return nil
		},
	}
}
