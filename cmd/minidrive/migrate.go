package main

import (
	"context"
	"fmt"

	"minidrive/store"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply PostgreSQL schema migrations or MongoDB indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), connectTimeout)
			defer cancel()

			switch cfg.StoreDriver {
			case "postgres":
				s, err := store.OpenPostgres(ctx, cfg.PostgresDSN)
				if err != nil {
					return err
				}
				defer closeStore(s)
				if err := s.Migrate(ctx); err != nil {
					return err
				}
			case "mongo":
				// ConnectMongo ensures indexes as part of opening.
				s, err := store.ConnectMongo(ctx, cfg.MongoURI, cfg.DatabaseName)
				if err != nil {
					return err
				}
				defer closeStore(s)
			default:
				return fmt.Errorf("store driver %q has no schema", cfg.StoreDriver)
			}
			log.Info().Str("driver", cfg.StoreDriver).Msg("Schema up to date")
			return nil
		},
	}
}
