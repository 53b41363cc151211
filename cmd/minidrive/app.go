package main

import (
	"context"
	"fmt"
	"time"

	"minidrive/config"
	"minidrive/storage"
	"minidrive/store"
	"minidrive/utils"

	"github.com/rs/zerolog/log"
)

const connectTimeout = 10 * time.Second

// loadConfig reads .env, builds the configuration and sets up logging.
func loadConfig() (*config.Config, error) {
	config.LoadEnvFile()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	utils.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	cfg.LogSummary(log.Logger)
	return cfg, nil
}

func openStore(ctx context.Context, cfg *config.Config, migrate bool) (store.Store, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	st, err := store.Open(ctx, store.Options{
		Driver:       cfg.StoreDriver,
		MongoURI:     cfg.MongoURI,
		DatabaseName: cfg.DatabaseName,
		PostgresDSN:  cfg.PostgresDSN,
		Migrate:      migrate,
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("driver", cfg.StoreDriver).Msg("Store ready")
	return st, nil
}

func openStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	blobs, err := storage.Open(ctx, storage.Options{
		Backend:      cfg.StorageBackend,
		B2KeyID:      cfg.B2ApplicationKeyID,
		B2AppKey:     cfg.B2ApplicationKey,
		B2BucketName: cfg.B2BucketName,
		S3: storage.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		},
		LocalDir: cfg.LocalStorageDir,
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("backend", cfg.StorageBackend).Msg("Storage ready")
	return blobs, nil
}

func closeStore(st store.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := st.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to close store")
	}
}
