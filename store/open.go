package store

import (
	"context"
	"fmt"
)

type Options struct {
	Driver       string
	MongoURI     string
	DatabaseName string
	PostgresDSN  string
	// Migrate applies the embedded schema when Driver is postgres.
	Migrate bool
}

// Open builds the store named by opts.Driver: mongo, postgres or memory.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "mongo":
		return ConnectMongo(ctx, opts.MongoURI, opts.DatabaseName)
	case "postgres":
		s, err := OpenPostgres(ctx, opts.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if opts.Migrate {
			if err := s.Migrate(ctx); err != nil {
				_ = s.Close(ctx)
				return nil, err
			}
		}
		return s, nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
