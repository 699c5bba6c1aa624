package state

import (
	"context"
	"fmt"

	"github.com/rudransh-shrivastava/peer-tracker/internal/config"
)

// Open builds the Store selected by cfg.Type.
func Open(ctx context.Context, cfg config.StateConfig) (Store, error) {
	switch cfg.Type {
	case config.StateMemory:
		return NewMemoryStore(), nil
	case config.StateFile:
		return NewFileStore(cfg.Path)
	case config.StateSQLite:
		return NewSQLiteStore(cfg.Path)
	case config.StateRedis:
		return NewRedisStore(ctx, RedisConfig{Addr: cfg.RedisAddr, Key: cfg.RedisKey})
	case config.StateS3:
		return NewS3Store(ctx, S3Config{
			Bucket:          cfg.S3Bucket,
			Key:             cfg.S3Key,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Type)
	}
}
