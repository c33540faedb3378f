// ABOUTME: Storage backend selection from configuration
// ABOUTME: Maps the configured driver to a kv backend and applies the deployment prefix

package idp

import (
	"context"
	"fmt"

	"github.com/openape/idp-gateway/internal/config"
	"github.com/openape/idp-gateway/internal/kv"
)

// OpenStorage creates the configured kv backend, scoped under the deployment
// prefix so multiple gateways can share one backend without key collisions.
func OpenStorage(ctx context.Context, cfg config.StorageConfig) (kv.Store, error) {
	var (
		backend kv.Store
		err     error
	)
	switch cfg.Driver {
	case "memory":
		backend = kv.NewMemory()
	case "fs":
		backend, err = kv.NewFS(cfg.FS.Path)
	case "sqlite":
		backend, err = kv.NewSQLite(cfg.SQLite.Path)
	case "redis":
		backend, err = kv.NewRedis(ctx, kv.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	case "s3":
		backend, err = kv.NewS3(ctx, kv.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKeyID,
			SecretKey: cfg.S3.SecretAccessKey,
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Insecure:  !cfg.S3.UseSSL,
		})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s storage: %w", cfg.Driver, err)
	}

	return kv.Prefixed(backend, cfg.Prefix), nil
}
