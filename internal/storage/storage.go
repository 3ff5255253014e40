// Package storage provides the generic key/value persistence contract, the
// available storage engines and the typed object stores built on top.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	libdb "chargebridge/libs/db"
	libredis "chargebridge/libs/redis"
)

// KeyValue is the persistence contract: string keys, arbitrary JSON values.
type KeyValue interface {
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// List returns all entries whose key starts with prefix.
	List(ctx context.Context, prefix string) (map[string][]byte, error)
	Close() error
}

// Open selects a storage engine by URI scheme:
//
//	file:./data.json          single-file JSON store
//	postgres://...            pgx-backed table
//	redis://host:port/0       go-redis backed store
func Open(uri string, logger *zap.Logger) (KeyValue, error) {
	scheme, _, found := strings.Cut(uri, ":")
	if !found {
		return nil, fmt.Errorf("storage: uri %q has no scheme", uri)
	}

	switch scheme {
	case "file":
		return NewFileStore(strings.TrimPrefix(uri, "file:"))
	case "postgres", "postgresql":
		sqlDB, err := libdb.NewPostgresDB(uri)
		if err != nil {
			return nil, err
		}
		return NewPostgresStore(context.Background(), sqlDB)
	case "redis", "rediss":
		parsed, err := url.Parse(uri)
		if err != nil {
			return nil, fmt.Errorf("storage: parse redis uri: %w", err)
		}
		password, _ := parsed.User.Password()
		dbIndex := 0
		if path := strings.TrimPrefix(parsed.Path, "/"); path != "" {
			if _, err := fmt.Sscanf(path, "%d", &dbIndex); err != nil {
				return nil, fmt.Errorf("storage: redis db index: %w", err)
			}
		}
		client, err := libredis.NewRedisClient(parsed.Host, password, dbIndex)
		if err != nil {
			return nil, err
		}
		logger.Info("storage: using redis engine", zap.String("addr", parsed.Host))
		return NewRedisStore(client), nil
	default:
		return nil, fmt.Errorf("storage: unsupported scheme %q", scheme)
	}
}
