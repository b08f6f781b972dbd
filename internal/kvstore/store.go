// Package kvstore provides string key-value stores that hold the persisted
// task list snapshot. Stores are pass-through: they never retry and never
// look at the values they hold.
package kvstore

import (
	"context"
	"fmt"
	"strings"
)

// Store is a string-keyed, string-valued persistent store.
type Store interface {
	// Set writes value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Get returns the value under key. found is false when the key is absent.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// Clear deletes every key owned by the store.
	Clear(ctx context.Context) error

	// Close releases the underlying resources.
	Close() error
}

// Pinger is implemented by stores backed by a remote or on-disk database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config selects and configures a backend.
type Config struct {
	Backend string

	// FilePath is the JSON document used by the file backend.
	FilePath string

	// SQLitePath is the database file used by the sqlite backend.
	SQLitePath  string
	SQLiteDebug bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Open creates the store named by cfg.Backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch strings.ToLower(cfg.Backend) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile:
		s, err = OpenFileStore(cfg.FilePath)
	case BackendSQLite:
		s, err = OpenSQLiteStore(cfg.SQLitePath, cfg.SQLiteDebug)
	case BackendRedis:
		s, err = OpenRedisStore(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
