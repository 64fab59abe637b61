// Package storage opens the configured run journal and records finished runs
// into it.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tjfontaine/polyglot-relay/internal/config"
	"github.com/tjfontaine/polyglot-relay/internal/core/ports"
	"github.com/tjfontaine/polyglot-relay/internal/storage/memory"
	"github.com/tjfontaine/polyglot-relay/internal/storage/redis"
	"github.com/tjfontaine/polyglot-relay/internal/storage/sqlite"
)

// Journal types accepted in journal.type.
const (
	TypeSQLite = "sqlite"
	TypeRedis  = "redis"
	TypeMemory = "memory"
	TypeNone   = "none"
)

// Open creates the journal described by cfg. It returns a nil journal for
// TypeNone.
func Open(cfg config.JournalConfig) (ports.RunJournal, error) {
	switch cfg.Type {
	case TypeSQLite, "":
		path := cfg.SQLite.Path
		if path == "" {
			path = config.DefaultSQLitePath
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create journal directory: %w", err)
			}
		}
		return sqlite.New(path)
	case TypeRedis:
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("journal.redis.addr is required")
		}
		return redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			redis.WithPrefix(cfg.Redis.Prefix),
			redis.WithTTL(cfg.Redis.TTL),
		), nil
	case TypeMemory:
		return memory.New(), nil
	case TypeNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown journal type %q", cfg.Type)
	}
}
