package loom

import (
	"fmt"
	"io"

	"github.com/loomwm/loom/internal/config"
	"github.com/loomwm/loom/pkg/adapters/file"
	"github.com/loomwm/loom/pkg/adapters/memory"
	"github.com/loomwm/loom/pkg/adapters/redis"
	"github.com/loomwm/loom/pkg/persistence/middleware"
	"github.com/loomwm/loom/pkg/ports"
)

// Storage is an opened snapshot backend.
type Storage struct {
	Store  ports.SnapshotStore
	Locker ports.Locker
	closer io.Closer
}

// Close releases backend connections.
func (s *Storage) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Options returns the engine options that wire the backend in.
func (s *Storage) Options() []Option {
	opts := []Option{WithStore(s.Store)}
	if s.Locker != nil {
		opts = append(opts, WithLocker(s.Locker))
	}
	return opts
}

// OpenStorage opens the backend selected by cfg.Backend. Local backends get
// an in-process lock, redis a distributed one. With an encryption key the
// store seals snapshots at rest.
func OpenStorage(cfg config.StorageConfig) (*Storage, error) {
	var s *Storage
	switch cfg.Backend {
	case "memory":
		s = &Storage{Store: memory.NewStore(), Locker: memory.NewLocker()}
	case "file":
		s = &Storage{Store: file.New(cfg.Path), Locker: memory.NewLocker()}
	case "redis":
		store := redis.New(cfg.RedisAddr, "", 0, redis.WithPrefix(cfg.RedisPrefix+"canvas:"))
		s = &Storage{
			Store:  store,
			Locker: redis.NewLocker(store.Client(), cfg.RedisPrefix),
			closer: store,
		}
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	active, fallback, err := cfg.Keys()
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if active != nil {
		seal, err := middleware.NewEncryption(middleware.EncryptionConfig{ActiveKey: active, FallbackKeys: fallback})
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.Store = middleware.Chain(s.Store, seal)
	}
	return s, nil
}
