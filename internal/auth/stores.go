package auth

import (
	"context"
	"fmt"
	"io"

	"coinview/config"
	"coinview/logger"
)

// Build wires the stores chosen in cfg into a Service. The returned closer
// releases database and redis connections.
func Build(ctx context.Context, cfg config.AuthConfig, log *logger.Log) (*Service, io.Closer, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	closers := multiCloser{}

	var users UserStore
	switch cfg.Backend {
	case config.BackendPostgres:
		db, err := OpenPostgres(ctx, cfg.Postgres, log)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, db)
		store := NewPostgresUserStore(db)
		if err := store.Migrate(ctx); err != nil {
			closers.Close()
			return nil, nil, err
		}
		users = store
	case config.BackendMemory, "":
		users = NewMemoryUserStore()
	default:
		return nil, nil, fmt.Errorf("unsupported auth backend %q", cfg.Backend)
	}

	var sessions SessionStore
	switch cfg.SessionBackend {
	case config.BackendRedis:
		client, err := OpenRedis(ctx, cfg.Redis)
		if err != nil {
			closers.Close()
			return nil, nil, err
		}
		closers = append(closers, client)
		sessions = NewRedisSessionStore(client, cfg.Redis.Prefix)
	case config.BackendMemory, "":
		sessions = NewMemorySessionStore()
	default:
		closers.Close()
		return nil, nil, fmt.Errorf("unsupported session backend %q", cfg.SessionBackend)
	}

	log.WithComponent("auth").WithFields(logger.Fields{
		"backend":         cfg.Backend,
		"session_backend": cfg.SessionBackend,
	}).Info("auth service ready")

	return NewService(users, sessions, Options{
		SessionTTL:        cfg.SessionTTL,
		MinPasswordLength: cfg.MinPasswordLength,
		Log:               log,
	}), closers, nil
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var first error
	for i := len(m) - 1; i >= 0; i-- {
		if err := m[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
