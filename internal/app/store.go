package app

import (
	"context"
	"fmt"
	"time"

	"github.com/nfrund/roomcast/internal/config"
	"github.com/nfrund/roomcast/internal/database"
	"github.com/nfrund/roomcast/internal/database/postgres"
	"github.com/nfrund/roomcast/internal/domain"
	"github.com/samber/do/v2"
)

// bootstrapTimeout bounds connecting to the store and defining its schema.
const bootstrapTimeout = 30 * time.Second

// Store is every durable contract the process needs from one backend.
type Store interface {
	domain.UserRepository
	domain.TopicRepository
	domain.MembershipRepository
	domain.MessageRepository
	domain.NotificationRepository
	domain.RevocationRepository
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// managedStore ties a Store to the container lifecycle.
type managedStore struct {
	Store
}

func (s managedStore) Shutdown(ctx context.Context) error {
	return s.Close(ctx)
}

func (s managedStore) HealthCheck(ctx context.Context) error {
	return s.Ping(ctx)
}

func (a *App) provideStore(i do.Injector) (Store, error) {
	cfg := do.MustInvoke[*config.Config](i)

	ctx, cancel := context.WithTimeout(a.ctx, bootstrapTimeout)
	defer cancel()

	switch cfg.StoreDriver {
	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		store := postgres.NewStore(db, postgres.WithTimeouts(cfg.GetDBQueryTimeout(), cfg.GetDBExecuteTimeout()))
		if err := store.Bootstrap(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		a.logger.Info("Store ready", "driver", config.StorePostgres)
		return managedStore{store}, nil

	case config.StoreSurreal:
		conn := database.NewConnection(cfg)
		if err := conn.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connect to surrealdb: %w", err)
		}
		conn.StartMonitoring()
		store := database.NewStore(conn)
		if err := store.Bootstrap(ctx); err != nil {
			_ = conn.Close(context.WithoutCancel(ctx))
			return nil, err
		}
		a.logger.Info("Store ready", "driver", config.StoreSurreal, "ns", cfg.GetDBNs(), "db", cfg.GetDBDb())
		return managedStore{store}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
