// Package postgres implements the durable store on PostgreSQL through
// database/sql and the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/nfrund/roomcast/internal/database"
	"github.com/nfrund/roomcast/internal/domain"
)

var (
	_ domain.UserRepository         = (*Store)(nil)
	_ domain.TopicRepository        = (*Store)(nil)
	_ domain.MembershipRepository   = (*Store)(nil)
	_ domain.MessageRepository      = (*Store)(nil)
	_ domain.NotificationRepository = (*Store)(nil)
	_ domain.RevocationRepository   = (*Store)(nil)
)

// Open opens a Postgres connection pool using the given DSN and verifies it
// with a ping. Caller must call Close when done.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("postgres: DATABASE_URL is not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return db, nil
}

// Store implements every repository on a *sql.DB.
type Store struct {
	db             *sql.DB
	queryTimeout   time.Duration
	executeTimeout time.Duration
	now            func() time.Time
	logger         *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithTimeouts sets the default read and write statement timeouts.
func WithTimeouts(query, execute time.Duration) Option {
	return func(s *Store) {
		if query > 0 {
			s.queryTimeout = query
		}
		if execute > 0 {
			s.executeTimeout = execute
		}
	}
}

// NewStore returns a Store over db.
func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:             db,
		queryTimeout:   5 * time.Second,
		executeTimeout: 10 * time.Second,
		now:            time.Now,
		logger:         slog.Default().With("service", "database", "driver", "postgres"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping checks the connection pool.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.readContext(ctx)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return database.NewDBError(errors.Join(database.ErrNotConnected, err), "ping failed")
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

func (s *Store) readContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.queryTimeout
	if v, ok := ctx.Value(database.ContextKeyQueryTimeout).(time.Duration); ok && v > 0 {
		timeout = v
	}
	return context.WithTimeout(ctx, timeout)
}

func (s *Store) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.executeTimeout
	if v, ok := ctx.Value(database.ContextKeyExecuteTimeout).(time.Duration); ok && v > 0 {
		timeout = v
	}
	return context.WithTimeout(ctx, timeout)
}

func queryError(err error, context, query string) error {
	return database.NewDBError(errors.Join(database.ErrQueryFailed, err), context).WithQuery(query)
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullTime(p *time.Time) sql.NullTime {
	if p == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: p.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time.UTC()
	return &v
}
