package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nfrund/roomcast/internal/domain"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Table names.
const (
	userTable         = "user"
	topicTable        = "topic"
	memberTable       = "room_member"
	messageTable      = "message"
	notificationTable = "notification"
	revokedTable      = "revoked_token"
)

// var _ ensures Store implements every repository at compile time.
var (
	_ domain.UserRepository         = (*Store)(nil)
	_ domain.TopicRepository        = (*Store)(nil)
	_ domain.MembershipRepository   = (*Store)(nil)
	_ domain.MessageRepository      = (*Store)(nil)
	_ domain.NotificationRepository = (*Store)(nil)
	_ domain.RevocationRepository   = (*Store)(nil)
)

// Store implements the durable store contracts on SurrealDB. Users and topics
// are owned by other services and only read here.
type Store struct {
	conn   DBConnection
	now    func() time.Time
	logger *slog.Logger
}

// NewStore returns a Store running its statements on conn.
func NewStore(conn DBConnection) *Store {
	return &Store{
		conn:   conn,
		now:    time.Now,
		logger: slog.Default().With("service", "database", "driver", "surrealdb"),
	}
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Close closes the underlying connection.
func (s *Store) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}

func selectRows[T any](ctx context.Context, s *Store, query string, params map[string]any) ([]T, error) {
	ctx, cancel := getTimeoutFromContext(ctx, s.conn.GetDBQueryTimeout(), ContextKeyQueryTimeout)
	defer cancel()

	var rows []T
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		rows, err = Query[T](ctx, db, query, params)
		return err
	})
	return rows, err
}

func selectRow[T any](ctx context.Context, s *Store, query string, params map[string]any) (*T, error) {
	ctx, cancel := getTimeoutFromContext(ctx, s.conn.GetDBQueryTimeout(), ContextKeyQueryTimeout)
	defer cancel()

	var row *T
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		row, err = QueryOne[T](ctx, db, query, params)
		return err
	})
	return row, err
}

func mutateRows[T any](ctx context.Context, s *Store, query string, params map[string]any) ([]T, error) {
	ctx, cancel := getTimeoutFromContext(ctx, s.conn.GetDBExecuteTimeout(), ContextKeyExecuteTimeout)
	defer cancel()

	var rows []T
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		rows, err = Query[T](ctx, db, query, params)
		return err
	})
	return rows, err
}

// recordKey returns the key part of a record id ("message:abc" -> "abc").
func recordKey(id *surrealmodels.RecordID) string {
	if id == nil {
		return ""
	}
	switch v := id.ID.(type) {
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// bareKey strips an optional "table:" prefix from an externally supplied id.
func bareKey(table, id string) string {
	return strings.TrimPrefix(id, table+":")
}

func datetime(t time.Time) surrealmodels.CustomDateTime {
	return surrealmodels.CustomDateTime{Time: t.UTC()}
}

func timeOf(dt *surrealmodels.CustomDateTime) *time.Time {
	if dt == nil {
		return nil
	}
	t := dt.Time.UTC()
	return &t
}
