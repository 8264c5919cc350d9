package database

import (
	"context"
	"time"

	"github.com/surrealdb/surrealdb.go"
)

// DBConnection defines the interface for a managed database connection.
// Repositories run their statements through WithConnection so a dropped
// connection is re-established transparently.
type DBConnection interface {
	WithConnection(ctx context.Context, fn func(*surrealdb.DB) error) error
	Close(ctx context.Context) error
	IsHealthy() bool
	Ping(ctx context.Context) error
	GetDBQueryTimeout() time.Duration
	GetDBExecuteTimeout() time.Duration
}
