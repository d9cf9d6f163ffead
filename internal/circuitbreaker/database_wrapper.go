package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const databaseService = "database-client"

// DatabaseWrapper routes the store's sqlx calls through one breaker per
// driver. sql.ErrNoRows is an answer, not an outage.
type DatabaseWrapper struct {
	db *sqlx.DB
	cb *CircuitBreaker
}

func NewDatabaseWrapper(db *sqlx.DB, logger *zap.Logger) *DatabaseWrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := DatabaseSettings().ToConfig()
	cfg.IsSuccessful = func(err error) bool { return errors.Is(err, sql.ErrNoRows) }
	cb := NewCircuitBreaker(db.DriverName(), cfg, logger)
	DefaultRegistry.Register(cb.Name(), databaseService, cb)
	return &DatabaseWrapper{db: db, cb: cb}
}

func dbCall[T any](ctx context.Context, dw *DatabaseWrapper, fn func() (T, error)) (T, error) {
	out, err := Call(ctx, dw.cb, fn)
	DefaultRegistry.Record(dw.cb.Name(), databaseService, dw.cb.State(),
		err == nil || errors.Is(err, sql.ErrNoRows))
	return out, err
}

func dbDo(ctx context.Context, dw *DatabaseWrapper, fn func() error) error {
	_, err := dbCall(ctx, dw, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	return dbDo(ctx, dw, func() error { return dw.db.PingContext(ctx) })
}

func (dw *DatabaseWrapper) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	return dbDo(ctx, dw, func() error { return dw.db.GetContext(ctx, dest, query, args...) })
}

func (dw *DatabaseWrapper) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	return dbDo(ctx, dw, func() error { return dw.db.SelectContext(ctx, dest, query, args...) })
}

func (dw *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return dbCall(ctx, dw, func() (sql.Result, error) { return dw.db.ExecContext(ctx, query, args...) })
}

func (dw *DatabaseWrapper) NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error) {
	return dbCall(ctx, dw, func() (sql.Result, error) { return dw.db.NamedExecContext(ctx, query, arg) })
}

// BeginTxx opens a transaction through the breaker. Statements inside the
// transaction run directly on the returned *sqlx.Tx.
func (dw *DatabaseWrapper) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return dbCall(ctx, dw, func() (*sqlx.Tx, error) { return dw.db.BeginTxx(ctx, opts) })
}

// Rebind converts ? placeholders to the driver's bindvar style
func (dw *DatabaseWrapper) Rebind(query string) string { return dw.db.Rebind(query) }

func (dw *DatabaseWrapper) DriverName() string { return dw.db.DriverName() }

func (dw *DatabaseWrapper) Close() error { return dw.db.Close() }

func (dw *DatabaseWrapper) DB() *sqlx.DB { return dw.db }

func (dw *DatabaseWrapper) IsCircuitBreakerOpen() bool {
	return dw.cb.State() == StateOpen
}
