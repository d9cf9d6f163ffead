package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newMockWrapper(t *testing.T) (*DatabaseWrapper, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return NewDatabaseWrapper(sqlx.NewDb(raw, "postgres"), zaptest.NewLogger(t)), mock
}

func TestDatabaseWrapper_NormalOperations(t *testing.T) {
	wrapper, mock := newMockWrapper(t)
	ctx := context.Background()

	mock.ExpectPing()
	require.NoError(t, wrapper.PingContext(ctx))

	mock.ExpectQuery("SELECT id, text FROM insights").
		WillReturnRows(sqlmock.NewRows([]string{"id", "text"}).AddRow("i1", "Prefers sea view"))

	var rows []struct {
		ID   string `db:"id"`
		Text string `db:"text"`
	}
	require.NoError(t, wrapper.SelectContext(ctx, &rows, "SELECT id, text FROM insights"))
	require.Len(t, rows, 1)
	assert.Equal(t, "Prefers sea view", rows[0].Text)

	mock.ExpectExec("INSERT INTO agent_executions").
		WithArgs("c1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	res, err := wrapper.ExecContext(ctx, "INSERT INTO agent_executions (conversation_id) VALUES ($1)", "c1")
	require.NoError(t, err)
	affected, _ := res.RowsAffected()
	assert.Equal(t, int64(1), affected)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseWrapper_NoRowsDoesNotTrip(t *testing.T) {
	wrapper, mock := newMockWrapper(t)
	ctx := context.Background()

	for i := 0; i < int(DatabaseSettings().FailureThreshold)+1; i++ {
		mock.ExpectQuery("SELECT count").WillReturnError(sql.ErrNoRows)
		var n int
		err := wrapper.GetContext(ctx, &n, "SELECT count(*) FROM agent_executions")
		assert.True(t, errors.Is(err, sql.ErrNoRows))
	}
	assert.False(t, wrapper.IsCircuitBreakerOpen())
}

func TestDatabaseWrapper_OpensOnFailures(t *testing.T) {
	wrapper, mock := newMockWrapper(t)
	ctx := context.Background()

	for i := 0; i < int(DatabaseSettings().FailureThreshold); i++ {
		mock.ExpectExec("UPDATE").WillReturnError(errors.New("connection reset"))
		_, err := wrapper.ExecContext(ctx, "UPDATE agent_executions SET status = 'approved'")
		assert.Error(t, err)
	}
	assert.True(t, wrapper.IsCircuitBreakerOpen())

	_, err := wrapper.ExecContext(ctx, "UPDATE agent_executions SET status = 'approved'")
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
}

func TestDatabaseWrapper_Transaction(t *testing.T) {
	wrapper, mock := newMockWrapper(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO draft_counters").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, err := wrapper.BeginTxx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, "INSERT INTO draft_counters (conversation_id) VALUES ($1)", "c1")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}
