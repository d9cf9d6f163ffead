package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/estio/agentcore/internal/circuitbreaker"
	"github.com/estio/agentcore/internal/db"
)

func fixed(name string, critical bool, status CheckStatus) Checker {
	return NewCustomHealthChecker(name, critical, time.Second, func(context.Context) CheckResult {
		return CheckResult{Status: status}
	})
}

func TestReportStatusRollup(t *testing.T) {
	m := NewManager(time.Minute, zaptest.NewLogger(t))
	require.NoError(t, m.RegisterChecker(fixed("database", true, StatusHealthy)))
	require.NoError(t, m.RegisterChecker(fixed("embeddings", false, StatusUnhealthy)))
	assert.Error(t, m.RegisterChecker(fixed("database", true, StatusHealthy)))

	before := m.Report()
	assert.Equal(t, StatusUnknown, before.Components["database"].Status)

	rep := m.CheckAll(context.Background())
	assert.Equal(t, StatusDegraded, rep.Status)
	assert.True(t, rep.Ready)
	assert.Equal(t, 2, rep.Summary.Total)
	assert.Equal(t, 1, rep.Summary.Unhealthy)
	assert.Equal(t, 1, rep.Summary.Critical)

	require.NoError(t, m.RegisterChecker(fixed("redis", true, StatusUnhealthy)))
	rep = m.CheckAll(context.Background())
	assert.Equal(t, StatusUnhealthy, rep.Status)
	assert.False(t, rep.Ready)
}

func TestCheckTimeoutIsApplied(t *testing.T) {
	m := NewManager(time.Minute, zaptest.NewLogger(t))
	slow := NewCustomHealthChecker("slow", true, 20*time.Millisecond, func(ctx context.Context) CheckResult {
		<-ctx.Done()
		return CheckResult{Status: StatusUnhealthy, Error: ctx.Err().Error()}
	})
	require.NoError(t, m.RegisterChecker(slow))

	rep := m.CheckAll(context.Background())
	assert.Equal(t, context.DeadlineExceeded.Error(), rep.Components["slow"].Error)
	assert.False(t, rep.Ready)
}

func TestDependencyCheckers(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	client, err := db.Open(ctx, db.Config{Driver: "sqlite3", DSN: ":memory:"}, logger)
	require.NoError(t, err)
	defer client.Close()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	svc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer svc.Close()

	m := NewManager(time.Minute, logger)
	require.NoError(t, m.RegisterChecker(NewDatabaseHealthChecker(client.Wrapper())))
	require.NoError(t, m.RegisterChecker(NewRedisHealthChecker(rdb, true)))
	require.NoError(t, m.RegisterChecker(NewServiceHealthChecker("embeddings", svc.URL+"/health", false)))

	rep := m.CheckAll(ctx)
	for name, r := range rep.Components {
		assert.NotEqual(t, StatusUnhealthy, r.Status, name)
	}
	assert.True(t, rep.Ready)

	mr.Close()
	svc.Close()
	rep = m.CheckAll(ctx)
	assert.Equal(t, StatusUnhealthy, rep.Components["redis"].Status)
	assert.Equal(t, StatusUnhealthy, rep.Components["embeddings"].Status)
	assert.False(t, rep.Ready)
}

func TestHTTPHandler(t *testing.T) {
	m := NewManager(time.Minute, zaptest.NewLogger(t))
	require.NoError(t, m.RegisterChecker(fixed("database", true, StatusUnhealthy)))
	m.CheckAll(context.Background())

	mux := http.NewServeMux()
	NewHTTPHandler(m, zaptest.NewLogger(t)).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body["status"])

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestBreakerHealthChecker(t *testing.T) {
	states := []circuitbreaker.Status{
		{Name: "postgres", Service: "database-client", State: circuitbreaker.StateClosed},
		{Name: "qdrant", Service: "vectordb", State: circuitbreaker.StateClosed},
	}
	checker := NewBreakerHealthChecker(func() []circuitbreaker.Status { return states })

	r := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, r.Status)
	assert.Equal(t, "closed", r.Details["vectordb:qdrant"])

	states[1].State = circuitbreaker.StateOpen
	r = checker.Check(context.Background())
	assert.Equal(t, StatusDegraded, r.Status)
	assert.Contains(t, r.Message, "vectordb:qdrant")

	m := NewManager(time.Minute, zaptest.NewLogger(t))
	require.NoError(t, m.RegisterChecker(checker))
	rep := m.CheckAll(context.Background())
	assert.Equal(t, StatusDegraded, rep.Status)
	assert.True(t, rep.Ready)
}
