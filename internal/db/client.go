package db

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/estio/agentcore/internal/circuitbreaker"
)

// Config holds database configuration
type Config struct {
	Driver          string // postgres or sqlite3
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	WriteQueueSize  int
	Workers         int
}

// Client manages the connection pool and an ordered async write queue.
// Writes sharing a key (a trace ID) always land on the same worker so their
// relative order is preserved.
type Client struct {
	db     *circuitbreaker.DatabaseWrapper
	logger *zap.Logger

	queues    []chan WriteRequest
	stopCh    chan struct{}
	workerWg  sync.WaitGroup
	closeOnce sync.Once
}

// WriteRequest represents an async write operation
type WriteRequest struct {
	Type     WriteType
	Key      string
	Data     interface{}
	Callback func(error)
}

type WriteType int

const (
	WriteTypeTrace WriteType = iota
	WriteTypeSpan
	WriteTypeAgentExecution
	writeTypeBarrier
)

// String returns the string representation of WriteType
func (wt WriteType) String() string {
	switch wt {
	case WriteTypeTrace:
		return "Trace"
	case WriteTypeSpan:
		return "Span"
	case WriteTypeAgentExecution:
		return "AgentExecution"
	case writeTypeBarrier:
		return "Barrier"
	default:
		return "Unknown"
	}
}

// Open connects with the configured driver, pings, and starts the write workers
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Driver == "" {
		cfg.Driver = "postgres"
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	raw, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.Driver == "sqlite3" {
		// an in-memory sqlite database exists per connection
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
	}
	raw.SetMaxOpenConns(cfg.MaxOpenConns)
	raw.SetMaxIdleConns(cfg.MaxIdleConns)
	raw.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	client := NewClient(raw, cfg, logger)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.db.PingContext(pingCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	client.logger.Info("Database client initialized",
		zap.String("driver", cfg.Driver),
		zap.Int("max_connections", cfg.MaxOpenConns),
		zap.Int("workers", len(client.queues)),
	)
	return client, nil
}

// NewClient wraps an existing handle; used by Open and by tests with sqlmock
func NewClient(raw *sqlx.DB, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WriteQueueSize <= 0 {
		cfg.WriteQueueSize = 1000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	c := &Client{
		db:     circuitbreaker.NewDatabaseWrapper(raw, logger),
		logger: logger,
		queues: make([]chan WriteRequest, cfg.Workers),
		stopCh: make(chan struct{}),
	}
	for i := range c.queues {
		c.queues[i] = make(chan WriteRequest, cfg.WriteQueueSize/cfg.Workers+1)
		c.workerWg.Add(1)
		go c.writeWorker(i)
	}
	go c.healthCheck()
	return c
}

func (c *Client) shard(key string) int {
	if len(c.queues) == 1 || key == "" {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(c.queues)))
}

// writeWorker processes write requests from one queue shard
func (c *Client) writeWorker(id int) {
	defer c.workerWg.Done()
	c.logger.Debug("Write worker started", zap.Int("worker_id", id))
	q := c.queues[id]

	for {
		select {
		case <-c.stopCh:
			c.drainQueue(q)
			c.logger.Debug("Write worker stopped", zap.Int("worker_id", id))
			return
		case req := <-q:
			c.processWrite(req)
		}
	}
}

// processWrite handles a single write request
func (c *Client) processWrite(req WriteRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	switch req.Type {
	case WriteTypeTrace:
		if row, ok := req.Data.(*traceRow); ok {
			err = c.upsertTrace(ctx, row)
		}
	case WriteTypeSpan:
		if row, ok := req.Data.(*spanRow); ok {
			err = c.upsertSpan(ctx, row)
		}
	case WriteTypeAgentExecution:
		if exec, ok := req.Data.(*AgentExecution); ok {
			err = c.SaveAgentExecution(ctx, exec)
		}
	case writeTypeBarrier:
	}

	if req.Callback != nil {
		req.Callback(err)
	}
	if err != nil {
		c.logger.Error("Failed to process write request",
			zap.String("type", req.Type.String()),
			zap.Error(err),
		)
	}
}

// drainQueue processes remaining requests during shutdown
func (c *Client) drainQueue(q chan WriteRequest) {
	timeout := time.After(10 * time.Second)
	for {
		select {
		case req := <-q:
			c.processWrite(req)
		case <-timeout:
			c.logger.Warn("Timeout draining write queue")
			return
		default:
			return
		}
	}
}

// QueueWrite adds a write request to the async queue. When the shard is full
// the write runs synchronously instead of being dropped.
func (c *Client) QueueWrite(writeType WriteType, key string, data interface{}, callback func(error)) {
	req := WriteRequest{Type: writeType, Key: key, Data: data, Callback: callback}
	select {
	case <-c.stopCh:
		c.processWrite(req)
		return
	default:
	}
	select {
	case c.queues[c.shard(key)] <- req:
	default:
		c.logger.Warn("Write queue is full, falling back to synchronous write",
			zap.String("type", writeType.String()))
		c.processWrite(req)
	}
}

// Flush blocks until every write queued before the call has been processed
func (c *Client) Flush(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, q := range c.queues {
		wg.Add(1)
		select {
		case q <- WriteRequest{Type: writeTypeBarrier, Callback: func(error) { wg.Done() }}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// healthCheck periodically checks database connectivity
func (c *Client) healthCheck() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.db.PingContext(ctx); err != nil {
				c.logger.Error("Database health check failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// Close drains the write queue and closes the pool
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stopCh)
		c.workerWg.Wait()
		if cerr := c.db.Close(); cerr != nil {
			err = fmt.Errorf("failed to close database: %w", cerr)
		}
		c.logger.Info("Database client closed")
	})
	return err
}

// Wrapper returns the circuit-breaker protected handle for repositories
func (c *Client) Wrapper() *circuitbreaker.DatabaseWrapper {
	return c.db
}

// DriverName reports the driver in use
func (c *Client) DriverName() string {
	return c.db.DriverName()
}

// WithTransaction runs fn inside a transaction, rolling back on error or panic
func (c *Client) WithTransaction(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v, original error: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}
