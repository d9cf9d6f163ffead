package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/estio/agentcore/internal/circuitbreaker"
	ometrics "github.com/estio/agentcore/internal/metrics"
	"github.com/estio/agentcore/internal/tracing"
)

var ErrNotFound = errors.New("qdrant: not found")

// Client is a minimal Qdrant HTTP client
type Client struct {
	cfg   Config
	base  string
	httpw *circuitbreaker.HTTPWrapper
	log   *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := cfg
	if c.URL == "" {
		c.URL = "http://localhost:6333"
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.Distance == "" {
		c.Distance = "Cosine"
	}
	httpClient := &http.Client{Timeout: c.Timeout}
	return &Client{
		cfg:   c,
		base:  strings.TrimRight(c.URL, "/"),
		httpw: circuitbreaker.NewHTTPWrapper(httpClient, "qdrant", "vectordb", logger),
		log:   logger,
	}
}

type queryRequest struct {
	Query          []float32 `json:"query"`
	Limit          int       `json:"limit"`
	ScoreThreshold *float64  `json:"score_threshold,omitempty"`
	WithPayload    bool      `json:"with_payload"`
	Filter         *Filter   `json:"filter,omitempty"`
}

type searchRequest struct {
	Vector         []float32 `json:"vector"`
	Limit          int       `json:"limit"`
	ScoreThreshold *float64  `json:"score_threshold,omitempty"`
	WithPayload    bool      `json:"with_payload"`
	Filter         *Filter   `json:"filter,omitempty"`
}

type wirePoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

func (w wirePoint) point() Point {
	p := Point{Score: w.Score, Payload: w.Payload}
	if w.ID != nil {
		p.ID = fmt.Sprintf("%v", w.ID)
	}
	if p.Payload == nil {
		p.Payload = map[string]any{}
	}
	return p
}

// Search returns the nearest points in collection. It prefers the
// /points/query endpoint and falls back to the legacy /points/search.
func (c *Client) Search(ctx context.Context, collection string, vec []float32, limit int, threshold float64, filter *Filter) ([]Point, error) {
	start := time.Now()
	var thr *float64
	if threshold > 0 {
		thr = &threshold
	}

	var qr struct {
		Result struct {
			Points []wirePoint `json:"points"`
		} `json:"result"`
	}
	err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/query",
		queryRequest{Query: vec, Limit: limit, ScoreThreshold: thr, WithPayload: true, Filter: filter}, &qr)
	if err == nil {
		ometrics.RecordVectorSearchMetrics(collection, "ok", time.Since(start).Seconds())
		return toPoints(qr.Result.Points), nil
	}
	var se *statusError
	if !errors.As(err, &se) && !errors.Is(err, ErrNotFound) {
		ometrics.RecordVectorSearchMetrics(collection, "error", time.Since(start).Seconds())
		return nil, err
	}

	var sr struct {
		Result []wirePoint `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/search",
		searchRequest{Vector: vec, Limit: limit, ScoreThreshold: thr, WithPayload: true, Filter: filter}, &sr); err != nil {
		ometrics.RecordVectorSearchMetrics(collection, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("qdrant query/search failed: %w", err)
	}
	ometrics.RecordVectorSearchMetrics(collection, "ok", time.Since(start).Seconds())
	return toPoints(sr.Result), nil
}

// Upsert inserts or updates points, waiting for the write to apply
func (c *Client) Upsert(ctx context.Context, collection string, points []UpsertItem) (*UpsertResponse, error) {
	var r struct {
		Result UpsertResponse `json:"result"`
		Status string         `json:"status"`
		Time   float64        `json:"time"`
	}
	if err := c.do(ctx, http.MethodPut, "/collections/"+collection+"/points?wait=true",
		map[string]any{"points": points}, &r); err != nil {
		return nil, fmt.Errorf("qdrant upsert: %w", err)
	}
	return &UpsertResponse{Status: r.Result.Status, Time: r.Time}, nil
}

func toPoints(in []wirePoint) []Point {
	out := make([]Point, 0, len(in))
	for _, w := range in {
		out = append(out, w.point())
	}
	return out
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant status %d: %s", e.code, e.body)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	url := c.base + path
	ctx, span := tracing.StartHTTPSpan(ctx, method, url)
	defer span.End()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.httpw.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: string(msg)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
