// Package policy applies guardrails to a drafted reply and its tool calls
// before anything reaches a human reviewer.
//
// Five built-in rules always run, in order. Operators can add rules without
// a release by dropping rego modules into the overlay directory; the overlay
// must define data.agentcore.guardrails.decision as an object with
// "violations" and "approvals" string arrays.
package policy

import (
	"container/list"
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"

	"github.com/estio/agentcore/internal/config"
	"github.com/estio/agentcore/internal/metrics"
)

var ErrNoPolicies = errors.New("no policy files found")

const overlayUnavailable = "VIOLATION: Policy overlay unavailable"

// Result of a guardrail check. Approved is false whenever any violation was
// found; warnings are listed with the required approvals.
type Result struct {
	Approved          bool     `json:"approved"`
	Reason            string   `json:"reason"`
	Violations        []string `json:"violations"`
	RequiredApprovals []string `json:"required_approvals"`
}

func (r *Result) add(f Finding) {
	switch f.Outcome {
	case OutcomeViolation:
		r.Violations = append(r.Violations, f.String())
	default:
		r.RequiredApprovals = append(r.RequiredApprovals, f.String())
	}
}

func (r *Result) finalize() {
	r.Approved = len(r.Violations) == 0
	switch {
	case len(r.Violations) > 0:
		r.Reason = "Blocked: " + strings.Join(r.Violations, "; ")
	case len(r.RequiredApprovals) > 0:
		r.Reason = "Needs approval: " + strings.Join(r.RequiredApprovals, "; ")
	default:
		r.Reason = "All checks passed"
	}
}

// overlayDecision is the parsed value of the rego decision rule
type overlayDecision struct {
	Violations []string
	Approvals  []string
}

// Engine evaluates the built-in rules and the optional rego overlay
type Engine struct {
	config *Config
	rules  []Rule
	logger *zap.Logger

	mu       sync.RWMutex
	compiled *rego.PreparedEvalQuery
	loadErr  error
	version  string

	cache *decisionCache
}

// NewEngine creates an engine and loads the overlay when one is configured.
// A load failure never prevents construction: fail-open engines log it and
// run the built-in rules only, fail-closed engines block every draft until
// a reload succeeds.
func NewEngine(cfg *Config, logger *zap.Logger) *Engine {
	if cfg == nil {
		cfg = &Config{Mode: ModeOff}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		config: cfg,
		rules:  BuiltinRules(),
		logger: logger,
		cache:  newDecisionCache(1000, 5*time.Minute),
	}
	if cfg.overlayEnabled() {
		if err := e.LoadPolicies(); err != nil {
			logger.Warn("Failed to load policy overlay",
				zap.String("path", cfg.Path),
				zap.Bool("fail_closed", cfg.FailClosed),
				zap.Error(err),
			)
		}
	}
	return e
}

// LoadPolicies compiles every .rego file under the overlay directory. On
// failure the previously compiled overlay is dropped.
func (e *Engine) LoadPolicies() error {
	if !e.config.overlayEnabled() {
		return nil
	}

	policies, err := readModules(e.config.Path)
	if err == nil && len(policies) == 0 {
		err = fmt.Errorf("%w in %s", ErrNoPolicies, e.config.Path)
	}
	var compiled rego.PreparedEvalQuery
	if err == nil {
		opts := []func(*rego.Rego){rego.Query(DecisionQuery)}
		for name, content := range policies {
			opts = append(opts, rego.Module(name, content))
		}
		compiled, err = rego.New(opts...).PrepareForEval(context.Background())
		if err != nil {
			err = fmt.Errorf("failed to compile policies: %w", err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache.Clear()
	if err != nil {
		e.compiled = nil
		e.loadErr = err
		RecordOverlayError("load", e.config.Mode)
		return err
	}
	e.compiled = &compiled
	e.loadErr = nil
	e.version = policyVersion(policies)

	e.logger.Info("Policy overlay loaded",
		zap.Int("module_count", len(policies)),
		zap.String("version", e.version),
		zap.String("decision_query", DecisionQuery),
	)
	RecordOverlayLoad(e.config.Path, len(policies), float64(time.Now().Unix()), e.version)
	return nil
}

// ReloadHandler recompiles the overlay when a watched .rego file changes
func (e *Engine) ReloadHandler() config.ChangeHandler {
	return func(ev config.ChangeEvent) error {
		e.logger.Info("Policy overlay changed, reloading", zap.String("file", ev.File), zap.String("action", ev.Action))
		return e.LoadPolicies()
	}
}

// OverlayActive reports whether a compiled overlay is in effect
func (e *Engine) OverlayActive() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.compiled != nil
}

// Mode returns the overlay enforcement mode
func (e *Engine) Mode() Mode { return e.config.Mode }

// Check runs every rule, then the overlay, and never returns an error
func (e *Engine) Check(ctx context.Context, in Input) Result {
	start := time.Now()
	res := Result{Violations: []string{}, RequiredApprovals: []string{}}

	for _, rule := range e.rules {
		f := rule.Check(in)
		if f == nil {
			continue
		}
		f.Rule = rule.Name
		res.add(*f)
		metrics.PolicyOutcomes.WithLabelValues(rule.Name, string(f.Outcome)).Inc()
	}

	if e.config.overlayEnabled() {
		e.applyOverlay(ctx, in, &res)
	}

	res.finalize()
	if !res.Approved {
		RecordBlockReason(res.Reason)
	}
	status := "approved"
	if !res.Approved {
		status = "blocked"
	}
	metrics.RecordStage("policy", status, time.Since(start).Seconds())
	e.logger.Debug("Policy checked",
		zap.String("intent", in.Intent),
		zap.Bool("approved", res.Approved),
		zap.Int("violations", len(res.Violations)),
		zap.Int("approvals", len(res.RequiredApprovals)),
	)
	return res
}

func (e *Engine) applyOverlay(ctx context.Context, in Input, res *Result) {
	decision, err := e.evaluateOverlay(ctx, in)
	if err != nil {
		e.logger.Error("Policy overlay evaluation failed", zap.Error(err), zap.Bool("fail_closed", e.config.FailClosed))
		if e.config.FailClosed {
			res.Violations = append(res.Violations, overlayUnavailable)
			metrics.PolicyOutcomes.WithLabelValues("overlay", string(OutcomeViolation)).Inc()
		}
		return
	}
	if decision == nil {
		return
	}

	if e.config.Mode == ModeDryRun {
		for _, v := range decision.Violations {
			RecordDryRunFinding("violation")
			e.logger.Info("Dry-run overlay violation", zap.String("finding", v), zap.String("intent", in.Intent))
		}
		for _, a := range decision.Approvals {
			RecordDryRunFinding("approval")
			e.logger.Info("Dry-run overlay approval", zap.String("finding", a), zap.String("intent", in.Intent))
		}
		return
	}

	for _, v := range decision.Violations {
		res.Violations = append(res.Violations, v)
		metrics.PolicyOutcomes.WithLabelValues("overlay", string(OutcomeViolation)).Inc()
	}
	for _, a := range decision.Approvals {
		res.RequiredApprovals = append(res.RequiredApprovals, a)
		metrics.PolicyOutcomes.WithLabelValues("overlay", string(OutcomeRequiresApproval)).Inc()
	}
}

func (e *Engine) evaluateOverlay(ctx context.Context, in Input) (*overlayDecision, error) {
	e.mu.RLock()
	compiled, loadErr, version := e.compiled, e.loadErr, e.version
	e.mu.RUnlock()

	if compiled == nil {
		return nil, loadErr
	}

	inputMap, err := inputToMap(in, e.config.Environment)
	if err != nil {
		RecordOverlayError("input_conversion", e.config.Mode)
		return nil, fmt.Errorf("convert input: %w", err)
	}

	key := cacheKey(version, inputMap)
	if d, ok := e.cache.Get(key); ok {
		RecordCacheHit()
		return d, nil
	}
	RecordCacheMiss()

	start := time.Now()
	results, err := compiled.Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		RecordOverlayError("evaluation", e.config.Mode)
		return nil, err
	}
	decision := parseResults(results)

	outcome := "pass"
	if len(decision.Violations) > 0 {
		outcome = "violation"
	} else if len(decision.Approvals) > 0 {
		outcome = "approval"
	}
	RecordOverlayEvaluation(outcome, e.config.Mode, time.Since(start).Seconds())

	e.cache.Set(key, decision)
	return decision, nil
}

// inputToMap converts Input to the generic shape rego evaluates
func inputToMap(in Input, environment string) (map[string]interface{}, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	result["environment"] = environment
	return result, nil
}

// parseResults reads the decision object. Anything other than string
// entries in the two arrays is ignored.
func parseResults(results rego.ResultSet) *overlayDecision {
	decision := &overlayDecision{}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return decision
	}
	valueMap, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return decision
	}
	decision.Violations = stringSlice(valueMap["violations"])
	decision.Approvals = stringSlice(valueMap["approvals"])
	return decision
}

func stringSlice(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// readModules loads every .rego file under dir keyed by its relative path
func readModules(dir string) (map[string]string, error) {
	policies := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".rego") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read policy file %s: %w", path, err)
		}
		rel, _ := filepath.Rel(dir, path)
		policies[strings.TrimSuffix(rel, ".rego")] = string(content)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk policy directory: %w", err)
	}
	return policies, nil
}

// policyVersion hashes module names and contents in sorted order
func policyVersion(policies map[string]string) string {
	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	sort.Strings(names)

	h := md5.New()
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte(policies[name]))
	}
	return fmt.Sprintf("%x", h.Sum(nil)[:4])
}

func cacheKey(version string, input map[string]interface{}) string {
	data, _ := json.Marshal(input)
	h := fnv.New64a()
	_, _ = h.Write(data)
	return fmt.Sprintf("%s|%x", version, h.Sum64())
}

// --- overlay decision cache (LRU with TTL) ---

type decisionCache struct {
	cap  int
	ttl  time.Duration
	mu   sync.Mutex
	list *list.List // MRU at front
	m    map[string]*list.Element
}

type cacheEntry struct {
	key       string
	expiresAt time.Time
	decision  *overlayDecision
}

func newDecisionCache(capacity int, ttl time.Duration) *decisionCache {
	if capacity <= 0 {
		capacity = 1024
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &decisionCache{
		cap:  capacity,
		ttl:  ttl,
		list: list.New(),
		m:    make(map[string]*list.Element),
	}
}

func (c *decisionCache) Get(key string) (*overlayDecision, bool) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.m[key]; ok {
		ce := el.Value.(cacheEntry)
		if ce.expiresAt.After(now) {
			c.list.MoveToFront(el)
			return ce.decision, true
		}
		c.list.Remove(el)
		delete(c.m, key)
	}
	return nil, false
}

func (c *decisionCache) Set(key string, d *overlayDecision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := cacheEntry{key: key, expiresAt: time.Now().Add(c.ttl), decision: d}
	if el, ok := c.m[key]; ok {
		el.Value = entry
		c.list.MoveToFront(el)
		return
	}
	c.m[key] = c.list.PushFront(entry)
	if c.list.Len() > c.cap {
		if lru := c.list.Back(); lru != nil {
			delete(c.m, lru.Value.(cacheEntry).key)
			c.list.Remove(lru)
		}
	}
}

func (c *decisionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list.Init()
	c.m = make(map[string]*list.Element)
}

func (c *decisionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}
