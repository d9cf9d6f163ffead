package pricing

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	pmetrics "github.com/estio/agentcore/internal/metrics"
)

// Rates are USD per million tokens. High-context rates apply when the billable
// prompt exceeds the model's threshold; zero high-context rates fall back to
// the base rates.
type Rates struct {
	InputPerM    float64 `yaml:"input_per_m"`
	OutputPerM   float64 `yaml:"output_per_m"`
	InputPerMHC  float64 `yaml:"input_per_m_high_context"`
	OutputPerMHC float64 `yaml:"output_per_m_high_context"`
}

// Side file shape for overrides (pricing.yaml)
type config struct {
	Pricing struct {
		Default *Rates           `yaml:"default"`
		Models  map[string]Rates `yaml:"models"`
	} `yaml:"pricing"`
}

var builtInRates = map[string]Rates{
	"gemini-3-pro-preview":     {InputPerM: 2.00, OutputPerM: 12.00, InputPerMHC: 4.00, OutputPerMHC: 18.00},
	"gemini-3-flash-preview":   {InputPerM: 0.50, OutputPerM: 3.00},
	"gemini-2.5-pro":           {InputPerM: 1.25, OutputPerM: 10.00, InputPerMHC: 2.50, OutputPerMHC: 15.00},
	"gemini-2.5-flash":         {InputPerM: 0.30, OutputPerM: 2.50},
	"gemini-2.5-flash-lite":    {InputPerM: 0.10, OutputPerM: 0.40},
	"gemini-flash-latest":      {InputPerM: 0.30, OutputPerM: 2.50},
	"gemini-flash-lite-latest": {InputPerM: 0.10, OutputPerM: 0.40},
	"gemini-2.0-flash":         {InputPerM: 0.20, OutputPerM: 1.00},
	"gemini-2.0-flash-lite":    {InputPerM: 0.10, OutputPerM: 0.40},
	"gemini-1.5-pro":           {InputPerM: 3.50, OutputPerM: 10.50, InputPerMHC: 7.00, OutputPerMHC: 21.00},
	"gemini-1.5-flash":         {InputPerM: 0.35, OutputPerM: 1.05, InputPerMHC: 0.70, OutputPerMHC: 2.10},
}

var builtInDefault = Rates{InputPerM: 1.25, OutputPerM: 10.00}

const (
	highContextThreshold       = 200_000
	legacyHighContextThreshold = 128_000
)

type table struct {
	models   map[string]Rates
	fallback Rates
}

var (
	mu           sync.RWMutex
	loaded       *table
	initialized  bool
	overridePath = os.Getenv("AGENTCORE_PRICING_PATH")
)

// loadLocked builds the table from built-ins plus the override file; caller holds mu
func loadLocked() error {
	t := &table{models: make(map[string]Rates, len(builtInRates)), fallback: builtInDefault}
	for k, v := range builtInRates {
		t.models[k] = v
	}

	var loadErr error
	if overridePath != "" {
		data, err := os.ReadFile(overridePath)
		switch {
		case err == nil:
			var cfg config
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				loadErr = fmt.Errorf("parse pricing overrides %s: %w", overridePath, err)
				break
			}
			if err := validate(cfg); err != nil {
				loadErr = err
				break
			}
			for k, v := range cfg.Pricing.Models {
				t.models[strings.ToLower(k)] = v
			}
			if cfg.Pricing.Default != nil {
				t.fallback = *cfg.Pricing.Default
			}
		case !os.IsNotExist(err):
			loadErr = fmt.Errorf("read pricing overrides %s: %w", overridePath, err)
		}
	}

	if loadErr != nil && loaded != nil {
		// keep serving the previous table
		initialized = true
		return loadErr
	}
	loaded = t
	initialized = true
	return loadErr
}

func get() *table {
	mu.RLock()
	if initialized {
		defer mu.RUnlock()
		return loaded
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if !initialized {
		_ = loadLocked()
	}
	return loaded
}

// SetOverridePath points the estimator at a YAML override file and reloads
func SetOverridePath(path string) error {
	mu.Lock()
	defer mu.Unlock()
	overridePath = path
	return loadLocked()
}

// Reload re-reads the override file. On error the previous table stays active.
func Reload() error {
	mu.Lock()
	defer mu.Unlock()
	return loadLocked()
}

func validate(cfg config) error {
	check := func(name string, r Rates) error {
		if r.InputPerM < 0 || r.OutputPerM < 0 || r.InputPerMHC < 0 || r.OutputPerMHC < 0 {
			return errors.New("negative rate for " + name)
		}
		return nil
	}
	if cfg.Pricing.Default != nil {
		if err := check("default", *cfg.Pricing.Default); err != nil {
			return err
		}
	}
	for name, r := range cfg.Pricing.Models {
		if err := check(name, r); err != nil {
			return err
		}
	}
	return nil
}

// Match describes how a model name was resolved against the rate table
type Match string

const (
	MatchExact   Match = "exact"
	MatchPrefix  Match = "prefix"
	MatchDefault Match = "default"
)

// RatesFor resolves rates by exact name, then longest known prefix, then the default
func RatesFor(model string) (Rates, Match) {
	t := get()
	name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(model), "models/"))
	if r, ok := t.models[name]; ok {
		return r, MatchExact
	}
	best := ""
	for k := range t.models {
		if strings.HasPrefix(name, k) && len(k) > len(best) {
			best = k
		}
	}
	if best != "" {
		pmetrics.PricingFallbacks.WithLabelValues("prefix_match").Inc()
		return t.models[best], MatchPrefix
	}
	if name == "" {
		pmetrics.PricingFallbacks.WithLabelValues("missing_model").Inc()
	} else {
		pmetrics.PricingFallbacks.WithLabelValues("unknown_model").Inc()
	}
	return t.fallback, MatchDefault
}

// HighContextThreshold returns the prompt size above which high-context rates apply
func HighContextThreshold(model string) int {
	if strings.Contains(model, "1.5") {
		return legacyHighContextThreshold
	}
	return highContextThreshold
}
