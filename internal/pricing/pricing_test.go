package pricing

import (
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetTable(t *testing.T) {
	t.Helper()
	require.NoError(t, SetOverridePath(""))
}

func almostEqual(t *testing.T, want, got float64) {
	t.Helper()
	if math.Abs(want-got) > 1e-9 {
		t.Fatalf("expected %.10f, got %.10f", want, got)
	}
}

func TestRatesForResolution(t *testing.T) {
	resetTable(t)

	r, m := RatesFor("gemini-2.5-flash")
	assert.Equal(t, MatchExact, m)
	assert.Equal(t, 0.30, r.InputPerM)

	r, m = RatesFor("gemini-2.5-flash-lite-preview-09-2025")
	assert.Equal(t, MatchPrefix, m)
	assert.Equal(t, 0.10, r.InputPerM, "longest prefix wins over gemini-2.5-flash")

	r, m = RatesFor("models/gemini-2.5-pro")
	assert.Equal(t, MatchExact, m)
	assert.Equal(t, 1.25, r.InputPerM)

	r, m = RatesFor("some-other-model")
	assert.Equal(t, MatchDefault, m)
	assert.Equal(t, builtInDefault, r)
}

func TestCostPromptCompletionOnly(t *testing.T) {
	resetTable(t)
	est := Cost("gemini-2.5-flash", Usage{PromptTokens: 1000, CompletionTokens: 500})

	assert.Equal(t, MethodPromptCompOnly, est.Method)
	assert.Equal(t, ConfidenceLow, est.Confidence)
	assert.Equal(t, 1000, est.InputTokens)
	assert.Equal(t, 500, est.OutputTokens)
	almostEqual(t, 1000*0.30/1e6+500*2.50/1e6, est.Cost)
}

func TestCostInferredFromTotalGap(t *testing.T) {
	resetTable(t)
	est := Cost("gemini-2.5-pro", Usage{PromptTokens: 1000, CompletionTokens: 200, TotalTokens: 1500})

	assert.Equal(t, MethodInferredGap, est.Method)
	assert.Equal(t, ConfidenceMedium, est.Confidence)
	assert.Equal(t, 1000, est.InputTokens)
	assert.Equal(t, 500, est.OutputTokens, "gap of 300 billed as output")
	almostEqual(t, 1000*1.25/1e6+500*10.0/1e6, est.Cost)
}

func TestCostExplicitUsageFields(t *testing.T) {
	resetTable(t)
	est := Cost("gemini-2.5-pro", Usage{
		PromptTokens:        1000,
		CompletionTokens:    200,
		ThoughtsTokens:      300,
		ToolUsePromptTokens: 100,
		TotalTokens:         1600,
	})

	assert.Equal(t, MethodExplicit, est.Method)
	assert.Equal(t, ConfidenceHigh, est.Confidence)
	assert.Equal(t, 1100, est.InputTokens)
	assert.Equal(t, 500, est.OutputTokens)
}

func TestCostHighContextTier(t *testing.T) {
	resetTable(t)

	est := Cost("gemini-2.5-pro", Usage{PromptTokens: 250_000, CompletionTokens: 1000})
	assert.True(t, est.HighContext)
	almostEqual(t, 250_000*2.50/1e6+1000*15.0/1e6, est.Cost)

	// 1.5 models switch tiers at 128k
	est = Cost("gemini-1.5-pro", Usage{PromptTokens: 150_000})
	assert.True(t, est.HighContext)
	est = Cost("gemini-2.5-pro", Usage{PromptTokens: 150_000})
	assert.False(t, est.HighContext)

	// models without a high-context tier keep their base rates
	est = Cost("gemini-2.5-flash", Usage{PromptTokens: 300_000})
	assert.True(t, est.HighContext)
	almostEqual(t, 300_000*0.30/1e6, est.Cost)
}

func TestCostZeroAndNegativeUsage(t *testing.T) {
	resetTable(t)
	est := Cost("", Usage{PromptTokens: -5})
	assert.Equal(t, 0, est.InputTokens)
	assert.Equal(t, 0.0, est.Cost)
	assert.Equal(t, MatchDefault, est.RateMatch)
}

func TestOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	content := `
pricing:
  default:
    input_per_m: 2
    output_per_m: 4
  models:
    custom-model:
      input_per_m: 1
      output_per_m: 1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, SetOverridePath(path))
	defer resetTable(t)

	r, m := RatesFor("custom-model")
	assert.Equal(t, MatchExact, m)
	assert.Equal(t, 1.0, r.InputPerM)

	r, _ = RatesFor("unknown")
	assert.Equal(t, 2.0, r.InputPerM)

	// a broken file keeps the previous table
	require.NoError(t, os.WriteFile(path, []byte("pricing: [broken"), 0o644))
	assert.Error(t, Reload())
	r, m = RatesFor("custom-model")
	assert.Equal(t, MatchExact, m)
	assert.Equal(t, 1.0, r.InputPerM)
}

func TestOverrideRejectsNegativeRates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pricing:\n  models:\n    bad:\n      input_per_m: -1\n"), 0o644))
	assert.Error(t, SetOverridePath(path))
	resetTable(t)
}

func TestConcurrentAccess(t *testing.T) {
	mu.Lock()
	initialized = false
	loaded = nil
	mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r, _ := RatesFor("gemini-2.5-flash"); r.InputPerM == 0 {
				t.Error("missing rates")
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("deadlock detected")
	}
}
