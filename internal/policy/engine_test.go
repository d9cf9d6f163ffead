package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/estio/agentcore/internal/config"
	"github.com/estio/agentcore/internal/tools"
)

func TestBuiltinRules(t *testing.T) {
	engine := NewEngine(nil, zaptest.NewLogger(t))

	tests := []struct {
		name       string
		input      Input
		approved   bool
		violations int
		approvals  int
		reason     string
	}{
		{
			name:     "clean_reply",
			input:    Input{Intent: "PROPERTY_QUESTION", Risk: "low", DraftReply: "The villa has three bedrooms and a pool."},
			approved: true,
			reason:   "All checks passed",
		},
		{
			name:       "price_disclosure",
			input:      Input{Intent: "PRICE_NEGOTIATION", Risk: "medium", DraftReply: "Between us, the owner's lowest is 420k."},
			approved:   false,
			violations: 1,
			reason:     "Blocked: VIOLATION: Draft may disclose owner's private pricing information",
		},
		{
			name:       "price_disclosure_would_be",
			input:      Input{Risk: "low", DraftReply: "The owner minimum would be around 400k"},
			approved:   false,
			violations: 1,
		},
		{
			name: "contract_tool",
			input: Input{Intent: "CONTRACT_REQUEST", Risk: "medium", ToolCalls: []tools.CallResult{
				{Name: "search_properties"}, {Name: "generate_contract"}, {Name: "send_for_signature"},
			}},
			approved:  true,
			approvals: 1,
			reason:    "Needs approval: REQUIRES_APPROVAL: Contract actions require manager sign-off",
		},
		{
			name:      "high_risk",
			input:     Input{Intent: "OFFER", Risk: "high", DraftReply: "Thanks, I will pass your offer on."},
			approved:  true,
			approvals: 1,
		},
		{
			name:      "legal_advice_warning",
			input:     Input{Intent: "PROPERTY_QUESTION", Risk: "low", DraftReply: "Legally you are fine to proceed."},
			approved:  true,
			approvals: 1,
			reason:    "Needs approval: WARNING: Draft may contain legal advice. Agent should recommend consulting a lawyer.",
		},
		{
			name:     "legal_terms_on_contract_request",
			input:    Input{Intent: "CONTRACT_REQUEST", Risk: "low", DraftReply: "Your lawyer will review the contract clause."},
			approved: true,
			reason:   "All checks passed",
		},
		{
			name:       "discriminatory_language",
			input:      Input{Risk: "low", DraftReply: "This area suits people of your religion."},
			approved:   false,
			violations: 1,
		},
		{
			name:     "word_boundary",
			input:    Input{Risk: "low", DraftReply: "The house is in Essex and has a terrace."},
			approved: true,
		},
		{
			name:       "several_findings",
			input:      Input{Risk: "high", DraftReply: "The owner's bottom is 300k, and legally you can't be refused for your race."},
			approved:   false,
			violations: 2,
			approvals:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := engine.Check(context.Background(), tt.input)
			if res.Approved != tt.approved {
				t.Errorf("approved = %v, want %v (reason %q)", res.Approved, tt.approved, res.Reason)
			}
			if len(res.Violations) != tt.violations {
				t.Errorf("violations = %v, want %d", res.Violations, tt.violations)
			}
			if len(res.RequiredApprovals) != tt.approvals {
				t.Errorf("approvals = %v, want %d", res.RequiredApprovals, tt.approvals)
			}
			if tt.reason != "" && res.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", res.Reason, tt.reason)
			}
		})
	}
}

func TestBuiltinRuleOrder(t *testing.T) {
	want := []string{
		"no_price_disclosure",
		"contract_requires_manager",
		"high_risk_requires_human",
		"no_legal_advice",
		"no_discriminatory_language",
	}
	rules := BuiltinRules()
	if len(rules) != len(want) {
		t.Fatalf("got %d rules, want %d", len(rules), len(want))
	}
	for i, r := range rules {
		if r.Name != want[i] {
			t.Errorf("rule %d = %s, want %s", i, r.Name, want[i])
		}
	}

	engine := NewEngine(nil, zaptest.NewLogger(t))
	res := engine.Check(context.Background(), Input{
		Risk:       "high",
		DraftReply: "A lawyer said the owner's price is fixed.",
		ToolCalls:  []tools.CallResult{{Name: "generate_contract"}},
	})
	wantApprovals := []string{
		"REQUIRES_APPROVAL: Contract actions require manager sign-off",
		"REQUIRES_APPROVAL: High-risk intent requires human review before sending",
		"WARNING: Draft may contain legal advice. Agent should recommend consulting a lawyer.",
	}
	if strings.Join(res.RequiredApprovals, "|") != strings.Join(wantApprovals, "|") {
		t.Errorf("approvals = %v, want %v", res.RequiredApprovals, wantApprovals)
	}
}

const stageOverlay = `package agentcore.guardrails

default decision := {"violations": [], "approvals": []}

decision := {
    "violations": ["VIOLATION: Drafts are frozen once a deal is closed"],
    "approvals": []
} {
    input.deal_stage == "closed"
}

decision := {
    "violations": [],
    "approvals": ["REQUIRES_APPROVAL: Viewings in production need a coordinator"]
} {
    input.environment == "production"
    input.tool_calls[_].name == "schedule_viewing"
}
`

func writePolicy(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}
}

func TestOverlayEnforce(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "stage.rego", stageOverlay)

	engine := NewEngine(&Config{Mode: ModeEnforce, Path: dir, Environment: "production"}, zaptest.NewLogger(t))
	if !engine.OverlayActive() {
		t.Fatal("overlay should be active")
	}

	res := engine.Check(context.Background(), Input{Risk: "low", DealStage: "closed", DraftReply: "Congratulations!"})
	if res.Approved {
		t.Fatal("closed deal draft should be blocked by the overlay")
	}
	if res.Reason != "Blocked: VIOLATION: Drafts are frozen once a deal is closed" {
		t.Errorf("unexpected reason %q", res.Reason)
	}

	res = engine.Check(context.Background(), Input{Risk: "low", ToolCalls: []tools.CallResult{{Name: "schedule_viewing"}}})
	if !res.Approved || len(res.RequiredApprovals) != 1 {
		t.Errorf("expected one overlay approval, got %+v", res)
	}

	// second identical check is served from the cache
	before := engine.cache.Len()
	engine.Check(context.Background(), Input{Risk: "low", ToolCalls: []tools.CallResult{{Name: "schedule_viewing"}}})
	if engine.cache.Len() != before {
		t.Errorf("cache grew on a repeated input: %d -> %d", before, engine.cache.Len())
	}
}

func TestOverlayDryRun(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "stage.rego", stageOverlay)

	engine := NewEngine(&Config{Mode: ModeDryRun, Path: dir}, zaptest.NewLogger(t))
	res := engine.Check(context.Background(), Input{Risk: "low", DealStage: "closed"})
	if !res.Approved || res.Reason != "All checks passed" {
		t.Errorf("dry-run overlay must not change the result, got %+v", res)
	}
}

func TestOverlayFailureModes(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "broken.rego", "package agentcore.guardrails\n\ndecision := {")

	open := NewEngine(&Config{Mode: ModeEnforce, Path: dir}, zaptest.NewLogger(t))
	if open.OverlayActive() {
		t.Fatal("broken overlay should not compile")
	}
	res := open.Check(context.Background(), Input{Risk: "low", DraftReply: "Hello"})
	if !res.Approved {
		t.Errorf("fail-open engine should ignore overlay errors, got %+v", res)
	}

	closed := NewEngine(&Config{Mode: ModeEnforce, Path: dir, FailClosed: true}, zaptest.NewLogger(t))
	res = closed.Check(context.Background(), Input{Risk: "low", DraftReply: "Hello"})
	if res.Approved {
		t.Fatal("fail-closed engine should block when the overlay is unavailable")
	}
	if res.Violations[0] != overlayUnavailable {
		t.Errorf("unexpected violations %v", res.Violations)
	}

	// fixing the file and reloading clears the failure
	writePolicy(t, dir, "broken.rego", stageOverlay)
	handler := closed.ReloadHandler()
	if err := handler(config.ChangeEvent{File: "broken.rego", Action: "modify"}); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	res = closed.Check(context.Background(), Input{Risk: "low", DraftReply: "Hello"})
	if !res.Approved {
		t.Errorf("reloaded overlay should approve, got %+v", res)
	}
}

func TestOverlayEmptyDirectory(t *testing.T) {
	engine := NewEngine(&Config{Mode: ModeEnforce, Path: t.TempDir(), FailClosed: true}, zaptest.NewLogger(t))
	if err := engine.LoadPolicies(); err == nil {
		t.Fatal("expected ErrNoPolicies")
	}
	res := engine.Check(context.Background(), Input{Risk: "low"})
	if res.Approved {
		t.Error("fail-closed engine with no overlay modules should block")
	}
}

func TestFromConfig(t *testing.T) {
	c := FromConfig("production", config.PolicyConfig{OverlayDir: " /etc/agentcore/policies ", Mode: "bogus"})
	if c.Mode != ModeOff || c.overlayEnabled() {
		t.Errorf("unknown mode should disable the overlay, got %+v", c)
	}
	c = FromConfig("production", config.PolicyConfig{OverlayDir: "/etc/agentcore/policies"})
	if c.Mode != ModeEnforce || c.Path != "/etc/agentcore/policies" || c.Environment != "production" {
		t.Errorf("unexpected config %+v", c)
	}

	t.Setenv("AGENTCORE_POLICY_EMERGENCY_DRY_RUN", "yes")
	c = FromConfig("production", config.PolicyConfig{OverlayDir: "/p", Mode: "enforce"})
	if c.Mode != ModeDryRun {
		t.Errorf("kill switch should force dry-run, got %s", c.Mode)
	}
}
