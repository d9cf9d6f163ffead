package policy

import (
	"regexp"
	"strings"

	"github.com/estio/agentcore/internal/tools"
)

// Outcome tags a rule finding
type Outcome string

const (
	OutcomeViolation        Outcome = "VIOLATION"
	OutcomeRequiresApproval Outcome = "REQUIRES_APPROVAL"
	OutcomeWarning          Outcome = "WARNING"
)

// Input is what the guardrails see for one pipeline run
type Input struct {
	Intent     string             `json:"intent"`
	Risk       string             `json:"risk"`
	ToolCalls  []tools.CallResult `json:"tool_calls"`
	DraftReply string             `json:"draft_reply"`
	DealStage  string             `json:"deal_stage,omitempty"`
}

// Finding is one rule's tagged outcome
type Finding struct {
	Rule    string
	Outcome Outcome
	Message string
}

// String renders the finding the way it appears in Result lists
func (f Finding) String() string {
	return string(f.Outcome) + ": " + f.Message
}

// Rule is one independent guardrail check. Check returns nil when the input
// passes.
type Rule struct {
	Name  string
	Check func(Input) *Finding
}

var (
	priceDisclosurePattern = regexp.MustCompile(`(?i)owner('s)?\s+(minimum|bottom|lowest|asking|price)\s+(is|would be)`)
	legalAdvicePattern     = regexp.MustCompile(`(?i)legal(ly)?|lawyer|contract\s+clause|liability`)
	discriminatoryPattern  = regexp.MustCompile(`(?i)\b(race|religion|national origin|familial status|disability|sex)\b`)
)

// contractTools need a manager's sign-off before anything is sent
var contractTools = map[string]bool{
	"generate_contract":  true,
	"send_for_signature": true,
}

// BuiltinRules returns the fixed rule set in evaluation order
func BuiltinRules() []Rule {
	return []Rule{
		{
			Name: "no_price_disclosure",
			Check: func(in Input) *Finding {
				if priceDisclosurePattern.MatchString(in.DraftReply) {
					return &Finding{Outcome: OutcomeViolation, Message: "Draft may disclose owner's private pricing information"}
				}
				return nil
			},
		},
		{
			Name: "contract_requires_manager",
			Check: func(in Input) *Finding {
				for _, call := range in.ToolCalls {
					if contractTools[call.Name] {
						return &Finding{Outcome: OutcomeRequiresApproval, Message: "Contract actions require manager sign-off"}
					}
				}
				return nil
			},
		},
		{
			Name: "high_risk_requires_human",
			Check: func(in Input) *Finding {
				if strings.EqualFold(in.Risk, "high") {
					return &Finding{Outcome: OutcomeRequiresApproval, Message: "High-risk intent requires human review before sending"}
				}
				return nil
			},
		},
		{
			Name: "no_legal_advice",
			Check: func(in Input) *Finding {
				if in.Intent != "CONTRACT_REQUEST" && legalAdvicePattern.MatchString(in.DraftReply) {
					return &Finding{Outcome: OutcomeWarning, Message: "Draft may contain legal advice. Agent should recommend consulting a lawyer."}
				}
				return nil
			},
		},
		{
			Name: "no_discriminatory_language",
			Check: func(in Input) *Finding {
				if discriminatoryPattern.MatchString(in.DraftReply) {
					return &Finding{Outcome: OutcomeViolation, Message: "Draft may contain discriminatory language (Fair Housing Act)"}
				}
				return nil
			},
		},
	}
}
