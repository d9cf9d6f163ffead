package predictor

import (
	"encoding/json"
	"time"

	"github.com/estio/agentcore/internal/config"
)

// SemiAutoConfig controls what the predictor may draft for a conversation.
// Drafts are always stored for review; nothing is ever sent.
type SemiAutoConfig struct {
	Enabled            bool          `json:"enabled"`
	PredictNextSteps   bool          `json:"predictNextSteps"`
	DraftReplies       bool          `json:"draftReplies"`
	DraftFollowUps     bool          `json:"draftFollowUps"`
	DraftListingAlerts bool          `json:"draftListingAlerts"`
	MaxDraftsPerDay    int           `json:"maxDraftsPerDay"`
	Cooldown           time.Duration `json:"-"`
}

// DefaultSemiAutoConfig mirrors the shipped per-conversation defaults
func DefaultSemiAutoConfig() SemiAutoConfig {
	return SemiAutoConfig{
		Enabled:            true,
		PredictNextSteps:   true,
		DraftReplies:       true,
		DraftFollowUps:     true,
		DraftListingAlerts: true,
		MaxDraftsPerDay:    50,
		Cooldown:           2 * time.Minute,
	}
}

// FromConfig builds the service-wide defaults from the predictor section
func FromConfig(cfg config.PredictorConfig) SemiAutoConfig {
	return SemiAutoConfig{
		Enabled:            cfg.Enabled,
		PredictNextSteps:   cfg.PredictNextSteps,
		DraftReplies:       cfg.DraftReplies,
		DraftFollowUps:     cfg.DraftFollowUps,
		DraftListingAlerts: cfg.DraftListings,
		MaxDraftsPerDay:    cfg.MaxDraftsPerDay,
		Cooldown:           cfg.Cooldown,
	}
}

// ParseSemiAutoConfig reads conversation settings stored as JSON (raw bytes,
// a string, or an already decoded object) over base. Fields that are missing
// or of the wrong type keep the base value; anything unparseable yields base.
func ParseSemiAutoConfig(raw any, base SemiAutoConfig) SemiAutoConfig {
	var fields map[string]any
	switch v := raw.(type) {
	case nil:
		return base
	case map[string]any:
		fields = v
	case json.RawMessage:
		if json.Unmarshal(v, &fields) != nil {
			return base
		}
	case []byte:
		if json.Unmarshal(v, &fields) != nil {
			return base
		}
	case string:
		if json.Unmarshal([]byte(v), &fields) != nil {
			return base
		}
	default:
		return base
	}

	out := base
	boolField(fields, "enabled", &out.Enabled)
	boolField(fields, "predictNextSteps", &out.PredictNextSteps)
	boolField(fields, "draftReplies", &out.DraftReplies)
	boolField(fields, "draftFollowUps", &out.DraftFollowUps)
	boolField(fields, "draftListingAlerts", &out.DraftListingAlerts)
	if n, ok := fields["maxDraftsPerDay"].(float64); ok {
		out.MaxDraftsPerDay = int(n)
	}
	if n, ok := fields["cooldownMinutes"].(float64); ok {
		out.Cooldown = time.Duration(n * float64(time.Minute))
	}
	return out
}

func boolField(fields map[string]any, key string, dst *bool) {
	if b, ok := fields[key].(bool); ok {
		*dst = b
	}
}

// allows reports whether a trigger from source may run under c
func (c SemiAutoConfig) allows(source Source) bool {
	if !c.Enabled {
		return false
	}
	switch source {
	case SourceFollowUp:
		return c.DraftFollowUps
	case SourceListingAlert:
		return c.DraftListingAlerts
	default:
		return c.DraftReplies || c.PredictNextSteps
	}
}

func (c SemiAutoConfig) limits() Limits {
	return Limits{Max: c.MaxDraftsPerDay, Cooldown: c.Cooldown}
}
