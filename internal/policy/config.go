package policy

import (
	"os"
	"strconv"
	"strings"

	"github.com/estio/agentcore/internal/config"
)

// Mode defines how rego overlay decisions are applied
type Mode string

const (
	// ModeOff skips the overlay entirely
	ModeOff Mode = "off"
	// ModeDryRun evaluates the overlay and logs what it would add
	ModeDryRun Mode = "dry-run"
	// ModeEnforce merges overlay outcomes into the result
	ModeEnforce Mode = "enforce"
)

// DecisionQuery is the rego rule every overlay must define
const DecisionQuery = "data.agentcore.guardrails.decision"

// Config holds guardrail engine configuration. The built-in rules always
// run; these settings only govern the rego overlay.
type Config struct {
	// Mode controls overlay enforcement behavior
	Mode Mode

	// Path to the directory containing .rego overlay files. Empty disables
	// the overlay.
	Path string

	// FailClosed turns overlay load or evaluation failures into a violation
	// instead of logging and ignoring them
	FailClosed bool

	// Environment is passed to the overlay as input.environment
	Environment string
}

// FromConfig builds the engine configuration from the application config.
// AGENTCORE_POLICY_* variables already apply through viper; the
// kill switch below is read directly so an operator can flip it without a
// config file.
func FromConfig(env string, pc config.PolicyConfig) *Config {
	c := &Config{
		Mode:        normalizeMode(Mode(pc.Mode)),
		Path:        strings.TrimSpace(pc.OverlayDir),
		FailClosed:  pc.FailClosed,
		Environment: env,
	}
	if getEnvBool("AGENTCORE_POLICY_EMERGENCY_DRY_RUN", false) && c.Mode == ModeEnforce {
		c.Mode = ModeDryRun
	}
	return c
}

// overlayEnabled reports whether rego modules should be loaded at all
func (c *Config) overlayEnabled() bool {
	return c != nil && c.Mode != ModeOff && c.Path != ""
}

func normalizeMode(m Mode) Mode {
	switch m {
	case ModeOff, ModeDryRun, ModeEnforce:
		return m
	case "":
		return ModeEnforce
	default:
		// Unknown mode, keep the overlay out of the decision
		return ModeOff
	}
}

// getEnvBool returns environment variable as boolean or default
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	switch strings.ToLower(value) {
	case "true", "1", "yes", "on", "enable", "enabled":
		return true
	case "false", "0", "no", "off", "disable", "disabled":
		return false
	default:
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
		return defaultValue
	}
}
