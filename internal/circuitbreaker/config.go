package circuitbreaker

import (
	"os"
	"strconv"
	"time"
)

// Settings is the env-tunable subset of Config for one dependency class
type Settings struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
}

// LLMSettings covers calls to the language model provider
func LLMSettings() Settings {
	return settingsFromEnv("LLM", Settings{
		MaxRequests:      2,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 1,
	})
}

// HTTPSettings covers auxiliary HTTP services (embedding service, Qdrant)
func HTTPSettings() Settings {
	return settingsFromEnv("HTTP", Settings{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	})
}

// DatabaseSettings covers PostgreSQL / SQLite access
func DatabaseSettings() Settings {
	return settingsFromEnv("DB", Settings{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	})
}

// RedisSettings covers cache access
func RedisSettings() Settings {
	return settingsFromEnv("REDIS", Settings{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	})
}

// ToConfig converts Settings to a breaker Config
func (s Settings) ToConfig() Config {
	return Config{
		MaxRequests:      s.MaxRequests,
		Interval:         s.Interval,
		Timeout:          s.Timeout,
		FailureThreshold: s.FailureThreshold,
		SuccessThreshold: s.SuccessThreshold,
	}
}

// settingsFromEnv applies AGENTCORE_CB_<CLASS>_* overrides on top of defaults
func settingsFromEnv(class string, def Settings) Settings {
	prefix := "AGENTCORE_CB_" + class + "_"
	return Settings{
		MaxRequests:      getEnvUint32(prefix+"MAX_REQUESTS", def.MaxRequests),
		Interval:         getEnvDuration(prefix+"INTERVAL", def.Interval),
		Timeout:          getEnvDuration(prefix+"TIMEOUT", def.Timeout),
		FailureThreshold: getEnvUint32(prefix+"FAILURE_THRESHOLD", def.FailureThreshold),
		SuccessThreshold: getEnvUint32(prefix+"SUCCESS_THRESHOLD", def.SuccessThreshold),
	}
}

func getEnvUint32(key string, defaultValue uint32) uint32 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseUint(val, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}
