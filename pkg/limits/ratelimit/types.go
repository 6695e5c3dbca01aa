package ratelimit

import (
	"fmt"
	"time"

	"mercator-hq/gatekeeper/pkg/config"
)

// Category identifies an independent rate-limit budget.
type Category string

const (
	// ToolCalls limits every guarded tool call.
	ToolCalls Category = "toolCalls"

	// HighRiskOps limits value-moving operations.
	HighRiskOps Category = "highRiskOps"

	// PerRecipient limits payments to one recipient.
	PerRecipient Category = "perRecipient"
)

// Categories lists every category in evaluation order.
var Categories = []Category{ToolCalls, HighRiskOps, PerRecipient}

// ParseCategory parses a category name. Both the camelCase names and the
// snake_case configuration keys are accepted.
func ParseCategory(s string) (Category, error) {
	switch s {
	case string(ToolCalls), "tool_calls":
		return ToolCalls, nil
	case string(HighRiskOps), "high_risk_ops":
		return HighRiskOps, nil
	case string(PerRecipient), "per_recipient":
		return PerRecipient, nil
	default:
		return "", fmt.Errorf("unknown rate limit category %q", s)
	}
}

// window returns the configured limit for c.
func (c Category) window(cfg *config.RateLimitsConfig) (config.RateWindow, bool) {
	switch c {
	case ToolCalls:
		return cfg.ToolCalls, true
	case HighRiskOps:
		return cfg.HighRiskOps, true
	case PerRecipient:
		return cfg.PerRecipient, true
	default:
		return config.RateWindow{}, false
	}
}

// Result is the outcome of a Check.
type Result struct {
	// Allowed is true if one more call fits in the window.
	Allowed bool `json:"allowed"`

	// CurrentCount is the number of calls inside the window.
	CurrentCount int `json:"current_count"`

	// MaxCount is the configured max_calls.
	MaxCount int `json:"max_count"`

	// ResetInSeconds is the time until the oldest in-window call expires,
	// rounded up to whole seconds. Zero when the window is empty.
	ResetInSeconds int `json:"reset_in_seconds"`

	// RetryAfter is set only when Allowed is false.
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Stats describes the stored state of one key.
type Stats struct {
	Category     Category      `json:"category"`
	Key          string        `json:"key,omitempty"`
	CurrentCount int           `json:"current_count"`
	Stored       int           `json:"stored"`
	MaxCount     int           `json:"max_count"`
	Window       time.Duration `json:"window"`
	Oldest       time.Time     `json:"oldest,omitempty"`
	Newest       time.Time     `json:"newest,omitempty"`
}
