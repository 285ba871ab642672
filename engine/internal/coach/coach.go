// Package coach selects spoken cue text from a decision. The rule engine is
// stateless apart from the caller-held cooldown stamp, so an LLM-backed
// selector can substitute behind the same interface.
package coach

import (
	"fmt"
	"time"

	"stride/engine/models"
)

// DefaultCooldown is the minimum spacing between prompts.
const DefaultCooldown = 45 * time.Second

// Selector produces at most one cue per call. Implementations must be pure
// with respect to engine state; the caller owns the cooldown stamp.
type Selector interface {
	Prompt(d models.Decision, now, lastPromptAt time.Time) (string, bool)
}

// RuleSelector is the shipped rule-based Selector.
type RuleSelector struct {
	Cooldown time.Duration
}

// NewRuleSelector returns a selector with the given cooldown (default 45 s).
func NewRuleSelector(cooldown time.Duration) *RuleSelector {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &RuleSelector{Cooldown: cooldown}
}

// Prompt returns a cue keyed on the decision's first alert, or a neutral
// encouragement when none fired. Returns false while inside the cooldown.
func (s *RuleSelector) Prompt(d models.Decision, now, lastPromptAt time.Time) (string, bool) {
	if !lastPromptAt.IsZero() && now.Sub(lastPromptAt) < s.Cooldown {
		return "", false
	}
	first := d.FirstAlert()
	if first == nil {
		return encouragement(d), true
	}
	switch first.Kind {
	case models.AlertFuelCritical:
		return "Fuel now. Your reserve is nearly empty.", true
	case models.AlertFuelWarning:
		return fmt.Sprintf("Take a gel in the next few minutes, about %.0f grams left.", d.Fueling.RemainingGrams), true
	case models.AlertHighHeartRate:
		return "Heart rate is high for this effort. Ease off slightly.", true
	case models.AlertCardiacDrift:
		return "Your heart rate is drifting upward at this pace. Consider backing off.", true
	case models.AlertPaceVariance:
		return "Pace is uneven. Settle back into your rhythm.", true
	case models.AlertSplit:
		return first.Detail + " done. Keep it rolling.", true
	default:
		return encouragement(d), true
	}
}

func encouragement(d models.Decision) string {
	switch {
	case d.PaceAdjustmentPercent < 0:
		return "Holding back today is the right call. Smooth and steady."
	case d.PaceAdjustmentPercent > 0:
		return "You're fresh. It's fine to push a little."
	default:
		return "Looking strong. Keep this effort."
	}
}
