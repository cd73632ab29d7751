package alert

import (
	"time"

	"github.com/fleeteye/internal/config"
	"github.com/fleeteye/internal/models"
)

// Evaluate classifies a numeric sample value against the thresholds for
// its condition. The critical check runs first so that overlapping or
// non-contiguous threshold bands always resolve in favor of critical.
// Pure: no side effects, safe to call repeatedly with identical inputs.
func Evaluate(condition models.Condition, value float64, t config.Thresholds) models.Severity {
	if condition == models.ConditionOffline {
		// Offline is absence-of-event detection; see EvaluateOffline.
		return models.SeverityNone
	}
	switch {
	case value >= t.Critical:
		return models.SeverityCritical
	case value >= t.High:
		return models.SeverityHigh
	default:
		return models.SeverityNone
	}
}

// EvaluateOffline classifies reachability from the server's last heartbeat
// time. A server with no heartbeat within intervalMultiple expected
// intervals is critical; a server that has never reported is not flagged
// (there is nothing to have lost). The clearing path does not go through
// here: any received heartbeat clears offline immediately in the
// lifecycle manager, regardless of debounce.
func EvaluateOffline(lastSeen *time.Time, expectedInterval time.Duration, intervalMultiple int, now time.Time) models.Severity {
	if lastSeen == nil || expectedInterval <= 0 {
		return models.SeverityNone
	}
	deadline := lastSeen.Add(time.Duration(intervalMultiple) * expectedInterval)
	if now.After(deadline) {
		return models.SeverityCritical
	}
	return models.SeverityNone
}
