package alert

import (
	"time"

	"github.com/fleeteye/internal/config"
	"github.com/fleeteye/internal/models"
)

// ShouldNotify decides whether a reminder is due for an already-active
// alert. Escalation and resolve notifications bypass this entirely; they
// are state changes, not reminders, and are always attempted.
func ShouldNotify(state *models.AlertState, cooldowns config.Cooldowns, now time.Time) bool {
	if state.LastNotifiedAt == nil {
		return true
	}
	return now.Sub(*state.LastNotifiedAt) >= cooldowns.ForSeverity(state.CurrentSeverity)
}
