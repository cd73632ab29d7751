package alert

import (
	"testing"
	"time"

	"github.com/fleeteye/internal/config"
	"github.com/fleeteye/internal/models"
)

func TestShouldNotifyNeverNotified(t *testing.T) {
	state := &models.AlertState{CurrentSeverity: models.SeverityHigh}
	if !ShouldNotify(state, testCooldowns(), time.Now()) {
		t.Error("expected true when last_notified_at is nil")
	}
}

func TestShouldNotifyCooldownBoundary(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cooldowns := testCooldowns()

	tests := []struct {
		name     string
		severity models.Severity
		elapsed  time.Duration
		want     bool
	}{
		{"critical just inside", models.SeverityCritical, 30*time.Minute - time.Second, false},
		{"critical at boundary", models.SeverityCritical, 30 * time.Minute, true},
		{"critical past boundary", models.SeverityCritical, time.Hour, true},
		{"high just inside", models.SeverityHigh, 240*time.Minute - time.Second, false},
		{"high at boundary", models.SeverityHigh, 240 * time.Minute, true},
		{"high past boundary", models.SeverityHigh, 5 * time.Hour, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &models.AlertState{
				CurrentSeverity: tt.severity,
				LastNotifiedAt:  &base,
			}
			got := ShouldNotify(state, cooldowns, base.Add(tt.elapsed))
			if got != tt.want {
				t.Errorf("ShouldNotify after %v at %v = %v, want %v", tt.elapsed, tt.severity, got, tt.want)
			}
		})
	}
}

func testCooldowns() config.Cooldowns {
	return config.Cooldowns{
		Critical: 30 * time.Minute,
		High:     240 * time.Minute,
	}
}
