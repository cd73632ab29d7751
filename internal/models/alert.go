package models

import (
	"time"

	"gorm.io/gorm"
)

// Condition is a monitored category evaluated independently per server.
type Condition string

const (
	ConditionCPU     Condition = "cpu"
	ConditionMemory  Condition = "memory"
	ConditionDisk    Condition = "disk"
	ConditionOffline Condition = "offline"
)

// NumericConditions are the conditions carried by heartbeat samples.
// Offline is sweep-driven and has no sample value.
var NumericConditions = []Condition{ConditionCPU, ConditionMemory, ConditionDisk}

type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for escalation comparison.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 1
	case SeverityCritical:
		return 2
	default:
		return 0
	}
}

// Alert is an immutable-after-creation incident record. It is closed by
// setting ResolvedAt, either automatically when the condition clears or
// by an operator through the API; it is never reopened.
type Alert struct {
	gorm.Model
	PublicID       string     `json:"id" gorm:"uniqueIndex;size:36"`
	ServerID       string     `json:"server_id" gorm:"index;size:36"`
	Condition      Condition  `json:"condition" gorm:"size:16"`
	Severity       Severity   `json:"severity" gorm:"size:16"`
	Value          float64    `json:"value"`
	Threshold      float64    `json:"threshold"`
	Message        string     `json:"message"`
	TriggeredAt    time.Time  `json:"triggered_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	AutoResolved   bool       `json:"auto_resolved"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`
}

// Open reports whether the alert has not been resolved yet.
func (a *Alert) Open() bool {
	return a.ResolvedAt == nil
}

// AlertState is the per-(server, condition) state machine row. It is
// created lazily on the first evaluation for a key and reused across
// breach/resolve cycles; ActiveAlertID is set only while an alert is open.
type AlertState struct {
	gorm.Model
	ServerID            string     `json:"server_id" gorm:"uniqueIndex:idx_alert_state_key;size:36"`
	Condition           Condition  `json:"condition" gorm:"uniqueIndex:idx_alert_state_key;size:16"`
	CurrentSeverity     Severity   `json:"current_severity" gorm:"size:16;default:none"`
	BreachStartedAt     *time.Time `json:"breach_started_at,omitempty"`
	ActiveAlertID       *uint      `json:"active_alert_id,omitempty"`
	ConsecutiveBreaches int        `json:"consecutive_breaches" gorm:"default:0"`
	LastNotifiedAt      *time.Time `json:"last_notified_at,omitempty"`
	LastSampleAt        *time.Time `json:"last_sample_at,omitempty"`
	ResolvedAt          *time.Time `json:"resolved_at,omitempty"`
}

// Breaching reports whether the row is tracking an uninterrupted breach,
// pending or active.
func (s *AlertState) Breaching() bool {
	return s.CurrentSeverity != SeverityNone && s.CurrentSeverity != ""
}

// Active reports whether an open alert is attached to this state row.
func (s *AlertState) Active() bool {
	return s.ActiveAlertID != nil
}
