package alert

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fleeteye/internal/config"
	"github.com/fleeteye/internal/logger"
	"github.com/fleeteye/internal/metrics"
	"github.com/fleeteye/internal/models"
	"github.com/fleeteye/internal/notify"
	"github.com/rs/zerolog"
)

// Phase is the engine-visible position in the per-key state machine.
type Phase string

const (
	PhaseClear   Phase = "clear"
	PhasePending Phase = "pending"
	PhaseActive  Phase = "active"
)

// Outcome reports what one evaluation cycle did, mostly for tests and
// callers that surface engine activity.
type Outcome struct {
	Phase  Phase
	Alert  *models.Alert  // created or resolved this cycle, if any
	Intent *notify.Intent // dispatched this cycle, if any
	Stale  bool           // sample dropped by the timestamp-ordering rule
}

// IntentSink receives notification decisions. Dispatch must not block.
type IntentSink interface {
	Dispatch(notify.Intent)
}

// NameResolver maps a server ID to its display name for notifications.
type NameResolver func(serverID string) string

// Manager orchestrates one evaluation cycle per incoming sample: it reads
// the prior state for the (server, condition) key, applies the
// debounce/dedup/auto-resolve rules, persists the new state, and hands
// zero or one notification intent to the dispatcher. All mutation for a
// key runs under that key's lock, so concurrent or rapid-fire heartbeats
// cannot create duplicate alerts. State is persisted before any intent is
// dispatched; a storage failure means no notification that cycle and a
// safe re-evaluation on the next heartbeat.
type Manager struct {
	store      *Store
	provider   *config.Provider
	dispatcher IntentSink
	resolve    NameResolver
	log        zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(store *Store, provider *config.Provider, dispatcher IntentSink, resolve NameResolver) *Manager {
	if resolve == nil {
		resolve = func(serverID string) string { return serverID }
	}
	return &Manager{
		store:      store,
		provider:   provider,
		dispatcher: dispatcher,
		resolve:    resolve,
		log:        logger.WithComponent("lifecycle"),
		locks:      make(map[string]*sync.Mutex),
	}
}

// keyLock returns the mutex serializing one (server, condition) key.
// Locks are never removed; the key space is bounded by fleet size.
func (m *Manager) keyLock(serverID string, condition models.Condition) *sync.Mutex {
	key := serverID + "/" + string(condition)
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	return lock
}

// Process runs one evaluation cycle for a key. severityNow is the
// evaluator's classification of the triggering sample (or of the offline
// sweep); value is the raw reading for notification context, zero for
// offline. The configuration snapshot is captured once at entry and used
// for the whole decision.
func (m *Manager) Process(serverID string, condition models.Condition, severityNow models.Severity, value float64, ts time.Time) (Outcome, error) {
	return m.ProcessWith(m.provider.Current(), serverID, condition, severityNow, value, ts)
}

// ProcessWith runs one evaluation cycle under an explicit configuration
// snapshot. Callers that classify severity themselves must pass the
// snapshot they classified under, so a hot reload landing mid-cycle
// cannot apply two configuration versions to one decision.
func (m *Manager) ProcessWith(snap *config.Snapshot, serverID string, condition models.Condition, severityNow models.Severity, value float64, ts time.Time) (Outcome, error) {
	start := time.Now()
	defer func() {
		metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	}()
	metrics.EvaluationsTotal.WithLabelValues(string(condition), string(severityNow)).Inc()

	lock := m.keyLock(serverID, condition)
	lock.Lock()
	defer lock.Unlock()

	var outcome Outcome
	err := m.store.Transaction(func(tx *Store) error {
		var err error
		outcome, err = m.step(tx, snap, serverID, condition, severityNow, value, ts)
		return err
	})
	if err != nil {
		// No intent was dispatched for this cycle; the next heartbeat
		// re-evaluates from the last durably committed state.
		return Outcome{}, fmt.Errorf("evaluation cycle failed for %s/%s: %w", serverID, condition, err)
	}

	if outcome.Intent != nil {
		m.dispatcher.Dispatch(*outcome.Intent)
	}
	return outcome, nil
}

// step applies the state machine inside a transaction. It returns the
// intent to dispatch after commit rather than dispatching itself, so
// persistence always precedes notification.
func (m *Manager) step(tx *Store, snap *config.Snapshot, serverID string, condition models.Condition, severityNow models.Severity, value float64, ts time.Time) (Outcome, error) {
	state, err := tx.GetOrCreateState(serverID, condition)
	if err != nil {
		return Outcome{}, err
	}

	if m.isStale(state, ts) {
		m.log.Debug().
			Str("server_id", serverID).
			Str("condition", string(condition)).
			Time("timestamp", ts).
			Msg("dropping out-of-order sample")
		return Outcome{Phase: m.phase(state), Stale: true}, nil
	}

	// Reconcile external actions on the attached alert before applying
	// the sample: a manually resolved alert means the key is clear, and
	// an acknowledged alert must not be stacked or reminded about.
	if state.Active() {
		active, err := tx.GetAlert(*state.ActiveAlertID)
		switch {
		case errors.Is(err, ErrAlertNotFound):
			m.resetToClear(state, ts)
		case err != nil:
			return Outcome{}, err
		case !active.Open():
			m.resetToClear(state, *active.ResolvedAt)
		case active.Acknowledged && severityNow != models.SeverityNone:
			state.LastSampleAt = &ts
			if severityNow.Rank() > state.CurrentSeverity.Rank() {
				state.CurrentSeverity = severityNow
			}
			if err := tx.SaveState(state); err != nil {
				return Outcome{}, err
			}
			return Outcome{Phase: PhaseActive}, nil
		default:
			return m.stepActive(tx, snap, state, active, severityNow, value, ts)
		}
	}

	if state.Breaching() {
		return m.stepPending(tx, snap, state, severityNow, value, ts)
	}
	return m.stepClear(tx, snap, state, severityNow, value, ts)
}

func (m *Manager) stepClear(tx *Store, snap *config.Snapshot, state *models.AlertState, severityNow models.Severity, value float64, ts time.Time) (Outcome, error) {
	state.LastSampleAt = &ts

	if severityNow == models.SeverityNone {
		if err := tx.SaveState(state); err != nil {
			return Outcome{}, err
		}
		return Outcome{Phase: PhaseClear}, nil
	}

	thresholds := snap.Thresholds[state.Condition]
	state.CurrentSeverity = severityNow
	state.BreachStartedAt = &ts

	if thresholds.Sustained == 0 {
		return m.fire(tx, snap, state, severityNow, value, ts)
	}

	if err := tx.SaveState(state); err != nil {
		return Outcome{}, err
	}
	return Outcome{Phase: PhasePending}, nil
}

func (m *Manager) stepPending(tx *Store, snap *config.Snapshot, state *models.AlertState, severityNow models.Severity, value float64, ts time.Time) (Outcome, error) {
	state.LastSampleAt = &ts

	if severityNow == models.SeverityNone {
		// Timer reset: the full debounce restarts on the next breach.
		state.CurrentSeverity = models.SeverityNone
		state.BreachStartedAt = nil
		if err := tx.SaveState(state); err != nil {
			return Outcome{}, err
		}
		return Outcome{Phase: PhaseClear}, nil
	}

	// Escalation while pending raises the tracked severity but preserves
	// the original breach start; the debounce clock keeps running.
	if severityNow.Rank() > state.CurrentSeverity.Rank() {
		state.CurrentSeverity = severityNow
	}

	thresholds := snap.Thresholds[state.Condition]
	if state.BreachStartedAt == nil || ts.Sub(*state.BreachStartedAt) >= thresholds.Sustained {
		return m.fire(tx, snap, state, state.CurrentSeverity, value, ts)
	}

	if err := tx.SaveState(state); err != nil {
		return Outcome{}, err
	}
	return Outcome{Phase: PhasePending}, nil
}

func (m *Manager) stepActive(tx *Store, snap *config.Snapshot, state *models.AlertState, active *models.Alert, severityNow models.Severity, value float64, ts time.Time) (Outcome, error) {
	state.LastSampleAt = &ts

	if severityNow == models.SeverityNone {
		return m.autoResolve(tx, snap, state, active, ts)
	}

	if severityNow.Rank() > state.CurrentSeverity.Rank() {
		// Escalation bypasses the cooldown and restarts it.
		state.CurrentSeverity = severityNow
		state.LastNotifiedAt = &ts
		if err := tx.SaveState(state); err != nil {
			return Outcome{}, err
		}
		intent := m.intentFor(snap, state, active, notify.KindEscalated, value, ts)
		return Outcome{Phase: PhaseActive, Intent: &intent}, nil
	}

	if severityNow.Rank() < state.CurrentSeverity.Rank() {
		// Partial recovery while still breaching: track the lower
		// severity for cooldown selection, no notification.
		state.CurrentSeverity = severityNow
		if err := tx.SaveState(state); err != nil {
			return Outcome{}, err
		}
		return Outcome{Phase: PhaseActive}, nil
	}

	if ShouldNotify(state, snap.Cooldowns, ts) {
		state.LastNotifiedAt = &ts
		if err := tx.SaveState(state); err != nil {
			return Outcome{}, err
		}
		intent := m.intentFor(snap, state, active, notify.KindReminder, value, ts)
		return Outcome{Phase: PhaseActive, Intent: &intent}, nil
	}

	if err := tx.SaveState(state); err != nil {
		return Outcome{}, err
	}
	return Outcome{Phase: PhaseActive}, nil
}

// fire transitions a key into Active: it creates the alert row, attaches
// it to the state, and emits the "new" intent.
func (m *Manager) fire(tx *Store, snap *config.Snapshot, state *models.AlertState, severity models.Severity, value float64, ts time.Time) (Outcome, error) {
	thresholds := snap.Thresholds[state.Condition]

	triggeredAt := ts
	if state.BreachStartedAt != nil {
		triggeredAt = *state.BreachStartedAt
	}

	alert := &models.Alert{
		ServerID:    state.ServerID,
		Condition:   state.Condition,
		Severity:    severity,
		Value:       value,
		Threshold:   thresholdFor(thresholds, severity),
		Message:     m.alertMessage(state, severity, value, thresholds),
		TriggeredAt: triggeredAt,
	}
	if err := tx.CreateAlert(alert); err != nil {
		return Outcome{}, err
	}

	state.CurrentSeverity = severity
	state.ActiveAlertID = &alert.ID
	state.LastNotifiedAt = &ts
	state.ConsecutiveBreaches++
	if err := tx.SaveState(state); err != nil {
		return Outcome{}, err
	}

	metrics.AlertsOpenedTotal.WithLabelValues(string(state.Condition), string(severity)).Inc()
	m.log.Info().
		Str("server_id", state.ServerID).
		Str("condition", string(state.Condition)).
		Str("severity", string(severity)).
		Float64("value", value).
		Str("alert_id", alert.PublicID).
		Msg("alert opened")

	intent := m.intentFor(snap, state, alert, notify.KindNew, value, ts)
	return Outcome{Phase: PhaseActive, Alert: alert, Intent: &intent}, nil
}

// autoResolve closes the active alert because its condition cleared. For
// the offline condition this is the instant, debounce-free clearing path:
// any heartbeat lands here directly.
func (m *Manager) autoResolve(tx *Store, snap *config.Snapshot, state *models.AlertState, active *models.Alert, ts time.Time) (Outcome, error) {
	if err := tx.CloseAlert(active, ts, true, ""); err != nil {
		return Outcome{}, err
	}

	var intent *notify.Intent
	if snap.NotifyOnRemediation {
		i := m.intentFor(snap, state, active, notify.KindResolved, active.Value, ts)
		intent = &i
	}

	m.resetToClear(state, ts)
	if err := tx.SaveState(state); err != nil {
		return Outcome{}, err
	}

	metrics.AlertsResolvedTotal.WithLabelValues(string(state.Condition), "true").Inc()
	m.log.Info().
		Str("server_id", state.ServerID).
		Str("condition", string(state.Condition)).
		Str("alert_id", active.PublicID).
		Msg("alert auto-resolved")

	return Outcome{Phase: PhaseClear, Alert: active, Intent: intent}, nil
}

func (m *Manager) resetToClear(state *models.AlertState, at time.Time) {
	state.CurrentSeverity = models.SeverityNone
	state.BreachStartedAt = nil
	state.ActiveAlertID = nil
	state.ConsecutiveBreaches = 0
	state.ResolvedAt = &at
}

func (m *Manager) intentFor(snap *config.Snapshot, state *models.AlertState, alert *models.Alert, kind notify.Kind, value float64, ts time.Time) notify.Intent {
	thresholds := snap.Thresholds[state.Condition]
	return notify.Intent{
		AlertID:     alert.PublicID,
		ServerID:    state.ServerID,
		ServerName:  m.resolve(state.ServerID),
		Condition:   state.Condition,
		Severity:    state.CurrentSeverity,
		Kind:        kind,
		Value:       value,
		Threshold:   thresholdFor(thresholds, state.CurrentSeverity),
		TriggeredAt: alert.TriggeredAt,
		ResolvedAt:  alert.ResolvedAt,
		Message:     alert.Message,
	}
}

func (m *Manager) alertMessage(state *models.AlertState, severity models.Severity, value float64, t config.Thresholds) string {
	if state.Condition == models.ConditionOffline {
		return fmt.Sprintf("%s has stopped sending heartbeats", m.resolve(state.ServerID))
	}
	return fmt.Sprintf("%s %s at %.1f%% (threshold %.1f%%)",
		m.resolve(state.ServerID), state.Condition, value, thresholdFor(t, severity))
}

// isStale applies the timestamp-ordering rule: samples older than the
// recorded breach start or last resolution would corrupt the timers and
// are dropped.
func (m *Manager) isStale(state *models.AlertState, ts time.Time) bool {
	if state.BreachStartedAt != nil && ts.Before(*state.BreachStartedAt) {
		return true
	}
	if state.ResolvedAt != nil && ts.Before(*state.ResolvedAt) {
		return true
	}
	return false
}

func (m *Manager) phase(state *models.AlertState) Phase {
	switch {
	case state.Active():
		return PhaseActive
	case state.Breaching():
		return PhasePending
	default:
		return PhaseClear
	}
}

func thresholdFor(t config.Thresholds, severity models.Severity) float64 {
	if severity == models.SeverityCritical {
		return t.Critical
	}
	return t.High
}
