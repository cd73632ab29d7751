package alert

import (
	"errors"
	"fmt"
	"time"

	"github.com/fleeteye/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrAlertNotFound is returned for lookups of unknown alert IDs.
var ErrAlertNotFound = errors.New("alert not found")

// Store persists AlertState rows and Alert records. It is the single
// source of truth for dedup and cooldown decisions; all mutation goes
// through the lifecycle manager's serialized per-key path.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Transaction runs fn against a transactional store. The lifecycle
// manager wraps each state mutation plus its alert write in one
// transaction so a partial commit can never split them.
func (s *Store) Transaction(fn func(tx *Store) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// GetOrCreateState loads the state row for a key, creating it lazily on
// first use. The row persists indefinitely and is reused across
// breach/resolve cycles.
func (s *Store) GetOrCreateState(serverID string, condition models.Condition) (*models.AlertState, error) {
	var state models.AlertState
	err := s.db.Where(&models.AlertState{ServerID: serverID, Condition: condition}).
		Attrs(&models.AlertState{CurrentSeverity: models.SeverityNone}).
		FirstOrCreate(&state).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load alert state %s/%s: %w", serverID, condition, err)
	}
	return &state, nil
}

// SaveState persists a mutated state row.
func (s *Store) SaveState(state *models.AlertState) error {
	if err := s.db.Save(state).Error; err != nil {
		return fmt.Errorf("failed to save alert state %s/%s: %w", state.ServerID, state.Condition, err)
	}
	return nil
}

// CreateAlert inserts a new open alert, assigning its public ID.
func (s *Store) CreateAlert(alert *models.Alert) error {
	if alert.PublicID == "" {
		alert.PublicID = uuid.NewString()
	}
	if err := s.db.Create(alert).Error; err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

// GetAlert loads an alert by primary key.
func (s *Store) GetAlert(id uint) (*models.Alert, error) {
	var alert models.Alert
	if err := s.db.First(&alert, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to load alert %d: %w", id, err)
	}
	return &alert, nil
}

// GetAlertByPublicID loads an alert by its externally visible UUID.
func (s *Store) GetAlertByPublicID(publicID string) (*models.Alert, error) {
	var alert models.Alert
	if err := s.db.First(&alert, "public_id = ?", publicID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to load alert %s: %w", publicID, err)
	}
	return &alert, nil
}

// CloseAlert marks an open alert resolved.
func (s *Store) CloseAlert(alert *models.Alert, at time.Time, auto bool, by string) error {
	alert.ResolvedAt = &at
	alert.AutoResolved = auto
	alert.ResolvedBy = by
	if err := s.db.Save(alert).Error; err != nil {
		return fmt.Errorf("failed to close alert %s: %w", alert.PublicID, err)
	}
	return nil
}

// Acknowledge marks an open alert acknowledged by an operator. The
// lifecycle manager will not stack a second alert on an acknowledged
// one, and suppresses reminders while it stays acknowledged.
func (s *Store) Acknowledge(publicID, userID string, at time.Time) (*models.Alert, error) {
	alert, err := s.GetAlertByPublicID(publicID)
	if err != nil {
		return nil, err
	}
	alert.Acknowledged = true
	alert.AcknowledgedBy = userID
	alert.AcknowledgedAt = &at
	if err := s.db.Save(alert).Error; err != nil {
		return nil, fmt.Errorf("failed to acknowledge alert %s: %w", publicID, err)
	}
	return alert, nil
}

// Resolve closes an alert manually. The state row is reconciled on the
// key's next evaluation, which treats the closed alert as severity none.
func (s *Store) Resolve(publicID, userID string, at time.Time) (*models.Alert, error) {
	alert, err := s.GetAlertByPublicID(publicID)
	if err != nil {
		return nil, err
	}
	if alert.ResolvedAt != nil {
		return alert, nil
	}
	if err := s.CloseAlert(alert, at, false, userID); err != nil {
		return nil, err
	}
	return alert, nil
}

// AlertFilter narrows ListAlerts results.
type AlertFilter struct {
	ServerID  string
	Condition models.Condition
	OpenOnly  bool
	Limit     int
}

// ListAlerts returns alerts newest first.
func (s *Store) ListAlerts(f AlertFilter) ([]models.Alert, error) {
	query := s.db.Model(&models.Alert{})
	if f.ServerID != "" {
		query = query.Where("server_id = ?", f.ServerID)
	}
	if f.Condition != "" {
		query = query.Where("condition = ?", f.Condition)
	}
	if f.OpenOnly {
		query = query.Where("resolved_at IS NULL")
	}
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}

	var alerts []models.Alert
	if err := query.Order("triggered_at desc").Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, nil
}

// OpenAlertCount counts unresolved alerts for a key. Used by tests to
// verify the dedup invariant.
func (s *Store) OpenAlertCount(serverID string, condition models.Condition) (int64, error) {
	var n int64
	err := s.db.Model(&models.Alert{}).
		Where("server_id = ? AND condition = ? AND resolved_at IS NULL", serverID, condition).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count open alerts: %w", err)
	}
	return n, nil
}
