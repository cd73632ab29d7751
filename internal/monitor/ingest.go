package monitor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fleeteye/internal/alert"
	"github.com/fleeteye/internal/config"
	"github.com/fleeteye/internal/logger"
	"github.com/fleeteye/internal/metrics"
	"github.com/fleeteye/internal/models"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// ErrUnknownServer is returned for heartbeats from unregistered servers.
var ErrUnknownServer = errors.New("unknown server")

// Heartbeat is one incoming sample from an agent.
type Heartbeat struct {
	ServerID      string    `json:"server_id" binding:"required"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	DiskPercent   float64   `json:"disk_percent"`
	Timestamp     time.Time `json:"timestamp"`
}

// Ingestor turns heartbeats into persisted samples and engine evaluations.
// Conditions of one server evaluate concurrently; the per-key locks in
// the lifecycle manager serialize anything that matters.
type Ingestor struct {
	db       *gorm.DB
	manager  *alert.Manager
	provider *config.Provider
	log      zerolog.Logger
}

func NewIngestor(db *gorm.DB, manager *alert.Manager, provider *config.Provider) *Ingestor {
	return &Ingestor{
		db:       db,
		manager:  manager,
		provider: provider,
		log:      logger.WithComponent("ingest"),
	}
}

// Ingest records the sample and runs one evaluation per monitored
// condition, plus the instant offline clear. Evaluation failures are
// contained per condition; only persistence of the sample itself is
// surfaced to the transport.
func (in *Ingestor) Ingest(hb Heartbeat) error {
	if hb.Timestamp.IsZero() {
		hb.Timestamp = time.Now()
	}

	var server models.Server
	if err := in.db.First(&server, "server_id = ?", hb.ServerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			metrics.HeartbeatsTotal.WithLabelValues("rejected").Inc()
			return ErrUnknownServer
		}
		metrics.HeartbeatsTotal.WithLabelValues("rejected").Inc()
		return fmt.Errorf("failed to look up server %s: %w", hb.ServerID, err)
	}

	sample := models.MetricSample{
		ServerID:      hb.ServerID,
		Timestamp:     hb.Timestamp,
		CPUPercent:    hb.CPUPercent,
		MemoryPercent: hb.MemoryPercent,
		DiskPercent:   hb.DiskPercent,
	}
	if err := in.db.Create(&sample).Error; err != nil {
		metrics.HeartbeatsTotal.WithLabelValues("rejected").Inc()
		return fmt.Errorf("failed to persist sample: %w", err)
	}

	now := hb.Timestamp
	if err := in.db.Model(&server).Update("last_seen", now).Error; err != nil {
		in.log.Error().Err(err).Str("server_id", hb.ServerID).Msg("failed to update last_seen")
	}

	snap := in.provider.Current()

	var wg sync.WaitGroup
	for _, cond := range models.NumericConditions {
		cond := cond
		wg.Add(1)
		go func() {
			defer wg.Done()
			severity := alert.Evaluate(cond, sample.ConditionValue(cond), snap.Thresholds[cond])
			if _, err := in.manager.ProcessWith(snap, hb.ServerID, cond, severity, sample.ConditionValue(cond), now); err != nil {
				in.log.Error().Err(err).
					Str("server_id", hb.ServerID).
					Str("condition", string(cond)).
					Msg("evaluation failed")
			}
		}()
	}

	// Any heartbeat clears offline immediately, bypassing debounce. The
	// clear carries server receive time, not the agent's clock: the sweep
	// stamps breaches in server time, and an agent clock running behind
	// must not make its own recovery heartbeat look stale.
	receivedAt := time.Now()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := in.manager.ProcessWith(snap, hb.ServerID, models.ConditionOffline, models.SeverityNone, 0, receivedAt); err != nil {
			in.log.Error().Err(err).Str("server_id", hb.ServerID).Msg("offline clear failed")
		}
	}()
	wg.Wait()

	metrics.HeartbeatsTotal.WithLabelValues("accepted").Inc()
	return nil
}
