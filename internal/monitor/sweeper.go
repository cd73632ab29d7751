package monitor

import (
	"fmt"
	"time"

	"github.com/fleeteye/internal/alert"
	"github.com/fleeteye/internal/config"
	"github.com/fleeteye/internal/logger"
	"github.com/fleeteye/internal/metrics"
	"github.com/fleeteye/internal/models"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Sweeper detects offline servers by absence of heartbeats. It runs on a
// scheduler tick independent of sample processing; the lifecycle manager's
// per-key locks make a sweep racing a heartbeat arriving mid-sweep safe.
// Only the breach side lives here — clearing happens instantly in the
// ingest path when any heartbeat arrives.
type Sweeper struct {
	db       *gorm.DB
	manager  *alert.Manager
	provider *config.Provider
	cron     *cron.Cron
	log      zerolog.Logger
}

func NewSweeper(db *gorm.DB, manager *alert.Manager, provider *config.Provider) *Sweeper {
	return &Sweeper{
		db:       db,
		manager:  manager,
		provider: provider,
		cron:     cron.New(),
		log:      logger.WithComponent("sweeper"),
	}
}

// Start schedules the sweep at the given interval.
func (s *Sweeper) Start(interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %ds", int(interval.Seconds())), func() {
		s.Sweep(time.Now())
	})
	if err != nil {
		return fmt.Errorf("failed to schedule offline sweep: %w", err)
	}
	s.cron.Start()
	s.log.Info().Dur("interval", interval).Msg("offline sweep started")
	return nil
}

// Stop halts the schedule, waiting for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Sweep evaluates every enabled server's reachability at now. A failure
// for one server never blocks the rest of the fleet.
func (s *Sweeper) Sweep(now time.Time) {
	metrics.SweepRunsTotal.Inc()
	snap := s.provider.Current()

	var servers []models.Server
	if err := s.db.Where("enabled = ?", true).Find(&servers).Error; err != nil {
		s.log.Error().Err(err).Msg("failed to list servers for sweep")
		return
	}

	for _, srv := range servers {
		interval := time.Duration(srv.HeartbeatInterval) * time.Second
		severity := alert.EvaluateOffline(srv.LastSeen, interval, snap.OfflineMultiple, now)
		if severity == models.SeverityNone {
			continue
		}
		if _, err := s.manager.ProcessWith(snap, srv.ServerID, models.ConditionOffline, severity, 0, now); err != nil {
			s.log.Error().Err(err).Str("server_id", srv.ServerID).Msg("offline evaluation failed")
		}
	}
}
