package notify

import (
	"context"
	"time"

	"github.com/fleeteye/internal/logger"
	"github.com/fleeteye/internal/metrics"
	"github.com/fleeteye/internal/models"
	"golang.org/x/sync/semaphore"
)

// Kind tells the channel why it is being invoked.
type Kind string

const (
	KindNew       Kind = "new"
	KindReminder  Kind = "reminder"
	KindEscalated Kind = "escalated"
	KindResolved  Kind = "resolved"
)

// Intent is the engine's decision to notify, handed off to channels.
// Delivery, formatting, and retries belong to the channel implementations;
// the engine only decides whether and what.
type Intent struct {
	AlertID     string
	ServerID    string
	ServerName  string
	Condition   models.Condition
	Severity    models.Severity
	Kind        Kind
	Value       float64
	Threshold   float64
	TriggeredAt time.Time
	ResolvedAt  *time.Time
	Message     string
}

// Notifier delivers one intent over one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, intent Intent) error
}

const (
	maxConcurrentDeliveries = 10
	deliveryTimeout         = 30 * time.Second
)

// Dispatcher fans intents out to all configured channels asynchronously.
// Dispatch never blocks the caller: a slow or unreachable channel must
// never delay alert-state persistence for subsequent heartbeats.
type Dispatcher struct {
	channels []Notifier
	sem      *semaphore.Weighted
}

func NewDispatcher(channels ...Notifier) *Dispatcher {
	return &Dispatcher{
		channels: channels,
		sem:      semaphore.NewWeighted(maxConcurrentDeliveries),
	}
}

// Dispatch hands the intent to every channel in the background. Failures
// are logged and counted; they never propagate to the evaluation cycle.
func (d *Dispatcher) Dispatch(intent Intent) {
	log := logger.WithComponent("notify")
	for _, ch := range d.channels {
		ch := ch
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
			defer cancel()

			if err := d.sem.Acquire(ctx, 1); err != nil {
				metrics.NotificationsTotal.WithLabelValues(string(intent.Kind), ch.Name(), "failed").Inc()
				log.Error().Err(err).Str("channel", ch.Name()).Msg("notification backlog full")
				return
			}
			defer d.sem.Release(1)

			if err := ch.Notify(ctx, intent); err != nil {
				metrics.NotificationsTotal.WithLabelValues(string(intent.Kind), ch.Name(), "failed").Inc()
				log.Error().Err(err).
					Str("channel", ch.Name()).
					Str("kind", string(intent.Kind)).
					Str("server_id", intent.ServerID).
					Str("condition", string(intent.Condition)).
					Msg("notification delivery failed")
				return
			}
			metrics.NotificationsTotal.WithLabelValues(string(intent.Kind), ch.Name(), "sent").Inc()
			log.Info().
				Str("channel", ch.Name()).
				Str("kind", string(intent.Kind)).
				Str("server_id", intent.ServerID).
				Str("condition", string(intent.Condition)).
				Str("severity", string(intent.Severity)).
				Msg("notification sent")
		}()
	}
}
