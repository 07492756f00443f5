// Package metrics exposes Prometheus counters for ticket sales, door scans and SMS delivery.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/eventems/backend/pkg/queue"
)

// DefaultInterval is how often queue lengths are sampled.
const DefaultInterval = 30 * time.Second

var (
	ticketsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickets_issued_total",
			Help: "Ticket issue attempts by outcome",
		},
		[]string{"outcome"},
	)

	redemptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_redemptions_total",
			Help: "Door scans by redemption status",
		},
		[]string{"status"},
	)

	notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sms_notifications_total",
			Help: "SMS deliveries by kind and final status",
		},
		[]string{"kind", "status"},
	)

	queueLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sms_queue_length",
			Help: "Current length of the SMS job queues",
		},
		[]string{"queue"},
	)

	feedWatchers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "checkin_feed_watchers",
			Help: "Connected check-in feed clients per event on this instance",
		},
		[]string{"event_id"},
	)
)

// Monitor records domain metrics and samples queue depth from Redis.
type Monitor struct {
	redis    redis.Cmdable
	logger   *zap.Logger
	interval time.Duration
}

// NewMonitor creates a monitor. rdb may be nil, in which case queue depth is not sampled.
func NewMonitor(rdb redis.Cmdable, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{redis: rdb, logger: logger, interval: DefaultInterval}
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Run samples queue lengths until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	if m.redis == nil {
		return
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.collectQueueMetrics(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collectQueueMetrics(ctx)
		}
	}
}

func (m *Monitor) collectQueueMetrics(ctx context.Context) {
	for _, key := range []string{queue.QueueSMS, queue.QueueDLQ} {
		n, err := m.redis.LLen(ctx, key).Result()
		if err != nil {
			m.logger.Debug("queue length sample failed", zap.String("queue", key), zap.Error(err))
			continue
		}
		queueLength.WithLabelValues(key).Set(float64(n))
	}
}

// TrackIssue counts a ticket issue attempt.
func (m *Monitor) TrackIssue(outcome string) {
	ticketsIssued.WithLabelValues(outcome).Inc()
}

// TrackRedemption counts a door scan.
func (m *Monitor) TrackRedemption(status string) {
	redemptions.WithLabelValues(status).Inc()
}

// TrackNotification counts an SMS that reached a final state.
func (m *Monitor) TrackNotification(kind, status string) {
	notifications.WithLabelValues(kind, status).Inc()
}

// SetWatchers records the feed client count for an event. Zero drops the series.
func (m *Monitor) SetWatchers(eventID uuid.UUID, count int) {
	if count <= 0 {
		feedWatchers.DeleteLabelValues(eventID.String())
		return
	}
	feedWatchers.WithLabelValues(eventID.String()).Set(float64(count))
}
