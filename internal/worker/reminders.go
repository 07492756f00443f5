package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eventems/backend/internal/models"
)

const reminderBatch = 200

// ReminderStore finds and claims tickets due a reminder. *tickets.Repository implements it.
type ReminderStore interface {
	ListDueReminders(ctx context.Context, from, to time.Time, limit int) ([]models.Ticket, error)
	ClaimReminder(ctx context.Context, id string, at time.Time) (bool, error)
}

// ReminderNotifier queues the reminder SMS. *notifications.Dispatcher implements it.
type ReminderNotifier interface {
	EventReminder(ctx context.Context, t *models.Ticket) error
}

// ReminderSweeper periodically reminds holders of unredeemed tickets about upcoming events.
// A ticket is claimed before its SMS is queued, so concurrent sweeps remind it once.
type ReminderSweeper struct {
	store     ReminderStore
	notifier  ReminderNotifier
	interval  time.Duration
	lookahead time.Duration
	loc       *time.Location
	logger    *zap.Logger
	now       func() time.Time
}

// NewReminderSweeper creates a sweeper. Events dated from today up to lookahead ahead are in scope.
func NewReminderSweeper(store ReminderStore, notifier ReminderNotifier, interval, lookahead time.Duration, loc *time.Location, logger *zap.Logger) *ReminderSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &ReminderSweeper{
		store:     store,
		notifier:  notifier,
		interval:  interval,
		lookahead: lookahead,
		loc:       loc,
		logger:    logger,
		now:       time.Now,
	}
}

// calendarDay returns t's date in loc as midnight UTC, matching how event dates are stored.
func calendarDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// Sweep queues reminders for one batch and returns how many were queued.
func (s *ReminderSweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	from := calendarDay(now, s.loc)
	to := calendarDay(now.Add(s.lookahead), s.loc)

	due, err := s.store.ListDueReminders(ctx, from, to, reminderBatch)
	if err != nil {
		return 0, err
	}
	sent := 0
	for i := range due {
		t := &due[i]
		claimed, err := s.store.ClaimReminder(ctx, t.ID, now)
		if err != nil {
			s.logger.Warn("claim reminder failed", zap.String("ticket_id", t.ID), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}
		if err := s.notifier.EventReminder(ctx, t); err != nil {
			s.logger.Warn("reminder not queued", zap.String("ticket_id", t.ID), zap.Error(err))
			continue
		}
		sent++
	}
	if sent > 0 {
		s.logger.Info("event reminders queued", zap.Int("count", sent))
	}
	return sent, nil
}

// Run sweeps on every interval until ctx is cancelled.
func (s *ReminderSweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("reminder sweep disabled")
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("reminder sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("reminder sweep stopping")
			return
		case <-ticker.C:
		}
	}
}
