// Package worker runs background jobs: SMS delivery from the queue and the event reminder sweep.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eventems/backend/internal/models"
	"github.com/eventems/backend/internal/notify"
	"github.com/eventems/backend/pkg/queue"
)

// JobQueue is the part of *queue.Queue the processor needs.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) (dead bool, err error)
}

// DeliveryLog records the outcome of each SMS. *notifications.Repository implements it.
type DeliveryLog interface {
	MarkSent(ctx context.Context, id uuid.UUID, providerID string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// DeliveryRecorder counts final delivery outcomes. *metrics.Monitor implements it.
type DeliveryRecorder interface {
	TrackNotification(kind, status string)
}

// errPermanent marks jobs that cannot succeed on retry.
var errPermanent = errors.New("permanent job failure")

// SMSProcessor delivers queued SMS and records the outcome on the notification log.
type SMSProcessor struct {
	queue    JobQueue
	sender   notify.Sender
	logs     DeliveryLog
	recorder DeliveryRecorder
	logger   *zap.Logger
	backoff  time.Duration
	now      func() time.Time
}

// NewSMSProcessor creates an SMS processor. recorder may be nil.
func NewSMSProcessor(q JobQueue, sender notify.Sender, logs DeliveryLog, recorder DeliveryRecorder, logger *zap.Logger) *SMSProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMSProcessor{
		queue:    q,
		sender:   sender,
		logs:     logs,
		recorder: recorder,
		logger:   logger,
		backoff:  queue.RetryBackoff,
		now:      time.Now,
	}
}

func decodeSMS(job *queue.Job) (queue.SMSPayload, error) {
	var payload queue.SMSPayload
	if job.Type != queue.JobTypeSMS {
		return payload, fmt.Errorf("%w: unknown job type %s", errPermanent, job.Type)
	}
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return payload, fmt.Errorf("%w: unmarshal payload: %v", errPermanent, err)
	}
	if payload.To == "" {
		return payload, fmt.Errorf("%w: no recipient", errPermanent)
	}
	return payload, nil
}

// Process sends one SMS job and marks its log sent.
func (p *SMSProcessor) Process(ctx context.Context, job *queue.Job) error {
	payload, err := decodeSMS(job)
	if err != nil {
		return err
	}
	providerID, err := p.sender.Send(ctx, payload.To, payload.Body)
	if err != nil {
		if errors.Is(err, notify.ErrNotConfigured) {
			return fmt.Errorf("%w: %v", errPermanent, err)
		}
		return fmt.Errorf("send: %w", err)
	}
	if err := p.logs.MarkSent(ctx, payload.LogID, providerID, p.now()); err != nil {
		// The SMS went out; retrying would send it twice.
		p.logger.Error("mark notification sent failed", zap.Error(err), zap.String("log_id", payload.LogID.String()))
	}
	p.track(payload.Kind, models.NotificationStatusSent)
	p.logger.Info("sms delivered",
		zap.String("job_id", job.ID),
		zap.String("kind", payload.Kind),
		zap.String("ticket_id", payload.TicketID))
	return nil
}

// handleFailure retries the job or, once it is dead or permanently broken, marks the log failed.
// It reports whether the caller should back off before the next job.
func (p *SMSProcessor) handleFailure(ctx context.Context, job *queue.Job, procErr error) bool {
	p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(procErr))
	if !errors.Is(procErr, errPermanent) {
		dead, err := p.queue.Retry(ctx, job)
		if err != nil {
			p.logger.Error("retry enqueue failed", zap.Error(err))
			return true
		}
		if !dead {
			return true
		}
	}
	var payload queue.SMSPayload
	if json.Unmarshal(job.Payload, &payload) == nil && payload.LogID != uuid.Nil {
		if err := p.logs.MarkFailed(ctx, payload.LogID, procErr.Error()); err != nil {
			p.logger.Error("mark notification failed", zap.Error(err), zap.String("log_id", payload.LogID.String()))
		}
	}
	p.track(payload.Kind, models.NotificationStatusFailed)
	return false
}

func (p *SMSProcessor) track(kind, status string) {
	if p.recorder != nil {
		p.recorder.TrackNotification(kind, status)
	}
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *SMSProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("sms worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			if p.handleFailure(ctx, job, err) {
				p.sleep(ctx)
			}
		}
	}
}

func (p *SMSProcessor) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.backoff):
	}
}
