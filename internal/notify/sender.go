// Package notify delivers SMS through Twilio.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

var ErrNotConfigured = errors.New("twilio credentials are not configured")

// Sender delivers one SMS and returns the provider's message id.
type Sender interface {
	Send(ctx context.Context, to, body string) (string, error)
}

// TwilioConfig holds Twilio credentials.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// Twilio sends SMS via the Twilio REST API.
type Twilio struct {
	client *twilio.RestClient
	from   string
	logger *zap.Logger
}

// NewTwilio creates a Twilio sender.
func NewTwilio(cfg TwilioConfig, logger *zap.Logger) (*Twilio, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.FromNumber == "" {
		return nil, ErrNotConfigured
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	logger.Info("Twilio sender ready", zap.String("from", cfg.FromNumber))
	return &Twilio{client: client, from: cfg.FromNumber, logger: logger}, nil
}

// Send creates a message. The Twilio client has no context support, so ctx is only
// checked before the call.
func (t *Twilio) Send(ctx context.Context, to, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(t.from)
	params.SetBody(body)

	resp, err := t.client.Api.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("twilio create message: %w", err)
	}
	sid, status := "", ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	if resp.Status != nil {
		status = *resp.Status
	}
	if strings.EqualFold(status, "failed") || strings.EqualFold(status, "undelivered") {
		return sid, fmt.Errorf("twilio message %s status %s", sid, status)
	}
	t.logger.Debug("sms sent", zap.String("sid", sid), zap.String("status", status))
	return sid, nil
}

// LogSender writes messages to the log instead of sending them. Used when Twilio is not configured.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send logs the message and returns a synthetic id.
func (s *LogSender) Send(ctx context.Context, to, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := "log-" + uuid.NewString()
	s.logger.Info("sms (not sent, twilio disabled)", zap.String("to", to), zap.String("body", body), zap.String("id", id))
	return id, nil
}
