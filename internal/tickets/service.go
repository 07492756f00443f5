// Package tickets issues paid tickets and redeems them at the door.
package tickets

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eventems/backend/internal/access"
	"github.com/eventems/backend/internal/events"
	"github.com/eventems/backend/internal/models"
	"github.com/eventems/backend/internal/payments"
	"github.com/eventems/backend/internal/qrcode"
)

// maxIDAttempts bounds re-allocation after a ticket id collision.
const maxIDAttempts = 5

// Redemption statuses.
const (
	StatusValid           = "valid"
	StatusAlreadyRedeemed = "already_redeemed"
	StatusEventEnded      = "event_ended"
	StatusNotFound        = "not_found"
)

// Feed events published on the check-in channel.
const EventTicketRedeemed = "ticket_redeemed"

// Store persists tickets. *Repository implements it.
type Store interface {
	// Insert writes a complete ticket. It returns ErrDuplicateID or ErrDuplicatePayment
	// when a unique key is taken.
	Insert(ctx context.Context, t *models.Ticket) error
	GetByID(ctx context.Context, id string) (*models.Ticket, error)
	GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.Ticket, error)
	// MarkRedeemed flips redeemed false->true. ok is false when the ticket was already redeemed.
	MarkRedeemed(ctx context.Context, id string, at time.Time, by uuid.UUID) (t *models.Ticket, ok bool, err error)
	UpdateQR(ctx context.Context, id, qr string) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Ticket, error)
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Ticket, error)
	// DeleteUnredeemed removes the ticket unless it was redeemed. ok is false when it was.
	DeleteUnredeemed(ctx context.Context, id string) (ok bool, err error)
	Delete(ctx context.Context, id string) error
}

// EventReader loads events. *events.Repository implements it.
type EventReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
}

// PaymentAuthorizer reports the state of a payment. *payments.Stripe implements it.
type PaymentAuthorizer interface {
	Confirm(ctx context.Context, paymentIntentID string) (*payments.Intent, error)
}

// Notifier queues the holder's SMS. *notifications.Dispatcher implements it.
type Notifier interface {
	TicketIssued(ctx context.Context, t *models.Ticket) error
}

// Publisher pushes live check-in messages. *realtime.Hub implements it.
type Publisher interface {
	PublishToEvent(eventID uuid.UUID, event string, payload interface{})
}

// Recorder counts outcomes. *metrics.Monitor implements it.
type Recorder interface {
	TrackIssue(outcome string)
	TrackRedemption(status string)
}

// Options configures a Service.
type Options struct {
	PhoneRegion string
	Location    *time.Location
	Notifier    Notifier
	Publisher   Publisher
	Recorder    Recorder
	Logger      *zap.Logger
}

// Service implements ticket issuance and redemption.
type Service struct {
	store     Store
	events    EventReader
	payments  PaymentAuthorizer
	notifier  Notifier
	publisher Publisher
	recorder  Recorder
	region    string
	loc       *time.Location
	logger    *zap.Logger
	now       func() time.Time
	newID     func(eventID, userID uuid.UUID, now time.Time) string
}

// NewService creates a ticket service. payments may be nil, in which case only free
// events can be issued.
func NewService(store Store, eventsRepo EventReader, pay PaymentAuthorizer, opts Options) *Service {
	s := &Service{
		store:     store,
		events:    eventsRepo,
		payments:  pay,
		notifier:  opts.Notifier,
		publisher: opts.Publisher,
		recorder:  opts.Recorder,
		region:    opts.PhoneRegion,
		loc:       opts.Location,
		logger:    opts.Logger,
		now:       time.Now,
		newID:     NewTicketID,
	}
	if s.region == "" {
		s.region = "VN"
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// IssueRequest asks for a ticket to an event paid by PaymentIntentID.
type IssueRequest struct {
	PaymentIntentID string
	EventID         uuid.UUID
	UserID          uuid.UUID
	Buyer           Buyer
}

// IssueResult is an issued ticket. NotificationWarning is set when the SMS could not be
// queued; the ticket stands regardless. Replayed means the payment had already produced
// this ticket and nothing new was written.
type IssueResult struct {
	Ticket              *models.Ticket
	NotificationWarning string
	Replayed            bool
}

// Issue confirms payment and persists a complete ticket, QR included, in one write.
// Nothing is written unless the payment succeeded.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	res, err := s.issue(ctx, req)
	s.trackIssue(res, err)
	return res, err
}

func (s *Service) issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	buyer, err := req.Buyer.Normalize(s.region)
	if err != nil {
		return nil, err
	}
	if req.UserID == uuid.Nil {
		return nil, access.ErrUnauthenticated
	}

	e, err := s.events.GetByID(ctx, req.EventID)
	if err != nil {
		if errors.Is(err, events.ErrEventNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("load event: %w", err)
	}
	if !e.IsApproved {
		return nil, ErrEventNotApproved
	}

	paymentRef, price, err := s.confirmPayment(ctx, req, e)
	if err != nil {
		return nil, err
	}

	if existing, err := s.store.GetByPaymentIntent(ctx, paymentRef); err == nil {
		return s.replay(existing, req.UserID)
	} else if !errors.Is(err, ErrTicketNotFound) {
		return nil, fmt.Errorf("check payment replay: %w", err)
	}

	t := &models.Ticket{
		UserID:          req.UserID,
		EventID:         e.ID,
		PaymentIntentID: paymentRef,
		HolderName:      buyer.Name,
		HolderEmail:     buyer.Email,
		HolderPhone:     buyer.Phone,
		EventName:       e.Title,
		EventDate:       e.EventDate,
		EventTime:       e.EventTime,
		EventLocation:   e.Location,
		TicketPrice:     price,
	}

	for attempt := 1; ; attempt++ {
		t.ID = s.newID(e.ID, req.UserID, s.now())
		t.QR, err = qrcode.EncodeDataURL(payloadFor(t))
		if err != nil {
			return nil, fmt.Errorf("encode qr: %w", err)
		}
		err = s.store.Insert(ctx, t)
		if err == nil {
			break
		}
		switch {
		case errors.Is(err, ErrDuplicateID) && attempt < maxIDAttempts:
			s.logger.Warn("ticket id collision, reallocating", zap.String("ticket_id", t.ID), zap.Int("attempt", attempt))
			continue
		case errors.Is(err, ErrDuplicatePayment):
			existing, getErr := s.store.GetByPaymentIntent(ctx, paymentRef)
			if getErr != nil {
				return nil, fmt.Errorf("load ticket for replayed payment: %w", getErr)
			}
			return s.replay(existing, req.UserID)
		default:
			return nil, fmt.Errorf("insert ticket: %w", err)
		}
	}

	s.logger.Info("ticket issued",
		zap.String("ticket_id", t.ID),
		zap.String("event_id", t.EventID.String()),
		zap.String("user_id", t.UserID.String()))

	res := &IssueResult{Ticket: t}
	if s.notifier != nil {
		if err := s.notifier.TicketIssued(ctx, t); err != nil {
			s.logger.Warn("ticket notification not queued", zap.String("ticket_id", t.ID), zap.Error(err))
			res.NotificationWarning = "ticket issued but the SMS confirmation could not be sent"
		}
	}
	return res, nil
}

// confirmPayment returns the payment reference and the price to snapshot.
func (s *Service) confirmPayment(ctx context.Context, req IssueRequest, e *models.Event) (string, int64, error) {
	if e.TicketPrice == 0 {
		return freePaymentRef(e.ID, req.UserID), 0, nil
	}
	piID := strings.TrimSpace(req.PaymentIntentID)
	if piID == "" {
		return "", 0, &ValidationError{Field: "payment_intent_id", Reason: "required"}
	}
	if s.payments == nil {
		return "", 0, ErrPaymentUnavailable
	}
	intent, err := s.payments.Confirm(ctx, piID)
	if err != nil {
		if errors.Is(err, payments.ErrIntentNotFound) {
			return "", 0, ErrPaymentNotConfirmed
		}
		return "", 0, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}
	if !intent.Succeeded() {
		return "", 0, &PaymentStatusError{Status: intent.Status}
	}
	if v, ok := intent.Metadata[payments.MetaEventID]; ok && v != e.ID.String() {
		return "", 0, ErrPaymentMismatch
	}
	if v, ok := intent.Metadata[payments.MetaUserID]; ok && v != req.UserID.String() {
		return "", 0, ErrPaymentMismatch
	}
	price := e.TicketPrice
	if v, ok := intent.Metadata[payments.MetaAmountVND]; ok {
		if charged, err := strconv.ParseInt(v, 10, 64); err == nil {
			price = charged
		}
	}
	return piID, price, nil
}

func (s *Service) replay(existing *models.Ticket, userID uuid.UUID) (*IssueResult, error) {
	if existing.UserID != userID {
		return nil, ErrPaymentMismatch
	}
	return &IssueResult{Ticket: existing, Replayed: true}, nil
}

func (s *Service) trackIssue(res *IssueResult, err error) {
	if s.recorder == nil {
		return
	}
	var outcome string
	switch {
	case err == nil && res.Replayed:
		outcome = "replayed"
	case err == nil:
		outcome = "issued"
	case errors.Is(err, ErrPaymentNotConfirmed):
		outcome = "payment_not_confirmed"
	case errors.Is(err, ErrPaymentMismatch):
		outcome = "payment_mismatch"
	case errors.Is(err, ErrPaymentUnavailable):
		outcome = "payment_unavailable"
	default:
		var ve *ValidationError
		if errors.As(err, &ve) || errors.Is(err, ErrEventNotFound) || errors.Is(err, ErrEventNotApproved) {
			outcome = "rejected"
		} else {
			outcome = "error"
		}
	}
	s.recorder.TrackIssue(outcome)
}

func payloadFor(t *models.Ticket) qrcode.Payload {
	return qrcode.Payload{
		TicketID:   t.ID,
		EventID:    t.EventID.String(),
		HolderName: t.HolderName,
		EventName:  t.EventName,
	}
}

// TicketSummary is what door staff see after a scan.
type TicketSummary struct {
	TicketID      string    `json:"ticket_id"`
	EventID       uuid.UUID `json:"event_id"`
	EventName     string    `json:"event_name"`
	HolderName    string    `json:"holder_name"`
	EventDate     string    `json:"event_date"`
	EventTime     string    `json:"event_time"`
	EventLocation string    `json:"event_location"`
}

func summarize(t *models.Ticket) *TicketSummary {
	return &TicketSummary{
		TicketID:      t.ID,
		EventID:       t.EventID,
		EventName:     t.EventName,
		HolderName:    t.HolderName,
		EventDate:     t.EventDate.Format(models.DateLayout),
		EventTime:     t.EventTime,
		EventLocation: t.EventLocation,
	}
}

// RedemptionResult is the outcome of Redeem. RedeemedAt is set for valid and
// already_redeemed; for already_redeemed it is the original check-in time.
type RedemptionResult struct {
	Status     string         `json:"status"`
	TicketID   string         `json:"ticket_id,omitempty"`
	RedeemedAt *time.Time     `json:"redeemed_at,omitempty"`
	Ticket     *TicketSummary `json:"ticket,omitempty"`
}

// CheckIn is published on the live feed after a valid redemption.
type CheckIn struct {
	TicketID   string    `json:"ticket_id"`
	EventID    uuid.UUID `json:"event_id"`
	HolderName string    `json:"holder_name"`
	RedeemedAt time.Time `json:"redeemed_at"`
	RedeemedBy uuid.UUID `json:"redeemed_by"`
}

// Redeem checks a ticket in. identifier is a typed ticket id or scanned QR text.
// Errors are returned only for store failures and blank input; every other outcome
// is a RedemptionResult status.
func (s *Service) Redeem(ctx context.Context, identifier string, staffID uuid.UUID) (*RedemptionResult, error) {
	res, err := s.redeem(ctx, identifier, staffID)
	if err == nil && s.recorder != nil {
		s.recorder.TrackRedemption(res.Status)
	}
	return res, err
}

func (s *Service) redeem(ctx context.Context, identifier string, staffID uuid.UUID) (*RedemptionResult, error) {
	payload, ok := qrcode.Decode(identifier)
	if !ok {
		return nil, &ValidationError{Field: "identifier", Reason: "required"}
	}
	id := NormalizeID(payload.TicketID)

	t, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrTicketNotFound) {
			return &RedemptionResult{Status: StatusNotFound, TicketID: id}, nil
		}
		return nil, fmt.Errorf("load ticket: %w", err)
	}
	if t.Redeemed {
		return alreadyRedeemed(t), nil
	}
	if s.EventEnded(t.EventDate) {
		return &RedemptionResult{Status: StatusEventEnded, TicketID: t.ID, Ticket: summarize(t)}, nil
	}

	redeemed, ok, err := s.store.MarkRedeemed(ctx, t.ID, s.now(), staffID)
	if err != nil {
		return nil, fmt.Errorf("mark redeemed: %w", err)
	}
	if !ok {
		// Lost the race to another scanner; report the winner's timestamp.
		winner, err := s.store.GetByID(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("reload ticket: %w", err)
		}
		return alreadyRedeemed(winner), nil
	}

	s.logger.Info("ticket redeemed", zap.String("ticket_id", redeemed.ID), zap.String("staff_id", staffID.String()))
	if s.publisher != nil {
		s.publisher.PublishToEvent(redeemed.EventID, EventTicketRedeemed, CheckIn{
			TicketID:   redeemed.ID,
			EventID:    redeemed.EventID,
			HolderName: redeemed.HolderName,
			RedeemedAt: *redeemed.RedeemedAt,
			RedeemedBy: staffID,
		})
	}
	return &RedemptionResult{
		Status:     StatusValid,
		TicketID:   redeemed.ID,
		RedeemedAt: redeemed.RedeemedAt,
		Ticket:     summarize(redeemed),
	}, nil
}

func alreadyRedeemed(t *models.Ticket) *RedemptionResult {
	return &RedemptionResult{
		Status:     StatusAlreadyRedeemed,
		TicketID:   t.ID,
		RedeemedAt: t.RedeemedAt,
		Ticket:     summarize(t),
	}
}

// EventEnded reports whether eventDate is a calendar day strictly before today in the
// service's timezone. Events later today are still redeemable.
func (s *Service) EventEnded(eventDate time.Time) bool {
	now := s.now().In(s.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	day := time.Date(eventDate.Year(), eventDate.Month(), eventDate.Day(), 0, 0, 0, 0, s.loc)
	return day.Before(today)
}

// canView reports whether p may see t: its holder, or staff allowed to redeem tickets.
func canView(p *access.Principal, t *models.Ticket) error {
	if p == nil {
		return access.ErrUnauthenticated
	}
	if p.UserID == t.UserID {
		return nil
	}
	return access.Check(p, access.RedeemTicket, uuid.Nil)
}

// Get returns a ticket visible to p.
func (s *Service) Get(ctx context.Context, p *access.Principal, id string) (*models.Ticket, error) {
	t, err := s.store.GetByID(ctx, NormalizeID(id))
	if err != nil {
		return nil, err
	}
	if err := canView(p, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ListMine returns the caller's tickets, newest first.
func (s *Service) ListMine(ctx context.Context, userID uuid.UUID) ([]models.Ticket, error) {
	return s.store.ListByUser(ctx, userID)
}

// ListByEvent returns an event's tickets. Callers check access to the event first.
func (s *Service) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Ticket, error) {
	return s.store.ListByEvent(ctx, eventID)
}

// AttachQR stores a QR image for the ticket. A client-supplied image must decode to the
// ticket's own id; without one the QR is regenerated from the ticket.
func (s *Service) AttachQR(ctx context.Context, p *access.Principal, id, clientQR string) (*models.Ticket, error) {
	t, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	qr := strings.TrimSpace(clientQR)
	if qr != "" {
		payload, err := qrcode.DecodeDataURL(qr)
		if err != nil || NormalizeID(payload.TicketID) != t.ID {
			return nil, ErrQRMismatch
		}
	} else {
		qr, err = qrcode.EncodeDataURL(payloadFor(t))
		if err != nil {
			return nil, fmt.Errorf("encode qr: %w", err)
		}
	}
	if err := s.store.UpdateQR(ctx, t.ID, qr); err != nil {
		return nil, fmt.Errorf("update qr: %w", err)
	}
	t.QR = qr
	return t, nil
}

// Delete removes a ticket. Holders may delete their own unredeemed tickets; admins any ticket.
func (s *Service) Delete(ctx context.Context, p *access.Principal, id string) error {
	if p == nil {
		return access.ErrUnauthenticated
	}
	t, err := s.store.GetByID(ctx, NormalizeID(id))
	if err != nil {
		return err
	}
	if err := access.Check(p, access.DeleteTicket, t.UserID); err != nil {
		return err
	}
	if access.Authorize(p.Role, access.DeleteTicket) == access.Allow {
		return s.store.Delete(ctx, t.ID)
	}
	ok, err := s.store.DeleteUnredeemed(ctx, t.ID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTicketRedeemed
	}
	s.logger.Info("ticket deleted by holder", zap.String("ticket_id", t.ID))
	return nil
}
