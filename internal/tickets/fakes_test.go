package tickets

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eventems/backend/internal/events"
	"github.com/eventems/backend/internal/models"
	"github.com/eventems/backend/internal/payments"
)

type memStore struct {
	mu      sync.Mutex
	tickets map[string]*models.Ticket
	// failInsert returns these errors from the next Insert calls, in order.
	failInsert []error
	inserts    int
}

func newMemStore() *memStore {
	return &memStore{tickets: map[string]*models.Ticket{}}
}

func (m *memStore) Insert(_ context.Context, t *models.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	if len(m.failInsert) > 0 {
		err := m.failInsert[0]
		m.failInsert = m.failInsert[1:]
		return err
	}
	if _, ok := m.tickets[t.ID]; ok {
		return ErrDuplicateID
	}
	for _, other := range m.tickets {
		if other.PaymentIntentID == t.PaymentIntentID {
			return ErrDuplicatePayment
		}
	}
	cp := *t
	cp.CreatedAt = time.Now()
	m.tickets[t.ID] = &cp
	return nil
}

func (m *memStore) GetByID(_ context.Context, id string) (*models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, ErrTicketNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) GetByPaymentIntent(_ context.Context, pi string) (*models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tickets {
		if t.PaymentIntentID == pi {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrTicketNotFound
}

func (m *memStore) MarkRedeemed(_ context.Context, id string, at time.Time, by uuid.UUID) (*models.Ticket, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, false, ErrTicketNotFound
	}
	if t.Redeemed {
		return nil, false, nil
	}
	t.Redeemed = true
	t.RedeemedAt = &at
	t.RedeemedBy = &by
	cp := *t
	return &cp, true, nil
}

func (m *memStore) UpdateQR(_ context.Context, id, qr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return ErrTicketNotFound
	}
	t.QR = qr
	return nil
}

func (m *memStore) list(match func(*models.Ticket) bool) []models.Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Ticket{}
	for _, t := range m.tickets {
		if match(t) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) ListByUser(_ context.Context, userID uuid.UUID) ([]models.Ticket, error) {
	return m.list(func(t *models.Ticket) bool { return t.UserID == userID }), nil
}

func (m *memStore) ListByEvent(_ context.Context, eventID uuid.UUID) ([]models.Ticket, error) {
	return m.list(func(t *models.Ticket) bool { return t.EventID == eventID }), nil
}

func (m *memStore) DeleteUnredeemed(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return false, ErrTicketNotFound
	}
	if t.Redeemed {
		return false, nil
	}
	delete(m.tickets, id)
	return true, nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tickets[id]; !ok {
		return ErrTicketNotFound
	}
	delete(m.tickets, id)
	return nil
}

type memEvents map[uuid.UUID]*models.Event

func (m memEvents) GetByID(_ context.Context, id uuid.UUID) (*models.Event, error) {
	e, ok := m[id]
	if !ok {
		return nil, events.ErrEventNotFound
	}
	cp := *e
	return &cp, nil
}

type fakePayments struct {
	intents map[string]*payments.Intent
	err     error
}

func (f *fakePayments) Confirm(_ context.Context, id string) (*payments.Intent, error) {
	if f.err != nil {
		return nil, f.err
	}
	in, ok := f.intents[id]
	if !ok {
		return nil, payments.ErrIntentNotFound
	}
	return in, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	issued []string
	err    error
}

func (f *fakeNotifier) TicketIssued(_ context.Context, t *models.Ticket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.issued = append(f.issued, t.ID)
	return nil
}

type published struct {
	eventID uuid.UUID
	event   string
	payload interface{}
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (f *fakePublisher) PublishToEvent(eventID uuid.UUID, event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{eventID, event, payload})
}

type fakeRecorder struct {
	mu          sync.Mutex
	issues      []string
	redemptions []string
}

func (f *fakeRecorder) TrackIssue(outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issues = append(f.issues, outcome)
}

func (f *fakeRecorder) TrackRedemption(status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.redemptions = append(f.redemptions, status)
}
