package tickets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventems/backend/internal/access"
	"github.com/eventems/backend/internal/models"
	"github.com/eventems/backend/internal/payments"
	"github.com/eventems/backend/internal/qrcode"
)

var (
	eventID    = uuid.MustParse("e1e1e1e1-0000-4000-8000-000000000001")
	freeID     = uuid.MustParse("e2e2e2e2-0000-4000-8000-000000000002")
	pendingID  = uuid.MustParse("e3e3e3e3-0000-4000-8000-000000000003")
	pastID     = uuid.MustParse("e4e4e4e4-0000-4000-8000-000000000004")
	buyerID    = uuid.MustParse("a1a1a1a1-0000-4000-8000-00000000000a")
	otherID    = uuid.MustParse("b2b2b2b2-0000-4000-8000-00000000000b")
	staffID    = uuid.MustParse("c3c3c3c3-0000-4000-8000-00000000000c")
	fixedNow   = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	validBuyer = Buyer{Name: "Nguyen Van A", Email: "a@example.com", Phone: "0901234567"}
)

type fixture struct {
	svc       *Service
	store     *memStore
	pay       *fakePayments
	notifier  *fakeNotifier
	publisher *fakePublisher
	recorder  *fakeRecorder
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	evs := memEvents{
		eventID:   {ID: eventID, Title: "Hanoi Jazz Night", EventDate: day(2026, 10, 20), EventTime: "19:30", Location: "Opera House", TicketPrice: 250000, IsApproved: true},
		freeID:    {ID: freeID, Title: "Open Meetup", EventDate: day(2026, 10, 17), EventTime: "18:00", Location: "Hub", IsApproved: true},
		pendingID: {ID: pendingID, Title: "Pending", EventDate: day(2026, 11, 1), TicketPrice: 100000},
		pastID:    {ID: pastID, Title: "Last Week", EventDate: day(2026, 10, 10), TicketPrice: 100000, IsApproved: true},
	}
	f := &fixture{
		store: newMemStore(),
		pay: &fakePayments{intents: map[string]*payments.Intent{
			"pi_ok": {ID: "pi_ok", Status: payments.StatusSucceeded, Metadata: map[string]string{
				payments.MetaEventID: eventID.String(), payments.MetaUserID: buyerID.String(), payments.MetaAmountVND: "240000",
			}},
			"pi_unpaid": {ID: "pi_unpaid", Status: "requires_payment_method"},
			"pi_past": {ID: "pi_past", Status: payments.StatusSucceeded, Metadata: map[string]string{
				payments.MetaEventID: pastID.String(), payments.MetaUserID: buyerID.String(),
			}},
		}},
		notifier:  &fakeNotifier{},
		publisher: &fakePublisher{},
		recorder:  &fakeRecorder{},
	}
	f.svc = NewService(f.store, evs, f.pay, Options{
		Notifier:  f.notifier,
		Publisher: f.publisher,
		Recorder:  f.recorder,
	})
	f.svc.now = func() time.Time { return fixedNow }
	return f
}

func (f *fixture) issue(t *testing.T, pi string, ev uuid.UUID) *models.Ticket {
	t.Helper()
	res, err := f.svc.Issue(context.Background(), IssueRequest{PaymentIntentID: pi, EventID: ev, UserID: buyerID, Buyer: validBuyer})
	require.NoError(t, err)
	return res.Ticket
}

// forceIssue writes a ticket directly, for events the service would refuse to sell.
func (f *fixture) forceIssue(t *testing.T, ev uuid.UUID, date time.Time) *models.Ticket {
	t.Helper()
	tk := &models.Ticket{ID: "TIX-FORCED-1", UserID: buyerID, EventID: ev, PaymentIntentID: "pi_forced", HolderName: "A", EventDate: date}
	require.NoError(t, f.store.Insert(context.Background(), tk))
	return tk
}

func TestIssue_PaidEvent(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Issue(context.Background(), IssueRequest{PaymentIntentID: "pi_ok", EventID: eventID, UserID: buyerID, Buyer: validBuyer})
	require.NoError(t, err)
	tk := res.Ticket

	assert.False(t, res.Replayed)
	assert.Empty(t, res.NotificationWarning)
	assert.Regexp(t, `^TIX-[0-9A-F]{6}-[0-9A-Z]+-[0-9A-Z]{4}$`, tk.ID)
	assert.Equal(t, "pi_ok", tk.PaymentIntentID)
	assert.Equal(t, "+84901234567", tk.HolderPhone)
	assert.Equal(t, "Hanoi Jazz Night", tk.EventName)
	assert.Equal(t, "Opera House", tk.EventLocation)
	assert.Equal(t, int64(240000), tk.TicketPrice, "price is the charged amount")
	assert.False(t, tk.Redeemed)

	stored, err := f.store.GetByID(context.Background(), tk.ID)
	require.NoError(t, err)
	require.NotEmpty(t, stored.QR, "ticket is written with its QR")
	payload, err := qrcode.DecodeDataURL(stored.QR)
	require.NoError(t, err)
	assert.Equal(t, tk.ID, payload.TicketID)
	assert.Equal(t, eventID.String(), payload.EventID)

	assert.Equal(t, []string{tk.ID}, f.notifier.issued)
	assert.Equal(t, []string{"issued"}, f.recorder.issues)
}

func TestIssue_UnpaidIntentWritesNothing(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Issue(context.Background(), IssueRequest{PaymentIntentID: "pi_unpaid", EventID: eventID, UserID: buyerID, Buyer: validBuyer})
	require.ErrorIs(t, err, ErrPaymentNotConfirmed)

	var pse *PaymentStatusError
	require.ErrorAs(t, err, &pse)
	assert.Equal(t, "requires_payment_method", pse.Status)

	mine, err := f.store.ListByUser(context.Background(), buyerID)
	require.NoError(t, err)
	assert.Empty(t, mine)
	assert.Zero(t, f.store.inserts)
	assert.Empty(t, f.notifier.issued)
	assert.Equal(t, []string{"payment_not_confirmed"}, f.recorder.issues)
}

func TestIssue_PaymentErrors(t *testing.T) {
	tests := []struct {
		name  string
		pi    string
		event uuid.UUID
		user  uuid.UUID
		setup func(f *fixture)
		want  error
	}{
		{name: "unknown intent", pi: "pi_missing", event: eventID, user: buyerID, want: ErrPaymentNotConfirmed},
		{name: "intent for other event", pi: "pi_past", event: eventID, user: buyerID, want: ErrPaymentMismatch},
		{name: "intent for other user", pi: "pi_ok", event: eventID, user: otherID, want: ErrPaymentMismatch},
		{name: "processor down", pi: "pi_ok", event: eventID, user: buyerID,
			setup: func(f *fixture) { f.pay.err = errors.New("dial tcp: timeout") }, want: ErrPaymentUnavailable},
		{name: "event not approved", pi: "pi_ok", event: pendingID, user: buyerID, want: ErrEventNotApproved},
		{name: "event not found", pi: "pi_ok", event: uuid.New(), user: buyerID, want: ErrEventNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(f)
			}
			_, err := f.svc.Issue(context.Background(), IssueRequest{PaymentIntentID: tt.pi, EventID: tt.event, UserID: tt.user, Buyer: validBuyer})
			assert.ErrorIs(t, err, tt.want)
			assert.Zero(t, f.store.inserts)
		})
	}
}

func TestIssue_MissingIntentOnPaidEvent(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Issue(context.Background(), IssueRequest{EventID: eventID, UserID: buyerID, Buyer: validBuyer})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "payment_intent_id", ve.Field)
	assert.NotErrorIs(t, err, ErrInvalidBuyerDetails)
}

func TestIssue_NoProcessorConfigured(t *testing.T) {
	f := newFixture(t)
	f.svc.payments = nil
	_, err := f.svc.Issue(context.Background(), IssueRequest{PaymentIntentID: "pi_ok", EventID: eventID, UserID: buyerID, Buyer: validBuyer})
	assert.ErrorIs(t, err, ErrPaymentUnavailable)
}

func TestIssue_InvalidBuyer(t *testing.T) {
	f := newFixture(t)
	for _, b := range []Buyer{
		{Email: "a@example.com", Phone: "0901234567"},
		{Name: "A", Email: "not-an-email", Phone: "0901234567"},
		{Name: "A", Email: "a@example.com", Phone: "12"},
	} {
		_, err := f.svc.Issue(context.Background(), IssueRequest{PaymentIntentID: "pi_ok", EventID: eventID, UserID: buyerID, Buyer: b})
		assert.ErrorIs(t, err, ErrInvalidBuyerDetails, "%+v", b)
	}
	assert.Zero(t, f.store.inserts)
}

func TestIssue_ReplayReturnsSameTicket(t *testing.T) {
	f := newFixture(t)
	first := f.issue(t, "pi_ok", eventID)

	res, err := f.svc.Issue(context.Background(), IssueRequest{PaymentIntentID: "pi_ok", EventID: eventID, UserID: buyerID, Buyer: validBuyer})
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, first.ID, res.Ticket.ID)
	assert.Equal(t, 1, f.store.inserts)
	assert.Len(t, f.notifier.issued, 1, "replay does not notify again")
}

func TestIssue_ConcurrentDuplicatePaymentReplays(t *testing.T) {
	f := newFixture(t)
	// Another request wins the insert between the replay check and our write.
	winner := &models.Ticket{ID: "TIX-WINNER", UserID: buyerID, EventID: eventID, PaymentIntentID: "pi_ok"}
	f.store.failInsert = []error{ErrDuplicatePayment}
	f.store.tickets[winner.ID] = winner
	orig := f.store.tickets
	f.store.tickets = map[string]*models.Ticket{}

	f.svc.store = &raceStore{memStore: f.store, onInsert: func() {
		f.store.mu.Lock()
		f.store.tickets = orig
		f.store.mu.Unlock()
	}}

	res, err := f.svc.Issue(context.Background(), IssueRequest{PaymentIntentID: "pi_ok", EventID: eventID, UserID: buyerID, Buyer: validBuyer})
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, "TIX-WINNER", res.Ticket.ID)
	assert.Equal(t, 1, f.store.inserts)
}

type raceStore struct {
	*memStore
	onInsert func()
}

func (r *raceStore) Insert(ctx context.Context, t *models.Ticket) error {
	err := r.memStore.Insert(ctx, t)
	r.onInsert()
	return err
}

func TestIssue_RetriesOnIDCollision(t *testing.T) {
	f := newFixture(t)
	f.store.failInsert = []error{ErrDuplicateID, ErrDuplicateID}
	n := 0
	f.svc.newID = func(_, _ uuid.UUID, _ time.Time) string {
		n++
		return fmt.Sprintf("TIX-TEST-%d", n)
	}

	tk := f.issue(t, "pi_ok", eventID)
	assert.Equal(t, "TIX-TEST-3", tk.ID)
	assert.Equal(t, 3, f.store.inserts)

	payload, err := qrcode.DecodeDataURL(tk.QR)
	require.NoError(t, err)
	assert.Equal(t, "TIX-TEST-3", payload.TicketID, "QR follows the reallocated id")
}

func TestIssue_GivesUpAfterRepeatedCollisions(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < maxIDAttempts; i++ {
		f.store.failInsert = append(f.store.failInsert, ErrDuplicateID)
	}
	_, err := f.svc.Issue(context.Background(), IssueRequest{PaymentIntentID: "pi_ok", EventID: eventID, UserID: buyerID, Buyer: validBuyer})
	assert.ErrorIs(t, err, ErrDuplicateID)
	assert.Equal(t, maxIDAttempts, f.store.inserts)
}

func TestIssue_NotificationFailureKeepsTicket(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("redis down")

	res, err := f.svc.Issue(context.Background(), IssueRequest{PaymentIntentID: "pi_ok", EventID: eventID, UserID: buyerID, Buyer: validBuyer})
	require.NoError(t, err)
	assert.NotEmpty(t, res.NotificationWarning)

	_, err = f.store.GetByID(context.Background(), res.Ticket.ID)
	assert.NoError(t, err)
}

func TestIssue_FreeEventOnePerUser(t *testing.T) {
	f := newFixture(t)
	tk := f.issue(t, "", freeID)
	assert.Equal(t, int64(0), tk.TicketPrice)
	assert.Equal(t, "free:"+freeID.String()+":"+buyerID.String(), tk.PaymentIntentID)

	res, err := f.svc.Issue(context.Background(), IssueRequest{EventID: freeID, UserID: buyerID, Buyer: validBuyer})
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, tk.ID, res.Ticket.ID)
}

func TestRedeem_ValidThenAlreadyRedeemed(t *testing.T) {
	f := newFixture(t)
	tk := f.issue(t, "pi_ok", eventID)

	first, err := f.svc.Redeem(context.Background(), tk.ID, staffID)
	require.NoError(t, err)
	assert.Equal(t, StatusValid, first.Status)
	require.NotNil(t, first.RedeemedAt)
	assert.Equal(t, fixedNow, *first.RedeemedAt)
	assert.Equal(t, "Nguyen Van A", first.Ticket.HolderName)

	f.svc.now = func() time.Time { return fixedNow.Add(time.Hour) }
	second, err := f.svc.Redeem(context.Background(), tk.ID, staffID)
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyRedeemed, second.Status)
	require.NotNil(t, second.RedeemedAt)
	assert.Equal(t, *first.RedeemedAt, *second.RedeemedAt, "reports the original check-in time")

	require.Len(t, f.publisher.msgs, 1)
	assert.Equal(t, EventTicketRedeemed, f.publisher.msgs[0].event)
	assert.Equal(t, eventID, f.publisher.msgs[0].eventID)
	assert.Equal(t, []string{StatusValid, StatusAlreadyRedeemed}, f.recorder.redemptions)
}

func TestRedeem_QRTextAndBareIDResolveToSameTicket(t *testing.T) {
	f := newFixture(t)
	tk := f.issue(t, "pi_ok", eventID)

	text, err := qrcode.Marshal(payloadFor(tk))
	require.NoError(t, err)
	res, err := f.svc.Redeem(context.Background(), text, staffID)
	require.NoError(t, err)
	assert.Equal(t, StatusValid, res.Status)
	assert.Equal(t, tk.ID, res.TicketID)

	res, err = f.svc.Redeem(context.Background(), "  "+tk.ID+" ", staffID)
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyRedeemed, res.Status)
	assert.Equal(t, tk.ID, res.TicketID)
}

func TestRedeem_CaseInsensitiveID(t *testing.T) {
	f := newFixture(t)
	tk := f.issue(t, "pi_ok", eventID)

	res, err := f.svc.Redeem(context.Background(), strings.ToLower(tk.ID), staffID)
	require.NoError(t, err)
	assert.Equal(t, StatusValid, res.Status)
}

func TestRedeem_NotFound(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Redeem(context.Background(), "TIX-NOPE", staffID)
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, res.Status)
	assert.Nil(t, res.RedeemedAt)
	assert.Empty(t, f.publisher.msgs)
}

func TestRedeem_BlankIdentifier(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Redeem(context.Background(), "   ", staffID)
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestRedeem_EventEnded(t *testing.T) {
	f := newFixture(t)
	tk := f.forceIssue(t, pastID, day(2026, 10, 10))

	res, err := f.svc.Redeem(context.Background(), tk.ID, staffID)
	require.NoError(t, err)
	assert.Equal(t, StatusEventEnded, res.Status)

	stored, err := f.store.GetByID(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.False(t, stored.Redeemed, "ended events do not flip the ticket")
}

func TestRedeem_SameDayEventStillValid(t *testing.T) {
	f := newFixture(t)
	tk := f.issue(t, "", freeID)
	f.svc.now = func() time.Time { return time.Date(2026, 10, 17, 23, 30, 0, 0, time.UTC) }

	res, err := f.svc.Redeem(context.Background(), tk.ID, staffID)
	require.NoError(t, err)
	assert.Equal(t, StatusValid, res.Status)
}

func TestRedeem_ConcurrentScansExactlyOneValid(t *testing.T) {
	f := newFixture(t)
	tk := f.issue(t, "pi_ok", eventID)

	const scanners = 16
	statuses := make([]string, scanners)
	var wg sync.WaitGroup
	for i := 0; i < scanners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.Redeem(context.Background(), tk.ID, staffID)
			if assert.NoError(t, err) {
				statuses[i] = res.Status
			}
		}(i)
	}
	wg.Wait()

	valid := 0
	for _, s := range statuses {
		switch s {
		case StatusValid:
			valid++
		case StatusAlreadyRedeemed:
		default:
			t.Errorf("unexpected status %q", s)
		}
	}
	assert.Equal(t, 1, valid)
	assert.Len(t, f.publisher.msgs, 1)
}

func TestEventEnded_UsesConfiguredTimezone(t *testing.T) {
	loc := time.FixedZone("ICT", 7*3600)
	svc := NewService(newMemStore(), memEvents{}, nil, Options{Location: loc})
	// 18:00 UTC on the 16th is already the 17th in ICT.
	svc.now = func() time.Time { return time.Date(2026, 10, 16, 18, 0, 0, 0, time.UTC) }

	assert.True(t, svc.EventEnded(day(2026, 10, 16)))
	assert.False(t, svc.EventEnded(day(2026, 10, 17)))
	assert.False(t, svc.EventEnded(day(2026, 10, 18)))
}

func principal(id uuid.UUID, role models.Role) *access.Principal {
	return &access.Principal{UserID: id, Role: role}
}

func TestGet_Visibility(t *testing.T) {
	f := newFixture(t)
	tk := f.issue(t, "pi_ok", eventID)
	ctx := context.Background()

	_, err := f.svc.Get(ctx, principal(buyerID, models.RoleParticipant), tk.ID)
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, principal(staffID, models.RoleOrganizer), tk.ID)
	assert.NoError(t, err)

	_, err = f.svc.Get(ctx, principal(otherID, models.RoleParticipant), tk.ID)
	var pe *access.PermissionError
	assert.ErrorAs(t, err, &pe)

	_, err = f.svc.Get(ctx, nil, tk.ID)
	assert.ErrorIs(t, err, access.ErrUnauthenticated)

	_, err = f.svc.Get(ctx, principal(buyerID, models.RoleParticipant), "TIX-NOPE")
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestAttachQR(t *testing.T) {
	f := newFixture(t)
	tk := f.issue(t, "pi_ok", eventID)
	other := f.issue(t, "", freeID)
	ctx := context.Background()
	holder := principal(buyerID, models.RoleParticipant)

	_, err := f.svc.AttachQR(ctx, holder, tk.ID, other.QR)
	assert.ErrorIs(t, err, ErrQRMismatch)
	_, err = f.svc.AttachQR(ctx, holder, tk.ID, "data:image/png;base64,bm90IGEgcG5n")
	assert.ErrorIs(t, err, ErrQRMismatch)

	got, err := f.svc.AttachQR(ctx, holder, tk.ID, tk.QR)
	require.NoError(t, err)
	assert.Equal(t, tk.QR, got.QR)

	require.NoError(t, f.store.UpdateQR(ctx, tk.ID, ""))
	got, err = f.svc.AttachQR(ctx, holder, tk.ID, "")
	require.NoError(t, err)
	payload, err := qrcode.DecodeDataURL(got.QR)
	require.NoError(t, err)
	assert.Equal(t, tk.ID, payload.TicketID)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("holder deletes unredeemed ticket", func(t *testing.T) {
		f := newFixture(t)
		tk := f.issue(t, "pi_ok", eventID)
		require.NoError(t, f.svc.Delete(ctx, principal(buyerID, models.RoleParticipant), tk.ID))
		_, err := f.store.GetByID(ctx, tk.ID)
		assert.ErrorIs(t, err, ErrTicketNotFound)
	})

	t.Run("holder cannot delete redeemed ticket", func(t *testing.T) {
		f := newFixture(t)
		tk := f.issue(t, "pi_ok", eventID)
		_, err := f.svc.Redeem(ctx, tk.ID, staffID)
		require.NoError(t, err)
		err = f.svc.Delete(ctx, principal(buyerID, models.RoleParticipant), tk.ID)
		assert.ErrorIs(t, err, ErrTicketRedeemed)
	})

	t.Run("other participant is forbidden", func(t *testing.T) {
		f := newFixture(t)
		tk := f.issue(t, "pi_ok", eventID)
		err := f.svc.Delete(ctx, principal(otherID, models.RoleParticipant), tk.ID)
		var pe *access.PermissionError
		assert.ErrorAs(t, err, &pe)
	})

	t.Run("admin deletes redeemed ticket", func(t *testing.T) {
		f := newFixture(t)
		tk := f.issue(t, "pi_ok", eventID)
		_, err := f.svc.Redeem(ctx, tk.ID, staffID)
		require.NoError(t, err)
		require.NoError(t, f.svc.Delete(ctx, principal(staffID, models.RoleAdmin), tk.ID))
		_, err = f.store.GetByID(ctx, tk.ID)
		assert.ErrorIs(t, err, ErrTicketNotFound)
	})
}
