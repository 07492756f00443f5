package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventems/backend/internal/access"
	"github.com/eventems/backend/internal/middleware"
	"github.com/eventems/backend/internal/models"
	"github.com/eventems/backend/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestConverter_ToMinor(t *testing.T) {
	conv, err := NewConverter("USD", "24000")
	require.NoError(t, err)
	assert.Equal(t, "usd", conv.Currency)

	cases := map[int64]int64{
		100000: 417,  // 4.1666 -> 4.17
		24000:  100,  // exactly 1.00
		12:     0,    // 0.0005 -> 0.00
		500000: 2083, // 20.8333 -> 20.83
	}
	for vnd, want := range cases {
		assert.Equal(t, want, conv.ToMinor(vnd), "vnd=%d", vnd)
	}
}

func TestNewConverter_RejectsBadRate(t *testing.T) {
	_, err := NewConverter("usd", "abc")
	assert.Error(t, err)
	_, err = NewConverter("usd", "0")
	assert.Error(t, err)
}

func TestNewStripe_RequiresKey(t *testing.T) {
	_, err := NewStripe("", Converter{}, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestIntent_Succeeded(t *testing.T) {
	assert.True(t, (&Intent{Status: "succeeded"}).Succeeded())
	assert.False(t, (&Intent{Status: "requires_payment_method"}).Succeeded())
	var nilIntent *Intent
	assert.False(t, nilIntent.Succeeded())
}

type fakeCreator struct {
	got IntentRequest
	err error
}

func (f *fakeCreator) CreateIntent(_ context.Context, req IntentRequest) (*Intent, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &Intent{ID: "pi_123", ClientSecret: "pi_123_secret", Status: "requires_payment_method", AmountMinor: 417, Currency: "usd"}, nil
}

type fakeEvents struct {
	events map[uuid.UUID]*models.Event
	sold   int
}

func (f *fakeEvents) GetByID(_ context.Context, id uuid.UUID) (*models.Event, error) {
	e, ok := f.events[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return e, nil
}

func (f *fakeEvents) CountTickets(context.Context, uuid.UUID) (int, error) {
	return f.sold, nil
}

func setup(creator IntentCreator, events *fakeEvents) (*gin.Engine, uuid.UUID) {
	userID := uuid.New()
	r := gin.New()
	r.POST("/payments/intents", func(c *gin.Context) {
		c.Set(middleware.ContextUserID, userID)
		c.Set(middleware.ContextPrincipal, &access.Principal{UserID: userID, Role: models.RoleParticipant})
	}, NewHandler(creator, events, nil).CreateIntent)
	return r, userID
}

func post(r *gin.Engine, eventID uuid.UUID) (int, response.Body) {
	b, _ := json.Marshal(CreateIntentRequest{EventID: eventID.String()})
	req := httptest.NewRequest(http.MethodPost, "/payments/intents", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var out response.Body
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w.Code, out
}

func TestCreateIntentHandler(t *testing.T) {
	approved := &models.Event{ID: uuid.New(), TicketPrice: 100000, IsApproved: true}
	pending := &models.Event{ID: uuid.New(), TicketPrice: 100000}
	free := &models.Event{ID: uuid.New(), IsApproved: true}
	full := &models.Event{ID: uuid.New(), TicketPrice: 100000, Capacity: 2, IsApproved: true}
	events := &fakeEvents{events: map[uuid.UUID]*models.Event{
		approved.ID: approved, pending.ID: pending, free.ID: free, full.ID: full,
	}, sold: 2}
	creator := &fakeCreator{}
	r, userID := setup(creator, events)

	code, body := post(r, approved.ID)
	require.Equal(t, http.StatusCreated, code, body.Error)
	data := body.Data.(map[string]interface{})
	assert.Equal(t, "pi_123_secret", data["client_secret"])
	assert.Equal(t, float64(100000), data["amount_vnd"])
	assert.Equal(t, userID.String(), creator.got.UserID)
	assert.Equal(t, approved.ID.String(), creator.got.EventID)

	code, _ = post(r, pending.ID)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = post(r, free.ID)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = post(r, full.ID)
	assert.Equal(t, http.StatusConflict, code)
}

func TestCreateIntentHandler_ProcessorDown(t *testing.T) {
	e := &models.Event{ID: uuid.New(), TicketPrice: 100000, IsApproved: true}
	r, _ := setup(&fakeCreator{err: errors.New("timeout")}, &fakeEvents{events: map[uuid.UUID]*models.Event{e.ID: e}})

	code, _ := post(r, e.ID)
	assert.Equal(t, http.StatusBadGateway, code)
}

func TestCreateIntentHandler_NotConfigured(t *testing.T) {
	e := &models.Event{ID: uuid.New(), TicketPrice: 100000, IsApproved: true}
	r, _ := setup(nil, &fakeEvents{events: map[uuid.UUID]*models.Event{e.ID: e}})

	code, _ := post(r, e.ID)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}
