package tickets

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	idPrefix     = "TIX-"
	randomLen    = 4
	base36Digits = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// NewTicketID returns TIX-<event3><user3>-<unix millis base36>-<random4>, upper case.
// The random suffix comes from crypto/rand; uniqueness is finally enforced by the store.
func NewTicketID(eventID, userID uuid.UUID, now time.Time) string {
	var b strings.Builder
	b.WriteString(idPrefix)
	b.WriteString(eventID.String()[:3])
	b.WriteString(userID.String()[:3])
	b.WriteByte('-')
	b.WriteString(strconv.FormatInt(now.UnixMilli(), 36))
	b.WriteByte('-')
	b.WriteString(randomBase36(randomLen))
	return strings.ToUpper(b.String())
}

func randomBase36(n int) string {
	max := big.NewInt(int64(len(base36Digits)))
	out := make([]byte, n)
	for i := range out {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand does not fail on supported platforms.
			panic(err)
		}
		out[i] = base36Digits[v.Int64()]
	}
	return string(out)
}

// NormalizeID trims and upper-cases a typed ticket id.
func NormalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// freePaymentRef is the payment reference for tickets to free events. It keeps one
// free ticket per user per event under the same unique key as paid tickets.
func freePaymentRef(eventID, userID uuid.UUID) string {
	return "free:" + eventID.String() + ":" + userID.String()
}
