package tickets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuyerNormalize(t *testing.T) {
	b, err := Buyer{Name: " Tran Thi B ", Email: "b@example.com ", Phone: "090 123 4567"}.Normalize("vn")
	require.NoError(t, err)
	assert.Equal(t, Buyer{Name: "Tran Thi B", Email: "b@example.com", Phone: "+84901234567"}, b)

	b, err = Buyer{Name: "C", Email: "c@example.com", Phone: "+1 415 555 2671"}.Normalize("VN")
	require.NoError(t, err)
	assert.Equal(t, "+14155552671", b.Phone)
}

func TestBuyerNormalize_Rejects(t *testing.T) {
	tests := []struct {
		buyer Buyer
		field string
	}{
		{Buyer{Email: "a@example.com", Phone: "0901234567"}, "name"},
		{Buyer{Name: "A", Phone: "0901234567"}, "email"},
		{Buyer{Name: "A", Email: "A <a@example.com>", Phone: "0901234567"}, "email"},
		{Buyer{Name: "A", Email: "a@", Phone: "0901234567"}, "email"},
		{Buyer{Name: "A", Email: "a@example.com"}, "phone"},
		{Buyer{Name: "A", Email: "a@example.com", Phone: "call me"}, "phone"},
	}
	for _, tt := range tests {
		_, err := tt.buyer.Normalize("VN")
		var ve *ValidationError
		if assert.ErrorAs(t, err, &ve, "%+v", tt.buyer) {
			assert.Equal(t, tt.field, ve.Field)
			assert.ErrorIs(t, err, ErrInvalidBuyerDetails)
		}
	}
}
