package qrcode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sample = Payload{
	TicketID:   "TIX-ABCDEF-MGX2K1Q8-7Z3Q",
	EventID:    "0b7c2c52-3f5e-4d1c-9d61-4a6f3f1d2e10",
	HolderName: "Nguyen Van A",
	EventName:  "Saigon Jazz Night",
}

func TestMarshalParse_RoundTrip(t *testing.T) {
	text, err := Marshal(sample)
	require.NoError(t, err)
	assert.Contains(t, text, `"ticketId":"TIX-ABCDEF-MGX2K1Q8-7Z3Q"`)
	assert.Contains(t, text, `"event":"Saigon Jazz Night"`)

	got, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, sample, got)
}

func TestMarshal_RequiresTicketID(t *testing.T) {
	_, err := Marshal(Payload{EventID: "e"})
	assert.ErrorIs(t, err, ErrEmptyTicketID)
}

func TestParse_Rejects(t *testing.T) {
	_, err := Parse("not json")
	assert.Error(t, err)

	_, err = Parse(`{"eventId":"e1"}`)
	assert.ErrorIs(t, err, ErrEmptyTicketID)
}

func TestDecode(t *testing.T) {
	text, err := Marshal(sample)
	require.NoError(t, err)

	structured, ok := Decode(text)
	require.True(t, ok)
	bare, ok := Decode("  " + sample.TicketID + "\n")
	require.True(t, ok)

	assert.Equal(t, sample, structured)
	assert.Equal(t, structured.TicketID, bare.TicketID)

	// Broken JSON falls back to the literal text.
	p, ok := Decode(`{"ticketId":`)
	require.True(t, ok)
	assert.Equal(t, `{"ticketId":`, p.TicketID)

	_, ok = Decode("   ")
	assert.False(t, ok)
}

func TestEncode_ImageRoundTrip(t *testing.T) {
	png, err := Encode(sample)
	require.NoError(t, err)
	require.NotEmpty(t, png)

	got, err := DecodeImage(png)
	require.NoError(t, err)
	assert.Equal(t, sample, got)
}

func TestEncodeDataURL_RoundTrip(t *testing.T) {
	url, err := EncodeDataURL(sample)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, DataURLPrefix))

	got, err := DecodeDataURL(url)
	require.NoError(t, err)
	assert.Equal(t, sample.TicketID, got.TicketID)

	got, err = DecodeDataURL(strings.TrimPrefix(url, DataURLPrefix))
	require.NoError(t, err)
	assert.Equal(t, sample.TicketID, got.TicketID)
}

func TestDecodeDataURL_Errors(t *testing.T) {
	_, err := DecodeDataURL("data:image/png,abc")
	assert.Error(t, err)

	_, err = DecodeDataURL("%%%")
	assert.Error(t, err)
}
