package notify

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTwilio_RequiresCredentials(t *testing.T) {
	_, err := NewTwilio(TwilioConfig{AccountSID: "AC123"}, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)

	tw, err := NewTwilio(TwilioConfig{AccountSID: "AC123", AuthToken: "tok", FromNumber: "+15005550006"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "+15005550006", tw.from)
}

func TestTwilio_SendHonoursCancelledContext(t *testing.T) {
	tw, err := NewTwilio(TwilioConfig{AccountSID: "AC123", AuthToken: "tok", FromNumber: "+15005550006"}, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = tw.Send(ctx, "+84901234567", "hi")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLogSender(t *testing.T) {
	id, err := NewLogSender(nil).Send(context.Background(), "+84901234567", "hello")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "log-"))
}
