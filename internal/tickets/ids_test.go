package tickets

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTicketID_Format(t *testing.T) {
	ev := uuid.MustParse("abcdef12-0000-4000-8000-000000000001")
	user := uuid.MustParse("98765432-0000-4000-8000-000000000002")
	now := time.UnixMilli(1792000000000)

	id := NewTicketID(ev, user, now)
	parts := strings.Split(id, "-")
	require.Len(t, parts, 4)
	assert.Equal(t, "TIX", parts[0])
	assert.Equal(t, "ABC987", parts[1])
	assert.Equal(t, strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36)), parts[2])
	assert.Regexp(t, `^[0-9A-Z]{4}$`, parts[3])
}

func TestNewTicketID_RandomSuffixVaries(t *testing.T) {
	ev, user, now := uuid.New(), uuid.New(), time.Now()
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		seen[NewTicketID(ev, user, now)] = true
	}
	assert.Greater(t, len(seen), 40)
}

func TestNormalizeID(t *testing.T) {
	assert.Equal(t, "TIX-ABC987-LZ1-0AB9", NormalizeID("  tix-abc987-lz1-0ab9\n"))
}
