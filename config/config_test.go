package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("REMINDER_INTERVAL", "5m")
	t.Setenv("TICKETS_PHONE_REGION", "us")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "4000", cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Worker.ReminderInterval)
	assert.Equal(t, 24*time.Hour, cfg.Worker.ReminderLookahead)
	assert.Equal(t, "US", cfg.Tickets.PhoneRegion)
	assert.Equal(t, "24000", cfg.Stripe.VNDPerUnit)
	assert.True(t, cfg.Worker.Embedded)

	t.Setenv("WORKER_EMBEDDED", "false")
	cfg, err = Load()
	require.NoError(t, err)
	assert.False(t, cfg.Worker.Embedded)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "eventems", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/eventems?sslmode=disable", c.DSN())

	c.URL = "postgres://override"
	assert.Equal(t, "postgres://override", c.DSN())
}

func TestTicketsConfig_Location(t *testing.T) {
	assert.Equal(t, time.UTC, TicketsConfig{}.Location())
	assert.Equal(t, time.UTC, TicketsConfig{Timezone: "Not/AZone"}.Location())
	assert.Equal(t, "Asia/Ho_Chi_Minh", TicketsConfig{Timezone: "Asia/Ho_Chi_Minh"}.Location().String())
}
