package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextFireUTC(t *testing.T) {
	after := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)

	next, err := NextFire("0 12 * * *", "", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), next)
}

func TestNextFireTimezone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 10:30 UTC is 05:30 in New York, so the 9am New York slot is later
	// the same day.
	after := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	next, err := NextFire("0 9 * * *", "America/New_York", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, ny), next.In(ny))
}

func TestNextFireEveryFiveMinutes(t *testing.T) {
	after := time.Date(2026, 3, 1, 10, 32, 0, 0, time.UTC)

	next, err := NextFire("*/5 * * * *", "", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 35, 0, 0, time.UTC), next)
}

func TestNextFireInvalid(t *testing.T) {
	_, err := NextFire("not a cron", "", time.Now())
	assert.Error(t, err)

	_, err = NextFire("0 9 * * *", "Mars/Olympus", time.Now())
	assert.Error(t, err)
}

func TestValidateCron(t *testing.T) {
	assert.NoError(t, ValidateCron("0 9 * * 1-5", "Europe/Madrid"))
	assert.Error(t, ValidateCron("61 * * * *", ""))
}
