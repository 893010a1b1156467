package icron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTriggerInfo_FiveField(t *testing.T) {
	ref := time.Date(2026, 3, 1, 10, 20, 0, 0, time.UTC)

	info, err := GetTriggerInfo("*/15 * * * *", ref)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC), info.Next)
	assert.Equal(t, 10*time.Minute, info.TimeUntilNext)
	assert.False(t, info.Last.After(ref))
}

func TestGetTriggerInfo_WithSeconds(t *testing.T) {
	ref := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	info, err := GetTriggerInfo("30 0 2 * * *", ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 2, 0, 30, 0, time.UTC), info.Next)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("@hourly"))
	assert.NoError(t, Validate("0 3 * * *"))
	assert.Error(t, Validate("not a cron"))
}
