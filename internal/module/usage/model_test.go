package usage

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestPeriodKeys(t *testing.T) {
	start := time.Date(2026, 3, 15, 18, 30, 0, 0, time.UTC)

	t.Run("calendar key is year-month", func(t *testing.T) {
		assert.Equal(t, "2026-03", CalendarPeriodKey(start))
	})

	t.Run("calendar key normalizes to UTC", func(t *testing.T) {
		loc := time.FixedZone("UTC+10", 10*3600)
		local := time.Date(2026, 4, 1, 2, 0, 0, 0, loc)
		assert.Equal(t, "2026-03", CalendarPeriodKey(local))
	})

	t.Run("subscription key embeds id and period start", func(t *testing.T) {
		subID := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
		key := SubscriptionPeriodKey(subID, start)
		assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8:2026-03-15", key)
	})
}

func TestIsCalendarKey(t *testing.T) {
	subID := uuid.New()

	assert.True(t, IsCalendarKey(CalendarPeriodKey(time.Now())))
	assert.False(t, IsCalendarKey(SubscriptionPeriodKey(subID, time.Now())))
}
