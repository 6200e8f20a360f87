package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-scheduling-ai/internal/calendar"
)

// fixedNow pins the clock to a Monday morning before working hours.
func fixedNow() time.Time {
	return time.Date(2025, 6, 2, 7, 0, 0, 0, time.UTC)
}

func newTestGenerator(opts ...GeneratorOption) *Generator {
	all := append([]GeneratorOption{WithNowFunc(fixedNow)}, opts...)
	return NewGenerator(time.UTC, all...)
}

func TestGenerateCoversWorkingDayMinusBreak(t *testing.T) {
	gen := newTestGenerator()
	hours := calendar.DefaultWorkingHours()
	monday := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	slots := gen.Generate(hours, monday, 30)
	require.NotEmpty(t, slots)

	// First slot starts at opening, last ends at closing.
	assert.Equal(t, calendar.MinuteOfDay(9*60), slots[0].Start)
	assert.Equal(t, calendar.MinuteOfDay(17*60), slots[len(slots)-1].End)

	for i, slot := range slots {
		assert.Equal(t, calendar.MinuteOfDay(30), slot.End-slot.Start)
		// No slot may touch the 12:00-13:00 lunch break.
		assert.False(t, slot.Window().Overlaps(calendar.Interval{Start: 12 * 60, End: 13 * 60}),
			"slot %d (%s-%s) overlaps lunch", i, slot.Start, slot.End)
		if i > 0 {
			assert.Less(t, slots[i-1].Start, slot.Start, "slots must ascend")
		}
	}

	// 09:00-12:00 yields 7 starts for 30m at 15m steps (last 11:30);
	// 13:00-17:00 yields 15 (last 16:30).
	assert.Len(t, slots, 22)
}

func TestGenerateNonWorkingDayIsEmpty(t *testing.T) {
	gen := newTestGenerator()
	sunday := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	assert.Empty(t, gen.Generate(calendar.DefaultWorkingHours(), sunday, 30))
}

func TestGeneratePastDateIsEmpty(t *testing.T) {
	gen := newTestGenerator()
	lastWeek := time.Date(2025, 5, 26, 0, 0, 0, 0, time.UTC)
	assert.Empty(t, gen.Generate(calendar.DefaultWorkingHours(), lastWeek, 30))
}

func TestGenerateExcludesPastTimesToday(t *testing.T) {
	midMorning := func() time.Time {
		return time.Date(2025, 6, 2, 10, 10, 0, 0, time.UTC)
	}
	gen := NewGenerator(time.UTC, WithNowFunc(midMorning))
	monday := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	slots := gen.Generate(calendar.DefaultWorkingHours(), monday, 30)
	require.NotEmpty(t, slots)
	assert.GreaterOrEqual(t, int(slots[0].Start), 10*60+10)
}

func TestGenerateRespectsGranularity(t *testing.T) {
	gen := newTestGenerator(WithGranularity(30))
	monday := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	slots := gen.Generate(calendar.DefaultWorkingHours(), monday, 30)
	require.NotEmpty(t, slots)
	for i := 1; i < len(slots); i++ {
		assert.GreaterOrEqual(t, int(slots[i].Start-slots[i-1].Start), 30)
	}
}

func TestGenerateLongerDurationFitsInside(t *testing.T) {
	gen := newTestGenerator()
	monday := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	slots := gen.Generate(calendar.DefaultWorkingHours(), monday, 60)
	require.NotEmpty(t, slots)
	// A 60m specialist visit cannot start after 16:00.
	assert.LessOrEqual(t, int(slots[len(slots)-1].Start), 16*60)
	// Nothing starting 11:15-12:45 fits around lunch.
	for _, slot := range slots {
		assert.False(t, slot.Window().Overlaps(calendar.Interval{Start: 12 * 60, End: 13 * 60}))
	}
}
