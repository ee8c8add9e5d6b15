package calendar

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddDaysCrossesMonthAndYear(t *testing.T) {
	assert.Equal(t, "2024-02-01", Day(2024, 1, 31).AddDays(1).String())
	assert.Equal(t, "2024-03-01", Day(2024, 2, 28).AddDays(2).String())
	assert.Equal(t, "2025-01-02", Day(2024, 12, 30).AddDays(3).String())
}

func TestTodayUsesCalendarTimezone(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*60*60)
	// 20:30 UTC on Jan 10 is already Jan 11 in UTC+10.
	instant := time.Date(2024, 1, 10, 20, 30, 0, 0, time.UTC)
	cal := New(loc).WithClock(Fixed(instant))
	assert.Equal(t, "2024-01-11", cal.Today().String())

	utc := New(time.UTC).WithClock(Fixed(instant))
	assert.Equal(t, "2024-01-10", utc.Today().String())
}

func TestTodayIgnoresTimeOfDay(t *testing.T) {
	early := New(time.UTC).WithClock(Fixed(time.Date(2024, 1, 10, 0, 0, 1, 0, time.UTC)))
	late := New(time.UTC).WithClock(Fixed(time.Date(2024, 1, 10, 23, 59, 59, 0, time.UTC)))
	assert.True(t, early.Today().Equal(late.Today()))
	assert.Equal(t, 2, early.Today().DaysUntil(late.Today().AddDays(2)))
}

func TestWithinIsInclusive(t *testing.T) {
	start, end := Day(2024, 1, 10), Day(2024, 1, 12)
	assert.True(t, start.Within(start, end))
	assert.True(t, end.Within(start, end))
	assert.False(t, end.AddDays(1).Within(start, end))
	assert.False(t, start.AddDays(-1).Within(start, end))
}

func TestDateJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		D Date `json:"d"`
		Z Date `json:"z"`
	}{D: Day(2024, 1, 12)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"d":"2024-01-12","z":null}`, string(b))

	var out struct {
		D Date `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"d":"2024-03-05"}`), &out))
	assert.Equal(t, Day(2024, 3, 5), out.D)
	assert.Error(t, json.Unmarshal([]byte(`{"d":"03/05/2024"}`), &out))
}
