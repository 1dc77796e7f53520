package services

import (
	"time"
	_ "time/tzdata"

	"github.com/jonboulle/clockwork"
)

// DayLayout is the day bucket format stored on assignments and shards.
const DayLayout = "2006-01-02"

// DayKey returns the calendar day of t in loc as YYYY-MM-DD.
// The conversion goes through the zone database, so DST shifts are honoured.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DayLayout)
}

// DayWindow returns the [start, end) instants of day in loc.
func DayWindow(day string, loc *time.Location) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(DayLayout, day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	// AddDate works on the wall clock, so 23h and 25h days come out right.
	return start, start.AddDate(0, 0, 1), nil
}

// PreviousDay returns the day bucket before day.
func PreviousDay(day string, loc *time.Location) (string, error) {
	start, _, err := DayWindow(day, loc)
	if err != nil {
		return "", err
	}
	return start.AddDate(0, 0, -1).Format(DayLayout), nil
}

// QuestClock binds a clock to the quest timezone.
type QuestClock struct {
	Clock    clockwork.Clock
	Location *time.Location
}

// NewQuestClock returns a QuestClock on the real clock.
func NewQuestClock(loc *time.Location) QuestClock {
	return QuestClock{Clock: clockwork.NewRealClock(), Location: loc}
}

// Now returns the current instant.
func (q QuestClock) Now() time.Time {
	return q.Clock.Now()
}

// Today returns the current day bucket.
func (q QuestClock) Today() string {
	return DayKey(q.Clock.Now(), q.Location)
}
