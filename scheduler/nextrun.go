package scheduler

import (
	"time"

	"github.com/stupid-simple/intake-backup/model"
)

// NextRun returns the first run of a schedule strictly after now. Runs
// happen at the anchor's clock time, and monthly runs on the anchor's day of
// month clamped to the length of the month. The period counts from the slot
// lastRun belongs to, so a late run does not shift later ones.
func NextRun(freq model.Frequency, anchor time.Time, lastRun *time.Time, now time.Time) time.Time {
	base := anchor
	if lastRun != nil {
		base = slotOf(freq, anchor, *lastRun)
	}
	next := step(freq, anchor, base)
	for !next.After(now) {
		next = step(freq, anchor, next)
	}
	return next
}

// slotOf returns the latest scheduled time at or before t.
func slotOf(freq model.Frequency, anchor, t time.Time) time.Time {
	t = t.In(anchor.Location())
	switch freq {
	case model.Monthly:
		slot := monthly(anchor, t.Year(), t.Month())
		if slot.After(t) {
			slot = monthly(anchor, t.Year(), t.Month()-1)
		}
		return slot
	default:
		slot := atClock(anchor, t.Year(), t.Month(), t.Day())
		if slot.After(t) {
			slot = atClock(anchor, t.Year(), t.Month(), t.Day()-1)
		}
		return slot
	}
}

func step(freq model.Frequency, anchor, from time.Time) time.Time {
	from = from.In(anchor.Location())
	switch freq {
	case model.Weekly:
		return atClock(anchor, from.Year(), from.Month(), from.Day()+7)
	case model.Monthly:
		return monthly(anchor, from.Year(), from.Month()+1)
	default:
		return atClock(anchor, from.Year(), from.Month(), from.Day()+1)
	}
}

// atClock returns the given date at the anchor's clock time. time.Date
// normalizes overflowing days.
func atClock(anchor time.Time, year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, anchor.Hour(), anchor.Minute(), anchor.Second(), 0, anchor.Location())
}

func monthly(anchor time.Time, year int, month time.Month) time.Time {
	// Normalize month overflow first.
	first := time.Date(year, month, 1, 0, 0, 0, 0, anchor.Location())
	day := min(anchor.Day(), daysIn(first.Year(), first.Month()))
	return atClock(anchor, first.Year(), first.Month(), day)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
