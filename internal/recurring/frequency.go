package recurring

import (
	"fmt"
	"time"

	"github.com/jask/moneynudge/internal/dates"
)

// Frequency is the periodicity bucket of a merchant.
type Frequency string

const (
	Weekly      Frequency = "weekly"
	Monthly     Frequency = "monthly"
	Quarterly   Frequency = "quarterly"
	Irregular   Frequency = "irregular"
	Unconfirmed Frequency = "unconfirmed"
)

// Periodic reports whether dates can be predicted for f.
func (f Frequency) Periodic() bool {
	switch f {
	case Weekly, Monthly, Quarterly:
		return true
	}
	return false
}

// IntervalDays is the typical gap between occurrences.
func (f Frequency) IntervalDays() int {
	switch f {
	case Weekly:
		return 7
	case Monthly:
		return 30
	case Quarterly:
		return 91
	}
	return 0
}

// Kind separates outgoing bills from incoming pay.
type Kind string

const (
	Bill   Kind = "bill"
	Income Kind = "income"
)

// PredictNext returns the occurrence after last.
func PredictNext(last time.Time, f Frequency) (time.Time, error) {
	return Advance(last, f, 1)
}

// Advance returns the n-th occurrence after anchor. Month arithmetic is
// always taken from the anchor so clamping does not drift: 31 Jan steps to
// 28 Feb and then 31 Mar.
func Advance(anchor time.Time, f Frequency, n int) (time.Time, error) {
	switch f {
	case Weekly:
		return anchor.AddDate(0, 0, 7*n), nil
	case Monthly:
		return dates.AddMonthsClamped(anchor, n), nil
	case Quarterly:
		return dates.AddMonthsClamped(anchor, 3*n), nil
	default:
		return time.Time{}, fmt.Errorf("no prediction for frequency %q", f)
	}
}

// RollForward steps from a stale predicted date by whole intervals until
// the result is after today. It returns the new date and the number of
// steps taken; a date already after today is returned unchanged.
func RollForward(next time.Time, f Frequency, today time.Time) (time.Time, int, error) {
	if !f.Periodic() {
		return time.Time{}, 0, fmt.Errorf("no prediction for frequency %q", f)
	}
	out := next
	steps := 0
	for !out.After(today) {
		steps++
		d, err := Advance(next, f, steps)
		if err != nil {
			return time.Time{}, 0, err
		}
		out = d
	}
	return out, steps, nil
}

// Missed reports whether the occurrence expected after last is overdue by
// more than twice the typical interval on today.
func Missed(last time.Time, f Frequency, today time.Time) bool {
	expected, err := PredictNext(last, f)
	if err != nil {
		return false
	}
	return dates.DaysBetween(expected, today) > 2*f.IntervalDays()
}
