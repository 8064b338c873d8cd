// Package templates renders notification text for each template type from a
// snapshot of a user's recurring merchants, pacing state and transactions.
package templates

import (
	"fmt"
	"strings"
	"time"
)

// Type is a notification template. The set is closed; every value has an
// entry in the definitions table.
type Type int

const (
	RecurringSummary Type = iota
	Activity
	PacingAlert
	WeeklySummary
	MonthlySummary
	MorningBrief
	EveningBrief
	typeCount
)

// Needs flags the data a template reads.
type Needs uint8

const (
	NeedsRecurring Needs = 1 << iota
	NeedsPacing
	NeedsTransactions
)

// Slot restricts a template to a range of local hours, [StartHour, EndHour).
type Slot struct {
	StartHour int
	EndHour   int
}

func (s *Slot) contains(hour int) bool {
	return s == nil || (hour >= s.StartHour && hour < s.EndHour)
}

type definition struct {
	name   string
	needs  Needs
	budget int
	slot   *Slot
	due    func(day time.Time) bool
	header func(s Snapshot) string
	// summary is the primary numeric line. It may return ErrNothingToSend.
	summary  func(s Snapshot) (string, error)
	sections func(s Snapshot) []section
}

var definitions = [...]definition{
	RecurringSummary: {
		name:     "recurring-summary",
		needs:    NeedsRecurring,
		header:   fixedHeader("MoneyNudge: upcoming bills"),
		summary:  recurringSummary,
		sections: recurringSections,
	},
	Activity: {
		name:     "activity",
		needs:    NeedsTransactions,
		header:   fixedHeader("MoneyNudge: yesterday"),
		summary:  activitySummary,
		sections: activitySections,
	},
	PacingAlert: {
		name:     "pacing-alert",
		needs:    NeedsPacing,
		header:   fixedHeader("MoneyNudge: spending pace"),
		summary:  pacingSummary,
		sections: pacingSections,
	},
	WeeklySummary: {
		name:     "weekly-summary",
		needs:    NeedsTransactions | NeedsRecurring,
		due:      func(day time.Time) bool { return day.Weekday() == time.Monday },
		header:   fixedHeader("MoneyNudge: your week"),
		summary:  weeklySummary,
		sections: weeklySections,
	},
	MonthlySummary: {
		name:     "monthly-summary",
		needs:    NeedsTransactions | NeedsPacing,
		due:      func(day time.Time) bool { return day.Day() == 1 },
		header:   monthlyHeader,
		summary:  monthlySummary,
		sections: monthlySections,
	},
	MorningBrief: {
		name:     "morning-brief",
		needs:    NeedsRecurring | NeedsPacing,
		slot:     &Slot{StartHour: 7, EndHour: 10},
		header:   greetingHeader("Good morning"),
		summary:  morningSummary,
		sections: morningSections,
	},
	EveningBrief: {
		name:     "evening-brief",
		needs:    NeedsTransactions | NeedsPacing | NeedsRecurring,
		slot:     &Slot{StartHour: 18, EndHour: 21},
		header:   greetingHeader("Good evening"),
		summary:  eveningSummary,
		sections: eveningSections,
	},
}

// Adding a Type without a definition fails to compile.
var _ = [1]struct{}{}[len(definitions)-int(typeCount)]

// All returns every template type in declaration order.
func All() []Type {
	out := make([]Type, 0, typeCount)
	for t := Type(0); t < typeCount; t++ {
		out = append(out, t)
	}
	return out
}

func (t Type) valid() bool { return t >= 0 && t < typeCount }

func (t Type) String() string {
	if !t.valid() {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return definitions[t].name
}

// ParseType maps a stored name back to its Type.
func ParseType(s string) (Type, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for t := Type(0); t < typeCount; t++ {
		if definitions[t].name == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown template type %q", s)
}

// ParseTypes parses a list of names, rejecting duplicates.
func ParseTypes(names []string) ([]Type, error) {
	seen := map[Type]bool{}
	out := make([]Type, 0, len(names))
	for _, n := range names {
		t, err := ParseType(n)
		if err != nil {
			return nil, err
		}
		if seen[t] {
			return nil, fmt.Errorf("template type %q listed twice", n)
		}
		seen[t] = true
		out = append(out, t)
	}
	return out, nil
}

// Needs reports the data t reads.
func (t Type) Needs() Needs { return definitions[t].needs }

// Slot returns the local-hour window of t, or nil when t may go out at any
// hour.
func (t Type) Slot() *Slot { return definitions[t].slot }

// Scheduled reports whether t may be sent at the user's local time.
func (t Type) Scheduled(local time.Time) bool {
	d := definitions[t]
	if d.due != nil && !d.due(local) {
		return false
	}
	return d.slot.contains(local.Hour())
}
