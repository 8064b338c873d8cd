package recurring

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jask/moneynudge/internal/dates"
)

// Direction is how a date that lands on a non-business day is moved.
type Direction string

const (
	NoAdjust  Direction = "none"
	Preceding Direction = "preceding"
	Following Direction = "following"
)

// ParseDirection accepts none, preceding or following (case-insensitive).
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case NoAdjust, Preceding, Following:
		return d, nil
	case "":
		return NoAdjust, nil
	default:
		return "", fmt.Errorf("invalid business-day direction %q", s)
	}
}

// Holiday is one calendar entry. Recurring entries repeat every year on the
// same month and day.
type Holiday struct {
	Date      string `yaml:"date"`
	Name      string `yaml:"name"`
	Recurring bool   `yaml:"recurring"`
}

// Calendar knows weekends and configured holidays.
type Calendar struct {
	fixed  map[string]string
	yearly map[string]string
}

// NewCalendar builds a calendar from holiday entries.
func NewCalendar(holidays []Holiday) (*Calendar, error) {
	c := &Calendar{fixed: map[string]string{}, yearly: map[string]string{}}
	for _, h := range holidays {
		d, err := dates.Parse(h.Date)
		if err != nil {
			return nil, fmt.Errorf("holiday %q: %w", h.Name, err)
		}
		if h.Recurring {
			c.yearly[d.Format("01-02")] = h.Name
		} else {
			c.fixed[dates.Format(d)] = h.Name
		}
	}
	return c, nil
}

// LoadCalendar reads a YAML file of the form
//
//	holidays:
//	  - date: 2025-12-25
//	    name: Christmas Day
//	    recurring: true
//
// An empty path yields a weekends-only calendar.
func LoadCalendar(path string) (*Calendar, error) {
	if strings.TrimSpace(path) == "" {
		return NewCalendar(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read holiday calendar: %w", err)
	}
	var doc struct {
		Holidays []Holiday `yaml:"holidays"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse holiday calendar: %w", err)
	}
	return NewCalendar(doc.Holidays)
}

// IsBusinessDay reports a weekday that is not a holiday.
func (c *Calendar) IsBusinessDay(t time.Time) bool {
	if dates.IsWeekend(t) {
		return false
	}
	if c == nil {
		return true
	}
	if _, ok := c.fixed[dates.Format(t)]; ok {
		return false
	}
	_, ok := c.yearly[t.Format("01-02")]
	return !ok
}

// maxShift bounds the search for a business day; a longer run of closures
// means the calendar is wrong and the date is left alone.
const maxShift = 14

// Adjust moves t to the nearest business day in direction dir.
func (c *Calendar) Adjust(t time.Time, dir Direction) time.Time {
	step := 0
	switch dir {
	case Preceding:
		step = -1
	case Following:
		step = 1
	default:
		return t
	}
	d := t
	for i := 0; i < maxShift; i++ {
		if c.IsBusinessDay(d) {
			return d
		}
		d = d.AddDate(0, 0, step)
	}
	return t
}

// Predictor applies the per-source business-day rule to predicted dates.
// Bill due dates and income dates are adjusted independently because
// billers and payroll providers shift in different directions.
type Predictor struct {
	Calendar *Calendar
	Bills    Direction
	Income   Direction
}

// DueDate returns the business-day adjusted form of a predicted date.
func (p Predictor) DueDate(predicted time.Time, kind Kind) time.Time {
	dir := p.Bills
	if kind == Income {
		dir = p.Income
	}
	return p.Calendar.Adjust(predicted, dir)
}
