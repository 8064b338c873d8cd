// Package pacing compares spend in the current period against a trailing
// baseline for each tracked merchant or category.
package pacing

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jask/moneynudge/internal/dates"
	"github.com/jask/moneynudge/internal/recurring"
)

// Period is the length of one pacing window.
type Period string

const (
	Month Period = "month"
	Week  Period = "week"
)

// ParsePeriod accepts month or week; empty means month.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return Month, nil
	case Month, Week:
		return p, nil
	default:
		return "", fmt.Errorf("invalid pacing period %q", s)
	}
}

// Bounds returns the first and last day of the period containing day.
func (p Period) Bounds(day time.Time) (time.Time, time.Time) {
	if p == Week {
		start := dates.WeekStart(day)
		return start, start.AddDate(0, 0, 6)
	}
	start := dates.MonthStart(day)
	return start, start.AddDate(0, 0, dates.DaysInMonth(start)-1)
}

// Previous returns the bounds of the period before the one starting at start.
func (p Period) Previous(start time.Time) (time.Time, time.Time) {
	return p.Bounds(start.AddDate(0, 0, -1))
}

// KeyType is what a pacing record tracks.
type KeyType string

const (
	ByMerchant KeyType = "merchant"
	ByCategory KeyType = "category"
)

// ParseKeyType accepts merchant or category.
func ParseKeyType(s string) (KeyType, error) {
	switch k := KeyType(strings.ToLower(strings.TrimSpace(s))); k {
	case ByMerchant, ByCategory:
		return k, nil
	default:
		return "", fmt.Errorf("invalid pacing key type %q", s)
	}
}

// Uncategorized is the category key for transactions without one.
const Uncategorized = "uncategorized"

// Key returns the tracked key of a transaction for kt.
func Key(kt KeyType, raw string, enrichedMerchant, enrichedCategory *string) string {
	if kt == ByCategory {
		if enrichedCategory == nil || strings.TrimSpace(*enrichedCategory) == "" {
			return Uncategorized
		}
		return strings.ToLower(strings.TrimSpace(*enrichedCategory))
	}
	return recurring.NormalizeMerchantKey(recurring.MerchantLabel(raw, enrichedMerchant))
}

// Status is the outcome of comparing pace against baseline.
type Status string

const (
	Over       Status = "over"
	Under      Status = "under"
	OnPace     Status = "on-pace"
	NoBaseline Status = "no-baseline"
)

// Flagged reports statuses worth telling the user about.
func (s Status) Flagged() bool { return s == Over || s == Under }

// Epsilon floors the elapsed fraction so the first instant of a period does
// not divide by zero.
const Epsilon = 0.01

// Config tunes the tracker.
type Config struct {
	Period          Period
	BaselinePeriods int
	TopK            int
	OverThreshold   float64
	UnderThreshold  float64
}

// DefaultConfig matches the documented defaults.
func DefaultConfig() Config {
	return Config{
		Period:          Month,
		BaselinePeriods: 3,
		TopK:            5,
		OverThreshold:   1.3,
		UnderThreshold:  0.7,
	}
}

// Spend is one debit attributed to a tracked key, in positive cents.
type Spend struct {
	Date  time.Time
	Key   string
	Cents int64
}

// Snapshot is the recomputed state of one tracked key.
type Snapshot struct {
	Key           string
	BaselineCents int64
	CurrentCents  int64
	PeriodStart   time.Time
	PeriodEnd     time.Time
}

// Assessment is a snapshot evaluated on a given day.
type Assessment struct {
	Elapsed float64
	Ratio   float64
	Status  Status
}

// Tracker computes pacing snapshots.
type Tracker struct {
	cfg Config
}

// NewTracker fills zero config values with defaults.
func NewTracker(cfg Config) *Tracker {
	def := DefaultConfig()
	if cfg.Period == "" {
		cfg.Period = def.Period
	}
	if cfg.BaselinePeriods <= 0 {
		cfg.BaselinePeriods = def.BaselinePeriods
	}
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.OverThreshold <= 0 {
		cfg.OverThreshold = def.OverThreshold
	}
	if cfg.UnderThreshold <= 0 {
		cfg.UnderThreshold = def.UnderThreshold
	}
	return &Tracker{cfg: cfg}
}

// Config returns the effective configuration.
func (t *Tracker) Config() Config { return t.cfg }

// HistoryStart is the first day whose spend can affect a snapshot on today.
func (t *Tracker) HistoryStart(today time.Time) time.Time {
	start, _ := t.cfg.Period.Bounds(today)
	for i := 0; i < t.cfg.BaselinePeriods; i++ {
		start, _ = t.cfg.Period.Previous(start)
	}
	return start
}

// Compute builds the snapshot for key from spends. firstSeen is the date of
// the user's first transaction; completed periods ending before it are not
// part of the baseline.
func (t *Tracker) Compute(key string, spends []Spend, firstSeen, today time.Time) Snapshot {
	curStart, curEnd := t.cfg.Period.Bounds(today)
	snap := Snapshot{Key: key, PeriodStart: curStart, PeriodEnd: curEnd}

	type window struct{ start, end time.Time }
	var windows []window
	start := curStart
	for i := 0; i < t.cfg.BaselinePeriods; i++ {
		ps, pe := t.cfg.Period.Previous(start)
		if !firstSeen.IsZero() && pe.Before(firstSeen) {
			break
		}
		windows = append(windows, window{ps, pe})
		start = ps
	}

	totals := make([]int64, len(windows))
	for _, s := range spends {
		if s.Key != key {
			continue
		}
		if !s.Date.Before(curStart) && !s.Date.After(today) {
			snap.CurrentCents += s.Cents
			continue
		}
		for i, w := range windows {
			if !s.Date.Before(w.start) && !s.Date.After(w.end) {
				totals[i] += s.Cents
				break
			}
		}
	}
	if len(windows) > 0 {
		sum := decimal.Zero
		for _, v := range totals {
			sum = sum.Add(decimal.NewFromInt(v))
		}
		snap.BaselineCents = sum.Div(decimal.NewFromInt(int64(len(windows)))).Round(0).IntPart()
	}
	return snap
}

// ElapsedFraction is the share of the period that has passed, counting
// today as elapsed.
func ElapsedFraction(start, end, today time.Time) float64 {
	total := dates.DaysBetween(start, end) + 1
	if total <= 0 {
		return 1
	}
	elapsed := dates.DaysBetween(start, today) + 1
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > total {
		elapsed = total
	}
	return float64(elapsed) / float64(total)
}

// PaceRatio projects current spend over the whole period and divides by the
// baseline. ok is false when there is no positive baseline.
func PaceRatio(current, baseline, elapsed float64) (ratio float64, ok bool) {
	if baseline <= 0 {
		return 0, false
	}
	if elapsed < Epsilon {
		elapsed = Epsilon
	}
	return (current / elapsed) / baseline, true
}

// Classify maps a ratio to a status.
func (t *Tracker) Classify(ratio float64) Status {
	switch {
	case ratio > t.cfg.OverThreshold:
		return Over
	case ratio < t.cfg.UnderThreshold:
		return Under
	default:
		return OnPace
	}
}

// Assess evaluates a snapshot on today.
func (t *Tracker) Assess(s Snapshot, today time.Time) Assessment {
	a := Assessment{Elapsed: ElapsedFraction(s.PeriodStart, s.PeriodEnd, today)}
	ratio, ok := PaceRatio(float64(s.CurrentCents), float64(s.BaselineCents), a.Elapsed)
	if !ok {
		a.Status = NoBaseline
		return a
	}
	a.Ratio = ratio
	a.Status = t.Classify(ratio)
	return a
}

// AutoSelect ranks keys by total spend descending and returns the top k,
// breaking ties alphabetically.
func AutoSelect(spends []Spend, k int) []string {
	totals := map[string]int64{}
	for _, s := range spends {
		if s.Key == "" || s.Cents <= 0 {
			continue
		}
		totals[s.Key] += s.Cents
	}
	keys := make([]string, 0, len(totals))
	for key := range totals {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if totals[keys[i]] != totals[keys[j]] {
			return totals[keys[i]] > totals[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if k > 0 && len(keys) > k {
		keys = keys[:k]
	}
	return keys
}
