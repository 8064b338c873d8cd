// Package recurring finds merchants a user pays (or is paid by) on a
// regular schedule and predicts when they will occur next.
package recurring

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jask/moneynudge/internal/dates"
)

// Transaction is the slice of a stored transaction the detector reads.
type Transaction struct {
	Date             time.Time
	AmountCents      int64
	RawDescription   string
	EnrichedMerchant *string
}

// Config tunes detection.
type Config struct {
	LookbackDays  int
	MaxAmountRSD  float64
	OutlierFactor float64
	MergeRatio    float64
}

// DefaultConfig matches the documented defaults.
func DefaultConfig() Config {
	return Config{
		LookbackDays:  400,
		MaxAmountRSD:  0.20,
		OutlierFactor: 10,
		MergeRatio:    0.15,
	}
}

// Candidate is one merchant pattern found in a user's history.
type Candidate struct {
	MerchantKey    string
	DisplayName    string
	Kind           Kind
	Frequency      Frequency
	AverageCents   int64
	LastOccurrence time.Time
	Occurrences    int
	// Rejection explains why a periodic-looking pattern is not a bill.
	Rejection string
	// Issue is set when the history contradicts itself.
	Issue string
}

// Confirmed reports a candidate that should become an active record.
func (c Candidate) Confirmed() bool {
	return c.Frequency.Periodic() && c.Rejection == "" && c.Issue == ""
}

// Detector classifies merchants in a transaction history.
type Detector struct {
	cfg Config
}

// NewDetector fills zero config values with defaults.
func NewDetector(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = def.LookbackDays
	}
	if cfg.MaxAmountRSD <= 0 {
		cfg.MaxAmountRSD = def.MaxAmountRSD
	}
	if cfg.OutlierFactor <= 0 {
		cfg.OutlierFactor = def.OutlierFactor
	}
	if cfg.MergeRatio < 0 {
		cfg.MergeRatio = def.MergeRatio
	}
	return &Detector{cfg: cfg}
}

// LookbackStart is the first day included in a scan on today.
func (d *Detector) LookbackStart(today time.Time) time.Time {
	return today.AddDate(0, 0, -d.cfg.LookbackDays)
}

type occurrence struct {
	date   time.Time
	amount int64
}

type groupKey struct {
	kind Kind
	key  string
}

// Detect groups txns by merchant and classifies each group. Candidates with
// a single occurrence are omitted. Output is sorted by kind then key.
func (d *Detector) Detect(txns []Transaction, today time.Time) []Candidate {
	start := d.LookbackStart(today)

	type raw struct {
		kind Kind
		key  string
		occ  occurrence
	}
	var rows []raw
	counts := map[string]int{}
	for _, t := range txns {
		if t.AmountCents == 0 || t.Date.Before(start) {
			continue
		}
		key := NormalizeMerchantKey(MerchantLabel(t.RawDescription, t.EnrichedMerchant))
		if key == "" {
			continue
		}
		kind := Bill
		amount := -t.AmountCents
		if t.AmountCents > 0 {
			kind = Income
			amount = t.AmountCents
		}
		rows = append(rows, raw{kind: kind, key: key, occ: occurrence{date: t.Date, amount: amount}})
		counts[key]++
	}

	canonical := MergeKeys(counts, d.cfg.MergeRatio)
	groups := map[groupKey][]occurrence{}
	for _, r := range rows {
		gk := groupKey{kind: r.kind, key: canonical[r.key]}
		groups[gk] = append(groups[gk], r.occ)
	}

	var out []Candidate
	for gk, occ := range groups {
		if len(occ) < 2 {
			continue
		}
		out = append(out, d.classify(gk, occ, today))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].MerchantKey < out[j].MerchantKey
	})
	return out
}

func (d *Detector) classify(gk groupKey, occ []occurrence, today time.Time) Candidate {
	sort.Slice(occ, func(i, j int) bool {
		if !occ[i].date.Equal(occ[j].date) {
			return occ[i].date.Before(occ[j].date)
		}
		return occ[i].amount < occ[j].amount
	})
	amounts := make([]int64, len(occ))
	for i, o := range occ {
		amounts[i] = o.amount
	}

	c := Candidate{
		MerchantKey:    gk.key,
		DisplayName:    DisplayName(gk.key),
		Kind:           gk.kind,
		AverageCents:   averageCents(amounts),
		LastOccurrence: occ[len(occ)-1].date,
		Occurrences:    len(occ),
	}

	if last := occ[len(occ)-1].date; last.After(today) {
		c.Frequency = Unconfirmed
		c.Issue = fmt.Sprintf("occurrence dated %s is after scan day %s", dates.Format(last), dates.Format(today))
		return c
	}
	for i := 1; i < len(occ); i++ {
		if occ[i].date.Equal(occ[i-1].date) {
			c.Frequency = Unconfirmed
			c.Issue = fmt.Sprintf("two occurrences on %s", dates.Format(occ[i].date))
			return c
		}
	}
	if med := median(amounts); med > 0 {
		for _, a := range amounts {
			if float64(a) > d.cfg.OutlierFactor*float64(med) {
				c.Frequency = Unconfirmed
				c.Issue = fmt.Sprintf("amount %d cents is over %.0fx the median %d", a, d.cfg.OutlierFactor, med)
				return c
			}
		}
	}

	if len(occ) == 2 {
		c.Frequency = Unconfirmed
		return c
	}

	deltas := make([]int, 0, len(occ)-1)
	for i := 1; i < len(occ); i++ {
		deltas = append(deltas, dates.DaysBetween(occ[i-1].date, occ[i].date))
	}
	c.Frequency = classifyDeltas(deltas)
	if !c.Frequency.Periodic() {
		c.Rejection = "irregular interval"
		return c
	}
	if rsd := relativeStdDev(amounts); rsd > d.cfg.MaxAmountRSD {
		c.Rejection = fmt.Sprintf("amount varies %.0f%%", rsd*100)
	}
	return c
}

type band struct {
	freq     Frequency
	min, max int
}

var bands = []band{
	{Weekly, 7 - 2, 7 + 2},
	{Monthly, 28 - 4, 31 + 4},
	{Quarterly, 90 - 10, 90 + 10},
}

func classifyDeltas(deltas []int) Frequency {
	for _, b := range bands {
		ok := true
		for _, d := range deltas {
			if d < b.min || d > b.max {
				ok = false
				break
			}
		}
		if ok {
			return b.freq
		}
	}
	return Irregular
}

func averageCents(amounts []int64) int64 {
	if len(amounts) == 0 {
		return 0
	}
	sum := decimal.Zero
	for _, a := range amounts {
		sum = sum.Add(decimal.NewFromInt(a))
	}
	return sum.Div(decimal.NewFromInt(int64(len(amounts)))).Round(0).IntPart()
}

func median(amounts []int64) int64 {
	s := append([]int64(nil), amounts...)
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	n := len(s)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

func relativeStdDev(amounts []int64) float64 {
	if len(amounts) == 0 {
		return 0
	}
	var mean float64
	for _, a := range amounts {
		mean += float64(a)
	}
	mean /= float64(len(amounts))
	if mean == 0 {
		return math.Inf(1)
	}
	var ss float64
	for _, a := range amounts {
		diff := float64(a) - mean
		ss += diff * diff
	}
	return math.Sqrt(ss/float64(len(amounts))) / mean
}
