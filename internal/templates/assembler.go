package templates

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jask/moneynudge/internal/dates"
	"github.com/jask/moneynudge/internal/pacing"
	"github.com/jask/moneynudge/internal/recurring"
)

// ErrNothingToSend means the snapshot has nothing worth a message for this
// template today.
var ErrNothingToSend = errors.New("templates: nothing to send")

// DefaultBudget fits two SMS segments.
const DefaultBudget = 320

const ellipsis = "..."

// Bill is an active recurring merchant with its business-day adjusted date.
type Bill struct {
	Name         string
	Kind         recurring.Kind
	AverageCents int64
	Due          time.Time
}

// Pace is one tracked key evaluated on the snapshot day.
type Pace struct {
	Name          string
	CurrentCents  int64
	BaselineCents int64
	Ratio         float64
	Status        pacing.Status
}

// Txn is a transaction as templates see it. Debits are negative.
type Txn struct {
	Date        time.Time
	Label       string
	AmountCents int64
}

// Snapshot is everything a render reads. Two equal snapshots render to the
// same bytes.
type Snapshot struct {
	UserName     string
	Today        time.Time
	Recurring    []Bill
	Pacing       []Pace
	Transactions []Txn
}

// TransactionWindow is the first day any template reads transactions from
// when rendering on today: the start of last month, which also covers last
// week.
func TransactionWindow(today time.Time) time.Time {
	return dates.MonthStart(today).AddDate(0, -1, 0)
}

type section struct {
	priority int
	text     string
}

// Assembler renders templates within a character budget.
type Assembler struct {
	Budget int
}

// NewAssembler returns an assembler; a non-positive budget means
// DefaultBudget.
func NewAssembler(budget int) *Assembler {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Assembler{Budget: budget}
}

func (a *Assembler) budgetFor(d definition) int {
	if d.budget > 0 {
		return d.budget
	}
	if a.Budget > 0 {
		return a.Budget
	}
	return DefaultBudget
}

// Render builds the message text for t.
func (a *Assembler) Render(t Type, s Snapshot) (string, error) {
	if !t.valid() {
		return "", fmt.Errorf("render: unknown template type %d", int(t))
	}
	s = normalize(s)
	d := definitions[t]
	summary, err := d.summary(s)
	if err != nil {
		return "", err
	}
	var secs []section
	if d.sections != nil {
		secs = d.sections(s)
	}
	return fit(d.header(s), summary, secs, a.budgetFor(d)), nil
}

// fit joins header, summary and sections one per line, dropping sections
// lowest priority first (later position first on ties) until the text fits
// budget. If header and summary alone are too long, the summary is cut.
func fit(header, summary string, secs []section, budget int) string {
	kept := make([]section, 0, len(secs))
	for _, s := range secs {
		if s.text != "" {
			kept = append(kept, s)
		}
	}
	compose := func() string {
		lines := []string{header, summary}
		for _, s := range kept {
			lines = append(lines, s.text)
		}
		return strings.Join(lines, "\n")
	}
	for len(kept) > 0 && runeLen(compose()) > budget {
		drop := len(kept) - 1
		for i := len(kept) - 2; i >= 0; i-- {
			if kept[i].priority < kept[drop].priority {
				drop = i
			}
		}
		kept = append(kept[:drop], kept[drop+1:]...)
	}
	text := compose()
	if runeLen(text) <= budget {
		return text
	}
	room := budget - runeLen(header) - 1
	if room < utf8.RuneCountInString(ellipsis) {
		return cut(header, budget)
	}
	return header + "\n" + cut(summary, room)
}

func cut(s string, n int) string {
	if runeLen(s) <= n {
		return s
	}
	if n <= len(ellipsis) {
		return string([]rune(s)[:n])
	}
	r := []rune(s)[:n-len(ellipsis)]
	return strings.TrimRight(string(r), " ") + ellipsis
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

// normalize sorts snapshot slices so caller ordering never reaches the text.
func normalize(s Snapshot) Snapshot {
	bills := append([]Bill(nil), s.Recurring...)
	sort.SliceStable(bills, func(i, j int) bool {
		if !bills[i].Due.Equal(bills[j].Due) {
			return bills[i].Due.Before(bills[j].Due)
		}
		if bills[i].Name != bills[j].Name {
			return bills[i].Name < bills[j].Name
		}
		return bills[i].AverageCents < bills[j].AverageCents
	})
	paces := append([]Pace(nil), s.Pacing...)
	sort.SliceStable(paces, func(i, j int) bool {
		di, dj := deviation(paces[i].Ratio), deviation(paces[j].Ratio)
		if di != dj {
			return di > dj
		}
		return paces[i].Name < paces[j].Name
	})
	txns := append([]Txn(nil), s.Transactions...)
	sort.SliceStable(txns, func(i, j int) bool {
		if !txns[i].Date.Equal(txns[j].Date) {
			return txns[i].Date.Before(txns[j].Date)
		}
		if txns[i].AmountCents != txns[j].AmountCents {
			return txns[i].AmountCents < txns[j].AmountCents
		}
		return txns[i].Label < txns[j].Label
	})
	s.Recurring, s.Pacing, s.Transactions = bills, paces, txns
	return s
}

func deviation(r float64) float64 {
	if r < 1 {
		return 1 - r
	}
	return r - 1
}
