package templates

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jask/moneynudge/internal/dates"
	"github.com/jask/moneynudge/internal/pacing"
	"github.com/jask/moneynudge/internal/recurring"
)

// upcomingDays is how far ahead bill reminders look.
const upcomingDays = 7

// Money formats cents as dollars, ignoring sign.
func Money(cents int64) string {
	if cents < 0 {
		cents = -cents
	}
	return "$" + decimal.New(cents, -2).StringFixed(2)
}

func shortDay(t time.Time) string { return t.Format("Mon 2 Jan") }

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}

func fixedHeader(text string) func(Snapshot) string {
	return func(Snapshot) string { return text }
}

func greetingHeader(greeting string) func(Snapshot) string {
	return func(s Snapshot) string {
		if name := strings.TrimSpace(s.UserName); name != "" {
			return greeting + " " + name
		}
		return greeting
	}
}

func monthlyHeader(s Snapshot) string {
	prev := dates.MonthStart(s.Today).AddDate(0, -1, 0)
	return "MoneyNudge: " + prev.Format("January") + " recap"
}

// billsBetween returns bills whose due date falls in [from, to].
func billsBetween(s Snapshot, kind recurring.Kind, from, to time.Time) []Bill {
	var out []Bill
	for _, b := range s.Recurring {
		if b.Kind != kind || b.Due.Before(from) || b.Due.After(to) {
			continue
		}
		out = append(out, b)
	}
	return out
}

func billLine(b Bill) string {
	return fmt.Sprintf("%s %s %s", b.Name, Money(b.AverageCents), shortDay(b.Due))
}

func billTotal(bills []Bill) int64 {
	var total int64
	for _, b := range bills {
		total += b.AverageCents
	}
	return total
}

// billSections gives earlier bills higher priority.
func billSections(bills []Bill, base int) []section {
	out := make([]section, 0, len(bills))
	for i, b := range bills {
		out = append(out, section{priority: base - i, text: billLine(b)})
	}
	return out
}

type spendTotals struct {
	debits  int64
	credits int64
	count   int
	byLabel map[string]int64
}

func spendBetween(s Snapshot, from, to time.Time) spendTotals {
	st := spendTotals{byLabel: map[string]int64{}}
	for _, t := range s.Transactions {
		if t.Date.Before(from) || t.Date.After(to) {
			continue
		}
		if t.AmountCents < 0 {
			st.debits += -t.AmountCents
			st.count++
			st.byLabel[t.Label] += -t.AmountCents
		} else {
			st.credits += t.AmountCents
		}
	}
	return st
}

// topLabels lists the n labels with the most spend, largest first.
func (st spendTotals) topLabels(n int) []string {
	labels := make([]string, 0, len(st.byLabel))
	for l := range st.byLabel {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool {
		if st.byLabel[labels[i]] != st.byLabel[labels[j]] {
			return st.byLabel[labels[i]] > st.byLabel[labels[j]]
		}
		return labels[i] < labels[j]
	})
	if len(labels) > n {
		labels = labels[:n]
	}
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = fmt.Sprintf("%s %s", l, Money(st.byLabel[l]))
	}
	return out
}

func labelSections(lines []string, base int) []section {
	out := make([]section, 0, len(lines))
	for i, l := range lines {
		out = append(out, section{priority: base - i, text: l})
	}
	return out
}

func flagged(s Snapshot) []Pace {
	var out []Pace
	for _, p := range s.Pacing {
		if p.Status.Flagged() {
			out = append(out, p)
		}
	}
	return out
}

func paceLine(p Pace) string {
	verb := "ahead of"
	if p.Status == pacing.Under {
		verb = "behind"
	}
	return fmt.Sprintf("%s: %s so far, %.1fx %s usual pace", p.Name, Money(p.CurrentCents), p.Ratio, verb)
}

func paceSections(paces []Pace, base int) []section {
	out := make([]section, 0, len(paces))
	for i, p := range paces {
		out = append(out, section{priority: base - i, text: paceLine(p)})
	}
	return out
}

// recurring-summary

func recurringSummary(s Snapshot) (string, error) {
	bills := billsBetween(s, recurring.Bill, s.Today, s.Today.AddDate(0, 0, upcomingDays))
	if len(bills) == 0 {
		return "", ErrNothingToSend
	}
	return fmt.Sprintf("%s due in the next %d days, %s total", plural(len(bills), "bill", "bills"), upcomingDays, Money(billTotal(bills))), nil
}

func recurringSections(s Snapshot) []section {
	bills := billsBetween(s, recurring.Bill, s.Today, s.Today.AddDate(0, 0, upcomingDays))
	out := billSections(bills, 100)
	pay := billsBetween(s, recurring.Income, s.Today, s.Today.AddDate(0, 0, upcomingDays))
	if len(pay) > 0 {
		out = append(out, section{priority: 10, text: "Next pay: " + billLine(pay[0])})
	}
	return out
}

// activity

func yesterday(s Snapshot) time.Time { return s.Today.AddDate(0, 0, -1) }

func activitySummary(s Snapshot) (string, error) {
	day := yesterday(s)
	st := spendBetween(s, day, day)
	if st.count == 0 {
		return "", ErrNothingToSend
	}
	return fmt.Sprintf("Spent %s across %s", Money(st.debits), plural(st.count, "purchase", "purchases")), nil
}

func activitySections(s Snapshot) []section {
	day := yesterday(s)
	return labelSections(spendBetween(s, day, day).topLabels(3), 50)
}

// pacing-alert

func pacingSummary(s Snapshot) (string, error) {
	flags := flagged(s)
	if len(flags) == 0 {
		return "", ErrNothingToSend
	}
	over := 0
	for _, p := range flags {
		if p.Status == pacing.Over {
			over++
		}
	}
	return fmt.Sprintf("%s off pace, %d running hot", plural(len(flags), "area", "areas"), over), nil
}

func pacingSections(s Snapshot) []section {
	return paceSections(flagged(s), 100)
}

// weekly-summary

func lastWeek(s Snapshot) (time.Time, time.Time) {
	start := dates.WeekStart(s.Today).AddDate(0, 0, -7)
	return start, start.AddDate(0, 0, 6)
}

func weeklySummary(s Snapshot) (string, error) {
	from, to := lastWeek(s)
	st := spendBetween(s, from, to)
	line := fmt.Sprintf("Last week you spent %s over %s", Money(st.debits), plural(st.count, "purchase", "purchases"))
	if st.credits > 0 {
		line += fmt.Sprintf(", %s came in", Money(st.credits))
	}
	return line, nil
}

func weeklySections(s Snapshot) []section {
	from, to := lastWeek(s)
	out := labelSections(spendBetween(s, from, to).topLabels(3), 50)
	bills := billsBetween(s, recurring.Bill, s.Today, s.Today.AddDate(0, 0, 6))
	if len(bills) > 0 {
		out = append(out, section{priority: 80, text: fmt.Sprintf("This week: %s, %s", plural(len(bills), "bill", "bills"), Money(billTotal(bills)))})
	}
	return out
}

// monthly-summary

func lastMonth(s Snapshot) (time.Time, time.Time) {
	end := dates.MonthStart(s.Today).AddDate(0, 0, -1)
	return dates.MonthStart(end), end
}

func monthlySummary(s Snapshot) (string, error) {
	from, to := lastMonth(s)
	st := spendBetween(s, from, to)
	line := fmt.Sprintf("You spent %s over %s", Money(st.debits), plural(st.count, "purchase", "purchases"))
	if st.credits > 0 {
		line += fmt.Sprintf(", %s came in", Money(st.credits))
	}
	return line, nil
}

func monthlySections(s Snapshot) []section {
	from, to := lastMonth(s)
	out := labelSections(spendBetween(s, from, to).topLabels(5), 60)
	return append(out, paceSections(flagged(s), 40)...)
}

// morning-brief

func morningSummary(s Snapshot) (string, error) {
	today := billsBetween(s, recurring.Bill, s.Today, s.Today)
	if len(today) == 0 {
		return "Nothing due today", nil
	}
	return fmt.Sprintf("Due today: %s, %s", plural(len(today), "bill", "bills"), Money(billTotal(today))), nil
}

func morningSections(s Snapshot) []section {
	out := billSections(billsBetween(s, recurring.Bill, s.Today, s.Today), 100)
	out = append(out, billSections(billsBetween(s, recurring.Bill, s.Today.AddDate(0, 0, 1), s.Today.AddDate(0, 0, 3)), 70)...)
	return append(out, paceSections(flagged(s), 40)...)
}

// evening-brief

func eveningSummary(s Snapshot) (string, error) {
	st := spendBetween(s, s.Today, s.Today)
	if st.count == 0 {
		return "No spending today", nil
	}
	return fmt.Sprintf("Today you spent %s across %s", Money(st.debits), plural(st.count, "purchase", "purchases")), nil
}

func eveningSections(s Snapshot) []section {
	tomorrow := s.Today.AddDate(0, 0, 1)
	out := billSections(billsBetween(s, recurring.Bill, tomorrow, tomorrow), 90)
	for i, sec := range out {
		out[i].text = "Tomorrow: " + sec.text
	}
	return append(out, paceSections(flagged(s), 50)...)
}
