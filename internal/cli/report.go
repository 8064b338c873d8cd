package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jask/moneynudge/internal/database/repository"
	"github.com/jask/moneynudge/internal/dates"
	"github.com/jask/moneynudge/internal/pacing"
	"github.com/jask/moneynudge/internal/recurring"
	"github.com/jask/moneynudge/internal/service"
	"github.com/jask/moneynudge/internal/templates"
)

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// RenderRun renders a run summary followed by every unit that did not end
// as not-due.
func RenderRun(sum service.RunSummary) string {
	var b strings.Builder
	title := "Run " + sum.Source
	if sum.Aborted {
		title += " (aborted)"
	}
	b.WriteString(RenderTitle(title) + "\n")
	b.WriteString(KeyValues([][2]string{
		{"users", strconv.Itoa(sum.Users)},
		{"refreshed", fmt.Sprintf("%d ok, %d skipped, %d failed", sum.Refreshed, sum.RefreshSkipped, sum.RefreshFailed)},
		{"recurring", fmt.Sprintf("%d confirmed, %d rolled forward, %d deactivated", sum.Confirmed, sum.RolledForward, sum.Deactivated)},
		{"sent", strconv.Itoa(sum.Count(service.UnitSent))},
		{"failed", strconv.Itoa(sum.Count(service.UnitFailed))},
		{"skipped", strconv.Itoa(sum.Count(service.UnitSkipped))},
		{"deduped", strconv.Itoa(sum.Count(service.UnitDeduped))},
		{"not due", strconv.Itoa(sum.Count(service.UnitNotDue))},
		{"took", sum.FinishedAt.Sub(sum.StartedAt).Round(time.Millisecond).String()},
	}))
	if sum.AbortReason != "" {
		b.WriteString("  " + errStyle.Render("abort: "+sum.AbortReason) + "\n")
	}

	var rows [][]string
	for _, u := range sum.Units {
		if u.Status == service.UnitNotDue {
			continue
		}
		detail := u.Reason
		if u.Err != nil {
			detail = u.Err.Error()
		}
		rows = append(rows, []string{u.UserID, u.Template, Status(string(u.Status)), truncate(detail, 60)})
	}
	if len(rows) > 0 {
		b.WriteString("\n")
		b.WriteString(RenderTable(Table{
			Headers:   []string{"User", "Template", "Status", "Detail"},
			Rows:      rows,
			LeftAlign: map[int]bool{1: true, 2: true, 3: true},
		}))
	}
	return b.String()
}

// RenderLedger renders notification log rows.
func RenderLedger(rows []repository.NotificationLog) string {
	if len(rows) == 0 {
		return Muted("  no ledger rows") + "\n"
	}
	out := make([][]string, 0, len(rows))
	for _, n := range rows {
		out = append(out, []string{
			dates.Format(n.SendDate),
			n.UserID,
			n.TemplateType,
			Status(string(n.Status)),
			strconv.Itoa(n.Attempts),
			n.SourceEndpoint,
			truncate(deref(n.ProviderMessageID), 24),
			truncate(deref(n.Error), 40),
		})
	}
	return RenderTable(Table{
		Title:     "Notification log",
		Headers:   []string{"Day", "User", "Template", "Status", "Tries", "Source", "Provider ID", "Error"},
		Rows:      out,
		LeftAlign: map[int]bool{1: true, 2: true, 3: true, 5: true, 6: true, 7: true},
	})
}

// RenderRecurring renders a user's recurring merchants with the due date
// that would be shown in a message.
func RenderRecurring(recs []repository.RecurringMerchant, p recurring.Predictor) string {
	if len(recs) == 0 {
		return Muted("  no recurring merchants") + "\n"
	}
	rows := make([][]string, 0, len(recs))
	for _, m := range recs {
		next, due := "-", "-"
		if m.NextPredictedDate != nil {
			next = dates.Format(*m.NextPredictedDate)
			due = dates.Format(p.DueDate(*m.NextPredictedDate, m.Kind))
		}
		state := okStyle.Render("active")
		if !m.IsActive {
			state = mutedStyle.Render("inactive")
		}
		rows = append(rows, []string{
			m.DisplayName, string(m.Kind), string(m.Frequency), templates.Money(m.AverageCents),
			strconv.Itoa(m.Occurrences), dates.Format(m.LastOccurrence), next, due, state, truncate(deref(m.Issue), 40),
		})
	}
	return RenderTable(Table{
		Title:     "Recurring",
		Headers:   []string{"Merchant", "Kind", "Every", "Avg", "Seen", "Last", "Next", "Due", "State", "Note"},
		Rows:      rows,
		LeftAlign: map[int]bool{1: true, 2: true, 8: true, 9: true},
	})
}

// RenderPacing renders a user's pacing records assessed on today.
func RenderPacing(recs []repository.PacingRecord, t *pacing.Tracker, today time.Time) string {
	if len(recs) == 0 {
		return Muted("  nothing tracked") + "\n"
	}
	rows := make([][]string, 0, len(recs))
	for _, p := range recs {
		a := t.Assess(p.Snapshot(), today)
		ratio := "-"
		if a.Status != pacing.NoBaseline {
			ratio = fmt.Sprintf("%.2fx", a.Ratio)
		}
		status := string(a.Status)
		switch a.Status {
		case pacing.Over:
			status = errStyle.Render(status)
		case pacing.Under:
			status = warnStyle.Render(status)
		case pacing.OnPace:
			status = okStyle.Render(status)
		default:
			status = mutedStyle.Render(status)
		}
		rows = append(rows, []string{
			p.TrackedKey, string(p.KeyType), string(p.Selection),
			templates.Money(p.CurrentCents), templates.Money(p.BaselineCents),
			fmt.Sprintf("%.0f%%", a.Elapsed*100), ratio, status,
		})
	}
	return RenderTable(Table{
		Title:     "Pacing " + dates.Format(recs[0].PeriodStart) + " to " + dates.Format(recs[0].PeriodEnd),
		Headers:   []string{"Key", "By", "Picked", "Current", "Baseline", "Elapsed", "Pace", "Status"},
		Rows:      rows,
		LeftAlign: map[int]bool{1: true, 2: true, 7: true},
	})
}
