package cli

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/require"

	"github.com/jask/moneynudge/internal/database/repository"
	"github.com/jask/moneynudge/internal/dates"
	"github.com/jask/moneynudge/internal/pacing"
	"github.com/jask/moneynudge/internal/recurring"
	"github.com/jask/moneynudge/internal/service"
)

func TestRenderTableAlignsColumns(t *testing.T) {
	t.Parallel()
	out := RenderTable(Table{
		Headers: []string{"Name", "Amount"},
		Rows:    [][]string{{"gym", "$49.99"}, {"streaming", "$9.99"}},
	})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 6)
	w := lipgloss.Width(lines[0])
	for _, l := range lines {
		require.Equal(t, w, lipgloss.Width(l), l)
	}
	require.Contains(t, out, "streaming")
	require.Contains(t, out, " $9.99 ")
	require.Empty(t, RenderTable(Table{}))
}

func TestRenderRunListsUnits(t *testing.T) {
	t.Parallel()
	start := time.Date(2025, 4, 3, 12, 0, 0, 0, time.UTC)
	out := RenderRun(service.RunSummary{
		Source:     "cli",
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Users:      1,
		Refreshed:  1,
		Units: []service.UnitResult{
			{UserID: "u1", Template: "recurring-summary", Status: service.UnitSent},
			{UserID: "u1", Template: "activity", Status: service.UnitFailed, Err: errors.New("carrier unavailable")},
			{UserID: "u1", Template: "weekly-summary", Status: service.UnitNotDue},
		},
	})
	require.Contains(t, out, "recurring-summary")
	require.Contains(t, out, "carrier unavailable")
	require.NotContains(t, out, "weekly-summary")
	require.Contains(t, out, "1.5s")
}

func TestRenderLedgerAndRecords(t *testing.T) {
	t.Parallel()
	msg := "log-1"
	out := RenderLedger([]repository.NotificationLog{{
		UserID: "u1", TemplateType: "activity", SendDate: dates.MustParse("2025-04-03"),
		Status: repository.StatusSent, Attempts: 1, SourceEndpoint: "cron", ProviderMessageID: &msg,
	}})
	require.Contains(t, out, "2025-04-03")
	require.Contains(t, out, "log-1")
	require.Contains(t, RenderLedger(nil), "no ledger rows")

	next := dates.MustParse("2025-04-05")
	out = RenderRecurring([]repository.RecurringMerchant{{
		DisplayName: "Acme Gym", Kind: recurring.Bill, Frequency: recurring.Monthly, AverageCents: 4999,
		Occurrences: 3, LastOccurrence: dates.MustParse("2025-03-05"), NextPredictedDate: &next, IsActive: true,
	}}, recurring.Predictor{Bills: recurring.Following})
	require.Contains(t, out, "2025-04-07")
	require.Contains(t, out, "$49.99")

	today := dates.MustParse("2025-04-15")
	out = RenderPacing([]repository.PacingRecord{{
		TrackedKey: "groceries", KeyType: pacing.ByCategory, Selection: repository.SelectionAuto,
		BaselineCents: 30000, CurrentCents: 20000,
		PeriodStart: dates.MustParse("2025-04-01"), PeriodEnd: dates.MustParse("2025-04-30"), IsActive: true,
	}}, pacing.NewTracker(pacing.DefaultConfig()), today)
	require.Contains(t, out, "groceries")
	require.Contains(t, out, "50%")
	require.Contains(t, out, "1.33x")
}
