package service

import (
	"context"
	"time"

	"github.com/jask/moneynudge/internal/database/repository"
	"github.com/jask/moneynudge/internal/pacing"
	"github.com/jask/moneynudge/internal/recurring"
	"github.com/jask/moneynudge/internal/templates"
)

// Snapshotter gathers what a template needs for one user and day.
type Snapshotter struct {
	Transactions *repository.TransactionRepo
	Recurring    *repository.RecurringRepo
	Pacing       *repository.PacingRepo
	Predictor    recurring.Predictor
	Tracker      *pacing.Tracker
}

// Build reads only the data t declares it needs.
func (s *Snapshotter) Build(ctx context.Context, u repository.User, t templates.Type, today time.Time) (templates.Snapshot, error) {
	snap := templates.Snapshot{UserName: u.Name, Today: today}
	needs := t.Needs()

	if needs&templates.NeedsRecurring != 0 {
		recs, err := s.Recurring.ListActive(ctx, u.ID)
		if err != nil {
			return snap, infra("snapshot recurring", err)
		}
		for _, m := range recs {
			if m.NextPredictedDate == nil {
				continue
			}
			snap.Recurring = append(snap.Recurring, templates.Bill{
				Name:         m.DisplayName,
				Kind:         m.Kind,
				AverageCents: m.AverageCents,
				Due:          s.Predictor.DueDate(*m.NextPredictedDate, m.Kind),
			})
		}
	}

	if needs&templates.NeedsPacing != 0 {
		recs, err := s.Pacing.ListByUser(ctx, u.ID, true)
		if err != nil {
			return snap, infra("snapshot pacing", err)
		}
		for _, p := range recs {
			a := s.Tracker.Assess(p.Snapshot(), today)
			snap.Pacing = append(snap.Pacing, templates.Pace{
				Name:          recurring.DisplayName(p.TrackedKey),
				CurrentCents:  p.CurrentCents,
				BaselineCents: p.BaselineCents,
				Ratio:         a.Ratio,
				Status:        a.Status,
			})
		}
	}

	if needs&templates.NeedsTransactions != 0 {
		txns, err := s.Transactions.ListRange(ctx, u.ID, templates.TransactionWindow(today), today)
		if err != nil {
			return snap, infra("snapshot transactions", err)
		}
		for _, tx := range txns {
			label := recurring.DisplayName(recurring.NormalizeMerchantKey(recurring.MerchantLabel(tx.RawDescription, tx.EnrichedMerchantName)))
			if label == "" {
				label = tx.RawDescription
			}
			snap.Transactions = append(snap.Transactions, templates.Txn{Date: tx.Date, Label: label, AmountCents: tx.AmountCents})
		}
	}
	return snap, nil
}
