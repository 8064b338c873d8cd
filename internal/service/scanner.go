package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jask/moneynudge/internal/apperrors"
	"github.com/jask/moneynudge/internal/database/repository"
	"github.com/jask/moneynudge/internal/dates"
	"github.com/jask/moneynudge/internal/pacing"
	"github.com/jask/moneynudge/internal/recurring"
)

// Scanner refreshes one user's derived state: recurring merchants and
// pacing records.
type Scanner struct {
	Transactions *repository.TransactionRepo
	Recurring    *repository.RecurringRepo
	Pacing       *repository.PacingRepo
	Detector     *recurring.Detector
	Tracker      *pacing.Tracker
	TrackBy      pacing.KeyType
}

// RefreshResult counts what a refresh changed.
type RefreshResult struct {
	RolledForward int
	Deactivated   int
	Confirmed     int
	Surfaced      int
	Inconsistent  int
	Tracked       int
	Candidates    []recurring.Candidate
}

func infra(op string, err error) error {
	return apperrors.Wrap(apperrors.Infrastructure, op, err)
}

// Refresh corrects stale predictions, re-runs detection and recomputes
// pacing for userID as of today (the user's local day). A user without
// transactions gets a Validation error after the correction pass.
func (s *Scanner) Refresh(ctx context.Context, userID string, today time.Time) (RefreshResult, error) {
	var res RefreshResult
	if err := s.correct(ctx, userID, today, &res); err != nil {
		return res, err
	}

	first, ok, err := s.Transactions.FirstDate(ctx, userID)
	if err != nil {
		return res, infra("first transaction", err)
	}
	if !ok {
		return res, apperrors.New(apperrors.Validation, "refresh "+userID+": no transactions")
	}

	from := s.Detector.LookbackStart(today)
	if hs := s.Tracker.HistoryStart(today); hs.Before(from) {
		from = hs
	}
	// future-dated rows are read so the detector can report them
	txns, err := s.Transactions.ListRange(ctx, userID, from, today.AddDate(1, 0, 0))
	if err != nil {
		return res, infra("list transactions", err)
	}
	if err := s.detect(ctx, userID, txns, today, &res); err != nil {
		return res, err
	}
	if err := s.recomputePacing(ctx, userID, txns, first, today, &res); err != nil {
		return res, err
	}
	return res, nil
}

// correct enforces that no active record has a next date before today. A
// record whose expected occurrence is overdue by more than twice its
// interval is deactivated instead of rolled.
func (s *Scanner) correct(ctx context.Context, userID string, today time.Time, res *RefreshResult) error {
	stale, err := s.Recurring.ListStale(ctx, userID, today)
	if err != nil {
		return infra("list stale recurring", err)
	}
	for _, m := range stale {
		if !m.Frequency.Periodic() || recurring.Missed(m.LastOccurrence, m.Frequency, today) {
			reason := fmt.Sprintf("missed expected occurrence after %s", dates.Format(m.LastOccurrence))
			if err := s.Recurring.Deactivate(ctx, m.ID, m.Frequency, reason); err != nil {
				return infra("deactivate recurring", err)
			}
			log.Printf("recurring deactivated user=%s merchant=%q reason=%q", userID, m.MerchantKey, reason)
			res.Deactivated++
			continue
		}
		next, steps, err := recurring.RollForward(*m.NextPredictedDate, m.Frequency, today)
		if err != nil {
			return apperrors.Wrap(apperrors.DataInconsistency, "roll forward "+m.MerchantKey, err)
		}
		if err := s.Recurring.SetNext(ctx, m.ID, next); err != nil {
			return infra("roll forward recurring", err)
		}
		log.Printf("recurring rolled forward user=%s merchant=%q from=%s to=%s steps=%d",
			userID, m.MerchantKey, dates.Format(*m.NextPredictedDate), dates.Format(next), steps)
		res.RolledForward++
	}
	return nil
}

type recurringKey struct {
	kind recurring.Kind
	key  string
}

func (s *Scanner) detect(ctx context.Context, userID string, txns []repository.Transaction, today time.Time, res *RefreshResult) error {
	in := make([]recurring.Transaction, 0, len(txns))
	for _, t := range txns {
		in = append(in, recurring.Transaction{
			Date:             t.Date,
			AmountCents:      t.AmountCents,
			RawDescription:   t.RawDescription,
			EnrichedMerchant: t.EnrichedMerchantName,
		})
	}
	res.Candidates = s.Detector.Detect(in, today)

	existing, err := s.Recurring.ListByUser(ctx, userID)
	if err != nil {
		return infra("list recurring", err)
	}
	byKey := make(map[recurringKey]repository.RecurringMerchant, len(existing))
	for _, m := range existing {
		byKey[recurringKey{m.Kind, m.MerchantKey}] = m
	}

	for _, c := range res.Candidates {
		cur, found := byKey[recurringKey{c.Kind, c.MerchantKey}]
		switch {
		case c.Issue != "":
			res.Inconsistent++
			log.Printf("recurring inconsistency user=%s merchant=%q issue=%q", userID, c.MerchantKey, c.Issue)
			if found && cur.IsActive {
				if err := s.Recurring.Deactivate(ctx, cur.ID, recurring.Unconfirmed, c.Issue); err != nil {
					return infra("deactivate recurring", err)
				}
				res.Deactivated++
				continue
			}
			if err := s.Recurring.Upsert(ctx, recordFor(userID, c, false, nil)); err != nil {
				return infra("upsert recurring", err)
			}
		case c.Confirmed():
			if recurring.Missed(c.LastOccurrence, c.Frequency, today) {
				if found && cur.IsActive {
					reason := fmt.Sprintf("missed expected occurrence after %s", dates.Format(c.LastOccurrence))
					if err := s.Recurring.Deactivate(ctx, cur.ID, c.Frequency, reason); err != nil {
						return infra("deactivate recurring", err)
					}
					res.Deactivated++
				}
				continue
			}
			predicted, err := recurring.PredictNext(c.LastOccurrence, c.Frequency)
			if err != nil {
				return apperrors.Wrap(apperrors.DataInconsistency, "predict "+c.MerchantKey, err)
			}
			// a prediction landing on today is still due today
			next := predicted
			if predicted.Before(today) {
				if next, _, err = recurring.RollForward(predicted, c.Frequency, today); err != nil {
					return apperrors.Wrap(apperrors.DataInconsistency, "predict "+c.MerchantKey, err)
				}
			}
			if err := s.Recurring.Upsert(ctx, recordFor(userID, c, true, &next)); err != nil {
				return infra("upsert recurring", err)
			}
			res.Confirmed++
		default:
			// surfaced only; an active record keeps its state until the
			// deactivation rule fires
			if found && cur.IsActive {
				continue
			}
			if err := s.Recurring.Upsert(ctx, recordFor(userID, c, false, nil)); err != nil {
				return infra("upsert recurring", err)
			}
			res.Surfaced++
		}
	}
	return nil
}

func recordFor(userID string, c recurring.Candidate, active bool, next *time.Time) repository.RecurringMerchant {
	m := repository.RecurringMerchant{
		UserID:            userID,
		MerchantKey:       c.MerchantKey,
		DisplayName:       c.DisplayName,
		Kind:              c.Kind,
		IsActive:          active,
		Frequency:         c.Frequency,
		AverageCents:      c.AverageCents,
		Occurrences:       c.Occurrences,
		LastOccurrence:    c.LastOccurrence,
		NextPredictedDate: next,
	}
	switch {
	case c.Issue != "":
		issue := c.Issue
		m.Issue = &issue
	case c.Rejection != "":
		reason := c.Rejection
		m.Issue = &reason
	}
	return m
}

// spends attributes each debit in txns up to today to its tracked key.
func spends(kt pacing.KeyType, txns []repository.Transaction, today time.Time) []pacing.Spend {
	var out []pacing.Spend
	for _, t := range txns {
		if t.AmountCents >= 0 || t.Date.After(today) {
			continue
		}
		key := pacing.Key(kt, t.RawDescription, t.EnrichedMerchantName, t.EnrichedCategory)
		if key == "" {
			continue
		}
		out = append(out, pacing.Spend{Date: t.Date, Key: key, Cents: -t.AmountCents})
	}
	return out
}

func (s *Scanner) recomputePacing(ctx context.Context, userID string, txns []repository.Transaction, first, today time.Time, res *RefreshResult) error {
	recs, err := s.Pacing.ListByUser(ctx, userID, false)
	if err != nil {
		return infra("list pacing", err)
	}
	manual, err := s.Pacing.HasManual(ctx, userID)
	if err != nil {
		return infra("pacing selection", err)
	}

	byType := map[pacing.KeyType][]pacing.Spend{}
	spendFor := func(kt pacing.KeyType) []pacing.Spend {
		if _, ok := byType[kt]; !ok {
			byType[kt] = spends(kt, txns, today)
		}
		return byType[kt]
	}

	if manual {
		for _, p := range recs {
			if !p.IsActive {
				continue
			}
			snap := s.Tracker.Compute(p.TrackedKey, spendFor(p.KeyType), first, today)
			if err := s.Pacing.Upsert(ctx, pacingRecord(userID, p.KeyType, p.Selection, snap)); err != nil {
				return infra("upsert pacing", err)
			}
			res.Tracked++
		}
		return nil
	}

	all := spendFor(s.TrackBy)
	keys := pacing.AutoSelect(all, s.Tracker.Config().TopK)
	selected := make(map[string]bool, len(keys))
	for _, k := range keys {
		selected[k] = true
		snap := s.Tracker.Compute(k, all, first, today)
		if err := s.Pacing.Upsert(ctx, pacingRecord(userID, s.TrackBy, repository.SelectionAuto, snap)); err != nil {
			return infra("upsert pacing", err)
		}
		res.Tracked++
	}
	for _, p := range recs {
		if p.IsActive && (p.KeyType != s.TrackBy || !selected[p.TrackedKey]) {
			if err := s.Pacing.Deactivate(ctx, p.ID); err != nil {
				return infra("deactivate pacing", err)
			}
		}
	}
	return nil
}

func pacingRecord(userID string, kt pacing.KeyType, sel repository.Selection, snap pacing.Snapshot) repository.PacingRecord {
	return repository.PacingRecord{
		UserID:        userID,
		KeyType:       kt,
		TrackedKey:    snap.Key,
		Selection:     sel,
		BaselineCents: snap.BaselineCents,
		CurrentCents:  snap.CurrentCents,
		PeriodStart:   snap.PeriodStart,
		PeriodEnd:     snap.PeriodEnd,
		IsActive:      true,
	}
}

// SetManualSelection replaces the user's tracked keys with keys. An empty
// list clears the manual selection so the next scan auto-selects again.
func (s *Scanner) SetManualSelection(ctx context.Context, userID string, kt pacing.KeyType, keys []string, today time.Time) error {
	var recs []repository.PacingRecord
	if len(keys) > 0 {
		first, _, err := s.Transactions.FirstDate(ctx, userID)
		if err != nil {
			return infra("first transaction", err)
		}
		txns, err := s.Transactions.ListRange(ctx, userID, s.Tracker.HistoryStart(today), today)
		if err != nil {
			return infra("list transactions", err)
		}
		all := spends(kt, txns, today)
		seen := map[string]bool{}
		for _, raw := range keys {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			k := pacing.Key(kt, raw, nil, &raw)
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			recs = append(recs, pacingRecord(userID, kt, repository.SelectionManual, s.Tracker.Compute(k, all, first, today)))
		}
	}
	if err := s.Pacing.ReplaceSelection(ctx, userID, recs); err != nil {
		return infra("replace pacing selection", err)
	}
	return nil
}
