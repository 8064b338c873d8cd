package service

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jask/moneynudge/internal/apperrors"
	"github.com/jask/moneynudge/internal/database"
	"github.com/jask/moneynudge/internal/database/repository"
	"github.com/jask/moneynudge/internal/dates"
	"github.com/jask/moneynudge/internal/pacing"
	"github.com/jask/moneynudge/internal/recurring"
	"github.com/jask/moneynudge/internal/sms"
	"github.com/jask/moneynudge/internal/templates"
)

type countingSender struct {
	mu    sync.Mutex
	sent  []string
	fail  error
	block bool
}

func (s *countingSender) Send(ctx context.Context, phone, text string) (sms.Result, error) {
	if s.block {
		<-ctx.Done()
		return sms.Result{}, ctx.Err()
	}
	if s.fail != nil {
		return sms.Result{}, s.fail
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, text)
	return sms.Result{ProviderMessageID: "msg-" + phone}, nil
}

func (s *countingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *recordingNotifier) Notify(_ context.Context, title, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
	return nil
}

type fixture struct {
	db     *sql.DB
	runner *Runner
	sender *countingSender
	alerts *recordingNotifier
	log    *repository.NotificationRepo
}

func newFixture(t *testing.T, now time.Time, enabled ...string) *fixture {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "moneynudge.db")
	require.NoError(t, database.RunMigrations(dbPath))
	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	users := repository.NewUserRepo(db)
	require.NoError(t, users.Upsert(ctx, repository.User{ID: "u1", Name: "Sam", Phone: "+61400000001", Timezone: "UTC", Active: true}))
	require.NoError(t, database.SeedDefaults(ctx, db, enabled))

	txns := repository.NewTransactionRepo(db)
	for i, d := range []string{"2025-01-05", "2025-02-05", "2025-03-05"} {
		require.NoError(t, txns.Insert(ctx, repository.Transaction{
			ID: "gym-" + string(rune('a'+i)), UserID: "u1", Date: dates.MustParse(d),
			AmountCents: -4999, RawDescription: "ACME GYM",
		}))
	}

	tracker := pacing.NewTracker(pacing.DefaultConfig())
	recur := repository.NewRecurringRepo(db)
	pace := repository.NewPacingRepo(db)
	logRepo := repository.NewNotificationRepo(db)
	gate := &Gate{Log: logRepo}
	sender := &countingSender{}
	alerts := &recordingNotifier{}
	r := &Runner{
		Users:     users,
		Templates: repository.NewTemplateRepo(db),
		Scanner: &Scanner{
			Transactions: txns, Recurring: recur, Pacing: pace,
			Detector: recurring.NewDetector(recurring.DefaultConfig()),
			Tracker:  tracker, TrackBy: pacing.ByCategory,
		},
		Snapshots: &Snapshotter{
			Transactions: txns, Recurring: recur, Pacing: pace,
			Predictor: recurring.Predictor{Bills: recurring.Following, Income: recurring.Preceding},
			Tracker:   tracker,
		},
		Assembler:   templates.NewAssembler(templates.DefaultBudget),
		Gate:        gate,
		Dispatcher:  &Dispatcher{Sender: sender, Gate: gate, Timeout: time.Second},
		Alert:       alerts,
		Workers:     2,
		CallTimeout: 5 * time.Second,
		Location:    time.UTC,
		Now:         func() time.Time { return now },
	}
	return &fixture{db: db, runner: r, sender: sender, alerts: alerts, log: logRepo}
}

func TestScannerPredictsAndRollsForward(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, time.Now())
	s := f.runner.Scanner

	res, err := s.Refresh(ctx, "u1", dates.MustParse("2025-03-10"))
	require.NoError(t, err)
	require.Equal(t, 1, res.Confirmed)

	recs, err := s.Recurring.ListActive(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "acme gym", recs[0].MerchantKey)
	require.Equal(t, recurring.Monthly, recs[0].Frequency)
	require.Equal(t, "2025-04-05", dates.Format(*recs[0].NextPredictedDate))

	// the 5 April charge has not arrived by the 6th
	res, err = s.Refresh(ctx, "u1", dates.MustParse("2025-04-06"))
	require.NoError(t, err)
	require.Equal(t, 1, res.RolledForward)
	recs, err = s.Recurring.ListActive(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "2025-05-05", dates.Format(*recs[0].NextPredictedDate))

	// two months of silence past the interval deactivates
	res, err = s.Refresh(ctx, "u1", dates.MustParse("2025-06-10"))
	require.NoError(t, err)
	require.Equal(t, 1, res.Deactivated)
	recs, err = s.Recurring.ListActive(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestScannerKeepsPredictionDueToday(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, time.Now())
	today := dates.MustParse("2025-04-05")

	res, err := f.runner.Scanner.Refresh(ctx, "u1", today)
	require.NoError(t, err)
	require.Equal(t, 1, res.Confirmed)
	recs, err := f.runner.Scanner.Recurring.ListActive(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "2025-04-05", dates.Format(*recs[0].NextPredictedDate))

	f.runner.Snapshots.Predictor = recurring.Predictor{Bills: recurring.NoAdjust, Income: recurring.NoAdjust}
	u, err := f.runner.Users.Get(ctx, "u1")
	require.NoError(t, err)
	snap, err := f.runner.Snapshots.Build(ctx, *u, templates.MorningBrief, today)
	require.NoError(t, err)
	text, err := f.runner.Assembler.Render(templates.MorningBrief, snap)
	require.NoError(t, err)
	require.Contains(t, text, "Due today: 1 bill, $49.99")
	require.Contains(t, text, "Acme Gym $49.99 Sat 5 Apr")
}

func TestScannerDeactivatesOnOutlierCharge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, time.Now())
	s := f.runner.Scanner

	res, err := s.Refresh(ctx, "u1", dates.MustParse("2025-03-10"))
	require.NoError(t, err)
	require.Equal(t, 1, res.Confirmed)

	require.NoError(t, s.Transactions.Insert(ctx, repository.Transaction{
		ID: "gym-d", UserID: "u1", Date: dates.MustParse("2025-04-05"),
		AmountCents: -60000, RawDescription: "ACME GYM",
	}))
	res, err = s.Refresh(ctx, "u1", dates.MustParse("2025-04-06"))
	require.NoError(t, err)
	require.Equal(t, 1, res.Deactivated)
	require.Equal(t, 1, res.Inconsistent)
	require.Zero(t, res.Confirmed)

	recs, err := s.Recurring.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.False(t, recs[0].IsActive)
	require.Equal(t, recurring.Unconfirmed, recs[0].Frequency)
	require.NotNil(t, recs[0].Issue)
	require.Contains(t, *recs[0].Issue, "median")

	active, err := s.Recurring.ListActive(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestScannerWithoutTransactionsIsValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Now())
	_, err := f.runner.Scanner.Refresh(context.Background(), "nobody", dates.MustParse("2025-03-10"))
	require.True(t, apperrors.Is(err, apperrors.Validation), "got %v", err)
}

func TestSnapshotAdjustsDueDate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, time.Now())
	today := dates.MustParse("2025-04-03")
	_, err := f.runner.Scanner.Refresh(ctx, "u1", today)
	require.NoError(t, err)

	u, err := f.runner.Users.Get(ctx, "u1")
	require.NoError(t, err)
	snap, err := f.runner.Snapshots.Build(ctx, *u, templates.RecurringSummary, today)
	require.NoError(t, err)
	require.Len(t, snap.Recurring, 1)
	// 5 April 2025 is a Saturday
	require.Equal(t, "2025-04-07", dates.Format(snap.Recurring[0].Due))
	require.Empty(t, snap.Transactions)
}

func TestManualPacingSelection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, time.Now())
	s := f.runner.Scanner
	today := dates.MustParse("2025-03-10")

	require.NoError(t, s.SetManualSelection(ctx, "u1", pacing.ByMerchant, []string{"ACME GYM", "acme gym", " "}, today))
	recs, err := s.Pacing.ListByUser(ctx, "u1", true)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "acme gym", recs[0].TrackedKey)
	require.Equal(t, repository.SelectionManual, recs[0].Selection)

	// a refresh keeps the manual selection
	_, err = s.Refresh(ctx, "u1", today)
	require.NoError(t, err)
	recs, err = s.Pacing.ListByUser(ctx, "u1", true)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, pacing.ByMerchant, recs[0].KeyType)

	require.NoError(t, s.SetManualSelection(ctx, "u1", pacing.ByMerchant, nil, today))
	_, err = s.Refresh(ctx, "u1", today)
	require.NoError(t, err)
	recs, err = s.Pacing.ListByUser(ctx, "u1", true)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, pacing.ByCategory, recs[0].KeyType)
	require.Equal(t, pacing.Uncategorized, recs[0].TrackedKey)
}

func TestGateClaimOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, time.Now())
	g := f.runner.Gate
	day := dates.MustParse("2025-04-03")

	dec, err := g.Claim(ctx, "u1", templates.Activity, day, "test")
	require.NoError(t, err)
	require.True(t, dec.CanSend)
	again, err := g.Claim(ctx, "u1", templates.Activity, day, "test")
	require.NoError(t, err)
	require.False(t, again.CanSend)
	require.Equal(t, ReasonAlreadyAttempted, again.Reason)

	require.NoError(t, g.Finalize(ctx, dec.LogID, Outcome{Status: repository.StatusSent, ProviderMessageID: "p1"}))
	err = g.Finalize(ctx, dec.LogID, Outcome{Status: repository.StatusFailed})
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.ErrorIs(t, g.Finalize(ctx, dec.LogID, Outcome{Status: repository.StatusClaimed}), ErrInvalidTransition)

	// a sent row cannot be retried
	retry, err := g.ClaimRetry(ctx, "u1", templates.Activity, day, "test")
	require.NoError(t, err)
	require.False(t, retry.CanSend)
	require.Equal(t, ReasonNoRetry, retry.Reason)
}

func TestGateConcurrentClaims(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Now())
	day := dates.MustParse("2025-04-03")

	var wins atomic.Int32
	errs := make(chan error, 16)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dec, err := f.runner.Gate.Claim(context.Background(), "u1", templates.PacingAlert, day, "race")
			if err != nil {
				errs <- err
				return
			}
			if dec.CanSend {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), wins.Load())
}

func TestDispatcherTimeoutRecordsFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, time.Now())
	gate := f.runner.Gate
	d := &Dispatcher{Sender: &countingSender{block: true}, Gate: gate, Timeout: 20 * time.Millisecond}

	dec, err := gate.Claim(ctx, "u1", templates.Activity, dates.MustParse("2025-04-03"), "test")
	require.NoError(t, err)
	out, err := d.Send(ctx, dec, "+61400000001", "hello")
	require.True(t, apperrors.Is(err, apperrors.DeliveryFailure), "got %v", err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, repository.StatusFailed, out.Status)

	row, err := f.log.Get(ctx, dec.LogID)
	require.NoError(t, err)
	require.Equal(t, repository.StatusFailed, row.Status)
	require.NotNil(t, row.Error)

	_, err = d.Send(ctx, Decision{Reason: ReasonAlreadyAttempted}, "+61400000001", "hello")
	require.True(t, apperrors.Is(err, apperrors.Validation))
}

func TestRunSendsOnceAcrossOverlappingRuns(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 4, 3, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, now, "recurring-summary")

	var wg sync.WaitGroup
	sums := make([]RunSummary, 2)
	errs := make([]error, 2)
	for i := range sums {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sums[i], errs[i] = f.runner.Run(context.Background(), "test")
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	require.Equal(t, 1, f.sender.count())
	require.Equal(t, 1, sums[0].Count(UnitSent)+sums[1].Count(UnitSent))
	require.Equal(t, 1, sums[0].Count(UnitDeduped)+sums[1].Count(UnitDeduped))
	require.Equal(t, "MoneyNudge: upcoming bills\n1 bill due in the next 7 days, $49.99 total\nAcme Gym $49.99 Mon 7 Apr", f.sender.sent[0])

	row, err := f.log.GetByKey(context.Background(), "u1", "recurring-summary", dates.MustParse("2025-04-03"))
	require.NoError(t, err)
	require.Equal(t, repository.StatusSent, row.Status)
	require.NotNil(t, row.ProviderMessageID)

	// the next scan on the same day sends nothing new
	sum, err := f.runner.Run(context.Background(), "test")
	require.NoError(t, err)
	require.Equal(t, 1, sum.Count(UnitDeduped))
	require.Equal(t, 1, f.sender.count())
	require.Empty(t, f.alerts.titles)
}

func TestRunSkipsNothingToSendAndNotDue(t *testing.T) {
	t.Parallel()
	// a Thursday afternoon: weekly is not due, the morning brief is out of slot
	now := time.Date(2025, 4, 3, 14, 0, 0, 0, time.UTC)
	f := newFixture(t, now, "activity", "weekly-summary", "morning-brief")

	sum, err := f.runner.Run(context.Background(), "test")
	require.NoError(t, err)
	require.Equal(t, 1, sum.Count(UnitSkipped))
	require.Equal(t, 2, sum.Count(UnitNotDue))
	require.Zero(t, f.sender.count())

	row, err := f.log.GetByKey(context.Background(), "u1", "activity", dates.MustParse("2025-04-03"))
	require.NoError(t, err)
	require.Equal(t, repository.StatusSkipped, row.Status)
}

func TestRunFailureThenRetry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2025, 4, 3, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, now, "recurring-summary")
	f.sender.fail = errors.New("carrier unavailable")

	sum, err := f.runner.Run(ctx, "test")
	require.NoError(t, err)
	require.Equal(t, 1, sum.Count(UnitFailed))
	require.Equal(t, []string{"moneynudge run finished with failures"}, f.alerts.titles)

	f.sender.fail = nil
	res, err := f.runner.Retry(ctx, "u1", templates.RecurringSummary, "retry")
	require.NoError(t, err)
	require.Equal(t, UnitSent, res.Status)
	require.Equal(t, 1, f.sender.count())

	row, err := f.log.GetByKey(ctx, "u1", "recurring-summary", dates.MustParse("2025-04-03"))
	require.NoError(t, err)
	require.Equal(t, 2, row.Attempts)
	require.Equal(t, repository.StatusSent, row.Status)
	require.NotNil(t, row.Error)
	require.Contains(t, *row.Error, "carrier unavailable")

	res, err = f.runner.Retry(ctx, "u1", templates.RecurringSummary, "retry")
	require.NoError(t, err)
	require.Equal(t, UnitDeduped, res.Status)
	require.Equal(t, ReasonNoRetry, res.Reason)
}

func TestRetryBoundsStoreCalls(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2025, 4, 3, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, now, "recurring-summary")
	f.sender.fail = errors.New("carrier unavailable")
	_, err := f.runner.Run(ctx, "test")
	require.NoError(t, err)

	f.sender.fail = nil
	f.runner.CallTimeout = time.Nanosecond
	_, err = f.runner.Retry(ctx, "u1", templates.RecurringSummary, "retry")
	require.Error(t, err)
	require.True(t, apperrors.Is(err, apperrors.Infrastructure), "got %v", err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Zero(t, f.sender.count())

	row, err := f.log.GetByKey(ctx, "u1", "recurring-summary", dates.MustParse("2025-04-03"))
	require.NoError(t, err)
	require.Equal(t, repository.StatusFailed, row.Status)
	require.Equal(t, 1, row.Attempts)
}

func TestRunAbortsOnInfrastructureError(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Date(2025, 4, 3, 12, 0, 0, 0, time.UTC), "recurring-summary")
	require.NoError(t, f.db.Close())

	sum, err := f.runner.Run(context.Background(), "test")
	require.Error(t, err)
	require.True(t, apperrors.Is(err, apperrors.Infrastructure))
	require.True(t, sum.Aborted)
	require.Equal(t, []string{"moneynudge run aborted"}, f.alerts.titles)
	require.Zero(t, f.sender.count())
	require.True(t, strings.Contains(sum.Report(), "abort:"))
}

func TestForEachStopsAfterCancel(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	n := forEach(context.Background(), 3, 10, func(int) { calls.Add(1) })
	require.Equal(t, 10, n)
	require.Equal(t, int32(10), calls.Load())

	ctx, cancel := context.WithCancel(context.Background())
	n = forEach(ctx, 1, 10, func(i int) {
		if i == 2 {
			cancel()
		}
	})
	require.Equal(t, 3, n)
}
