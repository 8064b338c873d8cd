package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jask/moneynudge/internal/alert"
	"github.com/jask/moneynudge/internal/apperrors"
	"github.com/jask/moneynudge/internal/database/repository"
	"github.com/jask/moneynudge/internal/dates"
	"github.com/jask/moneynudge/internal/templates"
)

// UnitStatus is how one (user, template) unit of a run ended.
type UnitStatus string

const (
	UnitSent    UnitStatus = "sent"
	UnitFailed  UnitStatus = "failed"
	UnitSkipped UnitStatus = "skipped"
	UnitDeduped UnitStatus = "deduped"
	UnitNotDue  UnitStatus = "not-due"
	UnitError   UnitStatus = "error"
	UnitNotRun  UnitStatus = "not-run"
)

// UnitResult is the outcome of one unit.
type UnitResult struct {
	UserID   string
	Template string
	Status   UnitStatus
	LogID    string
	Reason   string
	Err      error
}

// RunSummary totals a run for the operator.
type RunSummary struct {
	Source         string
	StartedAt      time.Time
	FinishedAt     time.Time
	Users          int
	Refreshed      int
	RefreshSkipped int
	RefreshFailed  int
	RolledForward  int
	Deactivated    int
	Confirmed      int
	Units          []UnitResult
	Aborted        bool
	AbortReason    string
	Errors         []string
}

// Count returns the number of units that ended with status.
func (s RunSummary) Count(status UnitStatus) int {
	n := 0
	for _, u := range s.Units {
		if u.Status == status {
			n++
		}
	}
	return n
}

func (s RunSummary) String() string {
	return fmt.Sprintf("source=%s users=%d refreshed=%d refresh_skipped=%d refresh_failed=%d rolled=%d deactivated=%d sent=%d failed=%d skipped=%d deduped=%d not_due=%d errors=%d not_run=%d aborted=%t",
		s.Source, s.Users, s.Refreshed, s.RefreshSkipped, s.RefreshFailed, s.RolledForward, s.Deactivated,
		s.Count(UnitSent), s.Count(UnitFailed), s.Count(UnitSkipped), s.Count(UnitDeduped), s.Count(UnitNotDue),
		s.Count(UnitError), s.Count(UnitNotRun), s.Aborted)
}

// Report is the multi-line form posted to the operator channel.
func (s RunSummary) Report() string {
	var b strings.Builder
	b.WriteString(s.String())
	if s.AbortReason != "" {
		b.WriteString("\nabort: " + s.AbortReason)
	}
	for _, e := range s.Errors {
		b.WriteString("\n- " + e)
	}
	return b.String()
}

// Runner executes one scan. It holds no state between runs; overlapping
// runs are safe because every send goes through the Gate.
type Runner struct {
	Users       *repository.UserRepo
	Templates   *repository.TemplateRepo
	Scanner     *Scanner
	Snapshots   *Snapshotter
	Assembler   *templates.Assembler
	Gate        *Gate
	Dispatcher  *Dispatcher
	Alert       alert.Notifier
	Workers     int
	CallTimeout time.Duration
	Location    *time.Location
	Now         func() time.Time
}

type abortOnce struct {
	once sync.Once
	err  error
}

func (a *abortOnce) set(err error, cancel context.CancelFunc) {
	a.once.Do(func() {
		a.err = err
		cancel()
	})
}

// isInfrastructure reports a store failure that should stop the run. A unit
// that merely ran out of time is not one.
func isInfrastructure(err error) bool {
	if err == nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	return apperrors.Is(err, apperrors.Infrastructure)
}

// Run refreshes every active user and then works through every (user,
// enabled template) pair. It returns an error only when the run was
// aborted.
func (r *Runner) Run(ctx context.Context, source string) (RunSummary, error) {
	now := r.now()
	sum := RunSummary{Source: source, StartedAt: now}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var abort abortOnce

	lctx, lcancel := context.WithTimeout(ctx, r.timeout())
	users, err := r.Users.ListActive(lctx)
	lcancel()
	if err != nil {
		abort.set(apperrors.Wrap(apperrors.Infrastructure, "list users", err), cancel)
		return r.finish(ctx, sum, abort.err)
	}
	sum.Users = len(users)
	log.Printf("run start source=%s users=%d workers=%d", source, len(users), r.workers())

	// refresh
	refreshed := make([]RefreshResult, len(users))
	refreshErr := make([]error, len(users))
	refreshRan := make([]bool, len(users))
	forEach(ctx, r.workers(), len(users), func(i int) {
		u := users[i]
		refreshRan[i] = true
		_, today, err := r.localTime(u, now)
		if err != nil {
			refreshErr[i] = err
			return
		}
		uctx, ucancel := context.WithTimeout(ctx, r.timeout())
		defer ucancel()
		refreshed[i], refreshErr[i] = r.Scanner.Refresh(uctx, u.ID, today)
		if isInfrastructure(refreshErr[i]) {
			abort.set(refreshErr[i], cancel)
		}
	})

	var eligible []repository.User
	for i, u := range users {
		res := refreshed[i]
		sum.RolledForward += res.RolledForward
		sum.Deactivated += res.Deactivated
		sum.Confirmed += res.Confirmed
		err := refreshErr[i]
		switch {
		case !refreshRan[i]:
			continue
		case err == nil:
			sum.Refreshed++
			eligible = append(eligible, u)
		case apperrors.Is(err, apperrors.Validation):
			sum.RefreshSkipped++
			log.Printf("refresh skipped user=%s err=%v", u.ID, err)
			eligible = append(eligible, u)
		default:
			sum.RefreshFailed++
			sum.Errors = append(sum.Errors, fmt.Sprintf("refresh %s: %v", u.ID, err))
			log.Printf("refresh failed user=%s err=%v", u.ID, err)
		}
	}
	if abort.err != nil {
		return r.finish(ctx, sum, abort.err)
	}

	// units
	type unit struct {
		user repository.User
		typ  templates.Type
	}
	var units []unit
	for _, u := range eligible {
		tctx, tcancel := context.WithTimeout(ctx, r.timeout())
		names, err := r.Templates.Enabled(tctx, u.ID)
		tcancel()
		if err != nil {
			abort.set(apperrors.Wrap(apperrors.Infrastructure, "list templates", err), cancel)
			return r.finish(ctx, sum, abort.err)
		}
		for _, name := range names {
			t, err := templates.ParseType(name)
			if err != nil {
				log.Printf("template ignored user=%s err=%v", u.ID, err)
				continue
			}
			units = append(units, unit{user: u, typ: t})
		}
	}

	results := make([]UnitResult, len(units))
	forEach(ctx, r.workers(), len(units), func(i int) {
		results[i] = r.runUnit(ctx, units[i].user, units[i].typ, now, source)
		if isInfrastructure(results[i].Err) {
			abort.set(results[i].Err, cancel)
		}
	})
	for i, res := range results {
		if res.Status == "" {
			res = UnitResult{UserID: units[i].user.ID, Template: units[i].typ.String(), Status: UnitNotRun}
		}
		if res.Err != nil {
			sum.Errors = append(sum.Errors, fmt.Sprintf("%s/%s %s: %v", res.UserID, res.Template, res.Status, res.Err))
		}
		sum.Units = append(sum.Units, res)
	}
	return r.finish(ctx, sum, abort.err)
}

func (r *Runner) finish(ctx context.Context, sum RunSummary, abortErr error) (RunSummary, error) {
	sum.FinishedAt = r.now()
	sort.Strings(sum.Errors)
	if abortErr != nil {
		sum.Aborted = true
		sum.AbortReason = abortErr.Error()
	}
	log.Printf("run done %s took=%s", sum.String(), sum.FinishedAt.Sub(sum.StartedAt).Round(time.Millisecond))
	if sum.Aborted || sum.Count(UnitFailed) > 0 || sum.RefreshFailed > 0 {
		title := "moneynudge run finished with failures"
		if sum.Aborted {
			title = "moneynudge run aborted"
		}
		if r.Alert != nil {
			actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout())
			if err := r.Alert.Notify(actx, title, sum.Report()); err != nil {
				log.Printf("alert failed err=%v", err)
			}
			cancel()
		}
	}
	if abortErr != nil {
		return sum, abortErr
	}
	return sum, nil
}

func (r *Runner) runUnit(ctx context.Context, u repository.User, t templates.Type, now time.Time, source string) UnitResult {
	res := UnitResult{UserID: u.ID, Template: t.String()}
	local, day, err := r.localTime(u, now)
	if err != nil {
		res.Status, res.Err = UnitError, err
		return res
	}
	if !t.Scheduled(local) {
		res.Status = UnitNotDue
		return res
	}
	cctx, cancel := context.WithTimeout(ctx, r.timeout())
	dec, err := r.Gate.Claim(cctx, u.ID, t, day, source)
	cancel()
	if err != nil {
		res.Status, res.Err = UnitError, err
		return res
	}
	if !dec.CanSend {
		res.Status, res.Reason = UnitDeduped, dec.Reason
		return res
	}
	return r.deliver(ctx, u, t, day, dec)
}

// deliver renders and sends for an admitted decision. Every path finalizes
// the ledger row.
func (r *Runner) deliver(ctx context.Context, u repository.User, t templates.Type, day time.Time, dec Decision) UnitResult {
	res := UnitResult{UserID: u.ID, Template: t.String(), LogID: dec.LogID}

	sctx, cancel := context.WithTimeout(ctx, r.timeout())
	snap, err := r.Snapshots.Build(sctx, u, t, day)
	cancel()
	if err != nil {
		return r.abandon(ctx, res, err)
	}
	text, err := r.Assembler.Render(t, snap)
	if errors.Is(err, templates.ErrNothingToSend) {
		if ferr := r.finalize(ctx, dec.LogID, Outcome{Status: repository.StatusSkipped}); ferr != nil {
			res.Status, res.Err = UnitError, ferr
			return res
		}
		res.Status = UnitSkipped
		return res
	}
	if err != nil {
		return r.abandon(ctx, res, apperrors.Wrap(apperrors.Validation, "render", err))
	}
	if strings.TrimSpace(u.Phone) == "" {
		return r.abandon(ctx, res, apperrors.New(apperrors.Validation, "user has no phone number"))
	}

	out, err := r.Dispatcher.Send(ctx, dec, u.Phone, text)
	switch {
	case err == nil:
		res.Status = UnitSent
		log.Printf("sent user=%s template=%s log=%s provider_id=%s", u.ID, t, dec.LogID, out.ProviderMessageID)
	case apperrors.Is(err, apperrors.DeliveryFailure):
		res.Status, res.Err = UnitFailed, err
		log.Printf("delivery failed user=%s template=%s log=%s err=%v", u.ID, t, dec.LogID, err)
	default:
		res.Status, res.Err = UnitError, err
	}
	return res
}

// abandon finalizes a claimed row as failed after a pre-send error.
func (r *Runner) abandon(ctx context.Context, res UnitResult, cause error) UnitResult {
	if ferr := r.finalize(ctx, res.LogID, Outcome{Status: repository.StatusFailed, Err: cause.Error()}); ferr != nil {
		res.Status, res.Err = UnitError, ferr
		return res
	}
	res.Status, res.Err = UnitFailed, cause
	return res
}

func (r *Runner) finalize(ctx context.Context, logID string, o Outcome) error {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout())
	defer cancel()
	return r.Gate.Finalize(fctx, logID, o)
}

// Retry makes the single opt-in second attempt for a template whose first
// attempt today failed. Schedules are not consulted.
func (r *Runner) Retry(ctx context.Context, userID string, t templates.Type, source string) (UnitResult, error) {
	res := UnitResult{UserID: userID, Template: t.String()}
	gctx, cancel := context.WithTimeout(ctx, r.timeout())
	u, err := r.Users.Get(gctx, userID)
	cancel()
	if err != nil {
		return res, apperrors.Wrap(apperrors.Infrastructure, "get user", err)
	}
	if u == nil {
		return res, apperrors.New(apperrors.Validation, "unknown user "+userID)
	}
	_, day, err := r.localTime(*u, r.now())
	if err != nil {
		return res, err
	}
	cctx, cancel := context.WithTimeout(ctx, r.timeout())
	dec, err := r.Gate.ClaimRetry(cctx, u.ID, t, day, source)
	cancel()
	if err != nil {
		return res, err
	}
	if !dec.CanSend {
		res.Status, res.Reason = UnitDeduped, dec.Reason
		return res, nil
	}
	res = r.deliver(ctx, *u, t, day, dec)
	if res.Status == UnitError {
		return res, res.Err
	}
	return res, nil
}

// localTime returns the user's wall clock and local day.
func (r *Runner) localTime(u repository.User, now time.Time) (time.Time, time.Time, error) {
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	if tz := strings.TrimSpace(u.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return time.Time{}, time.Time{}, apperrors.Wrap(apperrors.Validation, "user timezone", err)
		}
		loc = l
	}
	return now.In(loc), dates.Day(now, loc), nil
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) workers() int {
	if r.Workers <= 0 {
		return 4
	}
	return r.Workers
}

func (r *Runner) timeout() time.Duration {
	if r.CallTimeout <= 0 {
		return 10 * time.Second
	}
	return r.CallTimeout
}
