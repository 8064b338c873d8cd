package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jask/moneynudge/internal/apperrors"
	"github.com/jask/moneynudge/internal/database/repository"
	"github.com/jask/moneynudge/internal/templates"
)

// ReasonAlreadyAttempted is the Decision reason for a key that already has a
// ledger row today.
const ReasonAlreadyAttempted = "already attempted today"

// ReasonNoRetry is the Decision reason when there is no failed first attempt
// to retry.
const ReasonNoRetry = "no failed first attempt to retry"

// ErrInvalidTransition is returned by Finalize for anything other than
// claimed -> sent|failed|skipped.
var ErrInvalidTransition = errors.New("gate: invalid status transition")

// Decision is the gate's answer for one (user, template, day).
type Decision struct {
	CanSend bool
	Reason  string
	LogID   string
}

// Outcome is how a claimed send ended.
type Outcome struct {
	Status            repository.NotificationStatus
	ProviderMessageID string
	Err               string
}

// Gate admits at most one send per (user, template type, local day). The
// ledger's unique key is the only thing serializing callers.
type Gate struct {
	Log *repository.NotificationRepo
}

// Claim records an attempt for the key. A key with any existing row is
// refused; that refusal is a normal decision, not an error.
func (g *Gate) Claim(ctx context.Context, userID string, t templates.Type, day time.Time, source string) (Decision, error) {
	n := repository.NotificationLog{
		UserID:         userID,
		TemplateType:   t.String(),
		SendDate:       day,
		SourceEndpoint: source,
		ID:             uuid.NewString(),
	}
	ok, err := g.Log.Claim(ctx, n)
	if err != nil {
		return Decision{}, apperrors.Wrap(apperrors.Infrastructure, "gate claim", err)
	}
	if !ok {
		return Decision{Reason: ReasonAlreadyAttempted}, nil
	}
	return Decision{CanSend: true, LogID: n.ID}, nil
}

// ClaimRetry is the explicit opt-in second attempt for a key whose first
// attempt failed today.
func (g *Gate) ClaimRetry(ctx context.Context, userID string, t templates.Type, day time.Time, source string) (Decision, error) {
	id, ok, err := g.Log.ClaimRetry(ctx, userID, t.String(), day, source)
	if err != nil {
		return Decision{}, apperrors.Wrap(apperrors.Infrastructure, "gate retry", err)
	}
	if !ok {
		return Decision{Reason: ReasonNoRetry}, nil
	}
	return Decision{CanSend: true, LogID: id}, nil
}

// Finalize closes a claimed row.
func (g *Gate) Finalize(ctx context.Context, logID string, o Outcome) error {
	switch o.Status {
	case repository.StatusSent, repository.StatusFailed, repository.StatusSkipped:
	default:
		return fmt.Errorf("%w: to %q", ErrInvalidTransition, o.Status)
	}
	var msgID, errText *string
	if o.ProviderMessageID != "" {
		msgID = &o.ProviderMessageID
	}
	if o.Err != "" {
		errText = &o.Err
	}
	ok, err := g.Log.Finalize(ctx, logID, o.Status, msgID, errText)
	if err != nil {
		return apperrors.Wrap(apperrors.Infrastructure, "gate finalize", err)
	}
	if !ok {
		cur, err := g.Log.Get(ctx, logID)
		if err != nil {
			return apperrors.Wrap(apperrors.Infrastructure, "gate finalize", err)
		}
		if cur == nil {
			return fmt.Errorf("%w: log %s not found", ErrInvalidTransition, logID)
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, o.Status)
	}
	return nil
}
