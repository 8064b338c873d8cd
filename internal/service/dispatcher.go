package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jask/moneynudge/internal/apperrors"
	"github.com/jask/moneynudge/internal/database/repository"
	"github.com/jask/moneynudge/internal/sms"
)

// Dispatcher sends an admitted message and records how it went. It never
// retries.
type Dispatcher struct {
	Sender  sms.Sender
	Gate    *Gate
	Timeout time.Duration
}

// Send delivers text for an admitted decision and finalizes its ledger row.
// A carrier failure finalizes the row failed and returns a DeliveryFailure.
func (d *Dispatcher) Send(ctx context.Context, dec Decision, phone, text string) (Outcome, error) {
	if !dec.CanSend || dec.LogID == "" {
		return Outcome{}, apperrors.New(apperrors.Validation, "dispatch: decision does not admit a send")
	}
	sctx, cancel := context.WithTimeout(ctx, d.timeout())
	res, sendErr := d.Sender.Send(sctx, phone, text)
	cancel()

	out := Outcome{Status: repository.StatusSent, ProviderMessageID: res.ProviderMessageID}
	if sendErr != nil {
		out = Outcome{Status: repository.StatusFailed, Err: sendErr.Error()}
	}
	if err := d.finalize(ctx, dec.LogID, out); err != nil {
		return out, err
	}
	if sendErr != nil {
		return out, apperrors.Wrap(apperrors.DeliveryFailure, "dispatch", sendErr)
	}
	return out, nil
}

// finalize records o even when ctx has already been cancelled or timed out,
// so an abandoned send still ends up failed in the ledger.
func (d *Dispatcher) finalize(ctx context.Context, logID string, o Outcome) error {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout())
	defer cancel()
	if err := d.Gate.Finalize(fctx, logID, o); err != nil {
		return fmt.Errorf("finalize %s as %s: %w", logID, o.Status, err)
	}
	return nil
}

func (d *Dispatcher) timeout() time.Duration {
	if d.Timeout <= 0 {
		return 10 * time.Second
	}
	return d.Timeout
}
