package repository

import (
	"time"

	"github.com/jask/moneynudge/internal/dates"
	"github.com/jask/moneynudge/internal/pacing"
	"github.com/jask/moneynudge/internal/recurring"
)

// User represents a user row.
type User struct {
	ID        string
	Name      string
	Phone     string
	Timezone  string
	Active    bool
	CreatedAt time.Time
}

// Transaction represents a transaction row. Debits are negative.
type Transaction struct {
	ID                   string
	UserID               string
	Date                 time.Time
	AmountCents          int64
	RawDescription       string
	EnrichedMerchantName *string
	EnrichedCategory     *string
	CreatedAt            time.Time
}

// UserTemplate represents a user's opt-in to a template type.
type UserTemplate struct {
	UserID       string
	TemplateType string
	Enabled      bool
}

// RecurringMerchant represents a recurring_merchants row.
type RecurringMerchant struct {
	ID                string
	UserID            string
	MerchantKey       string
	DisplayName       string
	Kind              recurring.Kind
	IsActive          bool
	Frequency         recurring.Frequency
	AverageCents      int64
	Occurrences       int
	LastOccurrence    time.Time
	NextPredictedDate *time.Time
	Issue             *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Selection records how a pacing key came to be tracked.
type Selection string

const (
	SelectionAuto   Selection = "auto"
	SelectionManual Selection = "manual"
)

// PacingRecord represents a pacing_records row.
type PacingRecord struct {
	ID            string
	UserID        string
	KeyType       pacing.KeyType
	TrackedKey    string
	Selection     Selection
	BaselineCents int64
	CurrentCents  int64
	PeriodStart   time.Time
	PeriodEnd     time.Time
	IsActive      bool
	UpdatedAt     time.Time
}

// Snapshot converts the stored values back into a pacing snapshot.
func (p PacingRecord) Snapshot() pacing.Snapshot {
	return pacing.Snapshot{
		Key:           p.TrackedKey,
		BaselineCents: p.BaselineCents,
		CurrentCents:  p.CurrentCents,
		PeriodStart:   p.PeriodStart,
		PeriodEnd:     p.PeriodEnd,
	}
}

// NotificationStatus is the state of a dedup ledger row.
type NotificationStatus string

const (
	StatusClaimed NotificationStatus = "claimed"
	StatusSent    NotificationStatus = "sent"
	StatusFailed  NotificationStatus = "failed"
	StatusSkipped NotificationStatus = "skipped"
)

// NotificationLog represents a notification_log row.
type NotificationLog struct {
	ID                string
	UserID            string
	TemplateType      string
	SendDate          time.Time
	Status            NotificationStatus
	SourceEndpoint    string
	Attempts          int
	ProviderMessageID *string
	Error             *string
	CreatedAt         time.Time
	FinalizedAt       *time.Time
}

func parseDate(s string, dst *time.Time) error {
	t, err := dates.Parse(s)
	if err != nil {
		return err
	}
	*dst = t
	return nil
}

func parseNullDate(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := dates.Parse(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatNullDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := dates.Format(*t)
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
