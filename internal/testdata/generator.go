package testdata

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/jask/moneynudge/internal/database/repository"
	"github.com/jask/moneynudge/internal/dates"
)

// Repos bundles repos used by Seed.
type Repos struct {
	Users        *repository.UserRepo
	Templates    *repository.TemplateRepo
	Transactions *repository.TransactionRepo
}

// Options controls the generated history.
type Options struct {
	Today    time.Time
	Months   int
	Seed     int64
	Defaults []string
}

type bill struct {
	desc     string
	merchant string
	category string
	day      int
	cents    int64
}

type everyday struct {
	desc     string
	category string
	min, max int64
}

var demoUsers = []repository.User{
	{ID: "demo-sam", Name: "Sam", Phone: "+61400000001", Timezone: "Australia/Melbourne", Active: true},
	{ID: "demo-alex", Name: "Alex", Phone: "+61400000002", Timezone: "Australia/Perth", Active: true},
}

var bills = []bill{
	{desc: "DD 88213 ACMEGYM PTY", merchant: "Acme Gym", category: "fitness", day: 5, cents: 4999},
	{desc: "NETFLIX.COM 8812", merchant: "Netflix", category: "subscriptions", day: 12, cents: 1899},
	{desc: "TELSTRA MOBILE BPAY", merchant: "Telstra", category: "phone & internet", day: 20, cents: 6500},
}

var spending = []everyday{
	{desc: "WOOLWORTHS 3381", category: "groceries", min: 2500, max: 16000},
	{desc: "ALDI STORES 112", category: "groceries", min: 1500, max: 9000},
	{desc: "UBER *TRIP", category: "transport", min: 900, max: 4500},
	{desc: "UBER EATS* SUSHI", category: "takeaway", min: 1800, max: 5500},
	{desc: "SQ *PATRICIA COFFEE", category: "coffee", min: 450, max: 1200},
}

func txnID(userID string, date time.Time, n int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("demo|%s|%s|%d", userID, dates.Format(date), n))).String()
}

// Seed creates demo users with a few months of bills, pay and everyday
// spending ending on opts.Today and returns how many transactions it
// generated. Ids are derived from the content, so re-seeding with the same
// options stores nothing new.
func Seed(ctx context.Context, repos Repos, opts Options) (int, error) {
	if opts.Months <= 0 {
		opts.Months = 4
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	start := dates.MonthStart(opts.Today).AddDate(0, -opts.Months, 0)

	generated := 0
	for _, u := range demoUsers {
		if err := repos.Users.Upsert(ctx, u); err != nil {
			return generated, fmt.Errorf("seed user %s: %w", u.ID, err)
		}
		if err := repos.Templates.SeedDefaults(ctx, u.ID, opts.Defaults); err != nil {
			return generated, fmt.Errorf("seed templates %s: %w", u.ID, err)
		}
		n := 0
		add := func(date time.Time, cents int64, desc string, merchant, category *string) error {
			n++
			err := repos.Transactions.Insert(ctx, repository.Transaction{
				ID: txnID(u.ID, date, n), UserID: u.ID, Date: date, AmountCents: cents,
				RawDescription: desc, EnrichedMerchantName: merchant, EnrichedCategory: category,
			})
			if err == nil {
				generated++
			}
			return err
		}

		for day := start; !day.After(opts.Today); day = day.AddDate(0, 0, 1) {
			for _, b := range bills {
				if day.Day() == b.day {
					merchant, category := b.merchant, b.category
					if err := add(day, -b.cents, b.desc, &merchant, &category); err != nil {
						return generated, err
					}
				}
			}
			// monthly pay on the 15th
			if day.Day() == 15 {
				category := "income"
				if err := add(day, 520000, "ACME PTY LTD SALARY", nil, &category); err != nil {
					return generated, err
				}
			}
			for _, s := range spending {
				if rng.Intn(4) != 0 {
					continue
				}
				category := s.category
				cents := s.min + rng.Int63n(s.max-s.min)
				if err := add(day, -cents, s.desc, nil, &category); err != nil {
					return generated, err
				}
			}
		}
	}
	return generated, nil
}
