package recurring

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jask/moneynudge/internal/dates"
)

func txn(date string, cents int64, desc string) Transaction {
	return Transaction{Date: dates.MustParse(date), AmountCents: cents, RawDescription: desc}
}

func findCandidate(t *testing.T, cands []Candidate, key string) Candidate {
	t.Helper()
	for _, c := range cands {
		if c.MerchantKey == key {
			return c
		}
	}
	t.Fatalf("candidate %q not found in %+v", key, cands)
	return Candidate{}
}

func TestNormalizeMerchantKey(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"NETFLIX.COM 8812":                    "netflix com",
		"Netflix.com #9913":                   "netflix com",
		"UBER *TRIP 8FJ3K":                    "uber trip",
		"DAN MURPHY'S/580 MELBOURN SPOTSWOOD": "dan murphys 580 melbourn spotswood",
		"  Acme Gym  ":                        "acme gym",
		"7-ELEVEN 2231":                       "7 eleven",
		"12345":                               "12345",
	}
	for in, want := range cases {
		require.Equal(t, want, NormalizeMerchantKey(in), in)
	}
}

func TestMerchantLabelFallsBackToRaw(t *testing.T) {
	t.Parallel()
	enriched := "Spotify"
	blank := "  "
	require.Equal(t, "Spotify", MerchantLabel("SPOTIFY P1234", &enriched))
	require.Equal(t, "SPOTIFY P1234", MerchantLabel("SPOTIFY P1234", nil))
	require.Equal(t, "SPOTIFY P1234", MerchantLabel("SPOTIFY P1234", &blank))
}

func TestMergeKeysPrefersFrequentSpelling(t *testing.T) {
	t.Parallel()
	got := MergeKeys(map[string]int{
		"woolworths":  5,
		"woolworth":   1,
		"netflix com": 3,
		"aldi":        2,
		"aldo":        2,
	}, 0.15)
	require.Equal(t, "woolworths", got["woolworth"])
	require.Equal(t, "woolworths", got["woolworths"])
	require.Equal(t, "netflix com", got["netflix com"])
	// short keys never merge
	require.Equal(t, "aldi", got["aldi"])
	require.Equal(t, "aldo", got["aldo"])
}

func TestDetectMonthly(t *testing.T) {
	t.Parallel()
	d := NewDetector(DefaultConfig())
	today := dates.MustParse("2025-04-10")
	// 30, 29, 31 days apart; amounts within 5%
	txns := []Transaction{
		txn("2024-12-01", -1500, "STREAMCO 1111"),
		txn("2024-12-31", -1520, "STREAMCO 2222"),
		txn("2025-01-29", -1490, "STREAMCO 3333"),
		txn("2025-03-01", -1510, "STREAMCO 4444"),
	}
	c := findCandidate(t, d.Detect(txns, today), "streamco")
	require.Equal(t, Monthly, c.Frequency)
	require.Equal(t, Bill, c.Kind)
	require.True(t, c.Confirmed())
	require.Equal(t, int64(1505), c.AverageCents)
	require.Equal(t, "2025-03-01", dates.Format(c.LastOccurrence))
	require.Equal(t, 4, c.Occurrences)
	require.Equal(t, "Streamco", c.DisplayName)
}

func TestDetectWeeklyAndQuarterly(t *testing.T) {
	t.Parallel()
	d := NewDetector(Config{LookbackDays: 365})
	today := dates.MustParse("2025-06-30")
	txns := []Transaction{
		txn("2025-06-02", -2000, "CLEANER CO"),
		txn("2025-06-09", -2000, "CLEANER CO"),
		txn("2025-06-17", -2000, "CLEANER CO"),
		txn("2025-06-23", -2000, "CLEANER CO"),
		txn("2024-12-15", -30000, "CITY WATER"),
		txn("2025-03-15", -31000, "CITY WATER"),
		txn("2025-06-14", -30500, "CITY WATER"),
	}
	cands := d.Detect(txns, today)
	require.Equal(t, Weekly, findCandidate(t, cands, "cleaner co").Frequency)
	require.Equal(t, Quarterly, findCandidate(t, cands, "city water").Frequency)
}

func TestDetectQuarterlyAtDefaultLookback(t *testing.T) {
	t.Parallel()
	d := NewDetector(DefaultConfig())
	c := findCandidate(t, d.Detect([]Transaction{
		txn("2025-01-15", -30000, "CITY WATER"),
		txn("2025-04-15", -30000, "CITY WATER"),
		txn("2025-07-15", -30000, "CITY WATER"),
	}, dates.MustParse("2025-07-20")), "city water")
	require.Equal(t, 3, c.Occurrences)
	require.Equal(t, Quarterly, c.Frequency)
	require.True(t, c.Confirmed())
}

func TestDetectTwoOccurrencesIsUnconfirmed(t *testing.T) {
	t.Parallel()
	d := NewDetector(DefaultConfig())
	cands := d.Detect([]Transaction{
		txn("2025-02-05", -999, "NEWAPP"),
		txn("2025-03-05", -999, "NEWAPP"),
		txn("2025-03-06", -450, "ONCE ONLY"),
	}, dates.MustParse("2025-03-10"))
	require.Len(t, cands, 1)
	c := cands[0]
	require.Equal(t, Unconfirmed, c.Frequency)
	require.False(t, c.Confirmed())
}

func TestDetectRejectsVaryingAmounts(t *testing.T) {
	t.Parallel()
	d := NewDetector(DefaultConfig())
	c := findCandidate(t, d.Detect([]Transaction{
		txn("2025-01-03", -5000, "POWER CO"),
		txn("2025-02-03", -12000, "POWER CO"),
		txn("2025-03-03", -3000, "POWER CO"),
	}, dates.MustParse("2025-03-20")), "power co")
	require.Equal(t, Monthly, c.Frequency)
	require.Contains(t, c.Rejection, "amount varies")
	require.False(t, c.Confirmed())
}

func TestDetectIrregularAndIssues(t *testing.T) {
	t.Parallel()
	d := NewDetector(DefaultConfig())
	today := dates.MustParse("2025-03-20")
	cands := d.Detect([]Transaction{
		txn("2025-01-01", -1000, "CAFE"),
		txn("2025-01-04", -1000, "CAFE"),
		txn("2025-02-20", -1000, "CAFE"),
		txn("2025-01-10", -1000, "GYMBOX"),
		txn("2025-02-10", -1000, "GYMBOX"),
		txn("2025-03-10", -50000, "GYMBOX"),
		txn("2025-02-01", -800, "FUTURE CO"),
		txn("2025-03-01", -800, "FUTURE CO"),
		txn("2025-04-01", -800, "FUTURE CO"),
		txn("2025-01-15", -2500, "PHONE PLAN"),
		txn("2025-02-15", -2500, "PHONE PLAN"),
		txn("2025-02-15", -2500, "PHONE PLAN"),
	}, today)
	cafe := findCandidate(t, cands, "cafe")
	require.Equal(t, Irregular, cafe.Frequency)
	require.Equal(t, "irregular interval", cafe.Rejection)

	gym := findCandidate(t, cands, "gymbox")
	require.Equal(t, Unconfirmed, gym.Frequency)
	require.NotEmpty(t, gym.Issue)

	future := findCandidate(t, cands, "future co")
	require.Equal(t, Unconfirmed, future.Frequency)
	require.Contains(t, future.Issue, "after scan day")

	phone := findCandidate(t, cands, "phone plan")
	require.Equal(t, Unconfirmed, phone.Frequency)
	require.Contains(t, phone.Issue, "two occurrences on 2025-02-15")
}

func TestDetectIncomeAndLookback(t *testing.T) {
	t.Parallel()
	d := NewDetector(Config{LookbackDays: 60})
	today := dates.MustParse("2025-03-31")
	cands := d.Detect([]Transaction{
		txn("2024-10-14", 250000, "ACME PAYROLL"), // outside lookback
		txn("2025-02-14", 250000, "ACME PAYROLL"),
		txn("2025-02-28", 250000, "ACME PAYROLL"),
		txn("2025-03-14", 250000, "ACME PAYROLL"),
	}, today)
	c := findCandidate(t, cands, "acme payroll")
	require.Equal(t, Income, c.Kind)
	require.Equal(t, 3, c.Occurrences)
	// 14-day pay cycle fits no band
	require.Equal(t, Irregular, c.Frequency)
}

func TestDetectUsesEnrichedName(t *testing.T) {
	t.Parallel()
	d := NewDetector(DefaultConfig())
	name := "Acme Gym"
	var txns []Transaction
	for _, date := range []string{"2025-01-05", "2025-02-05", "2025-03-05"} {
		txns = append(txns, Transaction{Date: dates.MustParse(date), AmountCents: -4999, RawDescription: "DD 88213 ACMEGYM PTY", EnrichedMerchant: &name})
	}
	c := findCandidate(t, d.Detect(txns, dates.MustParse("2025-03-10")), "acme gym")
	require.Equal(t, Monthly, c.Frequency)
	require.Equal(t, int64(4999), c.AverageCents)
	require.True(t, c.Confirmed())
}
