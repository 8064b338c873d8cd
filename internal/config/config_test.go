package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jask/moneynudge/internal/pacing"
	"github.com/jask/moneynudge/internal/recurring"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(writeConfig(t, `
[database]
path = "/tmp/moneynudge-test.db"
`))
	require.NoError(t, err)
	require.Equal(t, "/tmp/moneynudge-test.db", cfg.Database.Path)
	require.Equal(t, 400, cfg.Detector.LookbackDays)
	require.Equal(t, 4, cfg.Run.Workers)
	require.Equal(t, 10*time.Second, cfg.Run.CallTimeout)
	require.Equal(t, "following", cfg.Predictor.BillAdjust)
	require.Equal(t, "preceding", cfg.Predictor.IncomeAdjust)
	require.Equal(t, 320, cfg.Templates.Budget)
	require.Contains(t, cfg.Templates.Defaults, "recurring-summary")

	pc, kt := cfg.PacingSettings()
	require.Equal(t, pacing.Month, pc.Period)
	require.Equal(t, pacing.ByCategory, kt)
	require.Equal(t, 5, pc.TopK)

	p, err := cfg.DatePredictor()
	require.NoError(t, err)
	require.Equal(t, recurring.Following, p.Bills)
	require.Equal(t, recurring.Preceding, p.Income)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MONEYNUDGE_RUN_WORKERS", "9")
	cfg, err := LoadFrom(writeConfig(t, `
[database]
path = "/tmp/x.db"

[predictor]
bill_adjust = "preceding"
income_adjust = "none"

[pacing]
period = "week"
track_by = "merchant"

[run]
call_timeout = "2s"
timezone = "UTC"

[templates]
defaults = ["activity", "morning-brief"]
`))
	require.NoError(t, err)
	require.Equal(t, 9, cfg.Run.Workers)
	require.Equal(t, 2*time.Second, cfg.Run.CallTimeout)
	require.Equal(t, []string{"activity", "morning-brief"}, cfg.Templates.Defaults)
	pc, kt := cfg.PacingSettings()
	require.Equal(t, pacing.Week, pc.Period)
	require.Equal(t, pacing.ByMerchant, kt)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"direction": "[predictor]\nbill_adjust = \"sideways\"\n",
		"template":  "[templates]\ndefaults = [\"birthday\"]\n",
		"workers":   "[run]\nworkers = 0\n",
		"timezone":  "[run]\ntimezone = \"Mars/Olympus\"\n",
		"sms":       "[sms]\nprovider = \"http\"\n",
		"threshold": "[pacing]\nover_threshold = 0.5\n",
	}
	for name, body := range cases {
		path := filepath.Join(t.TempDir(), name+".toml")
		require.NoError(t, os.WriteFile(path, []byte("[database]\npath = \"/tmp/x.db\"\n"+body), 0o644))
		_, err := LoadFrom(path)
		require.Error(t, err, name)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Parallel()
	_, err := LoadFrom(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestSMSTokenPrefersEnv(t *testing.T) {
	t.Setenv("MN_TEST_TOKEN", "from-env")
	cfg := Config{SMS: SMSConfig{AuthTokenEnv: "MN_TEST_TOKEN", AuthToken: "from-file"}}
	require.Equal(t, "from-env", cfg.SMSToken())
	cfg.SMS.AuthTokenEnv = "MN_TEST_TOKEN_UNSET"
	require.Equal(t, "from-file", cfg.SMSToken())
}
