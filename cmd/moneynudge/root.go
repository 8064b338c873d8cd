package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jask/moneynudge/internal/alert"
	"github.com/jask/moneynudge/internal/config"
	"github.com/jask/moneynudge/internal/database"
	"github.com/jask/moneynudge/internal/database/repository"
	"github.com/jask/moneynudge/internal/dates"
	"github.com/jask/moneynudge/internal/pacing"
	"github.com/jask/moneynudge/internal/recurring"
	"github.com/jask/moneynudge/internal/secrets"
	"github.com/jask/moneynudge/internal/service"
	"github.com/jask/moneynudge/internal/sms"
	"github.com/jask/moneynudge/internal/templates"
)

var flagConfig string

var rootCmd = &cobra.Command{
	Use:          "moneynudge",
	Short:        "Scheduled SMS money nudges from bank transactions",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file (default $MONEYNUDGE_CONFIG or ~/.config/moneynudge/config.toml)")
}

// app is the wired engine shared by every command.
type app struct {
	cfg       config.Config
	db        *sql.DB
	users     *repository.UserRepo
	templates *repository.TemplateRepo
	txns      *repository.TransactionRepo
	recurring *repository.RecurringRepo
	pacing    *repository.PacingRepo
	log       *repository.NotificationRepo
	predictor recurring.Predictor
	tracker   *pacing.Tracker
	scanner   *service.Scanner
	runner    *service.Runner
	loc       *time.Location
}

func loadConfig() (config.Config, error) {
	if flagConfig != "" {
		return config.LoadFrom(flagConfig)
	}
	return config.Load()
}

// openApp loads config, migrates and opens the store and wires the engine.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("config: run.timezone: %w", err)
	}
	predictor, err := cfg.DatePredictor()
	if err != nil {
		return nil, fmt.Errorf("config: predictor: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}
	if err := database.RunMigrations(cfg.Database.Path); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := database.Ping(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := database.SeedDefaults(ctx, db, cfg.Templates.Defaults); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("seed defaults: %w", err)
	}

	a := &app{
		cfg:       cfg,
		db:        db,
		users:     repository.NewUserRepo(db),
		templates: repository.NewTemplateRepo(db),
		txns:      repository.NewTransactionRepo(db),
		recurring: repository.NewRecurringRepo(db),
		pacing:    repository.NewPacingRepo(db),
		log:       repository.NewNotificationRepo(db),
		predictor: predictor,
		loc:       loc,
	}
	pacingCfg, trackBy := cfg.PacingSettings()
	a.tracker = pacing.NewTracker(pacingCfg)
	a.scanner = &service.Scanner{
		Transactions: a.txns,
		Recurring:    a.recurring,
		Pacing:       a.pacing,
		Detector:     recurring.NewDetector(cfg.DetectorSettings()),
		Tracker:      a.tracker,
		TrackBy:      trackBy,
	}
	gate := &service.Gate{Log: a.log}
	a.runner = &service.Runner{
		Users:     a.users,
		Templates: a.templates,
		Scanner:   a.scanner,
		Snapshots: &service.Snapshotter{
			Transactions: a.txns,
			Recurring:    a.recurring,
			Pacing:       a.pacing,
			Predictor:    predictor,
			Tracker:      a.tracker,
		},
		Assembler:   templates.NewAssembler(cfg.Templates.Budget),
		Gate:        gate,
		Dispatcher:  &service.Dispatcher{Sender: newSender(cfg), Gate: gate, Timeout: cfg.Run.CallTimeout},
		Alert:       alert.Slack{WebhookURL: cfg.Alert.SlackWebhookURL, Channel: cfg.Alert.Channel},
		Workers:     cfg.Run.Workers,
		CallTimeout: cfg.Run.CallTimeout,
		Location:    loc,
	}
	return a, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

func newSender(cfg config.Config) sms.Sender {
	if strings.EqualFold(cfg.SMS.Provider, "http") {
		return &sms.HTTPSender{
			Endpoint:   cfg.SMS.Endpoint,
			AccountSID: cfg.SMS.AccountSID,
			AuthToken:  smsToken(cfg),
			From:       cfg.SMS.From,
		}
	}
	log.Printf("sms provider=log: messages are logged, not sent")
	return sms.LogSender{}
}

// smsToken prefers the env var or config value and falls back to the
// secret store.
func smsToken(cfg config.Config) string {
	if tok := cfg.SMSToken(); tok != "" {
		return tok
	}
	store, err := secrets.Default()
	if err != nil {
		return ""
	}
	tok, err := store.Get(secrets.SMSToken)
	if err != nil && !errors.Is(err, secrets.ErrNotFound) {
		log.Printf("sms token from secret store failed err=%v", err)
	}
	return tok
}

// today is the operator's local day.
func (a *app) today() time.Time {
	return dates.Day(time.Now(), a.loc)
}
