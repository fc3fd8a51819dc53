// cmd/circulation/wire.go
package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"libracheck/internal/accounts"
	"libracheck/internal/catalog"
	"libracheck/internal/circulation"
	"libracheck/internal/clients"
	"libracheck/internal/damage"
	"libracheck/internal/evidence"
	"libracheck/internal/notify"
	"libracheck/internal/storage"
	"libracheck/internal/store/memory"
	"libracheck/internal/store/postgres"
)

type app struct {
	db          *sqlx.DB
	blobs       *storage.BucketStore
	repo        circulation.Repository
	catalog     catalog.Service
	accounts    accounts.Service
	circulation circulation.Service
}

func (a *app) Close() error {
	var err error
	if a.blobs != nil {
		err = a.blobs.Close()
	}
	if a.db != nil {
		err = errors.Join(err, a.db.Close())
	}
	return err
}

// openStore connects to postgres when a database URL is configured and falls
// back to the in-memory store otherwise.
func openStore(ctx context.Context) (*sqlx.DB, circulation.Repository, error) {
	if cfg.Database.URL == "" {
		logger.Info("no database configured, keeping state in memory")
		return nil, memory.New(), nil
	}
	db, err := postgres.Connect(ctx, cfg.Database.URL, postgres.ConnectOptions{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxWait:      cfg.Database.ConnectWait,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return db, postgres.New(db), nil
}

func loadTariff() (damage.Tariff, error) {
	def, err := cfg.DefaultPrice()
	if err != nil {
		return damage.Tariff{}, err
	}
	if cfg.Fines.TariffFile == "" {
		t := damage.DefaultTariff()
		t.Default = def
		return t, nil
	}
	t, err := damage.LoadTariff(cfg.Fines.TariffFile, def)
	if err != nil {
		return damage.Tariff{}, fmt.Errorf("failed to load tariff: %w", err)
	}
	return t, nil
}

// noTagger stands in when no tagging service is configured. Every snapshot
// is then empty and no damage fine is ever charged.
type noTagger struct{}

func (noTagger) AnalyzeFromURL(context.Context, string) ([]string, error) {
	return nil, nil
}

func newTagger() evidence.Tagger {
	if cfg.Vision.Endpoint == "" {
		logger.Info("no tagging service configured, condition tags will be empty")
		return noTagger{}
	}
	return clients.NewVisionClient(clients.VisionConfig{
		Endpoint:      cfg.Vision.Endpoint,
		Key:           cfg.Vision.Key,
		Timeout:       cfg.Vision.Timeout,
		RatePerSecond: cfg.Vision.RatePerSecond,
		Burst:         cfg.Vision.Burst,
		MaxFailures:   cfg.Vision.MaxFailures,
		OpenFor:       cfg.Vision.OpenFor,
		MinConfidence: cfg.Vision.MinConfidence,
	})
}

func newNotifier() (notify.Notifier, error) {
	if cfg.Email.Host == "" {
		logger.Info("no SMTP host configured, guardian emails are only logged")
		return notify.NewLogNotifier(logger), nil
	}
	return notify.NewSMTPNotifier(cfg.Email.Host, cfg.Email.Port, cfg.Email.Username, cfg.Email.Password, cfg.Email.From)
}

func newApp(ctx context.Context) (*app, error) {
	tariff, err := loadTariff()
	if err != nil {
		return nil, err
	}

	notifier, err := newNotifier()
	if err != nil {
		return nil, err
	}

	blobs, err := storage.OpenDiskStore(cfg.Storage.Root, cfg.Storage.BaseURL)
	if err != nil {
		return nil, err
	}

	db, repo, err := openStore(ctx)
	if err != nil {
		blobs.Close()
		return nil, err
	}

	collector := evidence.NewCollector(blobs, newTagger(), evidence.Options{
		CallTimeout:    cfg.Evidence.CallTimeout,
		MaxConcurrency: cfg.Evidence.MaxConcurrency,
	}, logger.WithName("evidence"))

	svc := circulation.NewService(repo, collector, notifier, tariff, circulation.Options{
		DefaultLoanDays: cfg.Loans.DefaultDays,
	}, logger.WithName("lifecycle"))

	return &app{
		db:          db,
		blobs:       blobs,
		repo:        repo,
		catalog:     catalog.NewService(repo),
		accounts:    accounts.NewService(repo),
		circulation: svc,
	}, nil
}
