// clinic-seed wires a storage backend to the medicine service contract
// and loads the canned development dataset into it. The backend is
// selected with STORE_BACKEND (postgres or file).
package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/quickscripts/clinic/internal/config"
	"github.com/quickscripts/clinic/internal/seed"
	"github.com/quickscripts/clinic/internal/service"
	"github.com/quickscripts/clinic/pkg/auth"
	"github.com/quickscripts/clinic/pkg/database"
	"github.com/quickscripts/clinic/pkg/logger"
	"github.com/quickscripts/clinic/pkg/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "clinic-seed:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	ctx := context.Background()
	collector := metrics.NewCollector(cfg.App.Name)

	svc, err := buildService(ctx, cfg, log, collector)
	if err != nil {
		return err
	}

	if err := seed.Run(ctx, svc, log); err != nil {
		return err
	}

	return summarize(ctx, svc, log)
}

func buildService(ctx context.Context, cfg *config.Config, log *zap.Logger, collector *metrics.Collector) (service.MedicineService, error) {
	var tokens *auth.TokenManager
	if cfg.JWT.Enabled() {
		tokens = auth.NewTokenManager(cfg.JWT)
	}

	switch cfg.Store.Backend {
	case config.BackendPostgres:
		db, err := database.Connect(cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(db, log); err != nil {
			return nil, err
		}
		svc := service.NewDBService(db, log)
		svc.SetMetrics(collector)
		if tokens != nil {
			svc.SetTokenManager(tokens)
		}
		log.Info("using relational backend", zap.String("database", cfg.Database.Name))
		return svc, nil

	case config.BackendFile:
		svc := service.NewFileService(cfg.Store.PatientStore, cfg.Store.UserStore, log)
		svc.SetMetrics(collector)
		if tokens != nil {
			svc.SetTokenManager(tokens)
		}
		log.Info("using file backend",
			zap.String("patient_store", cfg.Store.PatientStore),
			zap.String("user_store", cfg.Store.UserStore),
		)
		return svc, nil
	}

	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

func summarize(ctx context.Context, svc service.MedicineService, log *zap.Logger) error {
	patients, err := svc.ListPatients(ctx)
	if err != nil {
		return err
	}
	all, err := svc.ListRequests(ctx)
	if err != nil {
		return err
	}
	open, err := svc.ListOpenRequests(ctx)
	if err != nil {
		return err
	}
	users, err := svc.ListUsers(ctx)
	if err != nil {
		return err
	}

	log.Info("seeded store summary",
		zap.Int("patients", len(patients)),
		zap.Int("requests", len(all)),
		zap.Int("open_requests", len(open)),
		zap.Int("closed_requests", len(all)-len(open)),
		zap.Int("users", len(users)),
	)
	return nil
}
