package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Craverse/craveverse/internal/auth"
	"github.com/Craverse/craveverse/internal/calendar"
	"github.com/Craverse/craveverse/internal/catalog"
	"github.com/Craverse/craveverse/internal/config"
	"github.com/Craverse/craveverse/internal/db"
	"github.com/Craverse/craveverse/internal/economy"
	api "github.com/Craverse/craveverse/internal/http"
	"github.com/Craverse/craveverse/internal/ledger"
	"github.com/Craverse/craveverse/internal/models"
	"github.com/Craverse/craveverse/internal/repo"
	"github.com/Craverse/craveverse/internal/streak"
	"github.com/Craverse/craveverse/internal/telemetry"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"
)

type backend struct {
	store     ledger.Store
	catalog   catalog.Source
	telemetry telemetry.Recorder
	close     func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var b backend
	if cfg.MemoryMode() {
		b, err = memoryBackend(cfg, log)
	} else {
		b, err = postgresBackend(ctx, cfg, log)
	}
	if err != nil {
		log.WithError(err).Fatal("failed to start storage")
	}
	defer b.close()

	loc, _ := cfg.Location()
	cal := calendar.New(loc)
	cat := catalog.NewService(b.catalog, cfg.CatalogTTL, log)
	engine := economy.New(b.store, cat, cal,
		economy.WithTelemetry(b.telemetry),
		economy.WithLogger(log))

	ctl := streak.NewController(b.store, cal, log)
	go streak.NewSweeper(ctl, b.store, cfg.StreakSweepInterval).Run(ctx)
	go runJanitor(ctx, b.store, cal, cfg.JanitorInterval, log)

	handler := &api.API{
		Engine:  engine,
		Catalog: cat,
		Auth:    auth.NewManager(cfg.JWTSecret),
		Limiter: api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		Log:     log,
		Origins: cfg.CORSOrigins,
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{"port": cfg.Port, "memory": cfg.MemoryMode(), "calendar_tz": loc.String()}).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	<-ctx.Done()

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		log.WithError(err).Error("server shutdown error")
	}
}

func memoryBackend(cfg config.Config, log *logrus.Logger) (backend, error) {
	src, err := catalog.LoadFile(cfg.CatalogFile)
	if err != nil {
		return backend{}, err
	}
	mem := ledger.NewMemory(cfg.LockTimeout)
	if cfg.SeedFile != "" {
		accounts, err := ledger.LoadSeed(cfg.SeedFile)
		if err != nil {
			return backend{}, err
		}
		for _, acct := range accounts {
			if err := mem.CreateUser(acct); err != nil {
				return backend{}, err
			}
		}
		log.WithField("users", len(accounts)).Info("memory store seeded")
	}
	log.Warn("DATABASE_URL not set, using the in-memory ledger")
	return backend{store: mem, catalog: src, telemetry: telemetry.Nop{}, close: func() {}}, nil
}

func postgresBackend(ctx context.Context, cfg config.Config, log *logrus.Logger) (backend, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
	if err != nil {
		return backend{}, err
	}
	fail := func(err error) (backend, error) {
		pool.Close()
		return backend{}, err
	}

	migrations, err := db.Migrations(cfg.MigrationsDir)
	if err != nil {
		return fail(err)
	}
	if err := db.RunMigrations(ctx, pool, migrations, log); err != nil {
		return fail(err)
	}

	r := repo.New(pool)
	r.LockTimeout = cfg.LockTimeout
	if cfg.CatalogFile != "" {
		if err := seedCatalog(ctx, r, cfg.CatalogFile, log); err != nil {
			return fail(err)
		}
	}
	if cfg.SeedFile != "" {
		accounts, err := ledger.LoadSeed(cfg.SeedFile)
		if err != nil {
			return fail(err)
		}
		if err := seedUsers(ctx, r, accounts, log); err != nil {
			return fail(err)
		}
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	return backend{
		store:     r,
		catalog:   r,
		telemetry: telemetry.NewSQLRecorder(sqlDB, cfg.TelemetryTimeout),
		close: func() {
			_ = sqlDB.Close()
			pool.Close()
		},
	}, nil
}

func seedCatalog(ctx context.Context, r *repo.Repo, path string, log logrus.FieldLogger) error {
	src, err := catalog.LoadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.WithField("path", path).Warn("catalog file missing, keeping stored catalog")
			return nil
		}
		return err
	}
	items, err := src.Items(ctx)
	if err != nil {
		return err
	}
	if err := r.SeedCatalog(ctx, items, src.Levels()); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"items": len(items), "levels": len(src.Levels())}).Info("catalog seeded")
	return nil
}

func seedUsers(ctx context.Context, r *repo.Repo, accounts []models.UserAccount, log logrus.FieldLogger) error {
	created := 0
	for _, acct := range accounts {
		err := r.CreateUser(ctx, acct)
		if errors.Is(err, ledger.ErrDuplicate) {
			continue
		}
		if err != nil {
			return err
		}
		created++
	}
	log.WithFields(logrus.Fields{"users": len(accounts), "created": created}).Info("users seeded")
	return nil
}

// runJanitor purges expired inventory rows on every tick until ctx is done.
func runJanitor(ctx context.Context, store ledger.Store, cal *calendar.Calendar, interval time.Duration, log logrus.FieldLogger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		removed, err := store.DeleteExpiredInventory(ctx, cal.Now())
		if err != nil {
			log.WithError(err).Warn("inventory janitor failed")
			continue
		}
		if removed > 0 {
			log.WithField("removed", removed).Info("expired inventory removed")
		}
	}
}
