// Package economy executes purchases and consumes inventory. Every public
// write is one ledger.Store.InUserTx commit, so balance, purchase ledger,
// inventory and derived effects change together or not at all.
package economy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Craverse/craveverse/internal/calendar"
	"github.com/Craverse/craveverse/internal/catalog"
	"github.com/Craverse/craveverse/internal/ledger"
	"github.com/Craverse/craveverse/internal/metrics"
	"github.com/Craverse/craveverse/internal/models"
	"github.com/Craverse/craveverse/internal/retry"
	"github.com/Craverse/craveverse/internal/telemetry"

	"github.com/sirupsen/logrus"
)

// Catalog is the read-only item and level lookup. catalog.Service satisfies it.
type Catalog interface {
	Item(ctx context.Context, id string) (models.ShopItem, error)
	Level(ctx context.Context, id string) (models.LevelDefinition, error)
}

type Engine struct {
	store     ledger.Store
	catalog   Catalog
	cal       *calendar.Calendar
	telemetry telemetry.Recorder
	log       logrus.FieldLogger
	retry     retry.Policy
}

type Option func(*Engine)

func WithTelemetry(r telemetry.Recorder) Option {
	return func(e *Engine) { e.telemetry = r }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = log }
}

func WithRetry(p retry.Policy) Option {
	return func(e *Engine) { e.retry = p }
}

func New(store ledger.Store, cat Catalog, cal *calendar.Calendar, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		catalog:   cat,
		cal:       cal,
		telemetry: telemetry.Nop{},
		log:       logrus.StandardLogger(),
		retry:     retry.Default,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// write runs fn in one per-user transaction, retrying aborted transactions.
// fn may run more than once and must not leak state between attempts.
func (e *Engine) write(ctx context.Context, op, userID string, fn ledger.TxFunc) error {
	start := time.Now()
	notify := func(err error, wait time.Duration) {
		e.log.WithError(err).WithFields(logrus.Fields{"op": op, "user_id": userID, "wait": wait}).Debug("ledger transaction aborted, retrying")
	}
	_, err := retry.Do(ctx, e.retry, ledger.Retryable, notify, func() (struct{}, error) {
		return struct{}{}, e.store.InUserTx(ctx, userID, fn)
	})
	err = e.translate(op, userID, err)
	metrics.RecordOperation(op, outcome(err), time.Since(start))
	return err
}

// read runs an idempotent query with bounded retries on infrastructure errors.
func read[T any](ctx context.Context, e *Engine, op, userID string, fn func() (T, error)) (T, error) {
	start := time.Now()
	notify := func(err error, wait time.Duration) {
		e.log.WithError(err).WithFields(logrus.Fields{"op": op, "user_id": userID, "wait": wait}).Debug("ledger read failed, retrying")
	}
	v, err := retry.Do(ctx, e.retry, func(err error) bool {
		return !isRuleError(err) && !errors.Is(err, ledger.ErrNotFound) && !errors.Is(err, catalog.ErrNotFound)
	}, notify, fn)
	err = e.translate(op, userID, err)
	metrics.RecordOperation(op, outcome(err), time.Since(start))
	return v, err
}

func (e *Engine) translate(op, userID string, err error) error {
	switch {
	case err == nil:
		return nil
	case isRuleError(err), errors.Is(err, ErrBusy), errors.Is(err, ErrUnavailable):
		return err
	case errors.Is(err, ledger.ErrBusy):
		return fmt.Errorf("%w: %w", ErrBusy, err)
	case errors.Is(err, ledger.ErrNotFound):
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	e.log.WithError(err).WithFields(logrus.Fields{"op": op, "user_id": userID}).Error("economy operation failed")
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return Code(err)
}

func (e *Engine) emit(ctx context.Context, userID, action string, meta map[string]any) {
	telemetry.Emit(ctx, e.telemetry, e.log, telemetry.Event{
		UserID:   userID,
		Action:   action,
		Metadata: meta,
		At:       e.cal.Now(),
	})
}

// lookupItem maps catalog misses to notFound and other failures to
// ErrUnavailable.
func (e *Engine) lookupItem(ctx context.Context, id string, notFound error) (models.ShopItem, error) {
	it, err := e.catalog.Item(ctx, id)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return models.ShopItem{}, notFound
	case err != nil:
		return models.ShopItem{}, fmt.Errorf("%w: catalog: %w", ErrUnavailable, err)
	}
	return it, nil
}

func (e *Engine) lookupLevel(ctx context.Context, id string) (models.LevelDefinition, error) {
	lvl, err := e.catalog.Level(ctx, id)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return models.LevelDefinition{}, ErrLevelNotFound
	case err != nil:
		return models.LevelDefinition{}, fmt.Errorf("%w: catalog: %w", ErrUnavailable, err)
	}
	return lvl, nil
}
