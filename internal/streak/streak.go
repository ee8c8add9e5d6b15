// Package streak owns the streak counter. Completions always extend it; a
// miss resets it unless a pause window covers the missed day. When the pause
// state cannot be read the decision is deferred, never taken as a reset.
package streak

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Craverse/craveverse/internal/calendar"
	"github.com/Craverse/craveverse/internal/ledger"
	"github.com/Craverse/craveverse/internal/metrics"
	"github.com/Craverse/craveverse/internal/models"
	"github.com/Craverse/craveverse/internal/retry"

	"github.com/sirupsen/logrus"
)

type Event int

const (
	Completed Event = iota
	Missed
)

type Outcome string

const (
	Incremented Outcome = "incremented"
	Protected   Outcome = "protected"
	Reset       Outcome = "reset"
	Deferred    Outcome = "deferred"
)

// Next is the streak transition function.
func Next(current int, ev Event, paused bool) (int, Outcome) {
	switch {
	case ev == Completed:
		return current + 1, Incremented
	case paused:
		return current, Protected
	default:
		return 0, Reset
	}
}

// ErrDeferred means the pause state could not be read; the streak was left
// untouched and the user queued for ProcessDeferred.
var ErrDeferred = errors.New("streak decision deferred")

type Decision struct {
	UserID  string        `json:"user_id"`
	Day     calendar.Date `json:"day"`
	Streak  int           `json:"streak_count"`
	Outcome Outcome       `json:"outcome"`
}

type Controller struct {
	store ledger.Store
	cal   *calendar.Calendar
	retry retry.Policy
	log   logrus.FieldLogger

	mu       sync.Mutex
	deferred map[string]calendar.Date
}

func NewController(store ledger.Store, cal *calendar.Calendar, log logrus.FieldLogger) *Controller {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Controller{
		store:    store,
		cal:      cal,
		retry:    retry.Default,
		log:      log,
		deferred: map[string]calendar.Date{},
	}
}

// WithRetry overrides the pause-check retry policy.
func (c *Controller) WithRetry(p retry.Policy) *Controller {
	c.retry = p
	return c
}

// Complete applies a completion on day to acct: the streak grows by one and
// day becomes the last completion. Callers persist acct in their own
// transaction.
func Complete(acct *models.UserAccount, day calendar.Date) Outcome {
	var out Outcome
	acct.Streak, out = Next(acct.Streak, Completed, false)
	acct.LastCompletedOn = day
	return out
}

// RecordCompletion increments the user's streak by one.
func (c *Controller) RecordCompletion(ctx context.Context, userID string) (Decision, error) {
	today := c.cal.Today()
	var d Decision
	err := c.store.InUserTx(ctx, userID, func(ctx context.Context, tx ledger.Tx) error {
		acct, err := tx.Account(ctx)
		if err != nil {
			return err
		}
		d.Outcome = Complete(&acct, today)
		if err := tx.UpdateAccount(ctx, acct); err != nil {
			return err
		}
		d.Streak = acct.Streak
		return nil
	})
	if err != nil {
		return Decision{}, err
	}
	d.UserID, d.Day = userID, today
	metrics.RecordStreakDecision(string(d.Outcome))
	return d, nil
}

// RecordMiss evaluates a missed day for today.
func (c *Controller) RecordMiss(ctx context.Context, userID string) (Decision, error) {
	return c.RecordMissOn(ctx, userID, c.cal.Today())
}

// RecordMissOn evaluates a miss of day: protected if a pause covers day,
// otherwise reset. Storage failures are retried; once retries are exhausted
// the user is queued and ErrDeferred returned with the streak unchanged.
func (c *Controller) RecordMissOn(ctx context.Context, userID string, day calendar.Date) (Decision, error) {
	d, err := c.evaluateMiss(ctx, userID, day)
	switch {
	case err == nil:
		c.dequeue(userID, day)
		return d, nil
	case errors.Is(err, ledger.ErrNotFound):
		c.dequeue(userID, day)
		return Decision{}, err
	}
	c.enqueue(userID, day)
	metrics.RecordStreakDecision(string(Deferred))
	c.log.WithError(err).WithFields(logrus.Fields{"user_id": userID, "day": day.String()}).Warn("streak decision deferred")
	return Decision{UserID: userID, Day: day, Outcome: Deferred}, fmt.Errorf("%w: %w", ErrDeferred, err)
}

func (c *Controller) evaluateMiss(ctx context.Context, userID string, day calendar.Date) (Decision, error) {
	notify := func(err error, wait time.Duration) {
		c.log.WithError(err).WithFields(logrus.Fields{"user_id": userID, "wait": wait}).Debug("pause check failed, retrying")
	}
	retryable := func(err error) bool { return !errors.Is(err, ledger.ErrNotFound) }
	d, err := retry.Do(ctx, c.retry, retryable, notify, func() (Decision, error) {
		var d Decision
		err := c.store.InUserTx(ctx, userID, func(ctx context.Context, tx ledger.Tx) error {
			acct, err := tx.Account(ctx)
			if err != nil {
				return err
			}
			pause, err := tx.ActivePause(ctx, day)
			if err != nil {
				return err
			}
			next, outcome := Next(acct.Streak, Missed, pause != nil)
			if next != acct.Streak {
				acct.Streak = next
				if err := tx.UpdateAccount(ctx, acct); err != nil {
					return err
				}
			}
			d = Decision{UserID: userID, Day: day, Streak: next, Outcome: outcome}
			return nil
		})
		return d, err
	})
	if err != nil {
		return Decision{}, err
	}
	metrics.RecordStreakDecision(string(d.Outcome))
	return d, nil
}

func (c *Controller) enqueue(userID string, day calendar.Date) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.deferred[userID]; ok && prev.Before(day) {
		return
	}
	c.deferred[userID] = day
}

func (c *Controller) dequeue(userID string, day calendar.Date) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.deferred[userID]; ok && prev.Equal(day) {
		delete(c.deferred, userID)
	}
}

// Pending returns the users awaiting a deferred decision, sorted.
func (c *Controller) Pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedKeys(c.deferred)
}

// ProcessDeferred re-evaluates every queued miss for the day it was recorded.
// Users that fail again stay queued.
func (c *Controller) ProcessDeferred(ctx context.Context) ([]Decision, error) {
	c.mu.Lock()
	queued := make(map[string]calendar.Date, len(c.deferred))
	for id, day := range c.deferred {
		queued[id] = day
	}
	c.mu.Unlock()

	var (
		decisions []Decision
		errs      []error
	)
	for _, id := range sortedKeys(queued) {
		d, err := c.RecordMissOn(ctx, id, queued[id])
		if err != nil {
			if !errors.Is(err, ledger.ErrNotFound) {
				errs = append(errs, err)
			}
			continue
		}
		decisions = append(decisions, d)
	}
	return decisions, errors.Join(errs...)
}

func sortedKeys(m map[string]calendar.Date) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
