package streak

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Craverse/craveverse/internal/calendar"
	"github.com/Craverse/craveverse/internal/ledger"
	"github.com/Craverse/craveverse/internal/models"
	"github.com/Craverse/craveverse/internal/retry"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errPauseQuery = errors.New("pause query timed out")

// flakyStore fails ActivePause inside transactions while broken is set.
type flakyStore struct {
	*ledger.Memory
	broken atomic.Bool
}

func (s *flakyStore) InUserTx(ctx context.Context, userID string, fn ledger.TxFunc) error {
	return s.Memory.InUserTx(ctx, userID, func(ctx context.Context, tx ledger.Tx) error {
		return fn(ctx, &flakyTx{Tx: tx, store: s})
	})
}

type flakyTx struct {
	ledger.Tx
	store *flakyStore
}

func (t *flakyTx) ActivePause(ctx context.Context, today calendar.Date) (*models.PausePeriod, error) {
	if t.store.broken.Load() {
		return nil, errPauseQuery
	}
	return t.Tx.ActivePause(ctx, today)
}

var day = calendar.Day(2024, time.January, 11)

func setup(t *testing.T, acct models.UserAccount) (*flakyStore, *Controller) {
	t.Helper()
	mem := ledger.NewMemory(100 * time.Millisecond)
	require.NoError(t, mem.CreateUser(acct))
	store := &flakyStore{Memory: mem}
	cal := calendar.New(time.UTC).WithClock(calendar.Fixed(day.Time().Add(15 * time.Hour)))
	log, _ := test.NewNullLogger()
	ctl := NewController(store, cal, log).WithRetry(retry.Policy{Tries: 2, Initial: time.Millisecond, Max: time.Millisecond})
	return store, ctl
}

func addPause(t *testing.T, store ledger.Store, userID string, start, end calendar.Date) {
	t.Helper()
	require.NoError(t, store.InUserTx(context.Background(), userID, func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.InsertPause(ctx, models.PausePeriod{StartDate: start, EndDate: end})
		return err
	}))
}

func TestNext(t *testing.T) {
	cases := []struct {
		name    string
		current int
		ev      Event
		paused  bool
		want    int
		outcome Outcome
	}{
		{"completion", 4, Completed, false, 5, Incremented},
		{"completion while paused", 4, Completed, true, 5, Incremented},
		{"miss unprotected", 4, Missed, false, 0, Reset},
		{"miss protected", 4, Missed, true, 4, Protected},
		{"miss at zero", 0, Missed, false, 0, Reset},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, outcome := Next(tc.current, tc.ev, tc.paused)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.outcome, outcome)
		})
	}
}

func TestRecordCompletionIncrementsByOne(t *testing.T) {
	store, ctl := setup(t, models.UserAccount{ID: "u1", Streak: 2})
	d, err := ctl.RecordCompletion(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, d.Streak)

	acct, _ := store.GetAccount(context.Background(), "u1")
	assert.Equal(t, 3, acct.Streak)
	assert.True(t, acct.LastCompletedOn.Equal(day))
}

func TestComplete(t *testing.T) {
	acct := models.UserAccount{ID: "u1", Streak: 4}
	out := Complete(&acct, day)
	assert.Equal(t, Incremented, out)
	assert.Equal(t, 5, acct.Streak)
	assert.True(t, acct.LastCompletedOn.Equal(day))
}

func TestRecordMissResetsWithoutPause(t *testing.T) {
	store, ctl := setup(t, models.UserAccount{ID: "u1", Streak: 12})
	d, err := ctl.RecordMiss(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, Reset, d.Outcome)

	acct, _ := store.GetAccount(context.Background(), "u1")
	assert.Equal(t, 0, acct.Streak)
}

func TestRecordMissProtectedByPause(t *testing.T) {
	store, ctl := setup(t, models.UserAccount{ID: "u1", Streak: 12})
	addPause(t, store, "u1", day.AddDays(-1), day.AddDays(1))

	d, err := ctl.RecordMiss(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, Protected, d.Outcome)
	assert.Equal(t, 12, d.Streak)

	acct, _ := store.GetAccount(context.Background(), "u1")
	assert.Equal(t, 12, acct.Streak)
}

func TestRecordMissPauseEndedYesterday(t *testing.T) {
	store, ctl := setup(t, models.UserAccount{ID: "u1", Streak: 12})
	addPause(t, store, "u1", day.AddDays(-3), day.AddDays(-1))

	d, err := ctl.RecordMiss(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, Reset, d.Outcome)
}

func TestRecordMissFailsOpen(t *testing.T) {
	store, ctl := setup(t, models.UserAccount{ID: "u1", Streak: 12})
	store.broken.Store(true)

	d, err := ctl.RecordMiss(context.Background(), "u1")
	require.ErrorIs(t, err, ErrDeferred)
	assert.ErrorIs(t, err, errPauseQuery)
	assert.Equal(t, Deferred, d.Outcome)
	assert.Equal(t, []string{"u1"}, ctl.Pending())

	acct, _ := store.GetAccount(context.Background(), "u1")
	assert.Equal(t, 12, acct.Streak, "an unreadable pause state must never reset the streak")

	// Still broken: stays queued.
	_, err = ctl.ProcessDeferred(context.Background())
	assert.ErrorIs(t, err, ErrDeferred)
	assert.Equal(t, []string{"u1"}, ctl.Pending())

	store.broken.Store(false)
	decisions, err := ctl.ProcessDeferred(context.Background())
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, Reset, decisions[0].Outcome)
	assert.Empty(t, ctl.Pending())
}

func TestDeferredDecisionUsesOriginalDay(t *testing.T) {
	store, ctl := setup(t, models.UserAccount{ID: "u1", Streak: 5})
	addPause(t, store, "u1", day, day)
	store.broken.Store(true)
	_, err := ctl.RecordMiss(context.Background(), "u1")
	require.ErrorIs(t, err, ErrDeferred)

	// The controller's clock moves past the pause before the retry.
	ctl.cal = calendar.New(time.UTC).WithClock(calendar.Fixed(day.AddDays(2).Time()))
	store.broken.Store(false)
	decisions, err := ctl.ProcessDeferred(context.Background())
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, Protected, decisions[0].Outcome)
}

func TestRecordMissUnknownUser(t *testing.T) {
	_, ctl := setup(t, models.UserAccount{ID: "u1"})
	_, err := ctl.RecordMiss(context.Background(), "ghost")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	assert.Empty(t, ctl.Pending())
}

func TestSweeperOncePerDay(t *testing.T) {
	store, ctl := setup(t, models.UserAccount{ID: "idle", Streak: 4, LastCompletedOn: day.AddDays(-3)})
	require.NoError(t, store.CreateUser(models.UserAccount{ID: "paused", Streak: 9, LastCompletedOn: day.AddDays(-4)}))
	require.NoError(t, store.CreateUser(models.UserAccount{ID: "active", Streak: 7, LastCompletedOn: day.AddDays(-1)}))
	addPause(t, store, "paused", day.AddDays(-1), day.AddDays(1))

	sw := NewSweeper(ctl, store, time.Minute)
	report, err := sw.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Day.Equal(day.AddDays(-1)))
	assert.Equal(t, 1, report.Reset)
	assert.Equal(t, 1, report.Protected)

	for id, want := range map[string]int{"idle": 0, "paused": 9, "active": 7} {
		acct, err := store.GetAccount(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, want, acct.Streak, id)
	}

	report, err = sw.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Reset+report.Protected+report.Deferred)
}
