package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Craverse/craveverse/internal/calendar"
	"github.com/Craverse/craveverse/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemory(t *testing.T, acct models.UserAccount) *Memory {
	t.Helper()
	m := NewMemory(50 * time.Millisecond)
	require.NoError(t, m.CreateUser(acct))
	return m
}

func TestMemoryCommitsOnSuccess(t *testing.T) {
	m := newTestMemory(t, models.UserAccount{ID: "u1", Balance: 100})
	ctx := context.Background()

	err := m.InUserTx(ctx, "u1", func(ctx context.Context, tx Tx) error {
		acct, err := tx.Account(ctx)
		if err != nil {
			return err
		}
		acct.Balance -= 30
		if err := tx.UpdateAccount(ctx, acct); err != nil {
			return err
		}
		if _, err := tx.AppendPurchase(ctx, models.PurchaseRecord{ItemID: "pause-1d", Quantity: 1, AmountCoins: 30}); err != nil {
			return err
		}
		_, err = tx.UpsertInventory(ctx, "pause-1d", 1, nil)
		return err
	})
	require.NoError(t, err)

	acct, err := m.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(70), acct.Balance)
	assert.Equal(t, models.TierFree, acct.Tier)
	assert.Equal(t, 1, acct.CurrentLevel)

	purchases, err := m.ListPurchases(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	assert.Equal(t, "u1", purchases[0].UserID)

	inv, err := m.ListInventory(ctx, "u1", time.Now())
	require.NoError(t, err)
	require.Len(t, inv, 1)
	assert.Equal(t, 1, inv[0].Quantity)
}

func TestMemoryRollsBackOnError(t *testing.T) {
	m := newTestMemory(t, models.UserAccount{ID: "u1", Balance: 100})
	ctx := context.Background()
	boom := errors.New("boom")

	err := m.InUserTx(ctx, "u1", func(ctx context.Context, tx Tx) error {
		acct, _ := tx.Account(ctx)
		acct.Balance = 0
		if err := tx.UpdateAccount(ctx, acct); err != nil {
			return err
		}
		if _, err := tx.AppendPurchase(ctx, models.PurchaseRecord{ItemID: "x", Quantity: 1, AmountCoins: 100}); err != nil {
			return err
		}
		if _, err := tx.UpsertInventory(ctx, "x", 1, nil); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	acct, err := m.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), acct.Balance)
	purchases, _ := m.ListPurchases(ctx, "u1", 0)
	assert.Empty(t, purchases)
	inv, _ := m.ListInventory(ctx, "u1", time.Now())
	assert.Empty(t, inv)
}

func TestMemoryBusyWhenLockHeld(t *testing.T) {
	m := newTestMemory(t, models.UserAccount{ID: "u1", Balance: 10})
	require.NoError(t, m.CreateUser(models.UserAccount{ID: "u2", Balance: 10}))
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- m.InUserTx(ctx, "u1", func(context.Context, Tx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := m.InUserTx(ctx, "u1", func(context.Context, Tx) error {
		t.Fatal("callback must not run while the user is locked")
		return nil
	})
	assert.ErrorIs(t, err, ErrBusy)

	// Other users are not blocked.
	assert.NoError(t, m.InUserTx(ctx, "u2", func(context.Context, Tx) error { return nil }))

	close(release)
	require.NoError(t, <-done)
}

func TestMemoryBusyOnCancelledContext(t *testing.T) {
	m := newTestMemory(t, models.UserAccount{ID: "u1"})
	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = m.InUserTx(context.Background(), "u1", func(context.Context, Tx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.InUserTx(ctx, "u1", func(context.Context, Tx) error { return nil })
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryUnknownUser(t *testing.T) {
	m := NewMemory(0)
	err := m.InUserTx(context.Background(), "ghost", func(context.Context, Tx) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.GetAccount(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryDecrementDeletesAtZero(t *testing.T) {
	m := newTestMemory(t, models.UserAccount{ID: "u1"})
	ctx := context.Background()

	var entryID string
	require.NoError(t, m.InUserTx(ctx, "u1", func(ctx context.Context, tx Tx) error {
		e, err := tx.UpsertInventory(ctx, "skip", 1, nil)
		entryID = e.ID
		return err
	}))
	require.NoError(t, m.InUserTx(ctx, "u1", func(ctx context.Context, tx Tx) error {
		e, err := tx.UpsertInventory(ctx, "skip", 1, nil)
		assert.Equal(t, entryID, e.ID)
		assert.Equal(t, 2, e.Quantity)
		return err
	}))

	for _, want := range []int{1, 0} {
		require.NoError(t, m.InUserTx(ctx, "u1", func(ctx context.Context, tx Tx) error {
			left, err := tx.DecrementInventory(ctx, entryID)
			assert.Equal(t, want, left)
			return err
		}))
	}

	err := m.InUserTx(ctx, "u1", func(ctx context.Context, tx Tx) error {
		_, err := tx.DecrementInventory(ctx, entryID)
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRejectsNegativeBalance(t *testing.T) {
	m := newTestMemory(t, models.UserAccount{ID: "u1", Balance: 5})
	err := m.InUserTx(context.Background(), "u1", func(ctx context.Context, tx Tx) error {
		acct, _ := tx.Account(ctx)
		acct.Balance = -1
		return tx.UpdateAccount(ctx, acct)
	})
	assert.ErrorIs(t, err, ErrNegativeBalance)
}

func TestMemoryThemeUnlockUnique(t *testing.T) {
	m := newTestMemory(t, models.UserAccount{ID: "u1"})
	ctx := context.Background()

	insert := func() error {
		return m.InUserTx(ctx, "u1", func(ctx context.Context, tx Tx) error {
			_, err := tx.InsertThemeUnlock(ctx, models.ThemeUnlock{ThemeID: "premium"})
			return err
		})
	}
	require.NoError(t, insert())
	assert.ErrorIs(t, insert(), ErrDuplicate)

	unlocks, err := m.ListThemeUnlocks(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, unlocks, 1)
}

func TestMemoryActivePauseWindow(t *testing.T) {
	m := newTestMemory(t, models.UserAccount{ID: "u1"})
	ctx := context.Background()
	start := calendar.Day(2024, time.January, 10)

	require.NoError(t, m.InUserTx(ctx, "u1", func(ctx context.Context, tx Tx) error {
		_, err := tx.InsertPause(ctx, models.PausePeriod{StartDate: start, EndDate: start.AddDays(2)})
		return err
	}))

	for day, want := range map[int]bool{-1: false, 0: true, 1: true, 2: true, 3: false} {
		p, err := m.ActivePause(ctx, "u1", start.AddDays(day))
		require.NoError(t, err)
		assert.Equal(t, want, p != nil, "day offset %d", day)
	}
}

func TestMemoryExpiredInventory(t *testing.T) {
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	m := newTestMemory(t, models.UserAccount{ID: "u1"})
	m.WithClock(func() time.Time { return now })
	ctx := context.Background()

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	require.NoError(t, m.InUserTx(ctx, "u1", func(ctx context.Context, tx Tx) error {
		if _, err := tx.UpsertInventory(ctx, "old", 1, &past); err != nil {
			return err
		}
		_, err := tx.UpsertInventory(ctx, "fresh", 1, &future)
		return err
	}))

	inv, err := m.ListInventory(ctx, "u1", now)
	require.NoError(t, err)
	require.Len(t, inv, 1)
	assert.Equal(t, "fresh", inv[0].ItemID)

	removed, err := m.DeleteExpiredInventory(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestMemoryIdleUsers(t *testing.T) {
	m := NewMemory(0)
	yesterday := calendar.Day(2024, time.January, 9)
	require.NoError(t, m.CreateUser(models.UserAccount{ID: "active", Streak: 3, LastCompletedOn: yesterday}))
	require.NoError(t, m.CreateUser(models.UserAccount{ID: "idle", Streak: 3, LastCompletedOn: yesterday.AddDays(-2)}))
	require.NoError(t, m.CreateUser(models.UserAccount{ID: "never", Streak: 1}))
	require.NoError(t, m.CreateUser(models.UserAccount{ID: "zero"}))

	ids, err := m.ListIdleUsers(context.Background(), yesterday)
	require.NoError(t, err)
	assert.Equal(t, []string{"idle", "never"}, ids)
}
