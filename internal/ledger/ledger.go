// Package ledger defines the durable store behind the reward economy: user
// balances, inventory, the purchase and earning ledgers, pause periods, theme
// unlocks and level completions.
//
// All mutation goes through Store.InUserTx, which runs a callback behind a
// per-user serialization boundary and commits everything the callback did as
// one unit. Operations for different users never wait on each other.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/Craverse/craveverse/internal/calendar"
	"github.com/Craverse/craveverse/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrBusy means the per-user boundary could not be acquired in time.
	// Nothing was applied; the caller may retry.
	ErrBusy = errors.New("user is busy")
	// ErrConflict means the store aborted the transaction (serialization
	// failure, deadlock). Nothing was applied; retrying is safe.
	ErrConflict         = errors.New("transaction conflict")
	ErrNegativeQuantity = errors.New("inventory quantity would go negative")
	ErrNegativeBalance  = errors.New("balance would go negative")
	ErrDuplicate        = errors.New("duplicate row")
)

// Tx is the write surface available inside InUserTx. It is bound to a single
// user; every lookup is scoped to that user.
type Tx interface {
	// Account returns the user's row as locked at the start of the transaction,
	// including any UpdateAccount made since.
	Account(ctx context.Context) (models.UserAccount, error)
	UpdateAccount(ctx context.Context, acct models.UserAccount) error

	AppendPurchase(ctx context.Context, rec models.PurchaseRecord) (models.PurchaseRecord, error)
	AppendEarning(ctx context.Context, rec models.EarningRecord) (models.EarningRecord, error)

	// UpsertInventory adds qty to the (user, item) row, creating it if absent.
	// A non-nil expiresAt replaces the row's expiry.
	UpsertInventory(ctx context.Context, itemID string, qty int, expiresAt *time.Time) (models.InventoryEntry, error)
	InventoryEntry(ctx context.Context, entryID string) (models.InventoryEntry, error)
	ListInventory(ctx context.Context) ([]models.InventoryEntry, error)
	// DecrementInventory removes one unit, deleting the row when it reaches
	// zero, and returns the remaining quantity.
	DecrementInventory(ctx context.Context, entryID string) (int, error)

	ActivePause(ctx context.Context, today calendar.Date) (*models.PausePeriod, error)
	InsertPause(ctx context.Context, p models.PausePeriod) (models.PausePeriod, error)

	ThemeUnlock(ctx context.Context, themeID string) (*models.ThemeUnlock, error)
	InsertThemeUnlock(ctx context.Context, u models.ThemeUnlock) (models.ThemeUnlock, error)

	LevelCompletion(ctx context.Context, levelID string) (*models.LevelCompletion, error)
	InsertLevelCompletion(ctx context.Context, c models.LevelCompletion) error

	SaveSettings(ctx context.Context, s models.UserSettings) error
}

// TxFunc is the body of a per-user transaction. Returning an error rolls back
// every mutation made through tx.
type TxFunc func(ctx context.Context, tx Tx) error

// Reader holds the lock-free read paths.
type Reader interface {
	GetAccount(ctx context.Context, userID string) (models.UserAccount, error)
	ListInventory(ctx context.Context, userID string, now time.Time) ([]models.InventoryEntry, error)
	ListPurchases(ctx context.Context, userID string, limit int) ([]models.PurchaseRecord, error)
	ActivePause(ctx context.Context, userID string, today calendar.Date) (*models.PausePeriod, error)
	ListThemeUnlocks(ctx context.Context, userID string) ([]models.ThemeUnlock, error)
	GetSettings(ctx context.Context, userID string) (models.UserSettings, error)
	// ListIdleUsers returns users whose last completion is before day (or who
	// never completed a level) and who currently hold a non-zero streak.
	ListIdleUsers(ctx context.Context, before calendar.Date) ([]string, error)
}

type Store interface {
	Reader
	InUserTx(ctx context.Context, userID string, fn TxFunc) error
	// DeleteExpiredInventory removes inventory rows expired at now and returns
	// how many were removed.
	DeleteExpiredInventory(ctx context.Context, now time.Time) (int, error)
}

// Retryable reports whether err left no effect and may be retried as-is.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
