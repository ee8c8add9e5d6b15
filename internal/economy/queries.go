package economy

import (
	"context"
	"errors"

	"github.com/Craverse/craveverse/internal/catalog"
	"github.com/Craverse/craveverse/internal/ledger"
	"github.com/Craverse/craveverse/internal/models"
)

const (
	DefaultHistoryLimit = 30
	MaxHistoryLimit     = 100
)

// GetActivePause returns the window covering today, or nil.
func (e *Engine) GetActivePause(ctx context.Context, userID string) (*PauseWindow, error) {
	if userID == "" {
		return nil, invalid("user id required")
	}
	today := e.cal.Today()
	p, err := read(ctx, e, "get_active_pause", userID, func() (*models.PausePeriod, error) {
		return e.store.ActivePause(ctx, userID, today)
	})
	if err != nil || p == nil {
		return nil, err
	}
	win := windowOf(*p, today)
	return &win, nil
}

type InventoryItem struct {
	models.InventoryEntry
	Item *models.ShopItem `json:"shop_items"`
}

// GetInventory lists the user's live inventory joined with catalog data.
// Entries whose item left the catalog are returned without it.
func (e *Engine) GetInventory(ctx context.Context, userID string) ([]InventoryItem, error) {
	if userID == "" {
		return nil, invalid("user id required")
	}
	entries, err := read(ctx, e, "get_inventory", userID, func() ([]models.InventoryEntry, error) {
		return e.store.ListInventory(ctx, userID, e.cal.Now())
	})
	if err != nil {
		return nil, err
	}
	res := make([]InventoryItem, 0, len(entries))
	for _, entry := range entries {
		row := InventoryItem{InventoryEntry: entry}
		it, err := e.catalog.Item(ctx, entry.ItemID)
		switch {
		case err == nil:
			row.Item = &it
		case !errors.Is(err, catalog.ErrNotFound):
			e.log.WithError(err).WithField("item_id", entry.ItemID).Warn("inventory catalog join failed")
		}
		res = append(res, row)
	}
	return res, nil
}

// GetPurchaseHistory returns the newest purchases first. limit is clamped to
// [1, MaxHistoryLimit]; zero or negative means DefaultHistoryLimit.
func (e *Engine) GetPurchaseHistory(ctx context.Context, userID string, limit int) ([]models.PurchaseRecord, error) {
	if userID == "" {
		return nil, invalid("user id required")
	}
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	recs, err := read(ctx, e, "get_purchase_history", userID, func() ([]models.PurchaseRecord, error) {
		return e.store.ListPurchases(ctx, userID, limit)
	})
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []models.PurchaseRecord{}
	}
	return recs, nil
}

// ListThemes returns the user's unlocked themes, newest first.
func (e *Engine) ListThemes(ctx context.Context, userID string) ([]models.ThemeUnlock, error) {
	if userID == "" {
		return nil, invalid("user id required")
	}
	unlocks, err := read(ctx, e, "list_themes", userID, func() ([]models.ThemeUnlock, error) {
		return e.store.ListThemeUnlocks(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	if unlocks == nil {
		unlocks = []models.ThemeUnlock{}
	}
	return unlocks, nil
}

// ActiveTheme returns the user's saved theme settings, if any.
func (e *Engine) ActiveTheme(ctx context.Context, userID string) (*models.UserSettings, error) {
	s, err := read(ctx, e, "active_theme", userID, func() (models.UserSettings, error) {
		s, err := e.store.GetSettings(ctx, userID)
		if errors.Is(err, ledger.ErrNotFound) {
			if _, accErr := e.store.GetAccount(ctx, userID); accErr != nil {
				return models.UserSettings{}, accErr
			}
			return models.UserSettings{UserID: userID}, nil
		}
		return s, err
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}
