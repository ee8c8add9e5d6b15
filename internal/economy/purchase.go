package economy

import (
	"context"
	"time"

	"github.com/Craverse/craveverse/internal/ledger"
	"github.com/Craverse/craveverse/internal/metrics"
	"github.com/Craverse/craveverse/internal/models"
	"github.com/Craverse/craveverse/internal/personalization"

	"github.com/sirupsen/logrus"
)

// MaxQuantity bounds a single purchase line.
const MaxQuantity = 99

type PurchaseResult struct {
	NewBalance  int64    `json:"new_balance"`
	PurchaseID  string   `json:"purchase_id"`
	AffectedIDs []string `json:"affected_ids"`
}

// Purchase debits price × qty, appends a purchase record and applies the
// item's effect in one commit. Depletable items accrue into inventory;
// cosmetics unlock their theme once, and repeat purchases are still charged.
func (e *Engine) Purchase(ctx context.Context, userID, itemID string, qty int) (PurchaseResult, error) {
	switch {
	case userID == "":
		return PurchaseResult{}, invalid("user id required")
	case itemID == "":
		return PurchaseResult{}, invalid("item id required")
	case qty < 1 || qty > MaxQuantity:
		return PurchaseResult{}, invalid("quantity must be between 1 and %d", MaxQuantity)
	}

	item, err := e.lookupItem(ctx, itemID, ErrItemUnavailable)
	if err != nil {
		metrics.RecordOperation("purchase", outcome(err), 0)
		return PurchaseResult{}, err
	}
	if !item.Active || !item.Consistent() {
		metrics.RecordOperation("purchase", outcome(ErrItemUnavailable), 0)
		return PurchaseResult{}, ErrItemUnavailable
	}
	cost := item.Price * int64(qty)

	var res PurchaseResult
	var unlocked bool
	err = e.write(ctx, "purchase", userID, func(ctx context.Context, tx ledger.Tx) error {
		res = PurchaseResult{}
		unlocked = false

		acct, err := tx.Account(ctx)
		if err != nil {
			return err
		}
		if !acct.Tier.AtLeast(item.TierRequired) {
			return ErrTierInsufficient
		}
		if acct.Balance < cost {
			return ErrInsufficientFunds
		}

		profile := personalization.ProfileOf(acct)
		acct.Balance -= cost
		if err := tx.UpdateAccount(ctx, acct); err != nil {
			return err
		}
		rec, err := tx.AppendPurchase(ctx, models.PurchaseRecord{
			ItemID:      item.ID,
			Quantity:    qty,
			AmountCoins: cost,
		})
		if err != nil {
			return err
		}

		switch item.Effect.Kind() {
		case models.EffectPause, models.EffectLevelSkip:
			entry, err := tx.UpsertInventory(ctx, item.ID, qty, e.expiry(item))
			if err != nil {
				return err
			}
			res.AffectedIDs = []string{entry.ID}
		case models.EffectTheme:
			themeID := item.Effect.Theme
			existing, err := tx.ThemeUnlock(ctx, themeID)
			if err != nil {
				return err
			}
			if existing != nil {
				res.AffectedIDs = []string{existing.ID}
				break
			}
			u, err := tx.InsertThemeUnlock(ctx, models.ThemeUnlock{
				ThemeID: themeID,
				Data:    personalization.Generate(profile, themeID),
			})
			if err != nil {
				return err
			}
			unlocked = true
			res.AffectedIDs = []string{u.ID}
		}

		res.NewBalance = acct.Balance
		res.PurchaseID = rec.ID
		return nil
	})
	if err != nil {
		return PurchaseResult{}, err
	}

	metrics.RecordSpend(cost)
	e.log.WithFields(logrus.Fields{"user_id": userID, "item_id": itemID, "quantity": qty, "cost": cost}).Info("purchase committed")
	meta := map[string]any{"item_id": item.ID, "quantity": qty, "amount_coins": cost, "purchase_id": res.PurchaseID}
	if unlocked {
		meta["theme_id"] = item.Effect.Theme
	}
	e.emit(ctx, userID, "shop_purchase", meta)
	return res, nil
}

func (e *Engine) expiry(item models.ShopItem) *time.Time {
	if item.ShelfLifeDays == nil || *item.ShelfLifeDays <= 0 {
		return nil
	}
	t := e.cal.Now().AddDate(0, 0, *item.ShelfLifeDays).UTC()
	return &t
}
