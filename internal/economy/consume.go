package economy

import (
	"context"
	"errors"
	"time"

	"github.com/Craverse/craveverse/internal/calendar"
	"github.com/Craverse/craveverse/internal/ledger"
	"github.com/Craverse/craveverse/internal/metrics"
	"github.com/Craverse/craveverse/internal/models"
	"github.com/Craverse/craveverse/internal/personalization"
	"github.com/Craverse/craveverse/internal/streak"
)

type PauseWindow struct {
	ID            string        `json:"id"`
	InventoryID   string        `json:"pause_token_id"`
	Start         calendar.Date `json:"start_date"`
	End           calendar.Date `json:"end_date"`
	DaysRemaining int           `json:"days_remaining"`
}

// windowOf counts DaysRemaining as whole days after today, so a window
// ending today reports 0.
func windowOf(p models.PausePeriod, today calendar.Date) PauseWindow {
	remaining := today.DaysUntil(p.EndDate)
	if remaining < 0 {
		remaining = 0
	}
	return PauseWindow{ID: p.ID, InventoryID: p.InventoryID, Start: p.StartDate, End: p.EndDate, DaysRemaining: remaining}
}

// ActivatePause spends one pause token and opens the window
// [today, today+days-1] in the engine's calendar.
func (e *Engine) ActivatePause(ctx context.Context, userID, inventoryID string, days int) (PauseWindow, error) {
	switch {
	case userID == "":
		return PauseWindow{}, invalid("user id required")
	case inventoryID == "":
		return PauseWindow{}, invalid("inventory id required")
	case days < 1:
		return PauseWindow{}, invalid("days must be positive")
	}

	var win PauseWindow
	err := e.write(ctx, "activate_pause", userID, func(ctx context.Context, tx ledger.Tx) error {
		now := e.cal.Now()
		today := calendar.DateOf(now)

		entry, err := tx.InventoryEntry(ctx, inventoryID)
		if errors.Is(err, ledger.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if entry.Quantity < 1 || entry.Expired(now) {
			return ErrNotFound
		}
		item, err := e.lookupItem(ctx, entry.ItemID, ErrNotFound)
		if err != nil {
			return err
		}
		if item.Effect.Kind() != models.EffectPause {
			return ErrNotFound
		}
		if days != item.Effect.PauseDays {
			return ErrDurationMismatch
		}

		active, err := tx.ActivePause(ctx, today)
		if err != nil {
			return err
		}
		if active != nil {
			return &PauseActiveError{Until: active.EndDate}
		}

		p, err := tx.InsertPause(ctx, models.PausePeriod{
			InventoryID: entry.ID,
			StartDate:   today,
			EndDate:     today.AddDays(days - 1),
		})
		if err != nil {
			return err
		}
		if _, err := tx.DecrementInventory(ctx, entry.ID); err != nil {
			return err
		}
		win = windowOf(p, today)
		return nil
	})
	if err != nil {
		return PauseWindow{}, err
	}

	e.emit(ctx, userID, "pause_token_activated", map[string]any{
		"inventory_id": inventoryID,
		"days":         days,
		"start_date":   win.Start.String(),
		"end_date":     win.End.String(),
	})
	return win, nil
}

type SkipResult struct {
	LevelID         string `json:"level_id"`
	LevelNumber     int    `json:"level_number"`
	NewCurrentLevel int    `json:"new_current_level"`
}

// UseLevelSkip marks levelID complete without reward, advances the user's
// level and spends one skip token, all in one commit.
func (e *Engine) UseLevelSkip(ctx context.Context, userID, levelID string) (SkipResult, error) {
	if userID == "" || levelID == "" {
		return SkipResult{}, invalid("user id and level id required")
	}

	var res SkipResult
	err := e.write(ctx, "use_level_skip", userID, func(ctx context.Context, tx ledger.Tx) error {
		now := e.cal.Now()
		skip, err := e.findSkip(ctx, tx, now)
		if err != nil {
			return err
		}
		level, err := e.lookupLevel(ctx, levelID)
		if err != nil {
			return err
		}
		done, err := tx.LevelCompletion(ctx, levelID)
		if err != nil {
			return err
		}
		if done != nil {
			return ErrAlreadyCompleted
		}

		if err := tx.InsertLevelCompletion(ctx, models.LevelCompletion{
			LevelID:     level.ID,
			LevelNumber: level.Number,
			Skipped:     true,
			CompletedAt: now,
		}); err != nil {
			return err
		}
		acct, err := tx.Account(ctx)
		if err != nil {
			return err
		}
		acct.CurrentLevel = max(acct.CurrentLevel, level.Number+1)
		if err := tx.UpdateAccount(ctx, acct); err != nil {
			return err
		}
		if _, err := tx.DecrementInventory(ctx, skip.ID); err != nil {
			return err
		}
		res = SkipResult{LevelID: level.ID, LevelNumber: level.Number, NewCurrentLevel: acct.CurrentLevel}
		return nil
	})
	if err != nil {
		return SkipResult{}, err
	}

	e.emit(ctx, userID, "level_skip_used", map[string]any{"level_id": levelID, "level_number": res.LevelNumber})
	return res, nil
}

// findSkip returns the oldest live inventory entry whose item carries a
// level-skip effect.
func (e *Engine) findSkip(ctx context.Context, tx ledger.Tx, now time.Time) (models.InventoryEntry, error) {
	entries, err := tx.ListInventory(ctx)
	if err != nil {
		return models.InventoryEntry{}, err
	}
	for _, entry := range entries {
		if entry.Quantity < 1 || entry.Expired(now) {
			continue
		}
		item, err := e.lookupItem(ctx, entry.ItemID, errSkipItem)
		if errors.Is(err, errSkipItem) {
			continue
		}
		if err != nil {
			return models.InventoryEntry{}, err
		}
		if item.Effect.Kind() == models.EffectLevelSkip {
			return entry, nil
		}
	}
	return models.InventoryEntry{}, ErrNoSkipAvailable
}

var errSkipItem = errors.New("inventory item missing from catalog")

// ApplyTheme makes an unlocked theme active and returns its stored payload.
func (e *Engine) ApplyTheme(ctx context.Context, userID, themeID string) (models.ThemeData, error) {
	if userID == "" || themeID == "" {
		return models.ThemeData{}, invalid("user id and theme id required")
	}

	var data models.ThemeData
	err := e.write(ctx, "apply_theme", userID, func(ctx context.Context, tx ledger.Tx) error {
		u, err := tx.ThemeUnlock(ctx, themeID)
		if err != nil {
			return err
		}
		if u == nil {
			return ErrThemeNotUnlocked
		}
		data = u.Data
		if data.ColorScheme.Primary == "" {
			data = personalization.Fallback
		}
		id := themeID
		payload := data
		return tx.SaveSettings(ctx, models.UserSettings{ActiveThemeID: &id, ThemePersonalization: &payload})
	})
	if err != nil {
		return models.ThemeData{}, err
	}

	e.emit(ctx, userID, "theme_applied", map[string]any{"theme_id": themeID})
	return data, nil
}

type CompletionResult struct {
	LevelID         string `json:"level_id"`
	LevelNumber     int    `json:"level_number"`
	XPAwarded       int64  `json:"xp_awarded"`
	CoinsAwarded    int64  `json:"coins_awarded"`
	NewBalance      int64  `json:"new_balance"`
	NewXP           int64  `json:"new_xp"`
	NewCurrentLevel int    `json:"new_current_level"`
	Streak          int    `json:"streak_count"`
}

// FreeLevelLimit is the highest level number open to the free tier.
const FreeLevelLimit = 10

func levelUnlocked(tier models.Tier, level models.LevelDefinition) bool {
	return level.Number <= FreeLevelLimit || tier.AtLeast(models.TierPlus)
}

// CompleteLevel records an earned completion: XP and coin reward, an earning
// ledger row, level advance and one streak increment.
func (e *Engine) CompleteLevel(ctx context.Context, userID, levelID string) (CompletionResult, error) {
	if userID == "" || levelID == "" {
		return CompletionResult{}, invalid("user id and level id required")
	}
	level, err := e.lookupLevel(ctx, levelID)
	if err != nil {
		return CompletionResult{}, err
	}

	var res CompletionResult
	var streakOutcome streak.Outcome
	err = e.write(ctx, "complete_level", userID, func(ctx context.Context, tx ledger.Tx) error {
		now := e.cal.Now()
		done, err := tx.LevelCompletion(ctx, levelID)
		if err != nil {
			return err
		}
		if done != nil {
			return ErrAlreadyCompleted
		}
		acct, err := tx.Account(ctx)
		if err != nil {
			return err
		}
		if !levelUnlocked(acct.Tier, level) {
			return ErrLevelLocked
		}
		if err := tx.InsertLevelCompletion(ctx, models.LevelCompletion{
			LevelID:      level.ID,
			LevelNumber:  level.Number,
			XPAwarded:    level.XPReward,
			CoinsAwarded: level.CoinReward,
			CompletedAt:  now,
		}); err != nil {
			return err
		}
		if level.CoinReward > 0 {
			if _, err := tx.AppendEarning(ctx, models.EarningRecord{
				Source:   "level_completion",
				SourceID: level.ID,
				Amount:   level.CoinReward,
			}); err != nil {
				return err
			}
		}

		acct.XP += level.XPReward
		acct.Balance += level.CoinReward
		acct.CurrentLevel = max(acct.CurrentLevel, level.Number+1)
		streakOutcome = streak.Complete(&acct, calendar.DateOf(now))
		if err := tx.UpdateAccount(ctx, acct); err != nil {
			return err
		}
		res = CompletionResult{
			LevelID:         level.ID,
			LevelNumber:     level.Number,
			XPAwarded:       level.XPReward,
			CoinsAwarded:    level.CoinReward,
			NewBalance:      acct.Balance,
			NewXP:           acct.XP,
			NewCurrentLevel: acct.CurrentLevel,
			Streak:          acct.Streak,
		}
		return nil
	})
	if err != nil {
		return CompletionResult{}, err
	}
	metrics.RecordStreakDecision(string(streakOutcome))

	e.emit(ctx, userID, "level_completed", map[string]any{
		"level_id":     levelID,
		"level_number": level.Number,
		"xp_reward":    level.XPReward,
		"coin_reward":  level.CoinReward,
	})
	return res, nil
}
