package models

import (
	"time"

	"github.com/Craverse/craveverse/internal/calendar"
)

type Tier string

const (
	TierFree      Tier = "free"
	TierPlus      Tier = "plus"
	TierPlusTrial Tier = "plus_trial"
	TierUltra     Tier = "ultra"
)

var tierRank = map[Tier]int{
	TierFree:      0,
	TierPlus:      1,
	TierPlusTrial: 2,
	TierUltra:     3,
}

// Rank orders tiers free < plus < plus_trial < ultra. Unknown tiers rank below free.
func (t Tier) Rank() int {
	if r, ok := tierRank[t]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether t satisfies the required tier. An empty requirement means free.
func (t Tier) AtLeast(required Tier) bool {
	if required == "" {
		required = TierFree
	}
	return t.Rank() >= required.Rank()
}

type Category string

const (
	CategoryConsumable Category = "consumable"
	CategoryUtility    Category = "utility"
	CategoryCosmetic   Category = "cosmetic"
)

type Preferences struct {
	QuizAnswers     map[string]any `json:"quizAnswers,omitempty"`
	Personalization map[string]any `json:"personalization,omitempty"`
}

type UserAccount struct {
	ID              string        `json:"id"`
	Balance         int64         `json:"cravecoins"`
	Tier            Tier          `json:"subscription_tier"`
	Streak          int           `json:"streak_count"`
	CurrentLevel    int           `json:"current_level"`
	XP              int64         `json:"xp"`
	PrimaryCraving  string        `json:"primary_craving"`
	Preferences     Preferences   `json:"preferences"`
	LastCompletedOn calendar.Date `json:"last_completed_on"`
}

type ShopItem struct {
	ID            string   `json:"id" yaml:"id"`
	Name          string   `json:"name" yaml:"name"`
	Category      Category `json:"type" yaml:"type"`
	Price         int64    `json:"price_coins" yaml:"price_coins"`
	TierRequired  Tier     `json:"tier_required" yaml:"tier_required"`
	Effect        Effect   `json:"effects" yaml:"effects"`
	Active        bool     `json:"active" yaml:"active"`
	ShelfLifeDays *int     `json:"shelf_life_days,omitempty" yaml:"shelf_life_days"`
}

type InventoryEntry struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	ItemID      string     `json:"item_id"`
	Quantity    int        `json:"quantity"`
	ExpiresAt   *time.Time `json:"expires_at"`
	PurchasedAt time.Time  `json:"purchased_at"`
}

// Expired reports whether the entry can no longer be consumed at now.
func (e InventoryEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

type PurchaseRecord struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	ItemID      string    `json:"item_id"`
	Quantity    int       `json:"quantity"`
	AmountCoins int64     `json:"amount_coins"`
	PurchasedAt time.Time `json:"purchased_at"`
}

type EarningRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Source    string    `json:"source"`
	SourceID  string    `json:"source_id"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

type PausePeriod struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	InventoryID string        `json:"pause_token_id"`
	StartDate   calendar.Date `json:"start_date"`
	EndDate     calendar.Date `json:"end_date"`
	Active      bool          `json:"is_active"`
}

// Covers reports whether the pause protects day.
func (p PausePeriod) Covers(day calendar.Date) bool {
	return p.Active && day.Within(p.StartDate, p.EndDate)
}

type ColorScheme struct {
	Primary    string `json:"primary"`
	Secondary  string `json:"secondary"`
	Accent     string `json:"accent"`
	Background string `json:"background"`
}

type ThemeData struct {
	ColorScheme        ColorScheme    `json:"colorScheme"`
	MotivationalQuotes []string       `json:"motivationalQuotes"`
	Badges             []string       `json:"badges"`
	SpecialEffects     map[string]any `json:"specialEffects,omitempty"`
}

type ThemeUnlock struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	ThemeID    string    `json:"theme_id"`
	Data       ThemeData `json:"theme_data"`
	UnlockedAt time.Time `json:"unlocked_at"`
}

type UserSettings struct {
	UserID               string     `json:"user_id"`
	ActiveThemeID        *string    `json:"active_theme_id"`
	ThemePersonalization *ThemeData `json:"theme_personalization"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

type LevelDefinition struct {
	ID          string `json:"id" yaml:"id"`
	Number      int    `json:"level_number" yaml:"level_number"`
	CravingType string `json:"craving_type" yaml:"craving_type"`
	XPReward    int64  `json:"xp_reward" yaml:"xp_reward"`
	CoinReward  int64  `json:"coin_reward" yaml:"coin_reward"`
}

type LevelCompletion struct {
	UserID       string    `json:"user_id"`
	LevelID      string    `json:"level_id"`
	LevelNumber  int       `json:"level_number"`
	Skipped      bool      `json:"skipped"`
	XPAwarded    int64     `json:"xp_awarded"`
	CoinsAwarded int64     `json:"coins_awarded"`
	CompletedAt  time.Time `json:"completed_at"`
}
