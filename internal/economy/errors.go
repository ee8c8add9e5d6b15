package economy

import (
	"errors"
	"fmt"

	"github.com/Craverse/craveverse/internal/calendar"
)

var (
	ErrValidation         = errors.New("invalid input")
	ErrItemUnavailable    = errors.New("item unavailable")
	ErrTierInsufficient   = errors.New("subscription tier too low")
	ErrInsufficientFunds  = errors.New("insufficient CraveCoins")
	ErrNotFound           = errors.New("not found")
	ErrDurationMismatch   = errors.New("pause length does not match token")
	ErrPauseAlreadyActive = errors.New("pause already active")
	ErrNoSkipAvailable    = errors.New("no level skip available")
	ErrAlreadyCompleted   = errors.New("level already completed")
	ErrLevelNotFound      = errors.New("level not found")
	ErrLevelLocked        = errors.New("level locked for this tier")
	ErrThemeNotUnlocked   = errors.New("theme not unlocked")
	// ErrBusy means the user's serialization boundary could not be acquired
	// in time. Nothing was applied.
	ErrBusy = errors.New("user busy, retry")
	// ErrUnavailable means the store failed or kept aborting. Nothing was
	// applied and the caller may retry.
	ErrUnavailable = errors.New("ledger unavailable")
)

// PauseActiveError is returned when a pause already covers today. It matches
// ErrPauseAlreadyActive.
type PauseActiveError struct {
	Until calendar.Date
}

func (e *PauseActiveError) Error() string {
	return fmt.Sprintf("%s until %s", ErrPauseAlreadyActive, e.Until)
}

func (e *PauseActiveError) Is(target error) bool {
	return target == ErrPauseAlreadyActive
}

var codes = []struct {
	err  error
	code string
}{
	{ErrValidation, "VALIDATION_ERROR"},
	{ErrItemUnavailable, "ITEM_UNAVAILABLE"},
	{ErrTierInsufficient, "TIER_INSUFFICIENT"},
	{ErrInsufficientFunds, "INSUFFICIENT_FUNDS"},
	{ErrNotFound, "NOT_FOUND"},
	{ErrDurationMismatch, "DURATION_MISMATCH"},
	{ErrPauseAlreadyActive, "PAUSE_ALREADY_ACTIVE"},
	{ErrNoSkipAvailable, "NO_SKIP_AVAILABLE"},
	{ErrAlreadyCompleted, "ALREADY_COMPLETED"},
	{ErrLevelNotFound, "LEVEL_NOT_FOUND"},
	{ErrLevelLocked, "LEVEL_LOCKED"},
	{ErrThemeNotUnlocked, "THEME_NOT_UNLOCKED"},
	{ErrBusy, "BUSY"},
	{ErrUnavailable, "UNAVAILABLE"},
}

// Code returns the stable failure code for err, "INTERNAL_ERROR" for errors
// outside the economy's vocabulary and "" for nil.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "INTERNAL_ERROR"
}

// isRuleError reports whether err is an expected business outcome that must
// never be retried.
func isRuleError(err error) bool {
	switch Code(err) {
	case "", "INTERNAL_ERROR", "BUSY", "UNAVAILABLE":
		return false
	}
	return true
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
