package models

type EffectKind string

const (
	EffectNone      EffectKind = ""
	EffectPause     EffectKind = "pause_days"
	EffectLevelSkip EffectKind = "level_skip"
	EffectTheme     EffectKind = "theme"
)

// Effect is the shop item's effect descriptor. Exactly one field is set on a
// well-formed item; the JSON shape matches the catalog's effects column.
type Effect struct {
	PauseDays int    `json:"pause_days,omitempty" yaml:"pause_days,omitempty"`
	LevelSkip int    `json:"level_skip,omitempty" yaml:"level_skip,omitempty"`
	Theme     string `json:"theme,omitempty" yaml:"theme,omitempty"`
}

// Kind returns the single effect carried by e, or EffectNone when e is empty
// or ambiguous.
func (e Effect) Kind() EffectKind {
	kind := EffectNone
	set := 0
	if e.PauseDays > 0 {
		kind = EffectPause
		set++
	}
	if e.LevelSkip > 0 {
		kind = EffectLevelSkip
		set++
	}
	if e.Theme != "" {
		kind = EffectTheme
		set++
	}
	if set != 1 {
		return EffectNone
	}
	return kind
}

// Consistent reports whether the item's category can carry its effect:
// depletable items hold pause or skip tokens, cosmetics unlock a theme.
func (i ShopItem) Consistent() bool {
	switch i.Category {
	case CategoryConsumable, CategoryUtility:
		k := i.Effect.Kind()
		return k == EffectPause || k == EffectLevelSkip
	case CategoryCosmetic:
		return i.Effect.Kind() == EffectTheme
	default:
		return false
	}
}
