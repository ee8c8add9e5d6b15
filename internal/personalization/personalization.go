// Package personalization derives the cosmetic payload stored with a theme
// unlock from the user's profile at unlock time.
package personalization

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Craverse/craveverse/internal/models"
)

type Profile struct {
	PrimaryCraving string
	CurrentLevel   int
	Streak         int
	XP             int64
	Severity       string
	Motivation     string
}

// ProfileOf snapshots the fields of acct the generator reads.
func ProfileOf(acct models.UserAccount) Profile {
	return Profile{
		PrimaryCraving: acct.PrimaryCraving,
		CurrentLevel:   acct.CurrentLevel,
		Streak:         acct.Streak,
		XP:             acct.XP,
		Severity:       stringField(acct.Preferences.QuizAnswers, "severity"),
		Motivation:     stringField(acct.Preferences.Personalization, "motivation"),
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

const defaultColor = "#FF8C42"

var cravingColors = map[string]string{
	"nofap":          "#FF6B6B",
	"sugar":          "#FFD93D",
	"shopping":       "#6BCF7F",
	"smoking_vaping": "#4ECDC4",
	"social_media":   "#A8E6CF",
}

// Fallback is served for unlocks whose stored payload is empty.
var Fallback = models.ThemeData{
	ColorScheme: models.ColorScheme{
		Primary:    "#FF8C42",
		Secondary:  "#FFA66B",
		Accent:     "#E6732F",
		Background: "#FFF5ED",
	},
	MotivationalQuotes: []string{"Keep going! You've got this!"},
	Badges:             []string{},
}

const maxQuotes = 5

var (
	baseQuotes = []string{
		"Every day is a new chance to grow stronger.",
		"You're building the life you want, one day at a time.",
		"Your future self will thank you for today's effort.",
	}
	severityQuotes = map[string][]string{
		"severe": {
			"You've faced harder challenges. This is nothing.",
			"Your strength in difficult times shows your true character.",
			"Progress isn't always linear, but you're moving forward.",
		},
		"mild": {
			"Small steps lead to big changes.",
			"Consistency is your superpower.",
			"You're creating lasting change.",
		},
	}
	motivationQuotes = map[string][]string{
		"health": {
			"Your health is your greatest wealth.",
			"Every choice you make is an investment in your future.",
			"Your body thanks you for every positive decision.",
		},
		"relationships": {
			"The people you love deserve the best version of you.",
			"Your relationships improve when you improve yourself.",
			"You're becoming the partner/friend/family member you want to be.",
		},
	}
	monthQuotes = []string{
		"30 days of consistency! You're unstoppable!",
		"You've proven you can do anything you set your mind to.",
		"This is just the beginning of your transformation.",
	}
	weekQuotes = []string{
		"A week of progress! Keep the momentum going!",
		"You're building powerful habits.",
		"One week down, many more to go!",
	}
)

type threshold struct {
	min   int64
	badge string
}

var (
	streakBadges = []threshold{{7, "7-Day Warrior"}, {30, "30-Day Champion"}, {90, "90-Day Legend"}}
	levelBadges  = []threshold{{10, "Level 10 Master"}, {20, "Level 20 Expert"}, {30, "Level 30 Hero"}}
	xpBadges     = []threshold{{1000, "XP Master"}, {5000, "XP Legend"}}
)

// Generate builds the theme payload for p. Every theme currently shares one
// palette strategy, so the result depends only on p.
func Generate(p Profile, themeID string) models.ThemeData {
	primary, ok := cravingColors[p.PrimaryCraving]
	if !ok {
		primary = defaultColor
	}
	data := models.ThemeData{
		ColorScheme: models.ColorScheme{
			Primary:    primary,
			Secondary:  adjustBrightness(primary, 0.2),
			Accent:     adjustBrightness(primary, -0.1),
			Background: adjustBrightness(primary, 0.9),
		},
		MotivationalQuotes: quotes(p),
		Badges:             badges(p),
	}
	if p.Streak >= 30 {
		data.SpecialEffects = map[string]any{"glow": true, "animation": "subtle"}
	}
	return data
}

func quotes(p Profile) []string {
	candidates := append([]string(nil), baseQuotes...)
	candidates = append(candidates, severityQuotes[p.Severity]...)
	candidates = append(candidates, motivationQuotes[p.Motivation]...)
	switch {
	case p.Streak >= 30:
		candidates = append(candidates, monthQuotes...)
	case p.Streak >= 7:
		candidates = append(candidates, weekQuotes...)
	}

	seen := make(map[string]struct{}, len(candidates))
	res := make([]string, 0, maxQuotes)
	for _, q := range candidates {
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		res = append(res, q)
		if len(res) == maxQuotes {
			break
		}
	}
	return res
}

func badges(p Profile) []string {
	res := []string{}
	add := func(value int64, ts []threshold) {
		for _, t := range ts {
			if value >= t.min {
				res = append(res, t.badge)
			}
		}
	}
	add(int64(p.Streak), streakBadges)
	add(int64(p.CurrentLevel), levelBadges)
	add(p.XP, xpBadges)
	return res
}

// adjustBrightness shifts every channel of hex by percent of the full range,
// clamping at 0 and 255. Halves round up.
func adjustBrightness(hex string, percent float64) string {
	n, err := strconv.ParseUint(strings.TrimPrefix(hex, "#"), 16, 32)
	if err != nil {
		return hex
	}
	amt := int(math.Floor(2.55*percent*100 + 0.5))
	clamp := func(v int) int {
		return min(255, max(0, v+amt))
	}
	r := clamp(int(n >> 16 & 0xFF))
	g := clamp(int(n >> 8 & 0xFF))
	b := clamp(int(n & 0xFF))
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}
