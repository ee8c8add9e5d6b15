package ledger

import (
	"fmt"
	"os"

	"github.com/Craverse/craveverse/internal/models"

	"gopkg.in/yaml.v3"
)

type seedAccount struct {
	ID             string      `yaml:"id"`
	Balance        int64       `yaml:"cravecoins"`
	Tier           models.Tier `yaml:"subscription_tier"`
	Streak         int         `yaml:"streak_count"`
	CurrentLevel   int         `yaml:"current_level"`
	XP             int64       `yaml:"xp"`
	PrimaryCraving string      `yaml:"primary_craving"`
}

type seedFile struct {
	Users []seedAccount `yaml:"users"`
}

// LoadSeed reads starting accounts from a YAML file with a top-level users list.
func LoadSeed(path string) ([]models.UserAccount, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	return ParseSeed(data)
}

func ParseSeed(data []byte) ([]models.UserAccount, error) {
	var sf seedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	accounts := make([]models.UserAccount, 0, len(sf.Users))
	seen := make(map[string]bool, len(sf.Users))
	for _, u := range sf.Users {
		switch {
		case u.ID == "":
			return nil, fmt.Errorf("seed: user without id")
		case seen[u.ID]:
			return nil, fmt.Errorf("seed: duplicate user %q", u.ID)
		case u.Balance < 0:
			return nil, fmt.Errorf("seed: user %q has a negative balance", u.ID)
		}
		seen[u.ID] = true
		tier := u.Tier
		if tier == "" {
			tier = models.TierFree
		}
		level := u.CurrentLevel
		if level < 1 {
			level = 1
		}
		accounts = append(accounts, models.UserAccount{
			ID:             u.ID,
			Balance:        u.Balance,
			Tier:           tier,
			Streak:         u.Streak,
			CurrentLevel:   level,
			XP:             u.XP,
			PrimaryCraving: u.PrimaryCraving,
		})
	}
	return accounts, nil
}
