package repo

import (
	"context"
	"encoding/json"

	"github.com/Craverse/craveverse/internal/catalog"
	"github.com/Craverse/craveverse/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const itemColumns = `id, name, type, price_coins, tier_required, effects, active, shelf_life_days`

func scanItem(row scanner) (models.ShopItem, error) {
	var (
		it       models.ShopItem
		category string
		tier     string
		effects  []byte
	)
	if err := row.Scan(&it.ID, &it.Name, &category, &it.Price, &tier, &effects, &it.Active, &it.ShelfLifeDays); err != nil {
		return models.ShopItem{}, err
	}
	it.Category = models.Category(category)
	it.TierRequired = models.Tier(tier)
	if len(effects) > 0 {
		if err := json.Unmarshal(effects, &it.Effect); err != nil {
			return models.ShopItem{}, errors.Wrapf(err, "decode effects of %s", it.ID)
		}
	}
	return it, nil
}

// Items returns every catalog row, active or not.
func (r *Repo) Items(ctx context.Context) ([]models.ShopItem, error) {
	rows, err := r.Pool.Query(ctx, `SELECT `+itemColumns+` FROM shop_items ORDER BY price_coins, id`)
	if err != nil {
		return nil, errors.Wrap(err, "list items")
	}
	defer rows.Close()
	var res []models.ShopItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan item")
		}
		res = append(res, it)
	}
	return res, errors.Wrap(rows.Err(), "list items")
}

func (r *Repo) Item(ctx context.Context, id string) (models.ShopItem, error) {
	it, err := scanItem(r.Pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM shop_items WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ShopItem{}, catalog.ErrNotFound
	}
	return it, errors.Wrapf(err, "get item %s", id)
}

func (r *Repo) Level(ctx context.Context, id string) (models.LevelDefinition, error) {
	var lvl models.LevelDefinition
	err := r.Pool.QueryRow(ctx, `SELECT id, level_number, craving_type, xp_reward, coin_reward FROM levels WHERE id=$1`, id).
		Scan(&lvl.ID, &lvl.Number, &lvl.CravingType, &lvl.XPReward, &lvl.CoinReward)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.LevelDefinition{}, catalog.ErrNotFound
	}
	return lvl, errors.Wrapf(err, "get level %s", id)
}

// SeedCatalog upserts items and levels in one transaction. Rows not listed
// are left alone.
func (r *Repo) SeedCatalog(ctx context.Context, items []models.ShopItem, levels []models.LevelDefinition) error {
	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	for _, it := range items {
		effects, err := json.Marshal(it.Effect)
		if err != nil {
			return errors.Wrapf(err, "encode effects of %s", it.ID)
		}
		tier := it.TierRequired
		if tier == "" {
			tier = models.TierFree
		}
		if _, err := tx.Exec(ctx, `INSERT INTO shop_items (`+itemColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, type=EXCLUDED.type, price_coins=EXCLUDED.price_coins,
				tier_required=EXCLUDED.tier_required, effects=EXCLUDED.effects, active=EXCLUDED.active,
				shelf_life_days=EXCLUDED.shelf_life_days`,
			it.ID, it.Name, string(it.Category), it.Price, string(tier), effects, it.Active, it.ShelfLifeDays); err != nil {
			return errors.Wrapf(err, "seed item %s", it.ID)
		}
	}
	for _, lvl := range levels {
		if _, err := tx.Exec(ctx, `INSERT INTO levels (id, level_number, craving_type, xp_reward, coin_reward) VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (id) DO UPDATE SET level_number=EXCLUDED.level_number, craving_type=EXCLUDED.craving_type,
				xp_reward=EXCLUDED.xp_reward, coin_reward=EXCLUDED.coin_reward`,
			lvl.ID, lvl.Number, lvl.CravingType, lvl.XPReward, lvl.CoinReward); err != nil {
			return errors.Wrapf(err, "seed level %s", lvl.ID)
		}
	}
	return errors.Wrap(tx.Commit(ctx), "commit catalog seed")
}
