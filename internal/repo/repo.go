// Package repo is the PostgreSQL ledger store and catalog source.
package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Craverse/craveverse/internal/calendar"
	"github.com/Craverse/craveverse/internal/catalog"
	"github.com/Craverse/craveverse/internal/ledger"
	"github.com/Craverse/craveverse/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const DefaultLockTimeout = 3 * time.Second

// Repo implements ledger.Store and catalog.Source. The per-user boundary is
// the user's row lock, taken with SELECT ... FOR UPDATE at the start of
// every InUserTx.
type Repo struct {
	Pool        *pgxpool.Pool
	LockTimeout time.Duration
}

var (
	_ ledger.Store   = (*Repo)(nil)
	_ catalog.Source = (*Repo)(nil)
)

func New(pool *pgxpool.Pool) *Repo {
	return &Repo{Pool: pool, LockTimeout: DefaultLockTimeout}
}

type scanner interface {
	Scan(dest ...any) error
}

const accountColumns = `id, cravecoins, subscription_tier, streak_count, current_level, xp, primary_craving, preferences, last_completed_on`

func scanAccount(row scanner) (models.UserAccount, error) {
	var (
		acct  models.UserAccount
		tier  string
		prefs []byte
		last  *time.Time
	)
	if err := row.Scan(&acct.ID, &acct.Balance, &tier, &acct.Streak, &acct.CurrentLevel, &acct.XP, &acct.PrimaryCraving, &prefs, &last); err != nil {
		return models.UserAccount{}, err
	}
	acct.Tier = models.Tier(tier)
	if len(prefs) > 0 {
		if err := json.Unmarshal(prefs, &acct.Preferences); err != nil {
			return models.UserAccount{}, errors.Wrap(err, "decode preferences")
		}
	}
	if last != nil {
		acct.LastCompletedOn = calendar.DateOf(*last)
	}
	return acct, nil
}

// CreateUser inserts an account. Account creation belongs to onboarding; this
// is used for seeding and tests.
func (r *Repo) CreateUser(ctx context.Context, acct models.UserAccount) error {
	if acct.Tier == "" {
		acct.Tier = models.TierFree
	}
	if acct.CurrentLevel == 0 {
		acct.CurrentLevel = 1
	}
	prefs, err := json.Marshal(acct.Preferences)
	if err != nil {
		return errors.Wrap(err, "encode preferences")
	}
	_, err = r.Pool.Exec(ctx, `INSERT INTO users (id, cravecoins, subscription_tier, streak_count, current_level, xp, primary_craving, preferences, last_completed_on)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		acct.ID, acct.Balance, string(acct.Tier), acct.Streak, acct.CurrentLevel, acct.XP, acct.PrimaryCraving, prefs, dateArg(acct.LastCompletedOn))
	return classify(errors.Wrapf(err, "create user %s", acct.ID))
}

// InUserTx locks the user's row and runs fn inside the same transaction.
func (r *Repo) InUserTx(ctx context.Context, userID string, fn ledger.TxFunc) error {
	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return acquireErr(ctx, errors.Wrap(err, "begin"))
	}
	defer tx.Rollback(ctx)

	timeout := r.LockTimeout
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, fmt.Sprintf("%dms", timeout.Milliseconds())); err != nil {
		return acquireErr(ctx, errors.Wrap(err, "set lock_timeout"))
	}
	acct, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM users WHERE id=$1 FOR UPDATE`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.ErrNotFound
	}
	if err != nil {
		return acquireErr(ctx, errors.Wrapf(err, "lock user %s", userID))
	}

	if err := fn(ctx, &pgTx{tx: tx, userID: userID, acct: acct}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(errors.Wrap(err, "commit"))
	}
	return nil
}

// acquireErr reports a caller that gave up before the user's row was locked
// as busy; nothing has been applied at that point.
func acquireErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ledger.ErrBusy, ctxErr)
	}
	return classify(err)
}

// classify maps Postgres failures onto the ledger's error vocabulary.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "55P03":
		return errors.Wrap(ledger.ErrBusy, pgErr.Message)
	case "40001", "40P01":
		return errors.Wrap(ledger.ErrConflict, pgErr.Message)
	case "23505":
		return errors.Wrap(ledger.ErrDuplicate, pgErr.Message)
	}
	return err
}

func dateArg(d calendar.Date) any {
	if d.IsZero() {
		return nil
	}
	return d.Time()
}

type pgTx struct {
	tx     pgx.Tx
	userID string
	acct   models.UserAccount
}

func (t *pgTx) Account(context.Context) (models.UserAccount, error) {
	return t.acct, nil
}

func (t *pgTx) UpdateAccount(ctx context.Context, acct models.UserAccount) error {
	if acct.Balance < 0 {
		return ledger.ErrNegativeBalance
	}
	prefs, err := json.Marshal(acct.Preferences)
	if err != nil {
		return errors.Wrap(err, "encode preferences")
	}
	_, err = t.tx.Exec(ctx, `UPDATE users SET cravecoins=$2, subscription_tier=$3, streak_count=$4, current_level=$5, xp=$6,
		primary_craving=$7, preferences=$8, last_completed_on=$9, updated_at=now() WHERE id=$1`,
		t.userID, acct.Balance, string(acct.Tier), acct.Streak, acct.CurrentLevel, acct.XP, acct.PrimaryCraving, prefs, dateArg(acct.LastCompletedOn))
	if err != nil {
		return errors.Wrap(err, "update account")
	}
	acct.ID = t.userID
	t.acct = acct
	return nil
}

func (t *pgTx) AppendPurchase(ctx context.Context, rec models.PurchaseRecord) (models.PurchaseRecord, error) {
	rec.UserID = t.userID
	err := t.tx.QueryRow(ctx, `INSERT INTO purchases (user_id, item_id, quantity, amount_coins)
		VALUES ($1,$2,$3,$4) RETURNING id, purchased_at`,
		t.userID, rec.ItemID, rec.Quantity, rec.AmountCoins).Scan(&rec.ID, &rec.PurchasedAt)
	return rec, errors.Wrap(err, "append purchase")
}

func (t *pgTx) AppendEarning(ctx context.Context, rec models.EarningRecord) (models.EarningRecord, error) {
	rec.UserID = t.userID
	err := t.tx.QueryRow(ctx, `INSERT INTO coin_earnings (user_id, source, source_id, amount)
		VALUES ($1,$2,$3,$4) RETURNING id, created_at`,
		t.userID, rec.Source, rec.SourceID, rec.Amount).Scan(&rec.ID, &rec.CreatedAt)
	return rec, errors.Wrap(err, "append earning")
}

const inventoryColumns = `id, user_id, item_id, quantity, expires_at, purchased_at`

func scanInventory(row scanner) (models.InventoryEntry, error) {
	var e models.InventoryEntry
	err := row.Scan(&e.ID, &e.UserID, &e.ItemID, &e.Quantity, &e.ExpiresAt, &e.PurchasedAt)
	return e, err
}

func (t *pgTx) UpsertInventory(ctx context.Context, itemID string, qty int, expiresAt *time.Time) (models.InventoryEntry, error) {
	if qty < 1 {
		return models.InventoryEntry{}, ledger.ErrNegativeQuantity
	}
	e, err := scanInventory(t.tx.QueryRow(ctx, `INSERT INTO user_inventory (user_id, item_id, quantity, expires_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (user_id, item_id) DO UPDATE SET quantity = user_inventory.quantity + EXCLUDED.quantity,
			expires_at = COALESCE(EXCLUDED.expires_at, user_inventory.expires_at)
		RETURNING `+inventoryColumns, t.userID, itemID, qty, expiresAt))
	return e, errors.Wrapf(err, "upsert inventory %s", itemID)
}

func (t *pgTx) InventoryEntry(ctx context.Context, entryID string) (models.InventoryEntry, error) {
	if _, err := uuid.Parse(entryID); err != nil {
		return models.InventoryEntry{}, ledger.ErrNotFound
	}
	e, err := scanInventory(t.tx.QueryRow(ctx, `SELECT `+inventoryColumns+` FROM user_inventory WHERE id=$1 AND user_id=$2`, entryID, t.userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.InventoryEntry{}, ledger.ErrNotFound
	}
	return e, errors.Wrap(err, "inventory entry")
}

func (t *pgTx) ListInventory(ctx context.Context) ([]models.InventoryEntry, error) {
	return listInventory(ctx, t.tx, `SELECT `+inventoryColumns+` FROM user_inventory WHERE user_id=$1 ORDER BY purchased_at, id`, t.userID)
}

func (t *pgTx) DecrementInventory(ctx context.Context, entryID string) (int, error) {
	if _, err := uuid.Parse(entryID); err != nil {
		return 0, ledger.ErrNotFound
	}
	var qty int
	err := t.tx.QueryRow(ctx, `SELECT quantity FROM user_inventory WHERE id=$1 AND user_id=$2`, entryID, t.userID).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ledger.ErrNotFound
	}
	if err != nil {
		return 0, errors.Wrap(err, "read inventory quantity")
	}
	switch {
	case qty < 1:
		return 0, ledger.ErrNegativeQuantity
	case qty == 1:
		_, err = t.tx.Exec(ctx, `DELETE FROM user_inventory WHERE id=$1`, entryID)
	default:
		_, err = t.tx.Exec(ctx, `UPDATE user_inventory SET quantity = quantity - 1 WHERE id=$1`, entryID)
	}
	if err != nil {
		return 0, errors.Wrap(err, "decrement inventory")
	}
	return qty - 1, nil
}

const pauseColumns = `id, user_id, pause_token_id, start_date, end_date, is_active`

func scanPause(row scanner) (models.PausePeriod, error) {
	var (
		p          models.PausePeriod
		start, end time.Time
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.InventoryID, &start, &end, &p.Active); err != nil {
		return models.PausePeriod{}, err
	}
	p.StartDate, p.EndDate = calendar.DateOf(start), calendar.DateOf(end)
	return p, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func activePause(ctx context.Context, q querier, userID string, today calendar.Date) (*models.PausePeriod, error) {
	p, err := scanPause(q.QueryRow(ctx, `SELECT `+pauseColumns+` FROM streak_pauses
		WHERE user_id=$1 AND is_active AND start_date <= $2 AND end_date >= $2
		ORDER BY start_date LIMIT 1`, userID, today.Time()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "active pause")
	}
	return &p, nil
}

func (t *pgTx) ActivePause(ctx context.Context, today calendar.Date) (*models.PausePeriod, error) {
	return activePause(ctx, t.tx, t.userID, today)
}

func (t *pgTx) InsertPause(ctx context.Context, p models.PausePeriod) (models.PausePeriod, error) {
	p.UserID = t.userID
	p.Active = true
	err := t.tx.QueryRow(ctx, `INSERT INTO streak_pauses (user_id, pause_token_id, start_date, end_date, is_active)
		VALUES ($1,$2,$3,$4,true) RETURNING id`,
		t.userID, p.InventoryID, p.StartDate.Time(), p.EndDate.Time()).Scan(&p.ID)
	return p, errors.Wrap(err, "insert pause")
}

const themeColumns = `id, user_id, theme_id, theme_data, unlocked_at`

func scanTheme(row scanner) (models.ThemeUnlock, error) {
	var (
		u    models.ThemeUnlock
		data []byte
	)
	if err := row.Scan(&u.ID, &u.UserID, &u.ThemeID, &data, &u.UnlockedAt); err != nil {
		return models.ThemeUnlock{}, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &u.Data); err != nil {
			return models.ThemeUnlock{}, errors.Wrapf(err, "decode theme %s", u.ThemeID)
		}
	}
	return u, nil
}

func (t *pgTx) ThemeUnlock(ctx context.Context, themeID string) (*models.ThemeUnlock, error) {
	u, err := scanTheme(t.tx.QueryRow(ctx, `SELECT `+themeColumns+` FROM user_themes WHERE user_id=$1 AND theme_id=$2`, t.userID, themeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "theme unlock")
	}
	return &u, nil
}

func (t *pgTx) InsertThemeUnlock(ctx context.Context, u models.ThemeUnlock) (models.ThemeUnlock, error) {
	data, err := json.Marshal(u.Data)
	if err != nil {
		return models.ThemeUnlock{}, errors.Wrap(err, "encode theme data")
	}
	u.UserID = t.userID
	err = t.tx.QueryRow(ctx, `INSERT INTO user_themes (user_id, theme_id, theme_data)
		VALUES ($1,$2,$3) RETURNING id, unlocked_at`, t.userID, u.ThemeID, data).Scan(&u.ID, &u.UnlockedAt)
	if err != nil {
		return models.ThemeUnlock{}, classify(errors.Wrapf(err, "insert theme %s", u.ThemeID))
	}
	return u, nil
}

func (t *pgTx) LevelCompletion(ctx context.Context, levelID string) (*models.LevelCompletion, error) {
	var c models.LevelCompletion
	err := t.tx.QueryRow(ctx, `SELECT user_id, level_id, level_number, skipped, xp_awarded, coins_awarded, completed_at
		FROM level_completions WHERE user_id=$1 AND level_id=$2`, t.userID, levelID).
		Scan(&c.UserID, &c.LevelID, &c.LevelNumber, &c.Skipped, &c.XPAwarded, &c.CoinsAwarded, &c.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "level completion")
	}
	return &c, nil
}

func (t *pgTx) InsertLevelCompletion(ctx context.Context, c models.LevelCompletion) error {
	if c.CompletedAt.IsZero() {
		c.CompletedAt = time.Now()
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO level_completions (user_id, level_id, level_number, skipped, xp_awarded, coins_awarded, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		t.userID, c.LevelID, c.LevelNumber, c.Skipped, c.XPAwarded, c.CoinsAwarded, c.CompletedAt.UTC())
	return classify(errors.Wrapf(err, "insert completion %s", c.LevelID))
}

func (t *pgTx) SaveSettings(ctx context.Context, s models.UserSettings) error {
	var payload []byte
	if s.ThemePersonalization != nil {
		var err error
		if payload, err = json.Marshal(s.ThemePersonalization); err != nil {
			return errors.Wrap(err, "encode theme personalization")
		}
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO user_settings (user_id, active_theme_id, theme_personalization, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (user_id) DO UPDATE SET active_theme_id=EXCLUDED.active_theme_id,
			theme_personalization=EXCLUDED.theme_personalization, updated_at=now()`,
		t.userID, s.ActiveThemeID, payload)
	return errors.Wrap(err, "save settings")
}

func listInventory(ctx context.Context, q querier, sql string, args ...any) ([]models.InventoryEntry, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list inventory")
	}
	defer rows.Close()
	var res []models.InventoryEntry
	for rows.Next() {
		e, err := scanInventory(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan inventory")
		}
		res = append(res, e)
	}
	return res, errors.Wrap(rows.Err(), "list inventory")
}

func (r *Repo) GetAccount(ctx context.Context, userID string) (models.UserAccount, error) {
	acct, err := scanAccount(r.Pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM users WHERE id=$1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.UserAccount{}, ledger.ErrNotFound
	}
	return acct, errors.Wrap(err, "get account")
}

// userExists distinguishes "no rows" from "no user" on list reads.
func (r *Repo) userExists(ctx context.Context, userID string) error {
	var exists bool
	if err := r.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id=$1)`, userID).Scan(&exists); err != nil {
		return errors.Wrap(err, "check user")
	}
	if !exists {
		return ledger.ErrNotFound
	}
	return nil
}

func (r *Repo) ListInventory(ctx context.Context, userID string, now time.Time) ([]models.InventoryEntry, error) {
	if err := r.userExists(ctx, userID); err != nil {
		return nil, err
	}
	return listInventory(ctx, r.Pool, `SELECT `+inventoryColumns+` FROM user_inventory
		WHERE user_id=$1 AND (expires_at IS NULL OR expires_at > $2) ORDER BY purchased_at, id`, userID, now)
}

// ListPurchases returns the newest purchases first; limit <= 0 means all.
func (r *Repo) ListPurchases(ctx context.Context, userID string, limit int) ([]models.PurchaseRecord, error) {
	if err := r.userExists(ctx, userID); err != nil {
		return nil, err
	}
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := r.Pool.Query(ctx, `SELECT id, user_id, item_id, quantity, amount_coins, purchased_at FROM purchases
		WHERE user_id=$1 ORDER BY purchased_at DESC, id DESC LIMIT $2`, userID, lim)
	if err != nil {
		return nil, errors.Wrap(err, "list purchases")
	}
	defer rows.Close()
	var res []models.PurchaseRecord
	for rows.Next() {
		var rec models.PurchaseRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.ItemID, &rec.Quantity, &rec.AmountCoins, &rec.PurchasedAt); err != nil {
			return nil, errors.Wrap(err, "scan purchase")
		}
		res = append(res, rec)
	}
	return res, errors.Wrap(rows.Err(), "list purchases")
}

func (r *Repo) ActivePause(ctx context.Context, userID string, today calendar.Date) (*models.PausePeriod, error) {
	if err := r.userExists(ctx, userID); err != nil {
		return nil, err
	}
	return activePause(ctx, r.Pool, userID, today)
}

func (r *Repo) ListThemeUnlocks(ctx context.Context, userID string) ([]models.ThemeUnlock, error) {
	if err := r.userExists(ctx, userID); err != nil {
		return nil, err
	}
	rows, err := r.Pool.Query(ctx, `SELECT `+themeColumns+` FROM user_themes WHERE user_id=$1 ORDER BY unlocked_at DESC, theme_id`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list themes")
	}
	defer rows.Close()
	var res []models.ThemeUnlock
	for rows.Next() {
		u, err := scanTheme(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, errors.Wrap(rows.Err(), "list themes")
}

func (r *Repo) GetSettings(ctx context.Context, userID string) (models.UserSettings, error) {
	var (
		s       models.UserSettings
		payload []byte
	)
	err := r.Pool.QueryRow(ctx, `SELECT user_id, active_theme_id, theme_personalization, updated_at FROM user_settings WHERE user_id=$1`, userID).
		Scan(&s.UserID, &s.ActiveThemeID, &payload, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.UserSettings{}, ledger.ErrNotFound
	}
	if err != nil {
		return models.UserSettings{}, errors.Wrap(err, "get settings")
	}
	if len(payload) > 0 {
		var data models.ThemeData
		if err := json.Unmarshal(payload, &data); err != nil {
			return models.UserSettings{}, errors.Wrap(err, "decode theme personalization")
		}
		s.ThemePersonalization = &data
	}
	return s, nil
}

func (r *Repo) ListIdleUsers(ctx context.Context, before calendar.Date) ([]string, error) {
	rows, err := r.Pool.Query(ctx, `SELECT id FROM users
		WHERE streak_count > 0 AND (last_completed_on IS NULL OR last_completed_on < $1) ORDER BY id`, before.Time())
	if err != nil {
		return nil, errors.Wrap(err, "list idle users")
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan user id")
		}
		ids = append(ids, id)
	}
	return ids, errors.Wrap(rows.Err(), "list idle users")
}

func (r *Repo) DeleteExpiredInventory(ctx context.Context, now time.Time) (int, error) {
	cmd, err := r.Pool.Exec(ctx, `DELETE FROM user_inventory WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, errors.Wrap(err, "delete expired inventory")
	}
	return int(cmd.RowsAffected()), nil
}
