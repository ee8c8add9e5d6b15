package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Craverse/craveverse/internal/calendar"
	"github.com/Craverse/craveverse/internal/models"

	"github.com/google/uuid"
)

type userState struct {
	account     models.UserAccount
	inventory   map[string]models.InventoryEntry
	purchases   []models.PurchaseRecord
	earnings    []models.EarningRecord
	pauses      []models.PausePeriod
	themes      map[string]models.ThemeUnlock
	completions map[string]models.LevelCompletion
	settings    *models.UserSettings
}

func newUserState(acct models.UserAccount) *userState {
	return &userState{
		account:     acct,
		inventory:   map[string]models.InventoryEntry{},
		themes:      map[string]models.ThemeUnlock{},
		completions: map[string]models.LevelCompletion{},
	}
}

func (s *userState) clone() *userState {
	c := &userState{
		account:     s.account,
		inventory:   make(map[string]models.InventoryEntry, len(s.inventory)),
		purchases:   s.purchases[:len(s.purchases):len(s.purchases)],
		earnings:    s.earnings[:len(s.earnings):len(s.earnings)],
		pauses:      append([]models.PausePeriod(nil), s.pauses...),
		themes:      make(map[string]models.ThemeUnlock, len(s.themes)),
		completions: make(map[string]models.LevelCompletion, len(s.completions)),
	}
	for k, v := range s.inventory {
		c.inventory[k] = v
	}
	for k, v := range s.themes {
		c.themes[k] = v
	}
	for k, v := range s.completions {
		c.completions[k] = v
	}
	if s.settings != nil {
		settings := *s.settings
		c.settings = &settings
	}
	return c
}

type userSlot struct {
	lock  chan struct{}
	state *userState
}

// Memory is an in-process Store. Each user's aggregate is copied into a
// staging area at the start of InUserTx and swapped in on success, so a
// failed callback leaves no trace. Committed states are never mutated, which
// lets readers use them without taking the user lock.
type Memory struct {
	mu          sync.RWMutex
	users       map[string]*userSlot
	lockTimeout time.Duration
	now         func() time.Time
}

func NewMemory(lockTimeout time.Duration) *Memory {
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	return &Memory{users: map[string]*userSlot{}, lockTimeout: lockTimeout, now: time.Now}
}

// WithClock sets the clock used to stamp new rows.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

// CreateUser registers an account. Onboarding owns account creation in
// production; this exists for seeding and tests.
func (m *Memory) CreateUser(acct models.UserAccount) error {
	if acct.ID == "" {
		return fmt.Errorf("create user: empty id")
	}
	if acct.Balance < 0 {
		return ErrNegativeBalance
	}
	if acct.Tier == "" {
		acct.Tier = models.TierFree
	}
	if acct.CurrentLevel == 0 {
		acct.CurrentLevel = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[acct.ID]; ok {
		return ErrDuplicate
	}
	m.users[acct.ID] = &userSlot{lock: make(chan struct{}, 1), state: newUserState(acct)}
	return nil
}

func (m *Memory) slot(userID string) (*userSlot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *Memory) snapshot(userID string) (*userState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.state, nil
}

func (m *Memory) InUserTx(ctx context.Context, userID string, fn TxFunc) error {
	slot, err := m.slot(userID)
	if err != nil {
		return err
	}
	timer := time.NewTimer(m.lockTimeout)
	defer timer.Stop()
	select {
	case slot.lock <- struct{}{}:
	case <-timer.C:
		return ErrBusy
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrBusy, ctx.Err())
	}
	defer func() { <-slot.lock }()

	m.mu.RLock()
	staged := slot.state.clone()
	m.mu.RUnlock()

	tx := &memTx{store: m, userID: userID, state: staged}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.mu.Lock()
	slot.state = staged
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetAccount(_ context.Context, userID string) (models.UserAccount, error) {
	s, err := m.snapshot(userID)
	if err != nil {
		return models.UserAccount{}, err
	}
	return s.account, nil
}

func (m *Memory) ListInventory(_ context.Context, userID string, now time.Time) ([]models.InventoryEntry, error) {
	s, err := m.snapshot(userID)
	if err != nil {
		return nil, err
	}
	var res []models.InventoryEntry
	for _, e := range sortedInventory(s.inventory) {
		if !e.Expired(now) {
			res = append(res, e)
		}
	}
	return res, nil
}

func (m *Memory) ListPurchases(_ context.Context, userID string, limit int) ([]models.PurchaseRecord, error) {
	s, err := m.snapshot(userID)
	if err != nil {
		return nil, err
	}
	var res []models.PurchaseRecord
	for i := len(s.purchases) - 1; i >= 0 && (limit <= 0 || len(res) < limit); i-- {
		res = append(res, s.purchases[i])
	}
	return res, nil
}

// Earnings returns the user's earning ledger in insertion order.
func (m *Memory) Earnings(userID string) ([]models.EarningRecord, error) {
	s, err := m.snapshot(userID)
	if err != nil {
		return nil, err
	}
	return append([]models.EarningRecord(nil), s.earnings...), nil
}

// Pauses returns every pause period the user ever activated.
func (m *Memory) Pauses(userID string) ([]models.PausePeriod, error) {
	s, err := m.snapshot(userID)
	if err != nil {
		return nil, err
	}
	return append([]models.PausePeriod(nil), s.pauses...), nil
}

// Completion returns the user's completion record for levelID.
func (m *Memory) Completion(userID, levelID string) (*models.LevelCompletion, error) {
	s, err := m.snapshot(userID)
	if err != nil {
		return nil, err
	}
	c, ok := s.completions[levelID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) ActivePause(_ context.Context, userID string, today calendar.Date) (*models.PausePeriod, error) {
	s, err := m.snapshot(userID)
	if err != nil {
		return nil, err
	}
	return activePause(s.pauses, today), nil
}

func (m *Memory) ListThemeUnlocks(_ context.Context, userID string) ([]models.ThemeUnlock, error) {
	s, err := m.snapshot(userID)
	if err != nil {
		return nil, err
	}
	res := make([]models.ThemeUnlock, 0, len(s.themes))
	for _, u := range s.themes {
		res = append(res, u)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].UnlockedAt.Equal(res[j].UnlockedAt) {
			return res[i].ThemeID < res[j].ThemeID
		}
		return res[i].UnlockedAt.After(res[j].UnlockedAt)
	})
	return res, nil
}

func (m *Memory) GetSettings(_ context.Context, userID string) (models.UserSettings, error) {
	s, err := m.snapshot(userID)
	if err != nil {
		return models.UserSettings{}, err
	}
	if s.settings == nil {
		return models.UserSettings{}, ErrNotFound
	}
	return *s.settings, nil
}

func (m *Memory) ListIdleUsers(_ context.Context, before calendar.Date) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, slot := range m.users {
		acct := slot.state.account
		if acct.Streak == 0 {
			continue
		}
		if acct.LastCompletedOn.IsZero() || acct.LastCompletedOn.Before(before) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Memory) DeleteExpiredInventory(ctx context.Context, now time.Time) (int, error) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.users))
	for id := range m.users {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	removed := 0
	for _, id := range ids {
		err := m.InUserTx(ctx, id, func(_ context.Context, tx Tx) error {
			state := tx.(*memTx).state
			for entryID, e := range state.inventory {
				if e.Expired(now) {
					delete(state.inventory, entryID)
					removed++
				}
			}
			return nil
		})
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func activePause(pauses []models.PausePeriod, today calendar.Date) *models.PausePeriod {
	for i := range pauses {
		if pauses[i].Covers(today) {
			p := pauses[i]
			return &p
		}
	}
	return nil
}

func sortedInventory(inv map[string]models.InventoryEntry) []models.InventoryEntry {
	res := make([]models.InventoryEntry, 0, len(inv))
	for _, e := range inv {
		res = append(res, e)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].PurchasedAt.Equal(res[j].PurchasedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].PurchasedAt.Before(res[j].PurchasedAt)
	})
	return res
}

type memTx struct {
	store  *Memory
	userID string
	state  *userState
}

func (t *memTx) Account(context.Context) (models.UserAccount, error) {
	return t.state.account, nil
}

func (t *memTx) UpdateAccount(_ context.Context, acct models.UserAccount) error {
	if acct.ID != t.userID {
		return fmt.Errorf("update account: id %q outside transaction for %q", acct.ID, t.userID)
	}
	if acct.Balance < 0 {
		return ErrNegativeBalance
	}
	if acct.Streak < 0 {
		return fmt.Errorf("update account: negative streak")
	}
	t.state.account = acct
	return nil
}

func (t *memTx) AppendPurchase(_ context.Context, rec models.PurchaseRecord) (models.PurchaseRecord, error) {
	rec.ID = uuid.NewString()
	rec.UserID = t.userID
	if rec.PurchasedAt.IsZero() {
		rec.PurchasedAt = t.store.now().UTC()
	}
	t.state.purchases = append(t.state.purchases, rec)
	return rec, nil
}

func (t *memTx) AppendEarning(_ context.Context, rec models.EarningRecord) (models.EarningRecord, error) {
	rec.ID = uuid.NewString()
	rec.UserID = t.userID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = t.store.now().UTC()
	}
	t.state.earnings = append(t.state.earnings, rec)
	return rec, nil
}

func (t *memTx) UpsertInventory(_ context.Context, itemID string, qty int, expiresAt *time.Time) (models.InventoryEntry, error) {
	if qty <= 0 {
		return models.InventoryEntry{}, fmt.Errorf("upsert inventory: quantity %d", qty)
	}
	for id, e := range t.state.inventory {
		if e.ItemID != itemID {
			continue
		}
		e.Quantity += qty
		if expiresAt != nil {
			e.ExpiresAt = expiresAt
		}
		t.state.inventory[id] = e
		return e, nil
	}
	e := models.InventoryEntry{
		ID:          uuid.NewString(),
		UserID:      t.userID,
		ItemID:      itemID,
		Quantity:    qty,
		ExpiresAt:   expiresAt,
		PurchasedAt: t.store.now().UTC(),
	}
	t.state.inventory[e.ID] = e
	return e, nil
}

func (t *memTx) InventoryEntry(_ context.Context, entryID string) (models.InventoryEntry, error) {
	e, ok := t.state.inventory[entryID]
	if !ok {
		return models.InventoryEntry{}, ErrNotFound
	}
	return e, nil
}

func (t *memTx) ListInventory(context.Context) ([]models.InventoryEntry, error) {
	return sortedInventory(t.state.inventory), nil
}

func (t *memTx) DecrementInventory(_ context.Context, entryID string) (int, error) {
	e, ok := t.state.inventory[entryID]
	if !ok {
		return 0, ErrNotFound
	}
	if e.Quantity < 1 {
		return 0, ErrNegativeQuantity
	}
	e.Quantity--
	if e.Quantity == 0 {
		delete(t.state.inventory, entryID)
		return 0, nil
	}
	t.state.inventory[entryID] = e
	return e.Quantity, nil
}

func (t *memTx) ActivePause(_ context.Context, today calendar.Date) (*models.PausePeriod, error) {
	return activePause(t.state.pauses, today), nil
}

func (t *memTx) InsertPause(_ context.Context, p models.PausePeriod) (models.PausePeriod, error) {
	p.ID = uuid.NewString()
	p.UserID = t.userID
	p.Active = true
	t.state.pauses = append(t.state.pauses, p)
	return p, nil
}

func (t *memTx) ThemeUnlock(_ context.Context, themeID string) (*models.ThemeUnlock, error) {
	u, ok := t.state.themes[themeID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (t *memTx) InsertThemeUnlock(_ context.Context, u models.ThemeUnlock) (models.ThemeUnlock, error) {
	if _, ok := t.state.themes[u.ThemeID]; ok {
		return models.ThemeUnlock{}, ErrDuplicate
	}
	u.ID = uuid.NewString()
	u.UserID = t.userID
	if u.UnlockedAt.IsZero() {
		u.UnlockedAt = t.store.now().UTC()
	}
	t.state.themes[u.ThemeID] = u
	return u, nil
}

func (t *memTx) LevelCompletion(_ context.Context, levelID string) (*models.LevelCompletion, error) {
	c, ok := t.state.completions[levelID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (t *memTx) InsertLevelCompletion(_ context.Context, c models.LevelCompletion) error {
	if _, ok := t.state.completions[c.LevelID]; ok {
		return ErrDuplicate
	}
	c.UserID = t.userID
	if c.CompletedAt.IsZero() {
		c.CompletedAt = t.store.now().UTC()
	}
	t.state.completions[c.LevelID] = c
	return nil
}

func (t *memTx) SaveSettings(_ context.Context, s models.UserSettings) error {
	s.UserID = t.userID
	s.UpdatedAt = t.store.now().UTC()
	t.state.settings = &s
	return nil
}
