// Package catalog serves shop items and level definitions. The catalog is
// read-only to the economy; Service caches it with a short TTL.
package catalog

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/Craverse/craveverse/internal/models"
	"github.com/Craverse/craveverse/internal/retry"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

var ErrNotFound = errors.New("catalog entry not found")

// Source is the backing catalog store.
type Source interface {
	Items(ctx context.Context) ([]models.ShopItem, error)
	Item(ctx context.Context, id string) (models.ShopItem, error)
	Level(ctx context.Context, id string) (models.LevelDefinition, error)
}

const (
	cacheSize = 1024
	// loadTimeout bounds a shared load, which outlives any single caller.
	loadTimeout = 5 * time.Second
)

type Service struct {
	src    Source
	items  *expirable.LRU[string, models.ShopItem]
	levels *expirable.LRU[string, models.LevelDefinition]
	lists  *expirable.LRU[string, []models.ShopItem]
	group  singleflight.Group
	retry  retry.Policy
	log    logrus.FieldLogger
}

func NewService(src Source, ttl time.Duration, log logrus.FieldLogger) *Service {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		src:    src,
		items:  expirable.NewLRU[string, models.ShopItem](cacheSize, nil, ttl),
		levels: expirable.NewLRU[string, models.LevelDefinition](cacheSize, nil, ttl),
		lists:  expirable.NewLRU[string, []models.ShopItem](1, nil, ttl),
		retry:  retry.Default,
		log:    log,
	}
}

// WithRetry overrides the read retry policy.
func (s *Service) WithRetry(p retry.Policy) *Service {
	s.retry = p
	return s
}

// Items returns the active items ordered by price, then id.
func (s *Service) Items(ctx context.Context) ([]models.ShopItem, error) {
	if list, ok := s.lists.Get("active"); ok {
		return list, nil
	}
	v, err, _ := s.group.Do("items", func() (any, error) {
		ctx, cancel := shared(ctx)
		defer cancel()
		all, err := read(ctx, s, "items", func() ([]models.ShopItem, error) { return s.src.Items(ctx) })
		if err != nil {
			return nil, err
		}
		active := make([]models.ShopItem, 0, len(all))
		for _, it := range all {
			if it.Active {
				active = append(active, it)
			}
		}
		sort.Slice(active, func(i, j int) bool {
			if active[i].Price == active[j].Price {
				return active[i].ID < active[j].ID
			}
			return active[i].Price < active[j].Price
		})
		s.lists.Add("active", active)
		return active, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.ShopItem), nil
}

// Item returns the item with id whether or not it is active.
func (s *Service) Item(ctx context.Context, id string) (models.ShopItem, error) {
	if it, ok := s.items.Get(id); ok {
		return it, nil
	}
	v, err, _ := s.group.Do("item:"+id, func() (any, error) {
		ctx, cancel := shared(ctx)
		defer cancel()
		it, err := read(ctx, s, "item", func() (models.ShopItem, error) { return s.src.Item(ctx, id) })
		if err != nil {
			return nil, err
		}
		s.items.Add(id, it)
		return it, nil
	})
	if err != nil {
		return models.ShopItem{}, err
	}
	return v.(models.ShopItem), nil
}

func (s *Service) Level(ctx context.Context, id string) (models.LevelDefinition, error) {
	if lvl, ok := s.levels.Get(id); ok {
		return lvl, nil
	}
	v, err, _ := s.group.Do("level:"+id, func() (any, error) {
		ctx, cancel := shared(ctx)
		defer cancel()
		lvl, err := read(ctx, s, "level", func() (models.LevelDefinition, error) { return s.src.Level(ctx, id) })
		if err != nil {
			return nil, err
		}
		s.levels.Add(id, lvl)
		return lvl, nil
	})
	if err != nil {
		return models.LevelDefinition{}, err
	}
	return v.(models.LevelDefinition), nil
}

// shared detaches a singleflight load from the caller that happened to start
// it, so other waiters never see that caller's cancellation.
func shared(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
}

func read[T any](ctx context.Context, s *Service, what string, op func() (T, error)) (T, error) {
	notify := func(err error, wait time.Duration) {
		s.log.WithError(err).WithField("lookup", what).WithField("wait", wait).Warn("catalog read failed, retrying")
	}
	return retry.Do(ctx, s.retry, func(err error) bool { return !errors.Is(err, ErrNotFound) }, notify, op)
}
