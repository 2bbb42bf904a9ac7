package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/fanclub/backend/internal/models"
)

// RestrictionCache is the in-process counterpart of the Redis restriction
// cache, with the same epoch rules.
type RestrictionCache struct {
	mu     sync.Mutex
	epochs map[uuid.UUID]int64
	values map[[2]uuid.UUID]cachedRestriction
}

type cachedRestriction struct {
	epoch int64
	r     models.Restriction
}

func NewRestrictionCache() *RestrictionCache {
	return &RestrictionCache{
		epochs: make(map[uuid.UUID]int64),
		values: make(map[[2]uuid.UUID]cachedRestriction),
	}
}

func (c *RestrictionCache) LoadRestriction(ctx context.Context, chatID, userID uuid.UUID) (*models.Restriction, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	epoch := c.epochs[chatID]
	v, ok := c.values[[2]uuid.UUID{chatID, userID}]
	if !ok || v.epoch != epoch {
		return nil, epoch, nil
	}
	r := v.r
	return &r, epoch, nil
}

func (c *RestrictionCache) StoreRestriction(ctx context.Context, r models.Restriction, epoch int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epochs[r.ChatID] != epoch {
		return nil
	}
	c.values[[2]uuid.UUID{r.ChatID, r.UserID}] = cachedRestriction{epoch: epoch, r: r}
	return nil
}

func (c *RestrictionCache) InvalidateChat(ctx context.Context, chatID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epochs[chatID]++
	return nil
}
