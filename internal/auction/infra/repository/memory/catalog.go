package memory

import (
	"context"
	"sync"

	"github.com/cristianortiz/timedAuction/internal/auction/domain"
)

// Catalog is an in-memory domain.ItemCatalog.
type Catalog struct {
	mu    sync.RWMutex
	items map[string]domain.ItemStatus
}

func NewCatalog() *Catalog {
	return &Catalog{items: make(map[string]domain.ItemStatus)}
}

// AddItem registers an item as available.
func (c *Catalog) AddItem(itemID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[itemID] = domain.ItemAvailable
}

func (c *Catalog) GetItemStatus(_ context.Context, itemID string) (domain.ItemStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	status, ok := c.items[itemID]
	if !ok {
		return "", domain.NewError(domain.KindNotFound, "item %s not found", itemID)
	}
	return status, nil
}

func (c *Catalog) SetItemStatus(_ context.Context, itemID string, status domain.ItemStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[itemID]; !ok {
		return domain.NewError(domain.KindNotFound, "item %s not found", itemID)
	}
	c.items[itemID] = status
	return nil
}

func (c *Catalog) ReserveItem(_ context.Context, itemID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	status, ok := c.items[itemID]
	if !ok {
		return domain.NewError(domain.KindNotFound, "item %s not found", itemID)
	}
	if status != domain.ItemAvailable {
		return domain.NewError(domain.KindItemUnavailable, "item %s is %s", itemID, status)
	}
	c.items[itemID] = domain.ItemReserved
	return nil
}
