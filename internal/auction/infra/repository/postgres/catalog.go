package postgres

import (
	"context"
	"errors"

	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Catalog is the items table view used by the engine.
type Catalog struct {
	pool *pgxpool.Pool
}

var _ domain.ItemCatalog = (*Catalog)(nil)

func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

func (c *Catalog) GetItemStatus(ctx context.Context, itemID string) (domain.ItemStatus, error) {
	var status domain.ItemStatus
	err := c.pool.QueryRow(ctx, `SELECT status FROM items WHERE id = $1`, itemID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.NewError(domain.KindNotFound, "item %s not found", itemID)
		}
		return "", mapErr(err, "failed to get item status")
	}
	return status, nil
}

func (c *Catalog) SetItemStatus(ctx context.Context, itemID string, status domain.ItemStatus) error {
	tag, err := c.pool.Exec(ctx, `UPDATE items SET status = $2, updated_at = NOW() WHERE id = $1`, itemID, status)
	if err != nil {
		return mapErr(err, "failed to set item status")
	}
	if tag.RowsAffected() == 0 {
		return domain.NewError(domain.KindNotFound, "item %s not found", itemID)
	}
	return nil
}

func (c *Catalog) ReserveItem(ctx context.Context, itemID string) error {
	tag, err := c.pool.Exec(ctx,
		`UPDATE items SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3`,
		itemID, domain.ItemReserved, domain.ItemAvailable,
	)
	if err != nil {
		return mapErr(err, "failed to reserve item")
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	status, err := c.GetItemStatus(ctx, itemID)
	if err != nil {
		return err
	}
	return domain.NewError(domain.KindItemUnavailable, "item %s is %s", itemID, status)
}
