package postgres

import (
	"context"
	"errors"

	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const bidColumns = `id, auction_id, bidder_id, amount, type, status, funds_transaction_ref, metadata, created_at`

func scanBid(row pgx.Row) (*domain.Bid, error) {
	b := &domain.Bid{}
	err := row.Scan(
		&b.ID,
		&b.AuctionID,
		&b.BidderID,
		&b.Amount,
		&b.Type,
		&b.Status,
		&b.FundsTransactionRef,
		&b.Metadata,
		&b.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// InsertBid only inserts the bid, moving the highest bid is ApplyWinningBid's job
func (s *Store) InsertBid(ctx context.Context, b *domain.Bid) error {
	query := `
        INSERT INTO bids (` + bidColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `
	_, err := s.pool.Exec(ctx, query,
		b.ID,
		b.AuctionID,
		b.BidderID,
		b.Amount,
		b.Type,
		b.Status,
		b.FundsTransactionRef,
		b.Metadata,
		b.CreatedAt,
	)
	return mapErr(err, "failed to insert bid")
}

func (s *Store) GetBid(ctx context.Context, id uuid.UUID) (*domain.Bid, error) {
	b, err := scanBid(s.pool.QueryRow(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewError(domain.KindNotFound, "bid %s not found", id)
		}
		return nil, mapErr(err, "failed to get bid")
	}
	return b, nil
}

// FindBids returns newest bids first.
func (s *Store) FindBids(ctx context.Context, f domain.BidFilter) ([]*domain.Bid, int, error) {
	var statuses []string
	for _, st := range f.Statuses {
		statuses = append(statuses, string(st))
	}
	page := f.Page.Normalize()
	query := `
        SELECT ` + bidColumns + `, COUNT(*) OVER()
        FROM bids
        WHERE ($1::uuid IS NULL OR auction_id = $1)
          AND ($2::uuid IS NULL OR bidder_id = $2)
          AND (cardinality($3::text[]) = 0 OR status = ANY($3))
        ORDER BY created_at DESC, id
        LIMIT $4 OFFSET $5
    `
	if statuses == nil {
		statuses = []string{}
	}
	rows, err := s.pool.Query(ctx, query, f.AuctionID, f.BidderID, statuses, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, mapErr(err, "failed to find bids")
	}
	defer rows.Close()

	var (
		bids  []*domain.Bid
		total int
	)
	for rows.Next() {
		b := &domain.Bid{}
		err := rows.Scan(
			&b.ID,
			&b.AuctionID,
			&b.BidderID,
			&b.Amount,
			&b.Type,
			&b.Status,
			&b.FundsTransactionRef,
			&b.Metadata,
			&b.CreatedAt,
			&total,
		)
		if err != nil {
			return nil, 0, mapErr(err, "failed to scan bid")
		}
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapErr(err, "failed to read bids")
	}
	return bids, total, nil
}
