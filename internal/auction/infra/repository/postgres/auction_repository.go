package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const auctionColumns = `
	id, item_id, title, description, starting_price, current_highest_bid,
	current_winner, winning_bid_id, status,
	whitelist_start, whitelist_end, max_participants, entry_fee, whitelist_active,
	bidding_start, bidding_end, min_increment, reserve_price, buy_now_price,
	total_bids, total_participants, created_by, ended_at, created_at, updated_at`

func scanAuction(row pgx.Row) (*domain.Auction, error) {
	a := &domain.Auction{}
	var reserve, buyNow decimal.NullDecimal
	err := row.Scan(
		&a.ID, &a.ItemID, &a.Title, &a.Description, &a.StartingPrice, &a.CurrentHighestBid,
		&a.CurrentWinner, &a.WinningBidID, &a.Status,
		&a.Whitelist.Start, &a.Whitelist.End, &a.Whitelist.MaxParticipants, &a.Whitelist.EntryFee, &a.Whitelist.IsActive,
		&a.Bidding.Start, &a.Bidding.End, &a.Bidding.MinIncrement, &reserve, &buyNow,
		&a.TotalBids, &a.TotalParticipants, &a.CreatedBy, &a.EndedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if reserve.Valid {
		a.Bidding.ReservePrice = &reserve.Decimal
	}
	if buyNow.Valid {
		a.Bidding.BuyNowPrice = &buyNow.Decimal
	}
	return a, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func (s *Store) CreateAuction(ctx context.Context, a *domain.Auction) error {
	query := `INSERT INTO auctions (` + auctionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)`
	_, err := s.pool.Exec(ctx, query,
		a.ID, a.ItemID, a.Title, a.Description, a.StartingPrice, a.CurrentHighestBid,
		a.CurrentWinner, a.WinningBidID, a.Status,
		a.Whitelist.Start, a.Whitelist.End, a.Whitelist.MaxParticipants, a.Whitelist.EntryFee, a.Whitelist.IsActive,
		a.Bidding.Start, a.Bidding.End, a.Bidding.MinIncrement, nullDecimal(a.Bidding.ReservePrice), nullDecimal(a.Bidding.BuyNowPrice),
		a.TotalBids, a.TotalParticipants, a.CreatedBy, a.EndedAt, a.CreatedAt, a.UpdatedAt,
	)
	return mapErr(err, "failed to insert auction")
}

func (s *Store) GetAuction(ctx context.Context, id uuid.UUID) (*domain.Auction, error) {
	a, err := scanAuction(s.pool.QueryRow(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAuctionNotFound
		}
		return nil, mapErr(err, "failed to get auction")
	}
	return a, nil
}

var auctionOrder = map[domain.AuctionSort]string{
	domain.SortNewest:       "created_at DESC",
	domain.SortEndingSoon:   "bidding_end ASC",
	domain.SortStartingSoon: "bidding_start ASC",
	domain.SortHighestBid:   "current_highest_bid DESC",
	domain.SortMostBids:     "total_bids DESC",
}

// FindAuctions builds the WHERE clause from the non zero filter fields.
func (s *Store) FindAuctions(ctx context.Context, f domain.AuctionFilter) ([]*domain.Auction, int, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		add("status = ANY($%d)", statuses)
	}
	if f.MinPrice != nil {
		add("current_highest_bid >= $%d", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		add("current_highest_bid <= $%d", *f.MaxPrice)
	}
	if f.StartsAfter != nil {
		add("bidding_start >= $%d", *f.StartsAfter)
	}
	if f.StartsBefore != nil {
		add("bidding_start < $%d", *f.StartsBefore)
	}
	if f.EndsAfter != nil {
		add("bidding_end >= $%d", *f.EndsAfter)
	}
	if f.EndsBefore != nil {
		add("bidding_end < $%d", *f.EndsBefore)
	}
	if f.MinBids > 0 {
		add("total_bids >= $%d", f.MinBids)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	order, ok := auctionOrder[f.Sort]
	if !ok {
		order = auctionOrder[domain.SortNewest]
	}
	page := f.Page.Normalize()
	args = append(args, page.Limit, page.Offset())
	query := fmt.Sprintf(`SELECT %s, COUNT(*) OVER() FROM auctions%s ORDER BY %s, id LIMIT $%d OFFSET $%d`,
		auctionColumns, clause, order, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, mapErr(err, "failed to find auctions")
	}
	defer rows.Close()

	var (
		out   []*domain.Auction
		total int
	)
	for rows.Next() {
		a := &domain.Auction{}
		var reserve, buyNow decimal.NullDecimal
		err := rows.Scan(
			&a.ID, &a.ItemID, &a.Title, &a.Description, &a.StartingPrice, &a.CurrentHighestBid,
			&a.CurrentWinner, &a.WinningBidID, &a.Status,
			&a.Whitelist.Start, &a.Whitelist.End, &a.Whitelist.MaxParticipants, &a.Whitelist.EntryFee, &a.Whitelist.IsActive,
			&a.Bidding.Start, &a.Bidding.End, &a.Bidding.MinIncrement, &reserve, &buyNow,
			&a.TotalBids, &a.TotalParticipants, &a.CreatedBy, &a.EndedAt, &a.CreatedAt, &a.UpdatedAt,
			&total,
		)
		if err != nil {
			return nil, 0, mapErr(err, "failed to scan auction")
		}
		if reserve.Valid {
			a.Bidding.ReservePrice = &reserve.Decimal
		}
		if buyNow.Valid {
			a.Bidding.BuyNowPrice = &buyNow.Decimal
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapErr(err, "failed to read auctions")
	}
	if len(out) == 0 && page.Offset() > 0 {
		// COUNT(*) OVER() has no row to ride on past the last page
		if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM auctions`+clause, args[:len(args)-2]...).Scan(&total); err != nil {
			return nil, 0, mapErr(err, "failed to count auctions")
		}
	}
	return out, total, nil
}

// UpdateStatus is a compare-and-swap on the status column.
func (s *Store) UpdateStatus(ctx context.Context, c domain.StatusChange) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE auctions
		SET status = $3,
		    whitelist_active = COALESCE($4, whitelist_active),
		    ended_at = COALESCE($5, ended_at),
		    updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		c.AuctionID, c.From, c.To, c.WhitelistActive, c.EndedAt,
	)
	if err != nil {
		return mapErr(err, "failed to update auction status")
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if err := s.exists(ctx, c.AuctionID); err != nil {
		return err
	}
	return domain.NewError(domain.KindConflict, "auction %s is no longer %s", c.AuctionID, c.From)
}

// ApplyWinningBid locks the auction row, checks the expected highest bid
// and moves the WINNING flag in one transaction.
func (s *Store) ApplyWinningBid(ctx context.Context, u domain.WinningBidUpdate) (*domain.Bid, error) {
	var previous *domain.Bid
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var (
			status  domain.AuctionStatus
			highest decimal.Decimal
			prevID  *uuid.UUID
		)
		err := tx.QueryRow(ctx,
			`SELECT status, current_highest_bid, winning_bid_id FROM auctions WHERE id = $1 FOR UPDATE`,
			u.AuctionID,
		).Scan(&status, &highest, &prevID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrAuctionNotFound
			}
			return mapErr(err, "failed to lock auction")
		}
		if status != domain.StatusActive {
			return domain.NewError(domain.KindConflict, "auction %s is no longer active", u.AuctionID)
		}
		if !highest.Equal(u.ExpectedHighest) {
			return domain.NewError(domain.KindConflict, "highest bid moved from %s to %s", u.ExpectedHighest, highest)
		}

		if prevID != nil {
			prev, err := scanBid(tx.QueryRow(ctx,
				`UPDATE bids SET status = $2 WHERE id = $1 AND status = $3 RETURNING `+bidColumns,
				*prevID, domain.BidStatusOutbid, domain.BidStatusWinning,
			))
			switch {
			case err == nil:
				previous = prev
			case !errors.Is(err, pgx.ErrNoRows):
				return mapErr(err, "failed to outbid previous bid")
			}
		}

		tag, err := tx.Exec(ctx, `UPDATE bids SET status = $2 WHERE id = $1`, u.Bid.ID, domain.BidStatusWinning)
		if err != nil {
			return mapErr(err, "failed to flag winning bid")
		}
		if tag.RowsAffected() == 0 {
			return domain.NewError(domain.KindNotFound, "bid %s not found", u.Bid.ID)
		}

		_, err = tx.Exec(ctx, `
			UPDATE auctions
			SET current_highest_bid = $2, current_winner = $3, winning_bid_id = $4,
			    total_bids = total_bids + 1, updated_at = NOW()
			WHERE id = $1`,
			u.AuctionID, u.Bid.Amount, u.Bid.BidderID, u.Bid.ID,
		)
		return mapErr(err, "failed to update highest bid")
	})
	if err != nil {
		return nil, err
	}
	u.Bid.Status = domain.BidStatusWinning
	return previous, nil
}

// ReserveWhitelistSlot is an increment guarded by the capacity in the same
// statement.
func (s *Store) ReserveWhitelistSlot(ctx context.Context, auctionID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE auctions SET total_participants = total_participants + 1, updated_at = NOW()
		WHERE id = $1 AND total_participants < max_participants`,
		auctionID,
	)
	if err != nil {
		return mapErr(err, "failed to reserve whitelist slot")
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if err := s.exists(ctx, auctionID); err != nil {
		return err
	}
	return domain.ErrWhitelistFull
}

func (s *Store) ReleaseWhitelistSlot(ctx context.Context, auctionID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE auctions SET total_participants = total_participants - 1, updated_at = NOW()
		WHERE id = $1 AND total_participants > 0`,
		auctionID,
	)
	return mapErr(err, "failed to release whitelist slot")
}

func (s *Store) exists(ctx context.Context, id uuid.UUID) error {
	var found bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM auctions WHERE id = $1)`, id).Scan(&found); err != nil {
		return mapErr(err, "failed to check auction")
	}
	if !found {
		return domain.ErrAuctionNotFound
	}
	return nil
}
