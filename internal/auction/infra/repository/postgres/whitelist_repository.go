package postgres

import (
	"context"
	"errors"

	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const whitelistColumns = `id, auction_id, participant_id, entry_fee_paid, payment_ref, status, joined_at`

func (s *Store) InsertWhitelistEntry(ctx context.Context, e *domain.WhitelistEntry) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO whitelist_entries (`+whitelistColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.AuctionID, e.ParticipantID, e.EntryFeePaid, e.PaymentRef, e.Status, e.JoinedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return domain.ErrAlreadyWhitelisted
	}
	return mapErr(err, "failed to insert whitelist entry")
}

func (s *Store) GetWhitelistEntry(ctx context.Context, auctionID, participantID uuid.UUID) (*domain.WhitelistEntry, error) {
	e := &domain.WhitelistEntry{}
	err := s.pool.QueryRow(ctx,
		`SELECT `+whitelistColumns+` FROM whitelist_entries WHERE auction_id = $1 AND participant_id = $2`,
		auctionID, participantID,
	).Scan(&e.ID, &e.AuctionID, &e.ParticipantID, &e.EntryFeePaid, &e.PaymentRef, &e.Status, &e.JoinedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewError(domain.KindNotFound, "whitelist entry not found")
		}
		return nil, mapErr(err, "failed to get whitelist entry")
	}
	return e, nil
}

func (s *Store) ListWhitelist(ctx context.Context, auctionID uuid.UUID, p domain.Page) ([]*domain.WhitelistEntry, int, error) {
	p = p.Normalize()
	rows, err := s.pool.Query(ctx, `
        SELECT `+whitelistColumns+`, COUNT(*) OVER()
        FROM whitelist_entries
        WHERE auction_id = $1
        ORDER BY joined_at ASC, id
        LIMIT $2 OFFSET $3`,
		auctionID, p.Limit, p.Offset(),
	)
	if err != nil {
		return nil, 0, mapErr(err, "failed to list whitelist")
	}
	defer rows.Close()

	var (
		entries []*domain.WhitelistEntry
		total   int
	)
	for rows.Next() {
		e := &domain.WhitelistEntry{}
		if err := rows.Scan(&e.ID, &e.AuctionID, &e.ParticipantID, &e.EntryFeePaid, &e.PaymentRef, &e.Status, &e.JoinedAt, &total); err != nil {
			return nil, 0, mapErr(err, "failed to scan whitelist entry")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapErr(err, "failed to read whitelist")
	}
	return entries, total, nil
}
