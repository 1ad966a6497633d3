package postgres

import (
	"context"

	"github.com/cristianortiz/timedAuction/internal/auction/domain"
)

func (s *Store) AppendHistory(ctx context.Context, e *domain.HistoryEvent) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO auction_history (id, auction_id, actor_id, action, details, timestamp)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.AuctionID, e.ActorID, e.Action, e.Details, e.Timestamp,
	)
	return mapErr(err, "failed to append history")
}

// FindHistory returns events newest first.
func (s *Store) FindHistory(ctx context.Context, f domain.HistoryFilter) ([]*domain.HistoryEvent, int, error) {
	actions := []string{}
	for _, a := range f.Actions {
		actions = append(actions, string(a))
	}
	p := f.Page.Normalize()
	rows, err := s.pool.Query(ctx, `
        SELECT id, auction_id, actor_id, action, details, timestamp, COUNT(*) OVER()
        FROM auction_history
        WHERE ($1::uuid IS NULL OR auction_id = $1)
          AND ($2::uuid IS NULL OR actor_id = $2)
          AND (cardinality($3::text[]) = 0 OR action = ANY($3))
          AND ($4::timestamptz IS NULL OR timestamp >= $4)
          AND ($5::timestamptz IS NULL OR timestamp <= $5)
        ORDER BY timestamp DESC, id
        LIMIT $6 OFFSET $7`,
		f.AuctionID, f.ActorID, actions, f.From, f.To, p.Limit, p.Offset(),
	)
	if err != nil {
		return nil, 0, mapErr(err, "failed to find history")
	}
	defer rows.Close()

	var (
		events []*domain.HistoryEvent
		total  int
	)
	for rows.Next() {
		e := &domain.HistoryEvent{}
		if err := rows.Scan(&e.ID, &e.AuctionID, &e.ActorID, &e.Action, &e.Details, &e.Timestamp, &total); err != nil {
			return nil, 0, mapErr(err, "failed to scan history event")
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapErr(err, "failed to read history")
	}
	return events, total, nil
}
