package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polysnap/internal/domain"
)

const eventSelect = `
	SELECT e.id, e.wallet, e.market_id, e.market_title, e.event_type, e.snapshot_id,
		e.prev_yes_shares, e.prev_no_shares, e.prev_yes_avg_price, e.prev_no_avg_price,
		e.curr_yes_shares, e.curr_no_shares, e.curr_yes_avg_price, e.curr_no_avg_price,
		e.resolved_outcome, e.pnl, s.timestamp
	FROM change_events e
	JOIN snapshots s ON s.id = e.snapshot_id`

const eventOrder = ` ORDER BY s.timestamp DESC, s.seq DESC, e.seq ASC`

// EventStore implements domain.EventStore using PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

func scanEventRows(rows pgx.Rows) ([]domain.ChangeEvent, error) {
	defer rows.Close()

	events := []domain.ChangeEvent{}
	for rows.Next() {
		var (
			ev        domain.ChangeEvent
			eventType string
			outcome   string
		)
		if err := rows.Scan(
			&ev.ID, &ev.Wallet, &ev.MarketID, &ev.MarketTitle, &eventType, &ev.SnapshotID,
			&ev.PrevYesShares, &ev.PrevNoShares, &ev.PrevYesAvgPrice, &ev.PrevNoAvgPrice,
			&ev.CurrYesShares, &ev.CurrNoShares, &ev.CurrYesAvgPrice, &ev.CurrNoAvgPrice,
			&outcome, &ev.PnL, &ev.SnapshotTimestamp,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan change event: %w", err)
		}
		ev.Type = domain.EventType(eventType)
		ev.ResolvedOutcome = domain.Outcome(outcome).OrUnresolved()
		ev.SnapshotTimestamp = ev.SnapshotTimestamp.UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: change event rows: %w", err)
	}
	return events, nil
}

// EventsByWallet implements domain.EventStore. A non-positive limit returns
// every event.
func (s *EventStore) EventsByWallet(ctx context.Context, wallet string, limit int) ([]domain.ChangeEvent, error) {
	query := eventSelect + ` WHERE e.wallet = $1` + eventOrder
	args := []any{wallet}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: events for wallet %s: %w", wallet, err)
	}
	return scanEventRows(rows)
}

// EventsByMarket implements domain.EventStore.
func (s *EventStore) EventsByMarket(ctx context.Context, marketID string) ([]domain.ChangeEvent, error) {
	rows, err := s.pool.Query(ctx, eventSelect+` WHERE e.market_id = $1`+eventOrder, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: events for market %s: %w", marketID, err)
	}
	return scanEventRows(rows)
}

// EventsBySnapshot implements domain.EventStore.
func (s *EventStore) EventsBySnapshot(ctx context.Context, snapshotID string) ([]domain.ChangeEvent, error) {
	rows, err := s.pool.Query(ctx, eventSelect+` WHERE e.snapshot_id = $1`+eventOrder, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("postgres: events for snapshot %s: %w", snapshotID, err)
	}
	return scanEventRows(rows)
}

var _ domain.EventStore = (*EventStore)(nil)
