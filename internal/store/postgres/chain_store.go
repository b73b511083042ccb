package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polysnap/internal/domain"
)

const snapshotColumns = `id, wallet, positions, timestamp, predecessor_id, created_at`

// ChainStore implements domain.ChainStore using PostgreSQL. Writes for one
// wallet are serialised with a transaction-scoped advisory lock; the partial
// unique indexes in the schema back that up.
type ChainStore struct {
	pool *pgxpool.Pool
}

// NewChainStore creates a new ChainStore backed by the given connection pool.
func NewChainStore(pool *pgxpool.Pool) *ChainStore {
	return &ChainStore{pool: pool}
}

func lockWallet(ctx context.Context, tx pgx.Tx, wallet string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, wallet); err != nil {
		return fmt.Errorf("postgres: lock wallet %s: %w", wallet, err)
	}
	return nil
}

func tailID(ctx context.Context, q pgx.Tx, wallet string) (string, error) {
	var id string
	err := q.QueryRow(ctx,
		`SELECT id FROM snapshots WHERE wallet = $1 ORDER BY seq DESC LIMIT 1`, wallet,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("postgres: read tail for %s: %w", wallet, err)
	}
	return id, nil
}

func insertSnapshot(ctx context.Context, tx pgx.Tx, id string, snap domain.Snapshot, predecessor *string) error {
	positions := snap.Positions
	if positions == nil {
		positions = []domain.Position{}
	}
	positionsJSON, err := json.Marshal(positions)
	if err != nil {
		return fmt.Errorf("postgres: marshal positions: %w", err)
	}

	const query = `
		INSERT INTO snapshots (id, wallet, positions, timestamp, predecessor_id)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.Exec(ctx, query, id, snap.Wallet, positionsJSON, snap.Timestamp.UTC(), predecessor); err != nil {
		return fmt.Errorf("postgres: insert snapshot: %w", err)
	}
	return nil
}

// InitializeChain implements domain.ChainStore.
func (s *ChainStore) InitializeChain(ctx context.Context, snap domain.Snapshot) (string, error) {
	const op = "initialize chain"

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockWallet(ctx, tx, snap.Wallet); err != nil {
		return "", err
	}
	tail, err := tailID(ctx, tx, snap.Wallet)
	if err != nil {
		return "", err
	}
	if tail != "" {
		return "", &domain.ChainError{Op: op, Wallet: snap.Wallet, Err: domain.ErrDuplicateInitialization}
	}

	id := uuid.NewString()
	if err := insertSnapshot(ctx, tx, id, snap, nil); err != nil {
		return "", s.mapConflict(op, snap.Wallet, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", s.mapConflict(op, snap.Wallet, fmt.Errorf("postgres: commit: %w", err))
	}
	return id, nil
}

// AppendWithEvents implements domain.ChainStore. The snapshot row and every
// event row are written in one transaction; any failure leaves neither.
func (s *ChainStore) AppendWithEvents(ctx context.Context, snap domain.Snapshot, events []domain.ChangeEvent) (string, error) {
	const op = "append with events"
	if len(events) == 0 {
		return "", &domain.ChainError{Op: op, Wallet: snap.Wallet, Err: domain.ErrEmptyEventSet}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockWallet(ctx, tx, snap.Wallet); err != nil {
		return "", err
	}
	tail, err := tailID(ctx, tx, snap.Wallet)
	if err != nil {
		return "", err
	}
	if tail == "" {
		return "", &domain.ChainError{Op: op, Wallet: snap.Wallet, Err: domain.ErrNoPredecessor}
	}

	id := uuid.NewString()
	if err := insertSnapshot(ctx, tx, id, snap, &tail); err != nil {
		return "", s.mapConflict(op, snap.Wallet, err)
	}
	if err := insertEvents(ctx, tx, snap.Wallet, id, events); err != nil {
		return "", s.mapConflict(op, snap.Wallet, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", s.mapConflict(op, snap.Wallet, fmt.Errorf("postgres: commit: %w", err))
	}
	return id, nil
}

func insertEvents(ctx context.Context, tx pgx.Tx, wallet, snapshotID string, events []domain.ChangeEvent) error {
	const query = `
		INSERT INTO change_events (
			id, wallet, market_id, market_title, event_type, snapshot_id,
			prev_yes_shares, prev_no_shares, prev_yes_avg_price, prev_no_avg_price,
			curr_yes_shares, curr_no_shares, curr_yes_avg_price, curr_no_avg_price,
			resolved_outcome, pnl
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	batch := &pgx.Batch{}
	for _, ev := range events {
		id := ev.ID
		if id == "" {
			id = uuid.NewString()
		}
		batch.Queue(query,
			id, wallet, ev.MarketID, ev.MarketTitle, string(ev.Type), snapshotID,
			ev.PrevYesShares, ev.PrevNoShares, ev.PrevYesAvgPrice, ev.PrevNoAvgPrice,
			ev.CurrYesShares, ev.CurrNoShares, ev.CurrYesAvgPrice, ev.CurrNoAvgPrice,
			string(ev.ResolvedOutcome.OrUnresolved()), ev.PnL,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for i := range events {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("postgres: insert event %d (%s %s): %w", i, events[i].Type, events[i].MarketID, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: close event batch: %w", err)
	}
	return nil
}

// mapConflict turns unique violations on the chain indexes into the
// domain's chain errors.
func (s *ChainStore) mapConflict(op, wallet string, err error) error {
	constraint, ok := uniqueConstraint(err)
	if !ok {
		return &domain.ChainError{Op: op, Wallet: wallet, Err: err}
	}
	if constraint == "snapshots_one_root_per_wallet" {
		return &domain.ChainError{Op: op, Wallet: wallet, Err: domain.ErrDuplicateInitialization}
	}
	return &domain.ChainError{Op: op, Wallet: wallet, Err: fmt.Errorf("%w: %s", domain.ErrChainConflict, constraint)}
}

func scanSnapshot(row pgx.Row) (domain.StoredSnapshot, error) {
	var (
		s             domain.StoredSnapshot
		positionsJSON []byte
	)
	if err := row.Scan(&s.ID, &s.Wallet, &positionsJSON, &s.Timestamp, &s.PredecessorID, &s.CreatedAt); err != nil {
		return domain.StoredSnapshot{}, err
	}
	if err := json.Unmarshal(positionsJSON, &s.Positions); err != nil {
		return domain.StoredSnapshot{}, fmt.Errorf("postgres: unmarshal positions of %s: %w", s.ID, err)
	}
	if s.Positions == nil {
		s.Positions = []domain.Position{}
	}
	s.Timestamp = s.Timestamp.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	return s, nil
}

// GetLatest implements domain.ChainStore.
func (s *ChainStore) GetLatest(ctx context.Context, wallet string) (*domain.StoredSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM snapshots
		WHERE wallet = $1 ORDER BY seq DESC LIMIT 1`
	snap, err := scanSnapshot(s.pool.QueryRow(ctx, query, wallet))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get latest snapshot for %s: %w", wallet, err)
	}
	return &snap, nil
}

// GetByID implements domain.ChainStore.
func (s *ChainStore) GetByID(ctx context.Context, id string) (*domain.StoredSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM snapshots WHERE id = $1`
	snap, err := scanSnapshot(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get snapshot %s: %w", id, err)
	}
	return &snap, nil
}

// History implements domain.ChainStore. It follows predecessor links from
// the tail with a recursive CTE.
func (s *ChainStore) History(ctx context.Context, wallet string, limit int) ([]domain.StoredSnapshot, error) {
	query := `
		WITH RECURSIVE chain AS (
			SELECT s.*, 1 AS depth FROM snapshots s
			WHERE s.id = (SELECT id FROM snapshots WHERE wallet = $1 ORDER BY seq DESC LIMIT 1)
			UNION ALL
			SELECT p.*, c.depth + 1 FROM snapshots p
			JOIN chain c ON p.id = c.predecessor_id
		)
		SELECT ` + snapshotColumns + ` FROM chain ORDER BY depth`
	args := []any{wallet}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: history for %s: %w", wallet, err)
	}
	defer rows.Close()

	var out []domain.StoredSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan history row: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: history rows: %w", err)
	}
	return out, nil
}

// VerifyChain implements domain.ChainStore.
func (s *ChainStore) VerifyChain(ctx context.Context, wallet string) (domain.ChainReport, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, predecessor_id FROM snapshots WHERE wallet = $1 ORDER BY seq`, wallet)
	if err != nil {
		return domain.ChainReport{}, fmt.Errorf("postgres: load chain links for %s: %w", wallet, err)
	}
	defer rows.Close()

	preds := make(map[string]*string)
	head := ""
	for rows.Next() {
		var (
			id   string
			pred *string
		)
		if err := rows.Scan(&id, &pred); err != nil {
			return domain.ChainReport{}, fmt.Errorf("postgres: scan chain link: %w", err)
		}
		preds[id] = pred
		head = id
	}
	if err := rows.Err(); err != nil {
		return domain.ChainReport{}, fmt.Errorf("postgres: chain link rows: %w", err)
	}
	return domain.VerifyLinks(wallet, head, preds), nil
}

var _ domain.ChainStore = (*ChainStore)(nil)
