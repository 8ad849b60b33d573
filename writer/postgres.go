package writer

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cdsflow/logger"
	"cdsflow/models"
)

// PostgresStore is the persistence sink for canonical trades. Writes are
// keyed by dedup_key with insert-or-ignore semantics: a duplicate key is a
// no-op, never an error, so replaying a batch is always safe.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
	log   *logger.Log
}

func NewPostgresStore(ctx context.Context, dsn, table string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	return &PostgresStore{
		pool:  pool,
		table: table,
		log:   logger.GetLogger(),
	}, nil
}

func (s *PostgresStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the trade table when it does not exist yet. The
// unique constraint on dedup_key is what makes the bulk upsert idempotent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id               BIGSERIAL PRIMARY KEY,
		dedup_key        TEXT NOT NULL UNIQUE,
		trade_time       TEXT NOT NULL,
		trade_date       DATE NOT NULL,
		maturity_date    DATE NOT NULL,
		instrument       TEXT NOT NULL,
		price            NUMERIC(12,2) NOT NULL,
		notional_full    BIGINT NOT NULL,
		notional_display TEXT NOT NULL,
		code             TEXT NOT NULL,
		tenor            INT NOT NULL,
		currency         TEXT NOT NULL,
		platform_id      TEXT NOT NULL,
		other_payment    NUMERIC,
		rating_category  TEXT NOT NULL,
		is_hy            BOOLEAN NOT NULL,
		is_ig            BOOLEAN NOT NULL,
		entity_name      TEXT NOT NULL,
		sector           TEXT NOT NULL DEFAULT '',
		ingested_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, s.table)

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// SaveTrades bulk-inserts a batch, ignoring rows whose dedup_key already
// exists, and returns how many rows were actually inserted. Each row is
// atomic on its own; a conflict on one row does not affect its siblings.
func (s *PostgresStore) SaveTrades(ctx context.Context, trades []models.Trade) (int, error) {
	if len(trades) == 0 {
		return 0, nil
	}

	start := time.Now()
	sql := insertSQL(s.table)

	batch := &pgx.Batch{}
	for i := range trades {
		batch.Queue(sql, tradeArgs(trades[i])...)
	}

	results := s.pool.SendBatch(ctx, batch)
	inserted := 0
	for i := 0; i < batch.Len(); i++ {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return inserted, fmt.Errorf("insert trade %s: %w", trades[i].DedupKey, err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return inserted, fmt.Errorf("close batch: %w", err)
	}

	logger.LogPerformanceEntry(s.log.WithComponent("postgres_store"), "postgres_store", "save_trades", time.Since(start), logger.Fields{
		"batch_size": len(trades),
		"inserted":   inserted,
	})

	return inserted, nil
}

// RecentKeys returns the most recently ingested dedup keys, newest first,
// used to seed the in-memory deduplicator across restarts.
func (s *PostgresStore) RecentKeys(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT dedup_key FROM %s ORDER BY id DESC LIMIT $1`, s.table)

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func insertSQL(table string) string {
	return fmt.Sprintf(`
	INSERT INTO %s (
		dedup_key, trade_time, trade_date, maturity_date, instrument,
		price, notional_full, notional_display, code, tenor,
		currency, platform_id, other_payment, rating_category,
		is_hy, is_ig, entity_name, sector
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	ON CONFLICT (dedup_key) DO NOTHING`, table)
}

func tradeArgs(t models.Trade) []any {
	var otherPayment any
	if t.OtherPayment != nil {
		otherPayment = *t.OtherPayment
	}
	return []any{
		t.DedupKey,
		t.TradeTime,
		t.TradeDate,
		t.MaturityDate,
		t.Instrument,
		t.Price,
		t.NotionalFull,
		t.NotionalDisplay,
		t.Code,
		t.Tenor,
		t.Currency,
		t.PlatformID,
		otherPayment,
		string(t.RatingCategory),
		t.IsHY,
		t.IsIG,
		t.EntityName,
		t.Sector,
	}
}
