package writer

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	appconfig "p2pflow/config"
	"p2pflow/logger"
	"p2pflow/models"
)

// PostgresSink is the append-only storage adapter for canonical records.
// The whole cycle batch goes through one transaction: either every record
// lands or none do, and a write failure is the one error that propagates
// back to the cycle caller.
type PostgresSink struct {
	config *appconfig.Config
	pool   *pgxpool.Pool
	table  string
	log    *logger.Log
}

// NewPostgresSink opens a connection pool against the configured DSN and
// verifies connectivity.
func NewPostgresSink(ctx context.Context, cfg *appconfig.Config) (*PostgresSink, error) {
	log := logger.GetLogger()

	pgcfg, err := pgxpool.ParseConfig(cfg.Storage.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pgcfg.MaxConns = int32(cfg.Storage.Postgres.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, pgcfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	sink := &PostgresSink{
		config: cfg,
		pool:   pool,
		table:  fmt.Sprintf(`%q.%q`, cfg.Storage.Postgres.Schema, cfg.Storage.Postgres.Table),
		log:    log,
	}

	log.WithComponent("postgres_sink").WithFields(logger.Fields{
		"schema":    cfg.Storage.Postgres.Schema,
		"table":     cfg.Storage.Postgres.Table,
		"max_conns": cfg.Storage.Postgres.MaxConns,
	}).Info("postgres sink initialized")

	return sink, nil
}

// EnsureSchema creates the record table and its timestamp index when they do
// not exist. This is a one-time setup step at process start, never run
// per-cycle; the timestamp index is required for acceptable read latency as
// the table grows.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id BIGSERIAL PRIMARY KEY,
		"Timestamp" TIMESTAMPTZ NOT NULL,
		"Tipo" TEXT NOT NULL,
		"Precio" DOUBLE PRECISION NOT NULL,
		"Volumen" DOUBLE PRECISION NOT NULL,
		"Volumen_min" DOUBLE PRECISION,
		"Volumen_max" DOUBLE PRECISION,
		"Metodos_Pago" TEXT,
		"Exchange_Name" TEXT
	)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS "idx_%s_timestamp" ON %s ("Timestamp")`,
		s.config.Storage.Postgres.Table, s.table)
	if _, err := s.pool.Exec(ctx, idx); err != nil {
		return fmt.Errorf("create timestamp index: %w", err)
	}

	s.log.WithComponent("postgres_sink").WithFields(logger.Fields{
		"table": s.table,
	}).Info("schema ensured")
	return nil
}

// Append inserts the batch inside a single transaction and returns the
// number of rows written. An empty batch is a no-op. No partial-write
// recovery is attempted: on failure the transaction rolls back and the error
// surfaces; the next scheduled cycle retries with fresh data.
func (s *PostgresSink) Append(ctx context.Context, records []models.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	log := s.log.WithComponent("postgres_sink").WithFields(logger.Fields{
		"operation": "append",
		"records":   len(records),
	})

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin append transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`INSERT INTO %s
		("Timestamp", "Tipo", "Precio", "Volumen", "Volumen_min", "Volumen_max", "Metodos_Pago", "Exchange_Name")
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, s.table)

	batchSize := s.config.Storage.Postgres.BatchSize
	total := 0
	for i := 0; i < len(records); i += batchSize {
		j := i + batchSize
		if j > len(records) {
			j = len(records)
		}

		b := &pgx.Batch{}
		for _, r := range records[i:j] {
			b.Queue(stmt,
				r.Timestamp, r.Side.Label(), r.Price, r.Volume,
				r.VolumeMin, r.VolumeMax, r.PaymentMethods, r.SourceName,
			)
		}

		br := tx.SendBatch(ctx, b)
		for k := i; k < j; k++ {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return 0, fmt.Errorf("insert record: %w", err)
			}
			total += int(tag.RowsAffected())
		}
		if err := br.Close(); err != nil {
			return 0, fmt.Errorf("close insert batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit append transaction: %w", err)
	}

	log.WithFields(logger.Fields{"rows_appended": total}).Info("batch appended")
	return total, nil
}

// Close releases the connection pool.
func (s *PostgresSink) Close() {
	s.pool.Close()
	s.log.WithComponent("postgres_sink").Info("postgres sink closed")
}
