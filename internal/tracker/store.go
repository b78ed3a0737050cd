// Package tracker implements the Correlation Tracker from spec.md §4.7:
// a pgx/v5-backed durable store of PredictionRecord entries, a resolver
// task that closes the loop between mempool predictions and confirmed
// blocks, an accuracy monitor, and retention cleanup. Grounded on the
// teacher's internal/db/postgres.go (pgxpool wrapper, ON CONFLICT DO
// UPDATE upsert idiom, transactional writes), adapted from a CoinJoin
// forensics schema to the predictions/price_analysis schema in
// SPEC_FULL.md §6.1.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rawblock/utxoracle-live/internal/logging"
	"github.com/rawblock/utxoracle-live/pkg/models"
)

// Store wraps a pgxpool.Pool with the Correlation Tracker's durable
// operations. All writes go through Store's owning task per spec.md §5 —
// callers must not share a Store across concurrent writers without that
// discipline; reads are safe from any goroutine.
type Store struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// Connect dials the configured Postgres database and verifies
// connectivity with a ping, mirroring the teacher's PostgresStore.Connect.
func Connect(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return &Store{pool: pool, log: logging.For("tracker.store")}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// InitSchema creates the predictions and price_analysis tables if they
// do not already exist, per SPEC_FULL.md §6.1.
func (s *Store) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreIntegrityError, err)
	}
	return nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS predictions (
  correlation_id        TEXT PRIMARY KEY,
  txid                  TEXT NOT NULL,
  created_at            TIMESTAMPTZ NOT NULL,
  predicted_confirm_block BIGINT NOT NULL,
  urgency_score         DOUBLE PRECISION NOT NULL,
  rbf_enabled           BOOLEAN NOT NULL,
  status                TEXT NOT NULL,
  resolved_at           TIMESTAMPTZ,
  actual_confirm_block  BIGINT,
  accuracy              DOUBLE PRECISION
);
CREATE INDEX IF NOT EXISTS idx_predictions_status ON predictions(status);
CREATE INDEX IF NOT EXISTS idx_predictions_txid ON predictions(txid);

CREATE TABLE IF NOT EXISTS price_analysis (
  date            DATE PRIMARY KEY,
  utxoracle_price DOUBLE PRECISION NOT NULL,
  mempool_price   DOUBLE PRECISION,
  confidence      DOUBLE PRECISION NOT NULL,
  tx_count        BIGINT NOT NULL,
  is_valid        BOOLEAN NOT NULL
);
`

// SavePrediction durably persists a new PENDING prediction. Invoked
// synchronously before the Broadcaster fans the corresponding alert out,
// per spec.md §4.7's insertion rule and §3's durability-before-broadcast
// invariant — the caller must await this call's success before enqueuing
// the alert to any subscriber.
func (s *Store) SavePrediction(ctx context.Context, rec models.PredictionRecord) error {
	const stmt = `
		INSERT INTO predictions
			(correlation_id, txid, created_at, predicted_confirm_block, urgency_score, rbf_enabled, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := retryWrite(ctx, s.log, func() (struct{}, error) {
		_, err := s.pool.Exec(ctx, stmt, rec.CorrelationID, rec.Txid, rec.CreatedAt, rec.PredictedConfirmBlock, rec.UrgencyScore, rec.RBFEnabled, models.StatusPending)
		return struct{}{}, err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

// resolveOutcome applies a single-resolution transition away from
// PENDING, guarded by `status = 'PENDING'` so a correlationId can only be
// resolved once (testable property 2). It returns whether a row was
// actually updated (false means it was already resolved by a concurrent
// caller or does not exist).
func (s *Store) resolveOutcome(ctx context.Context, correlationID string, status models.PredictionStatus, resolvedAt time.Time, actualBlock *int64, accuracy *float64) (bool, error) {
	const stmt = `
		UPDATE predictions
		SET status = $2, resolved_at = $3, actual_confirm_block = $4, accuracy = $5
		WHERE correlation_id = $1 AND status = $6
	`
	tag, err := retryWrite(ctx, s.log, func() (pgconnCommandTag, error) {
		t, err := s.pool.Exec(ctx, stmt, correlationID, status, resolvedAt, actualBlock, accuracy, models.StatusPending)
		return pgconnCommandTag{rowsAffected: t.RowsAffected()}, err
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return tag.rowsAffected > 0, nil
}

type pgconnCommandTag struct {
	rowsAffected int64
}

// ResolveConfirmed transitions a prediction to CONFIRMED with the
// observed confirmation block and computed accuracy, per spec.md §4.7.
func (s *Store) ResolveConfirmed(ctx context.Context, correlationID string, actualBlock int64, accuracy float64, resolvedAt time.Time) (bool, error) {
	return s.resolveOutcome(ctx, correlationID, models.StatusConfirmed, resolvedAt, &actualBlock, &accuracy)
}

// ResolveDropped transitions a prediction to DROPPED with no accuracy,
// per spec.md §4.7.
func (s *Store) ResolveDropped(ctx context.Context, correlationID string, resolvedAt time.Time) (bool, error) {
	return s.resolveOutcome(ctx, correlationID, models.StatusDropped, resolvedAt, nil, nil)
}

// ResolveReplaced transitions a prediction to REPLACED, per spec.md §4.7.
// Per spec.md §9 open question 3, when input-address lookup needed to
// detect a true replacement is unavailable, callers should prefer
// ResolveDropped and count the degradation explicitly rather than guess
// at REPLACED — see DESIGN.md.
func (s *Store) ResolveReplaced(ctx context.Context, correlationID string, resolvedAt time.Time) (bool, error) {
	return s.resolveOutcome(ctx, correlationID, models.StatusReplaced, resolvedAt, nil, nil)
}

// PendingOlderThan returns the txid and correlationId of every PENDING
// prediction created before cutoff, for drop-timeout evaluation.
func (s *Store) PendingOlderThan(ctx context.Context, cutoff time.Time) ([]models.PredictionRecord, error) {
	const q = `
		SELECT correlation_id, txid, created_at, predicted_confirm_block, urgency_score, rbf_enabled
		FROM predictions WHERE status = $1 AND created_at < $2
	`
	rows, err := s.pool.Query(ctx, q, models.StatusPending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []models.PredictionRecord
	for rows.Next() {
		var r models.PredictionRecord
		if err := rows.Scan(&r.CorrelationID, &r.Txid, &r.CreatedAt, &r.PredictedConfirmBlock, &r.UrgencyScore, &r.RBFEnabled); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AllPending returns every currently PENDING prediction, for the
// resolver's per-block sweep.
func (s *Store) AllPending(ctx context.Context) ([]models.PredictionRecord, error) {
	return s.PendingOlderThan(ctx, time.Now().Add(time.Hour*24*365*100))
}

// UpsertPriceAnalysis implements the "keep best confidence" invariant
// from spec.md §6/§8 property 7: a new row replaces an existing one only
// when the new confidence is strictly greater, or the existing row was
// invalid and the new one is valid. Implemented as a single statement
// guarded WHERE clause, mirroring the teacher's ON CONFLICT ... DO UPDATE
// style in internal/db/postgres.go.
func (s *Store) UpsertPriceAnalysis(ctx context.Context, row models.DailyPriceAggregate, mempoolPrice *float64) error {
	const stmt = `
		INSERT INTO price_analysis (date, utxoracle_price, mempool_price, confidence, tx_count, is_valid)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (date) DO UPDATE SET
			utxoracle_price = EXCLUDED.utxoracle_price,
			mempool_price   = EXCLUDED.mempool_price,
			confidence      = EXCLUDED.confidence,
			tx_count        = EXCLUDED.tx_count,
			is_valid        = EXCLUDED.is_valid
		WHERE EXCLUDED.confidence > price_analysis.confidence
		   OR (price_analysis.is_valid = FALSE AND EXCLUDED.is_valid = TRUE)
	`
	_, err := retryWrite(ctx, s.log, func() (struct{}, error) {
		_, err := s.pool.Exec(ctx, stmt, row.Date, row.UTXOraclePrice, mempoolPrice, row.Confidence, row.TxCount, row.IsValid)
		return struct{}{}, err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

// RecentDailyAggregates returns up to `days` most recent price_analysis
// rows, newest first, for GET /prices/historical.
func (s *Store) RecentDailyAggregates(ctx context.Context, days int) ([]models.DailyPriceAggregate, error) {
	const q = `
		SELECT date, utxoracle_price, COALESCE(mempool_price, 0), confidence, tx_count, is_valid
		FROM price_analysis ORDER BY date DESC LIMIT $1
	`
	rows, err := s.pool.Query(ctx, q, days)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []models.DailyPriceAggregate
	for rows.Next() {
		var r models.DailyPriceAggregate
		if err := rows.Scan(&r.Date, &r.UTXOraclePrice, &r.MempoolPrice, &r.Confidence, &r.TxCount, &r.IsValid); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CleanupRetention deletes predictions whose createdAt is older than
// retentionDays, per spec.md §4.7 and testable property 8.
func (s *Store) CleanupRetention(ctx context.Context, retentionDays int) (int64, error) {
	const stmt = `DELETE FROM predictions WHERE created_at < $1`
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	tag, err := s.pool.Exec(ctx, stmt, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

// AccuracyOverWindow computes the average accuracy of CONFIRMED
// predictions resolved within the given window, for the accuracy monitor.
func (s *Store) AccuracyOverWindow(ctx context.Context, since time.Time) (avg float64, sampleSize int, err error) {
	const q = `
		SELECT COALESCE(AVG(accuracy), 0), COUNT(*)
		FROM predictions WHERE status = $1 AND resolved_at >= $2
	`
	row := s.pool.QueryRow(ctx, q, models.StatusConfirmed, since)
	if err := row.Scan(&avg, &sampleSize); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return avg, sampleSize, nil
}

// retryWrite wraps a write in the teacher's exponential-backoff retry
// idiom, per spec.md §4.7: "writes go through a retry wrapper (exponential
// backoff) since the store is a single-writer analytical database that
// may be temporarily locked."
func retryWrite[T any](ctx context.Context, log *slog.Logger, fn func() (T, error)) (T, error) {
	const maxAttempts = 4
	delay := 100 * time.Millisecond
	var zero T
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt == maxAttempts-1 {
			break
		}
		log.Warn("tracker write failed, retrying", "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return zero, lastErr
}
