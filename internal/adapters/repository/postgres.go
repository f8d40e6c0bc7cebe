package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/javimosch/superbackend-sub004/internal/domain/model"
)

// Connection pool sizing for the experiment store.
const (
	pgMaxOpenConns    = 25
	pgMaxIdleConns    = 5
	pgConnMaxLifetime = 5 * time.Minute
)

// PostgresStore implements Store on PostgreSQL via database/sql + lib/pq.
// Assignment uniqueness rides on a UNIQUE constraint and
// INSERT ... ON CONFLICT DO NOTHING; bucket writes are full-row upserts.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects, verifies the connection, and applies the
// schema migration.
func NewPostgresStore(ctx context.Context, dbURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	db.SetMaxOpenConns(pgMaxOpenConns)
	db.SetMaxIdleConns(pgMaxIdleConns)
	db.SetConnMaxLifetime(pgConnMaxLifetime)

	s := &PostgresStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS ab_experiments (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL DEFAULT '',
		code TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		variants JSONB NOT NULL DEFAULT '[]',
		salt TEXT NOT NULL DEFAULT '',
		sticky BOOLEAN NOT NULL DEFAULT TRUE,
		primary_metric JSONB NOT NULL DEFAULT '{}',
		secondary_metrics JSONB NOT NULL DEFAULT '[]',
		winner_policy JSONB NOT NULL DEFAULT '{}',
		started_at TIMESTAMPTZ,
		winner_variant_key TEXT NOT NULL DEFAULT '',
		winner_decided_at TIMESTAMPTZ,
		winner_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT ab_experiments_scope_code UNIQUE (org_id, code)
	);

	CREATE TABLE IF NOT EXISTS ab_assignments (
		id TEXT PRIMARY KEY,
		experiment_id TEXT NOT NULL,
		subject_key TEXT NOT NULL,
		variant_key TEXT NOT NULL,
		context JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT ab_assignments_subject UNIQUE (experiment_id, subject_key)
	);

	CREATE TABLE IF NOT EXISTS ab_events (
		id TEXT PRIMARY KEY,
		experiment_id TEXT NOT NULL,
		subject_key TEXT NOT NULL,
		variant_key TEXT NOT NULL,
		event_key TEXT NOT NULL,
		value DOUBLE PRECISION NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		meta JSONB
	);

	CREATE TABLE IF NOT EXISTS ab_metric_buckets (
		experiment_id TEXT NOT NULL,
		variant_key TEXT NOT NULL,
		metric_key TEXT NOT NULL,
		bucket_start TIMESTAMPTZ NOT NULL,
		bucket_width_ms BIGINT NOT NULL,
		event_count BIGINT NOT NULL,
		value_sum DOUBLE PRECISION NOT NULL,
		value_sum_squares DOUBLE PRECISION NOT NULL,
		value_min DOUBLE PRECISION NOT NULL,
		value_max DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (experiment_id, variant_key, metric_key, bucket_start, bucket_width_ms)
	);

	CREATE INDEX IF NOT EXISTS idx_ab_events_exp_key_ts ON ab_events(experiment_id, event_key, ts);
	CREATE INDEX IF NOT EXISTS idx_ab_events_ts ON ab_events(ts);
	CREATE INDEX IF NOT EXISTS idx_ab_metric_buckets_start ON ab_metric_buckets(bucket_start);`

	_, err := s.db.ExecContext(ctx, query)
	return err
}

const experimentColumns = `id, org_id, code, name, status, variants, salt, sticky,
	primary_metric, secondary_metrics, winner_policy, started_at,
	winner_variant_key, winner_decided_at, winner_reason, created_at, updated_at`

// PutExperiment inserts or replaces an experiment definition.
func (s *PostgresStore) PutExperiment(ctx context.Context, exp *model.Experiment) error {
	variants, err := json.Marshal(exp.Variants)
	if err != nil {
		return fmt.Errorf("marshal variants: %w", err)
	}
	primary, err := json.Marshal(exp.PrimaryMetric)
	if err != nil {
		return fmt.Errorf("marshal primary metric: %w", err)
	}
	secondary, err := json.Marshal(exp.SecondaryMetrics)
	if err != nil {
		return fmt.Errorf("marshal secondary metrics: %w", err)
	}
	policy, err := json.Marshal(exp.WinnerPolicy)
	if err != nil {
		return fmt.Errorf("marshal winner policy: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ab_experiments (`+experimentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			org_id = EXCLUDED.org_id,
			code = EXCLUDED.code,
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			variants = EXCLUDED.variants,
			salt = EXCLUDED.salt,
			sticky = EXCLUDED.sticky,
			primary_metric = EXCLUDED.primary_metric,
			secondary_metrics = EXCLUDED.secondary_metrics,
			winner_policy = EXCLUDED.winner_policy,
			started_at = EXCLUDED.started_at,
			winner_variant_key = EXCLUDED.winner_variant_key,
			winner_decided_at = EXCLUDED.winner_decided_at,
			winner_reason = EXCLUDED.winner_reason,
			updated_at = EXCLUDED.updated_at`,
		exp.ID, exp.OrgID, exp.Code, exp.Name, string(exp.Status), variants, exp.Salt, exp.Sticky,
		primary, secondary, policy, nullTime(exp.StartedAt),
		exp.WinnerVariantKey, nullTime(exp.WinnerDecidedAt), exp.WinnerReason,
		exp.CreatedAt, exp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put experiment: %w", err)
	}
	return nil
}

// ExperimentByID returns the experiment with the given id.
func (s *PostgresStore) ExperimentByID(ctx context.Context, id string) (*model.Experiment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+experimentColumns+` FROM ab_experiments WHERE id = $1`, id)
	return scanExperiment(row)
}

// ExperimentByCode returns the experiment for (orgID, code) in that exact scope.
func (s *PostgresStore) ExperimentByCode(ctx context.Context, orgID, code string) (*model.Experiment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+experimentColumns+` FROM ab_experiments WHERE org_id = $1 AND code = $2`, orgID, code)
	return scanExperiment(row)
}

// ExperimentsByStatus lists experiments in any of the given statuses.
func (s *PostgresStore) ExperimentsByStatus(ctx context.Context, statuses ...model.Status) ([]*model.Experiment, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+experimentColumns+` FROM ab_experiments WHERE status = ANY($1) ORDER BY id`,
		pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	defer rows.Close()

	var out []*model.Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	return out, rows.Err()
}

// SetWinner records the winner once and completes the experiment.
func (s *PostgresStore) SetWinner(ctx context.Context, experimentID, variantKey string, decidedAt time.Time, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ab_experiments
		SET winner_variant_key = $2,
			winner_decided_at = $3,
			winner_reason = $4,
			status = $5,
			updated_at = $3
		WHERE id = $1 AND winner_variant_key = ''`,
		experimentID, variantKey, decidedAt, reason, string(model.StatusCompleted))
	if err != nil {
		return fmt.Errorf("set winner: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	// Either the experiment is missing or a winner is already recorded;
	// the latter is a no-op by contract.
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM ab_experiments WHERE id = $1`, experimentID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// Assignment returns the assignment for (experimentID, subjectKey).
func (s *PostgresStore) Assignment(ctx context.Context, experimentID, subjectKey string) (*model.Assignment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, experiment_id, subject_key, variant_key, context, created_at
		FROM ab_assignments WHERE experiment_id = $1 AND subject_key = $2`,
		experimentID, subjectKey)
	return scanAssignment(row)
}

// CreateAssignment inserts a unless a row already exists for its pair. The
// ON CONFLICT DO NOTHING form makes concurrent first-requests race-safe:
// losers observe zero affected rows and re-read the winner's row.
func (s *PostgresStore) CreateAssignment(ctx context.Context, a *model.Assignment) (*model.Assignment, bool, error) {
	contextBlob, err := marshalOrNull(a.Context)
	if err != nil {
		return nil, false, fmt.Errorf("marshal context: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ab_assignments (id, experiment_id, subject_key, variant_key, context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (experiment_id, subject_key) DO NOTHING`,
		a.ID, a.ExperimentID, a.SubjectKey, a.VariantKey, contextBlob, a.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("create assignment: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return a, true, nil
	}

	existing, err := s.Assignment(ctx, a.ExperimentID, a.SubjectKey)
	if err != nil {
		return nil, false, fmt.Errorf("re-fetch assignment after lost race: %w", err)
	}
	return existing, false, nil
}

// InsertEvents bulk-inserts events in a single unordered statement.
func (s *PostgresStore) InsertEvents(ctx context.Context, events []model.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	const cols = 8
	placeholders := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*cols)
	for i, ev := range events {
		meta, err := marshalOrNull(ev.Meta)
		if err != nil {
			return 0, fmt.Errorf("marshal event meta: %w", err)
		}
		base := i * cols
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8))
		args = append(args, ev.ID, ev.ExperimentID, ev.SubjectKey, ev.VariantKey, ev.EventKey, ev.Value, ev.TS, meta)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ab_events (id, experiment_id, subject_key, variant_key, event_key, value, ts, meta)
		VALUES `+strings.Join(placeholders, ", "), args...)
	if err != nil {
		return 0, fmt.Errorf("insert events: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// EventsInWindow returns the experiment's events with ts in [start, end]
// whose event key is in eventKeys.
func (s *PostgresStore) EventsInWindow(ctx context.Context, experimentID string, eventKeys []string, start, end time.Time) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, experiment_id, subject_key, variant_key, event_key, value, ts, meta
		FROM ab_events
		WHERE experiment_id = $1 AND event_key = ANY($2) AND ts >= $3 AND ts <= $4`,
		experimentID, pq.Array(eventKeys), start, end)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var ev model.Event
		var meta []byte
		if err := rows.Scan(&ev.ID, &ev.ExperimentID, &ev.SubjectKey, &ev.VariantKey, &ev.EventKey, &ev.Value, &ev.TS, &meta); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &ev.Meta); err != nil {
				return nil, fmt.Errorf("unmarshal event meta: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// DeleteEventsBefore removes events strictly older than cutoff.
func (s *PostgresStore) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ab_events WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	return res.RowsAffected()
}

// UpsertBuckets overwrites each bucket row.
func (s *PostgresStore) UpsertBuckets(ctx context.Context, buckets []model.MetricBucket) error {
	for _, b := range buckets {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO ab_metric_buckets
				(experiment_id, variant_key, metric_key, bucket_start, bucket_width_ms,
				 event_count, value_sum, value_sum_squares, value_min, value_max)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (experiment_id, variant_key, metric_key, bucket_start, bucket_width_ms)
			DO UPDATE SET
				event_count = EXCLUDED.event_count,
				value_sum = EXCLUDED.value_sum,
				value_sum_squares = EXCLUDED.value_sum_squares,
				value_min = EXCLUDED.value_min,
				value_max = EXCLUDED.value_max`,
			b.ExperimentID, b.VariantKey, b.MetricKey, b.BucketStart, b.BucketWidth.Milliseconds(),
			b.Count, b.Sum, b.SumSquares, b.Min, b.Max)
		if err != nil {
			return fmt.Errorf("upsert bucket: %w", err)
		}
	}
	return nil
}

// Buckets returns bucket rows ordered by bucket start.
func (s *PostgresStore) Buckets(ctx context.Context, experimentID, variantKey, metricKey string, startAt time.Time) ([]model.MetricBucket, error) {
	query := `
		SELECT experiment_id, variant_key, metric_key, bucket_start, bucket_width_ms,
			event_count, value_sum, value_sum_squares, value_min, value_max
		FROM ab_metric_buckets
		WHERE experiment_id = $1 AND variant_key = $2 AND metric_key = $3`
	args := []any{experimentID, variantKey, metricKey}
	if !startAt.IsZero() {
		query += ` AND bucket_start >= $4`
		args = append(args, startAt)
	}
	query += ` ORDER BY bucket_start`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query buckets: %w", err)
	}
	defer rows.Close()

	var out []model.MetricBucket
	for rows.Next() {
		var b model.MetricBucket
		var widthMS int64
		if err := rows.Scan(&b.ExperimentID, &b.VariantKey, &b.MetricKey, &b.BucketStart, &widthMS,
			&b.Count, &b.Sum, &b.SumSquares, &b.Min, &b.Max); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		b.BucketWidth = time.Duration(widthMS) * time.Millisecond
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteBucketsBefore removes buckets starting strictly before cutoff.
func (s *PostgresStore) DeleteBucketsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ab_metric_buckets WHERE bucket_start < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete buckets: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExperiment(row rowScanner) (*model.Experiment, error) {
	var (
		exp                          model.Experiment
		status                       string
		variants, primary, secondary []byte
		policy                       []byte
		startedAt, decidedAt         sql.NullTime
	)
	err := row.Scan(&exp.ID, &exp.OrgID, &exp.Code, &exp.Name, &status, &variants, &exp.Salt, &exp.Sticky,
		&primary, &secondary, &policy, &startedAt,
		&exp.WinnerVariantKey, &decidedAt, &exp.WinnerReason, &exp.CreatedAt, &exp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan experiment: %w", err)
	}

	exp.Status = model.Status(status)
	if err := json.Unmarshal(variants, &exp.Variants); err != nil {
		return nil, fmt.Errorf("unmarshal variants: %w", err)
	}
	if err := json.Unmarshal(primary, &exp.PrimaryMetric); err != nil {
		return nil, fmt.Errorf("unmarshal primary metric: %w", err)
	}
	if err := json.Unmarshal(secondary, &exp.SecondaryMetrics); err != nil {
		return nil, fmt.Errorf("unmarshal secondary metrics: %w", err)
	}
	if err := json.Unmarshal(policy, &exp.WinnerPolicy); err != nil {
		return nil, fmt.Errorf("unmarshal winner policy: %w", err)
	}
	if startedAt.Valid {
		exp.StartedAt = startedAt.Time
	}
	if decidedAt.Valid {
		exp.WinnerDecidedAt = decidedAt.Time
	}
	return &exp, nil
}

func scanAssignment(row rowScanner) (*model.Assignment, error) {
	var (
		a    model.Assignment
		blob []byte
	)
	err := row.Scan(&a.ID, &a.ExperimentID, &a.SubjectKey, &a.VariantKey, &blob, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan assignment: %w", err)
	}
	if len(blob) > 0 {
		if err := json.Unmarshal(blob, &a.Context); err != nil {
			return nil, fmt.Errorf("unmarshal assignment context: %w", err)
		}
	}
	return &a, nil
}

func marshalOrNull(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
