package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-data-service/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS weather_events (
	event_id         TEXT PRIMARY KEY,
	event_type       TEXT NOT NULL,
	place            TEXT NOT NULL,
	place_display    TEXT NOT NULL DEFAULT '',
	ts               TEXT NOT NULL,
	ts_epoch         INTEGER NOT NULL,
	status           TEXT NOT NULL,
	storage_location TEXT NOT NULL DEFAULT '',
	error_message    TEXT NOT NULL DEFAULT '',
	duration_ms      INTEGER NOT NULL DEFAULT 0,
	cache_hit        INTEGER NOT NULL DEFAULT 0,
	external_call    INTEGER NOT NULL DEFAULT 0,
	created_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_weather_events_place_epoch ON weather_events(place, ts_epoch DESC);
CREATE INDEX IF NOT EXISTS idx_weather_events_epoch ON weather_events(ts_epoch);
CREATE INDEX IF NOT EXISTS idx_weather_events_status ON weather_events(status);
`

// SQLiteLog stores audit events in a local SQLite database.
type SQLiteLog struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewSQLiteLog opens the database at path, creating file and schema as
// needed. Use ":memory:" for an ephemeral log.
func NewSQLiteLog(path string, logger *zap.Logger) (*SQLiteLog, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create audit db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db %s: %w", path, err)
	}
	// SQLite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent appends.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply audit schema: %w", err)
	}
	return &SQLiteLog{db: db, logger: logger, now: time.Now}, nil
}

// Close releases the underlying database handle.
func (l *SQLiteLog) Close() error { return l.db.Close() }

func (l *SQLiteLog) Append(ctx context.Context, event models.AuditEvent) (string, error) {
	id := event.EventID
	if id == "" {
		id = uuid.NewString()
	}
	ts := event.Timestamp.UTC()
	_, err := l.db.ExecContext(ctx, `
INSERT INTO weather_events (
	event_id, event_type, place, place_display, ts, ts_epoch, status,
	storage_location, error_message, duration_ms, cache_hit, external_call, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		string(event.EventType),
		event.Place,
		event.PlaceDisplay,
		ts.Format(time.RFC3339Nano),
		ts.Unix(),
		string(event.Status),
		event.StorageLocation,
		event.ErrorMessage,
		metaInt64(event.Metadata, models.MetaDurationMs),
		metaBool(event.Metadata, models.MetaCacheHit),
		metaBool(event.Metadata, models.MetaExternalCall),
		l.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("%w: insert event for %q: %v", ErrAppendFailed, event.Place, err)
	}
	return id, nil
}

func (l *SQLiteLog) RecentEvents(ctx context.Context, place string, window time.Duration, limit int) ([]models.EventSummary, error) {
	cutoff := l.now().UTC().Add(-window).Unix()
	query := `
SELECT event_id, place, ts, status, duration_ms, cache_hit, error_message
FROM weather_events
WHERE ts_epoch >= ?`
	args := []any{cutoff}
	if place != "" {
		query += ` AND place = ?`
		args = append(args, strings.ToLower(strings.TrimSpace(place)))
	}
	query += ` ORDER BY ts_epoch DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer rows.Close()

	var out []models.EventSummary
	for rows.Next() {
		var (
			s      models.EventSummary
			ts     string
			status string
		)
		if err := rows.Scan(&s.EventID, &s.Place, &ts, &status, &s.DurationMs, &s.CacheHit, &s.Error); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			s.Timestamp = parsed
		}
		s.Status = models.EventStatus(status)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return out, nil
}

func (l *SQLiteLog) AggregateStats(ctx context.Context, window time.Duration) (models.RequestStats, error) {
	stats := models.RequestStats{PeriodHours: int(window.Hours())}
	cutoff := l.now().UTC().Add(-window).Unix()

	row := l.db.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN cache_hit = 1 THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN status = 'success' AND cache_hit = 0 THEN 1 ELSE 0 END), 0),
	COALESCE(AVG(duration_ms), 0)
FROM weather_events
WHERE ts_epoch >= ?`, cutoff)
	if err := row.Scan(
		&stats.TotalRequests,
		&stats.Succeeded,
		&stats.Failed,
		&stats.CacheHits,
		&stats.CacheMisses,
		&stats.AvgDurationMs,
	); err != nil {
		return models.RequestStats{}, fmt.Errorf("aggregate stats: %w", err)
	}

	rows, err := l.db.QueryContext(ctx, `
SELECT place, COUNT(*) AS requests
FROM weather_events
WHERE ts_epoch >= ?
GROUP BY place
ORDER BY requests DESC, place ASC
LIMIT 10`, cutoff)
	if err != nil {
		return models.RequestStats{}, fmt.Errorf("rank places: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pc models.PlaceCount
		if err := rows.Scan(&pc.Place, &pc.Requests); err != nil {
			return models.RequestStats{}, fmt.Errorf("scan place row: %w", err)
		}
		stats.TopPlaces = append(stats.TopPlaces, pc)
	}
	if err := rows.Err(); err != nil {
		return models.RequestStats{}, fmt.Errorf("iterate place rows: %w", err)
	}
	return stats, nil
}

func (l *SQLiteLog) PurgeOlderThan(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := l.now().UTC().Add(-retention).Unix()
	res, err := l.db.ExecContext(ctx, `DELETE FROM weather_events WHERE ts_epoch < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge audit events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	if n > 0 {
		l.logger.Info("audit events purged", zap.Int64("removed", n))
	}
	return int(n), nil
}

func (l *SQLiteLog) IsHealthy(ctx context.Context) bool {
	var one int
	return l.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one) == nil
}
