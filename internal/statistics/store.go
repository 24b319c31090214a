package statistics

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/psegsync/psegsync/pkg/models"
	_ "modernc.org/sqlite"
)

const hourFormat = "2006-01-02 15:04:05"

// Store is the long-term statistics store: one row per
// (statistic_id, hour_start) bucket with the hourly state and the running
// cumulative sum. Writes are idempotent upserts keyed on the bucket.
type Store struct {
	conn *sql.DB
}

// Open creates a new store at dbPath and initializes the schema
func Open(dbPath string) (*Store, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS statistics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		statistic_id TEXT NOT NULL,
		hour_start TEXT NOT NULL,
		state REAL NOT NULL,
		sum REAL NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT,
		UNIQUE(statistic_id, hour_start)
	);
	CREATE INDEX IF NOT EXISTS idx_statistics_id ON statistics(statistic_id);
	CREATE INDEX IF NOT EXISTS idx_statistics_hour ON statistics(hour_start);
	`

	_, err := s.conn.Exec(schema)
	return err
}

// UpsertPoints writes statistic points in a single transaction. Existing
// buckets are overwritten (last writer wins), never double-counted. The
// whole batch either commits or rolls back.
func (s *Store) UpsertPoints(points []models.StatisticPoint) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
	INSERT INTO statistics (statistic_id, hour_start, state, sum, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(statistic_id, hour_start)
	DO UPDATE SET state = excluded.state, sum = excluded.sum, updated_at = excluded.created_at
	`)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, p := range points {
		hourStr := p.HourStart.UTC().Format(hourFormat)
		if _, err := stmt.Exec(p.StatisticID, hourStr, p.State, p.Sum, now); err != nil {
			return fmt.Errorf("upserting point %s %s: %w", p.StatisticID, hourStr, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing statistics: %w", err)
	}

	return nil
}

// SumBefore returns the cumulative sum of the latest bucket strictly before
// the given hour, or 0 when no earlier bucket exists. This anchors the
// cumulative computation for a new write.
func (s *Store) SumBefore(statisticID string, hour time.Time) (float64, error) {
	query := `
	SELECT sum FROM statistics
	WHERE statistic_id = ? AND hour_start < ?
	ORDER BY hour_start DESC
	LIMIT 1
	`

	var sum float64
	err := s.conn.QueryRow(query, statisticID, hour.UTC().Format(hourFormat)).Scan(&sum)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("querying last sum: %w", err)
	}

	return sum, nil
}

// LatestPoint returns the most recent bucket for a statistic, or nil when
// the series is empty.
func (s *Store) LatestPoint(statisticID string) (*models.StatisticPoint, error) {
	query := `
	SELECT statistic_id, hour_start, state, sum FROM statistics
	WHERE statistic_id = ?
	ORDER BY hour_start DESC
	LIMIT 1
	`

	row := s.conn.QueryRow(query, statisticID)
	point, err := scanPoint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return point, nil
}

// ListPoints returns all buckets for a statistic in [since, until),
// ordered by hour. Zero times mean no bound.
func (s *Store) ListPoints(statisticID string, since, until time.Time) ([]models.StatisticPoint, error) {
	query := `
	SELECT statistic_id, hour_start, state, sum FROM statistics
	WHERE statistic_id = ?
	`
	args := []any{statisticID}
	if !since.IsZero() {
		query += ` AND hour_start >= ?`
		args = append(args, since.UTC().Format(hourFormat))
	}
	if !until.IsZero() {
		query += ` AND hour_start < ?`
		args = append(args, until.UTC().Format(hourFormat))
	}
	query += ` ORDER BY hour_start ASC`

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying statistics: %w", err)
	}
	defer rows.Close()

	var results []models.StatisticPoint
	for rows.Next() {
		point, err := scanPoint(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *point)
	}

	return results, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPoint(row scanner) (*models.StatisticPoint, error) {
	var p models.StatisticPoint
	var hourStr string

	if err := row.Scan(&p.StatisticID, &hourStr, &p.State, &p.Sum); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning row: %w", err)
	}

	hour, err := time.ParseInLocation(hourFormat, hourStr, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("parsing hour_start: %w", err)
	}
	p.HourStart = hour

	return &p, nil
}
