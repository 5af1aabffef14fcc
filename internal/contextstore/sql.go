package contextstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/concord/internal/errors"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// Dialect selects the SQL flavor.
type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
)

// TableName is the artifact table.
const TableName = "debate_artifacts"

type queries struct {
	create string
	upsert string
	get    string
}

func (d Dialect) queries() (queries, error) {
	switch d {
	case DialectMySQL:
		return queries{
			create: `CREATE TABLE IF NOT EXISTS ` + TableName + ` (
  task_id VARCHAR(64) NOT NULL,
  artifact_key VARCHAR(255) NOT NULL,
  payload LONGTEXT NOT NULL,
  updated_at DATETIME(6) NOT NULL,
  PRIMARY KEY (task_id, artifact_key)
)`,
			upsert: `INSERT INTO ` + TableName + ` (task_id, artifact_key, payload, updated_at)
VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE payload = VALUES(payload), updated_at = VALUES(updated_at)`,
			get: `SELECT payload FROM ` + TableName + ` WHERE task_id = ? AND artifact_key = ?`,
		}, nil
	case DialectPostgres:
		return queries{
			create: `CREATE TABLE IF NOT EXISTS ` + TableName + ` (
  task_id VARCHAR(64) NOT NULL,
  artifact_key VARCHAR(255) NOT NULL,
  payload TEXT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (task_id, artifact_key)
)`,
			upsert: `INSERT INTO ` + TableName + ` (task_id, artifact_key, payload, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (task_id, artifact_key) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
			get: `SELECT payload FROM ` + TableName + ` WHERE task_id = $1 AND artifact_key = $2`,
		}, nil
	default:
		return queries{}, errors.NewValidationError("unsupported SQL dialect").WithField("store.driver").WithValue(string(d))
	}
}

// NormalizeDSN validates dsn for the dialect. MySQL DSNs get parseTime
// enabled; Postgres URLs are converted to key/value form.
func NormalizeDSN(d Dialect, dsn string) (string, error) {
	switch d {
	case DialectMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", errors.NewValidationError("invalid mysql DSN").WithField("store.dsn").WithCause(err)
		}
		cfg.ParseTime = true
		return cfg.FormatDSN(), nil
	case DialectPostgres:
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			conn, err := pq.ParseURL(dsn)
			if err != nil {
				return "", errors.NewValidationError("invalid postgres URL").WithField("store.dsn").WithCause(err)
			}
			return conn, nil
		}
		return dsn, nil
	default:
		_, err := d.queries()
		return "", err
	}
}

// SQLStore keeps artifacts in the debate_artifacts table, one row per key.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	q       queries
	now     func() time.Time
}

// OpenSQL connects, pings and migrates.
func OpenSQL(ctx context.Context, d Dialect, dsn string) (*SQLStore, error) {
	conn, err := NormalizeDSN(d, dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(string(d), conn)
	if err != nil {
		return nil, fmt.Errorf("contextstore: open %s: %w", d, err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("contextstore: ping %s: %w", d, err)
	}

	s, err := NewSQLStore(db, d)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an open database.
func NewSQLStore(db *sql.DB, d Dialect) (*SQLStore, error) {
	q, err := d.queries()
	if err != nil {
		return nil, err
	}
	return &SQLStore{db: db, dialect: d, q: q, now: time.Now}, nil
}

// Migrate creates the artifact table if needed.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.q.create); err != nil {
		return fmt.Errorf("contextstore: create %s: %w", TableName, err)
	}
	return nil
}

// splitKey separates the task ID from the rest of the key.
func splitKey(key string) (taskID, rest string) {
	taskID, rest, _ = strings.Cut(key, "/")
	return taskID, rest
}

// Put upserts the row for key.
func (s *SQLStore) Put(ctx context.Context, key string, data []byte) error {
	taskID, rest := splitKey(key)
	_, err := s.db.ExecContext(ctx, s.q.upsert, taskID, rest, string(data), s.now().UTC())
	return err
}

// Get reads the row for key.
func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	taskID, rest := splitKey(key)
	var payload string
	err := s.db.QueryRowContext(ctx, s.q.get, taskID, rest).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("artifact", key)
	}
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
