// Package history persists the append-only record of completed
// sessions in a local SQLite database.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"vtt-keyboard/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS history (
	id           TEXT PRIMARY KEY,
	sessionId    TEXT NOT NULL,
	createdAt    REAL NOT NULL,
	status       TEXT NOT NULL,
	transcript   TEXT NOT NULL,
	finalText    TEXT NOT NULL,
	matches      TEXT,
	errorMessage TEXT
);
CREATE INDEX IF NOT EXISTS idx_history_createdAt ON history(createdAt DESC);
`

// Store is the SQLite-backed history log. Rows are never updated or
// deleted through the application.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed creates) the history database at path.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append records one completed session attempt.
func (s *Store) Append(item domain.HistoryItem) error {
	var matches []byte
	if len(item.Matches) > 0 {
		var err error
		matches, err = json.Marshal(item.Matches)
		if err != nil {
			return fmt.Errorf("encode matches: %w", err)
		}
	}

	_, err := s.db.Exec(`
		INSERT INTO history (id, sessionId, createdAt, status, transcript, finalText, matches, errorMessage)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.SessionID, unixFloat(item.CreatedAt), string(item.Status),
		item.Transcript, item.FinalText, nullableText(matches), nullableString(item.ErrorMessage))
	if err != nil {
		return fmt.Errorf("insert history item: %w", err)
	}
	return nil
}

// Recent returns up to limit items, newest first.
func (s *Store) Recent(limit int) ([]domain.HistoryItem, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT id, sessionId, createdAt, status, transcript, finalText, matches, errorMessage
		FROM history
		ORDER BY createdAt DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var items []domain.HistoryItem
	for rows.Next() {
		var item domain.HistoryItem
		var createdAt float64
		var status string
		var matches, errorMessage sql.NullString
		if err := rows.Scan(&item.ID, &item.SessionID, &createdAt, &status,
			&item.Transcript, &item.FinalText, &matches, &errorMessage); err != nil {
			return nil, fmt.Errorf("scan history item: %w", err)
		}
		item.CreatedAt = timeFromUnix(createdAt)
		item.Status = domain.HistoryStatus(status)
		if matches.Valid && matches.String != "" {
			if err := json.Unmarshal([]byte(matches.String), &item.Matches); err != nil {
				return nil, fmt.Errorf("decode matches: %w", err)
			}
		}
		if errorMessage.Valid {
			item.ErrorMessage = errorMessage.String
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func unixFloat(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableText(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
