package tuning

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kinds of tuning change.
const (
	KindGains       = "gains"
	KindConstraints = "constraints"
)

// Sources of tuning change.
const (
	SourceMQTT = "mqtt"
	SourceAPI  = "api"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Change is one accepted tuning change.
type Change struct {
	ID        string          `json:"id"`
	Subsystem string          `json:"subsystem"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Source    string          `json:"source"`
	CreatedAt time.Time       `json:"created_at"`
}

// History stores accepted tuning changes.
type History interface {
	Create(ctx context.Context, c *Change) error
	List(ctx context.Context, subsystem string, limit int) ([]Change, error)
}

// SQLiteHistory stores changes in the tuning_history table.
type SQLiteHistory struct {
	db *sql.DB
}

// NewSQLiteHistory creates a history backed by db.
func NewSQLiteHistory(db *sql.DB) *SQLiteHistory {
	return &SQLiteHistory{db: db}
}

// Create inserts a change. ID and CreatedAt are generated if empty.
func (h *SQLiteHistory) Create(ctx context.Context, c *Change) error {
	if c.Subsystem == "" || c.Kind == "" {
		return ErrInvalidChange
	}
	if c.ID == "" {
		c.ID = "tun-" + uuid.NewString()[:8]
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err := h.db.ExecContext(ctx,
		`INSERT INTO tuning_history (id, subsystem, kind, payload, source, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Subsystem, c.Kind, string(c.Payload), c.Source, c.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting tuning change: %w", err)
	}
	return nil
}

// List returns the most recent changes for subsystem, newest first. An
// empty subsystem lists every subsystem.
func (h *SQLiteHistory) List(ctx context.Context, subsystem string, limit int) ([]Change, error) {
	if limit <= 0 || limit > 500 { //nolint:mnd // max page size
		limit = 50
	}

	query := `SELECT id, subsystem, kind, payload, source, created_at FROM tuning_history`
	var args []any
	if subsystem != "" {
		query += ` WHERE subsystem = ?`
		args = append(args, subsystem)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tuning history: %w", err)
	}
	defer rows.Close()

	changes := []Change{}
	for rows.Next() {
		var c Change
		var payload, createdAt string
		if err := rows.Scan(&c.ID, &c.Subsystem, &c.Kind, &payload, &c.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning tuning change: %w", err)
		}
		c.Payload = json.RawMessage(payload)
		if c.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parsing tuning timestamp %q: %w", createdAt, err)
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tuning history: %w", err)
	}
	return changes, nil
}
