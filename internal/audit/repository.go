package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Outcome is how a dispatch attempt ended.
type Outcome string

const (
	OutcomeSubmitted     Outcome = "submitted"
	OutcomeNotConnected  Outcome = "not_connected"
	OutcomePublishFailed Outcome = "publish_failed"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSubmitted, OutcomeNotConnected, OutcomePublishFailed:
		return true
	}
	return false
}

// timeLayout is RFC 3339 with fixed-width nanoseconds so stored
// timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Page size limits for List.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// ErrInvalidOutcome is returned by Create for an unknown outcome.
var ErrInvalidOutcome = errors.New("audit: invalid outcome")

// Dispatch is one row of the dispatch log.
type Dispatch struct {
	ID        string    `json:"id"`
	Command   string    `json:"command"`
	Topic     string    `json:"topic"`
	Outcome   Outcome   `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	Source    string    `json:"source"`
	DeviceID  string    `json:"device_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter controls which dispatches List returns.
type Filter struct {
	Outcome Outcome   // optional
	Since   time.Time // optional: only rows at or after Since
	Limit   int       // default 50, max 200
	Offset  int
}

// ListResult is one page of dispatches, newest first.
type ListResult struct {
	Dispatches []Dispatch `json:"dispatches"`
	Total      int        `json:"total"`
	Limit      int        `json:"limit"`
	Offset     int        `json:"offset"`
}

// Repository defines the dispatch log operations.
type Repository interface {
	Create(ctx context.Context, d *Dispatch) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores dispatches in SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a dispatch log backed by db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Create inserts d. ID, Source and CreatedAt are filled in when empty.
func (r *SQLiteRepository) Create(ctx context.Context, d *Dispatch) error {
	if !d.Outcome.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidOutcome, d.Outcome)
	}
	if d.ID == "" {
		d.ID = "dsp-" + uuid.NewString()
	}
	if d.Source == "" {
		d.Source = "api"
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = r.now()
	}
	d.CreatedAt = d.CreatedAt.UTC()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO dispatch_log (id, command, topic, outcome, detail, source, device_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Command, d.Topic, string(d.Outcome),
		nullableString(d.Detail), d.Source, d.DeviceID,
		d.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting dispatch: %w", err)
	}
	return nil
}

// nullableString returns nil for empty strings.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns dispatches matching filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any

	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, string(filter.Outcome))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM dispatch_log " + where //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting dispatches: %w", err)
	}

	query := "SELECT id, command, topic, outcome, detail, source, device_id, created_at FROM dispatch_log " + //nolint:gosec // as above
		where + " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying dispatches: %w", err)
	}
	defer rows.Close()

	dispatches := []Dispatch{}
	for rows.Next() {
		var d Dispatch
		var outcome, createdAt string
		var detail sql.NullString

		if err := rows.Scan(&d.ID, &d.Command, &d.Topic, &outcome, &detail,
			&d.Source, &d.DeviceID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning dispatch: %w", err)
		}
		d.Outcome = Outcome(outcome)
		d.Detail = detail.String

		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing dispatch timestamp %q: %w", createdAt, err)
		}
		d.CreatedAt = t

		dispatches = append(dispatches, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dispatches: %w", err)
	}

	return &ListResult{
		Dispatches: dispatches,
		Total:      total,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	}, nil
}
