// Package audit records every dispatched command in SQLite so operators can
// see who asked which display to do what, and how the controller answered.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitchin999/unifi-connect-display/internal/dispatch"
)

// timeFormat sorts lexically in chronological order.
const timeFormat = "2006-01-02T15:04:05.000000Z"

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Entry is one audited command.
type Entry struct {
	ID         string         `json:"id"`
	CommandID  string         `json:"command_id"`
	DeviceID   string         `json:"device_id"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Source     string         `json:"source"`
	UserID     string         `json:"user_id,omitempty"`
	Result     string         `json:"result"`
	ErrorCode  string         `json:"error_code,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	DeviceID string // optional
	Action   string // optional
	Result   string // optional: accepted, invalid, rejected, unreachable, failed
	Limit    int    // default 50, max 200
	Offset   int
}

// ListResult is one page of entries.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores and queries command audit entries.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// Logger defines the logging interface used by the Recorder.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// SQLiteRepository keeps audit entries in the command_audit table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new audit repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts an entry. ID and CreatedAt are generated when empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var params *string
	if len(e.Parameters) > 0 {
		b, err := json.Marshal(e.Parameters)
		if err != nil {
			return fmt.Errorf("marshalling command parameters: %w", err)
		}
		s := string(b)
		params = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_audit
		   (id, command_id, device_id, action, parameters, source, user_id, result, error_code, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CommandID, e.DeviceID, e.Action, params, e.Source,
		nullableString(e.UserID), e.Result, nullableString(e.ErrorCode), nullableString(e.Error),
		e.DurationMS, e.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching the filter, most recent first.
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
	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.Result != "" {
		conditions = append(conditions, "result = ?")
		args = append(args, filter.Result)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM command_audit " + where //nolint:gosec // WHERE built from parameterised conditions
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	query := `SELECT id, command_id, device_id, action, parameters, source, user_id, result,
	                 error_code, error, duration_ms, created_at
	          FROM command_audit ` + where + ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?` //nolint:gosec // WHERE built from parameterised conditions
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var params, userID, code, errText sql.NullString
		var createdAt string

		if err := rows.Scan(&e.ID, &e.CommandID, &e.DeviceID, &e.Action, &params, &e.Source,
			&userID, &e.Result, &code, &errText, &e.DurationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}

		e.UserID = userID.String
		e.ErrorCode = code.String
		e.Error = errText.String
		if params.Valid && params.String != "" {
			var p map[string]any
			if json.Unmarshal([]byte(params.String), &p) == nil {
				e.Parameters = p
			}
		}

		t, err := time.Parse(timeFormat, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing audit timestamp %q: %w", createdAt, err)
		}
		e.CreatedAt = t

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// Recorder writes dispatch records to a Repository. It implements
// dispatch.Recorder.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder creates a Recorder. A nil logger discards write failures.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{repo: repo, logger: logger}
}

// RecordCommand stores one dispatch record. Failures are logged; the audit
// trail never blocks or fails a command.
func (r *Recorder) RecordCommand(ctx context.Context, rec dispatch.Record) {
	e := &Entry{
		CommandID:  rec.Command.ID,
		DeviceID:   rec.Command.DeviceID,
		Action:     string(rec.Command.Action),
		Parameters: rec.Command.Parameters,
		Source:     rec.Command.Source,
		UserID:     rec.Command.UserID,
		Result:     rec.Result(),
		ErrorCode:  rec.ErrorCode(),
		DurationMS: rec.Duration.Milliseconds(),
		CreatedAt:  rec.Started.UTC(),
	}
	if rec.Err != nil {
		e.Error = rec.Err.Error()
	}

	// The command's own context may already be cancelled.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := r.repo.Create(writeCtx, e); err != nil {
		r.logger.Warn("failed to write command audit", "command_id", e.CommandID, "error", err)
	}
}
