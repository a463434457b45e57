// Package audit records the authorizer's access decisions and admin
// actions in SQLite and lists them back for secbotctl.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Page size bounds for List queries.
const (
	defaultLimit = 50
	maxLimit     = 500
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Decision is one evaluated permission: who asked, for what, and the outcome.
type Decision struct {
	ID         string    `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	SourceID   string    `json:"source_id"`
	TargetID   string    `json:"target_id"`
	Identity   string    `json:"identity,omitempty"`
	Perm       string    `json:"perm"`
	Granted    bool      `json:"granted"`
	Reason     string    `json:"reason,omitempty"`
	Level      string    `json:"level,omitempty"`
}

// Action is a command handled by the authorizer itself, such as /reload.
type Action struct {
	ID         string         `json:"id"`
	OccurredAt time.Time      `json:"occurred_at"`
	SourceID   string         `json:"source_id"`
	Action     string         `json:"action"`
	Outcome    string         `json:"outcome"`
	Details    map[string]any `json:"details,omitempty"`
}

// Filter controls which decisions List returns.
type Filter struct {
	Identity string    // optional: one badge
	Granted  *bool     // optional: only grants or only denials
	Since    time.Time // optional: lower bound on OccurredAt
	Limit    int       // default 50, max 500
	Offset   int
}

// ListResult is one page of decisions, most recent first.
type ListResult struct {
	Decisions []Decision `json:"decisions"`
	Total     int        `json:"total"`
	Limit     int        `json:"limit"`
	Offset    int        `json:"offset"`
}

// Repository stores and queries the audit trail.
type Repository interface {
	RecordDecision(ctx context.Context, d *Decision) error
	RecordAction(ctx context.Context, a *Action) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository is the Repository backed by the audit database.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an already-migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RecordDecision inserts a decision. ID and OccurredAt are generated if empty.
func (r *SQLiteRepository) RecordDecision(ctx context.Context, d *Decision) error {
	if d.ID == "" {
		d.ID = "acc-" + uuid.NewString()[:8]
	}
	if d.OccurredAt.IsZero() {
		d.OccurredAt = time.Now().UTC()
	}

	granted := 0
	if d.Granted {
		granted = 1
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO access_log (id, occurred_at, source_id, target_id, identity, perm, granted, reason, level)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.OccurredAt.UTC().Format(timeLayout),
		d.SourceID, d.TargetID, d.Identity, d.Perm, granted, d.Reason, d.Level,
	)
	if err != nil {
		return fmt.Errorf("inserting access decision: %w", err)
	}
	return nil
}

// RecordAction inserts an admin action. ID and OccurredAt are generated if empty.
func (r *SQLiteRepository) RecordAction(ctx context.Context, a *Action) error {
	if a.ID == "" {
		a.ID = "adm-" + uuid.NewString()[:8]
	}
	if a.OccurredAt.IsZero() {
		a.OccurredAt = time.Now().UTC()
	}

	var detailsJSON *string
	if a.Details != nil {
		b, err := json.Marshal(a.Details)
		if err != nil {
			return fmt.Errorf("marshalling action details: %w", err)
		}
		s := string(b)
		detailsJSON = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO admin_actions (id, occurred_at, source_id, action, outcome, details)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.OccurredAt.UTC().Format(timeLayout),
		a.SourceID, a.Action, a.Outcome, detailsJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting admin action: %w", err)
	}
	return nil
}

// List returns decisions matching the filter, ordered by most recent first.
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

	if filter.Identity != "" {
		conditions = append(conditions, "identity = ?")
		args = append(args, filter.Identity)
	}
	if filter.Granted != nil {
		conditions = append(conditions, "granted = ?")
		if *filter.Granted {
			args = append(args, 1)
		} else {
			args = append(args, 0)
		}
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "occurred_at >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM access_log %s", where) //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting access decisions: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions
		`SELECT id, occurred_at, source_id, target_id, identity, perm, granted, reason, level
		 FROM access_log %s ORDER BY occurred_at DESC, id LIMIT ? OFFSET ?`,
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying access decisions: %w", err)
	}
	defer rows.Close()

	decisions := []Decision{}
	for rows.Next() {
		var d Decision
		var occurredAt string
		var granted int

		if err := rows.Scan(&d.ID, &occurredAt, &d.SourceID, &d.TargetID,
			&d.Identity, &d.Perm, &granted, &d.Reason, &d.Level); err != nil {
			return nil, fmt.Errorf("scanning access decision: %w", err)
		}

		t, err := time.Parse(timeLayout, occurredAt)
		if err != nil {
			return nil, fmt.Errorf("parsing decision timestamp %q: %w", occurredAt, err)
		}
		d.OccurredAt = t
		d.Granted = granted != 0

		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating access decisions: %w", err)
	}

	return &ListResult{
		Decisions: decisions,
		Total:     total,
		Limit:     filter.Limit,
		Offset:    filter.Offset,
	}, nil
}
