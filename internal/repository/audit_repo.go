package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"specac_control/internal/models"
)

type AuditSQLite struct {
	db *sql.DB
}

func NewAuditSQLite(db *sql.DB) *AuditSQLite { return &AuditSQLite{db: db} }

var _ AuditRepo = (*AuditSQLite)(nil)

const defaultAuditLimit = 200

// Append inserts one audit row. If ID or OccurredAt are empty, they're set.
func (r *AuditSQLite) Append(ctx context.Context, e models.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	} else {
		e.OccurredAt = e.OccurredAt.UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO command_audit (id, occurred_at, chamber, command, success, message)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		e.OccurredAt.Format("2006-01-02 15:04:05"),
		e.Chamber,
		strings.ToUpper(strings.TrimSpace(e.Command)),
		e.Success,
		e.Message,
	)
	return err
}

// List returns audit rows filtered by [from, to] and/or chamber, newest
// first. chamber < 0 means all chambers; limit <= 0 uses the default cap.
func (r *AuditSQLite) List(ctx context.Context, from, to time.Time, chamber int, limit int) ([]models.AuditEntry, error) {
	var (
		conds []string
		args  []any
	)

	if !from.IsZero() {
		conds = append(conds, "occurred_at >= ?")
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		conds = append(conds, "occurred_at <= ?")
		args = append(args, to.UTC())
	}
	if chamber >= 0 {
		conds = append(conds, "chamber = ?")
		args = append(args, chamber)
	}
	if limit <= 0 {
		limit = defaultAuditLimit
	}

	q := `SELECT id, occurred_at, chamber, command, success, message FROM command_audit`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY occurred_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.AuditEntry, 0, 64)
	for rows.Next() {
		var e models.AuditEntry
		var msg sql.NullString
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.Chamber, &e.Command, &e.Success, &msg); err != nil {
			return nil, err
		}
		e.OccurredAt = e.OccurredAt.UTC()
		if msg.Valid {
			e.Message = msg.String
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
