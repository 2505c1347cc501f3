package leads

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// PostgresOutbox appends updates to lead_updates. The lead system's reader applies pending rows
// in seq order and marks them delivered, so a later update for the same lead wins.
type PostgresOutbox struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresOutbox(db *sql.DB) *PostgresOutbox {
	return &PostgresOutbox{db: db, now: time.Now}
}

func (o *PostgresOutbox) Apply(ctx context.Context, u Update) error {
	if u.LeadID == "" {
		return ErrInvalidArgument
	}
	if u.Empty() {
		return nil
	}
	var (
		status sql.NullString
		dnc    sql.NullBool
	)
	if u.Status != nil {
		status = sql.NullString{String: string(*u.Status), Valid: true}
	}
	if u.DoNotCall != nil {
		dnc = sql.NullBool{Bool: *u.DoNotCall, Valid: true}
	}
	const q = `
INSERT INTO lead_updates (id, lead_id, status, do_not_call, created_at)
VALUES ($1,$2,$3,$4,$5)
`
	_, err := o.db.ExecContext(ctx, q, uuid.NewString(), u.LeadID, status, dnc, o.now().UTC())
	return err
}

// Pending is one undelivered row, oldest first.
type Pending struct {
	Seq       int64     `json:"seq"`
	Update    Update    `json:"update"`
	CreatedAt time.Time `json:"created_at"`
}

// Pending lists up to limit undelivered updates in the order they were written.
func (o *PostgresOutbox) Pending(ctx context.Context, limit int) ([]Pending, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT seq, lead_id, status, do_not_call, created_at
FROM lead_updates
WHERE delivered_at IS NULL
ORDER BY seq
LIMIT $1
`
	rows, err := o.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Pending
	for rows.Next() {
		var (
			p      Pending
			status sql.NullString
			dnc    sql.NullBool
		)
		if err := rows.Scan(&p.Seq, &p.Update.LeadID, &status, &dnc, &p.CreatedAt); err != nil {
			return nil, err
		}
		if status.Valid {
			st := Status(status.String)
			p.Update.Status = &st
		}
		if dnc.Valid {
			v := dnc.Bool
			p.Update.DoNotCall = &v
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkDelivered stamps every row up to and including seq.
func (o *PostgresOutbox) MarkDelivered(ctx context.Context, seq int64) (int64, error) {
	res, err := o.db.ExecContext(ctx,
		`UPDATE lead_updates SET delivered_at = $2 WHERE seq <= $1 AND delivered_at IS NULL`,
		seq, o.now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
