package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends to audit_events. The table rejects UPDATE/DELETE via trigger.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (
  id, type, actor_user_id, actor_role, ip_address, call_id, rep_id, session_id, message, metadata, created_at
) VALUES (
  $1,$2,NULLIF($3,''),NULLIF($4,''),NULLIF($5,''),$6,NULLIF($7,''),NULLIF($8,''),$9,COALESCE(NULLIF($10,''),'{}')::jsonb,$11
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		string(e.Type),
		e.ActorUserID,
		e.ActorRole,
		e.IPAddress,
		e.CallID,
		e.RepID,
		e.SessionID,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}
