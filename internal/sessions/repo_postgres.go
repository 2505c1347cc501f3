package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"callcenter/pkg/utils"
)

// NOTE: This repository assumes the sessions table from internal/migrations:
// one BIGINT column per Counter with CHECK (col >= 0), and
// a partial unique index on (rep_id) WHERE active.

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var sessionColumns = func() string {
	cols := []string{"id", "rep_id", "active", "auto_dial", "started_at", "ended_at", "created_at", "updated_at"}
	for _, c := range AllCounters {
		cols = append(cols, string(c))
	}
	return strings.Join(cols, ", ")
}()

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		s       Session
		endedAt sql.NullTime
	)
	values := make([]int64, len(AllCounters))
	dest := []any{&s.ID, &s.RepID, &s.Active, &s.AutoDial, &s.StartedAt, &endedAt, &s.CreatedAt, &s.UpdatedAt}
	for i := range values {
		dest = append(dest, &values[i])
	}
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	if endedAt.Valid {
		s.EndedAt = &endedAt.Time
	}
	s.Counters = make(Counters, len(AllCounters))
	for i, c := range AllCounters {
		s.Counters[c] = values[i]
	}
	return s, nil
}

func (p *PostgresStore) Create(ctx context.Context, s Session) (Session, error) {
	if s.ID == "" || s.RepID == "" {
		return Session{}, ErrInvalidArgument
	}
	var out Session
	err := utils.WithTx(ctx, p.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const closePrior = `
UPDATE sessions SET active = FALSE, ended_at = $2, updated_at = $2
WHERE rep_id = $1 AND active
`
		if _, err := tx.ExecContext(ctx, closePrior, s.RepID, s.StartedAt); err != nil {
			return err
		}
		q := `
INSERT INTO sessions (id, rep_id, active, auto_dial, started_at, created_at, updated_at)
VALUES ($1,$2,TRUE,$3,$4,$5,$6)
RETURNING ` + sessionColumns
		var err error
		out, err = scanSession(tx.QueryRowContext(ctx, q, s.ID, s.RepID, s.AutoDial, s.StartedAt, s.CreatedAt, s.UpdatedAt))
		return err
	})
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSession(p.db.QueryRowContext(ctx, q, id))
}

func (p *PostgresStore) ActiveForRep(ctx context.Context, repID string) (Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE rep_id = $1 AND active`
	return scanSession(p.db.QueryRowContext(ctx, q, repID))
}

func (p *PostgresStore) ListActive(ctx context.Context) ([]Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE active ORDER BY rep_id`
	rows, err := p.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) End(ctx context.Context, id string, at time.Time) (Session, error) {
	q := `
UPDATE sessions SET active = FALSE, ended_at = $2, updated_at = $2
WHERE id = $1 AND active
RETURNING ` + sessionColumns
	s, err := scanSession(p.db.QueryRowContext(ctx, q, id, at))
	if errors.Is(err, ErrNotFound) {
		cur, gerr := p.Get(ctx, id)
		if gerr != nil {
			return Session{}, gerr
		}
		return cur, ErrNotActive
	}
	return s, err
}

// Apply issues a single UPDATE touching every counter in d. The CHECK constraints reject the
// whole statement if any counter would drop below zero.
func (p *PostgresStore) Apply(ctx context.Context, id string, d Delta) (Session, error) {
	return p.ApplyTx(ctx, p.db, id, d)
}

// ApplyTx is Apply against q, so a caller can commit the delta together with its own writes.
func (p *PostgresStore) ApplyTx(ctx context.Context, q utils.DBTX, id string, d Delta) (Session, error) {
	keys := make([]Counter, 0, len(d))
	for k := range d {
		if !k.Valid() {
			return Session{}, ErrInvalidArgument
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return scanSession(q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	sets := make([]string, 0, len(keys)+1)
	args := []any{id}
	for _, k := range keys {
		args = append(args, d[k])
		sets = append(sets, fmt.Sprintf("%s = %s + $%d", k, k, len(args)))
	}
	args = append(args, time.Now().UTC())
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))

	stmt := `UPDATE sessions SET ` + strings.Join(sets, ", ") + ` WHERE id = $1 RETURNING ` + sessionColumns
	s, err := scanSession(q.QueryRowContext(ctx, stmt, args...))
	if utils.IsCheckViolation(err) {
		return Session{}, ErrCounterUnderflow
	}
	return s, err
}
