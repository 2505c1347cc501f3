package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"callcenter/pkg/utils"
)

// NOTE: This repository assumes the calls table from internal/migrations, including
// UNIQUE (provider_call_id) and the status CHECK constraint.

const callColumns = `
id, rep_id, lead_id, session_id, direction, to_number, status, provider_call_id,
started_at, connected_at, ended_at, duration_seconds, detection_result, amd_overridden,
disposition, preview_opened_during_call, cta_clicked_during_call, created_at, updated_at
`

type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (Call, error) {
	var (
		c           Call
		sessionID   sql.NullString
		providerID  sql.NullString
		connectedAt sql.NullTime
		endedAt     sql.NullTime
		duration    sql.NullInt64
		detection   sql.NullString
		disposition sql.NullString
		direction   string
		status      string
	)
	if err := row.Scan(
		&c.ID,
		&c.RepID,
		&c.LeadID,
		&sessionID,
		&direction,
		&c.ToNumber,
		&status,
		&providerID,
		&c.StartedAt,
		&connectedAt,
		&endedAt,
		&duration,
		&detection,
		&c.AMDOverridden,
		&disposition,
		&c.PreviewOpenedDuringCall,
		&c.CTAClickedDuringCall,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	c.Direction = Direction(direction)
	c.Status = Status(status)
	if sessionID.Valid {
		c.SessionID = &sessionID.String
	}
	if providerID.Valid {
		c.ProviderCallID = &providerID.String
	}
	if connectedAt.Valid {
		c.ConnectedAt = &connectedAt.Time
	}
	if endedAt.Valid {
		c.EndedAt = &endedAt.Time
	}
	if duration.Valid {
		d := int(duration.Int64)
		c.DurationSeconds = &d
	}
	if detection.Valid {
		c.DetectionResult = &detection.String
	}
	if disposition.Valid {
		d := Disposition(disposition.String)
		c.Disposition = &d
	}
	return c, nil
}

func (s *PostgresStore) Create(ctx context.Context, c Call) error {
	const q = `
INSERT INTO calls (
  id, rep_id, lead_id, session_id, direction, to_number, status, provider_call_id,
  started_at, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
`
	_, err := s.db.ExecContext(ctx, q,
		c.ID,
		c.RepID,
		c.LeadID,
		c.SessionID,
		string(c.Direction),
		c.ToNumber,
		string(c.Status),
		c.ProviderCallID,
		c.StartedAt,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if utils.IsUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE id = $1`
	return scanCall(s.db.QueryRowContext(ctx, q, id))
}

func (s *PostgresStore) GetByProviderCallID(ctx context.Context, providerCallID string) (Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE provider_call_id = $1`
	return scanCall(s.db.QueryRowContext(ctx, q, providerCallID))
}

// Advance is a single guarded UPDATE. Duration is computed in SQL so the value matches the
// timestamps the same statement writes.
func (s *PostgresStore) Advance(ctx context.Context, t Transition) (Call, bool, error) {
	sources := SourcesFor(t.To)
	if len(sources) == 0 {
		c, err := s.Get(ctx, t.CallID)
		return c, false, err
	}
	guard := make([]string, 0, len(sources))
	for _, st := range sources {
		guard = append(guard, string(st))
	}
	q := `
UPDATE calls SET
  status = $2,
  connected_at = CASE WHEN $2 = 'CONNECTED' AND connected_at IS NULL THEN $3 ELSE connected_at END,
  ended_at = CASE WHEN $4 AND ended_at IS NULL THEN $3 ELSE ended_at END,
  duration_seconds = CASE
    WHEN $4 AND ended_at IS NULL THEN COALESCE($5::int,
      GREATEST(0, FLOOR(EXTRACT(EPOCH FROM ($3::timestamptz - COALESCE(connected_at, started_at))))::int))
    ELSE duration_seconds END,
  provider_call_id = CASE
    WHEN provider_call_id IS NULL AND $6 <> ''
      AND NOT EXISTS (SELECT 1 FROM calls o WHERE o.provider_call_id = $6 AND o.id <> $1)
    THEN $6 ELSE provider_call_id END,
  updated_at = $7
WHERE id = $1
  AND status = ANY($8)
  AND (NOT $9 OR connected_at IS NULL)
RETURNING ` + callColumns

	var providerDuration any
	if t.ProviderDuration != nil && *t.ProviderDuration >= 0 {
		providerDuration = *t.ProviderDuration
	}
	closeRow := t.Close && t.To.Terminal()
	c, err := scanCall(s.db.QueryRowContext(ctx, q,
		t.CallID,
		string(t.To),
		t.At,
		closeRow,
		providerDuration,
		t.ProviderCallID,
		s.now().UTC(),
		guard,
		t.RequireUnconnected,
	))
	if errors.Is(err, ErrNotFound) {
		// Either the call does not exist or the guard rejected the update.
		cur, gerr := s.Get(ctx, t.CallID)
		return cur, false, gerr
	}
	if utils.IsUniqueViolation(err) && t.ProviderCallID != "" {
		// Another call claimed the CallSid between the NOT EXISTS check and the write.
		// The transition still applies; the provider ID is left as it was.
		t.ProviderCallID = ""
		return s.Advance(ctx, t)
	}
	if err != nil {
		return Call{}, false, err
	}
	return c, true, nil
}

func (s *PostgresStore) Close(ctx context.Context, id string, at time.Time, providerDuration *int) (Call, bool, error) {
	q := `
UPDATE calls SET
  ended_at = $2,
  duration_seconds = COALESCE($3::int,
    GREATEST(0, FLOOR(EXTRACT(EPOCH FROM ($2::timestamptz - COALESCE(connected_at, started_at))))::int)),
  updated_at = $4
WHERE id = $1
  AND status IN ('COMPLETED','BUSY','NO_ANSWER','FAILED','VOICEMAIL')
  AND ended_at IS NULL
RETURNING ` + callColumns
	var d any
	if providerDuration != nil && *providerDuration >= 0 {
		d = *providerDuration
	}
	c, err := scanCall(s.db.QueryRowContext(ctx, q, id, at, d, s.now().UTC()))
	if errors.Is(err, ErrNotFound) {
		cur, gerr := s.Get(ctx, id)
		return cur, false, gerr
	}
	if err != nil {
		return Call{}, false, err
	}
	return c, true, nil
}

func (s *PostgresStore) RecordDetection(ctx context.Context, id, result string, overridden bool) (Call, error) {
	q := `
UPDATE calls SET
  detection_result = $2,
  amd_overridden = amd_overridden OR $3,
  updated_at = $4
WHERE id = $1
RETURNING ` + callColumns
	return scanCall(s.db.QueryRowContext(ctx, q, id, result, overridden, s.now().UTC()))
}

func (s *PostgresStore) SetDisposition(ctx context.Context, id string, expected *Disposition, next Disposition) (Call, bool, error) {
	return s.SetDispositionTx(ctx, s.db, id, expected, next)
}

// SetDispositionTx is SetDisposition against q, which may be an open transaction. The row
// stays locked until that transaction ends.
func (s *PostgresStore) SetDispositionTx(ctx context.Context, q utils.DBTX, id string, expected *Disposition, next Disposition) (Call, bool, error) {
	var exp any
	if expected != nil {
		exp = string(*expected)
	}
	stmt := `
UPDATE calls SET
  disposition = $2,
  updated_at = $4
WHERE id = $1
  AND disposition IS NOT DISTINCT FROM $3::text
RETURNING ` + callColumns
	c, err := scanCall(q.QueryRowContext(ctx, stmt, id, string(next), exp, s.now().UTC()))
	if errors.Is(err, ErrNotFound) {
		cur, gerr := scanCall(q.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls WHERE id = $1`, id))
		return cur, false, gerr
	}
	if err != nil {
		return Call{}, false, err
	}
	return c, true, nil
}

func (s *PostgresStore) SetEngagement(ctx context.Context, id string, kind EngagementKind) (Call, bool, error) {
	var column string
	switch kind {
	case EngagementPreviewOpened:
		column = "preview_opened_during_call"
	case EngagementCTAClicked:
		column = "cta_clicked_during_call"
	default:
		return Call{}, false, ErrInvalidArgument
	}
	q := `
UPDATE calls SET
  ` + column + ` = TRUE,
  updated_at = $2
WHERE id = $1
  AND status = 'CONNECTED'
  AND NOT ` + column + `
RETURNING ` + callColumns
	c, err := scanCall(s.db.QueryRowContext(ctx, q, id, s.now().UTC()))
	if errors.Is(err, ErrNotFound) {
		cur, gerr := s.Get(ctx, id)
		return cur, false, gerr
	}
	if err != nil {
		return Call{}, false, err
	}
	return c, true, nil
}

func (s *PostgresStore) LatestForRep(ctx context.Context, repID string) (Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE rep_id = $1 ORDER BY started_at DESC LIMIT 1`
	return scanCall(s.db.QueryRowContext(ctx, q, repID))
}

func (s *PostgresStore) ListForRep(ctx context.Context, repID string, from, to time.Time) ([]Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE rep_id = $1 AND started_at >= $2 AND started_at < $3 ORDER BY started_at`
	rows, err := s.db.QueryContext(ctx, q, repID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Call, 0)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountDispositioned(ctx context.Context, sessionID string) (int, error) {
	const q = `SELECT COUNT(*) FROM calls WHERE session_id = $1 AND disposition IS NOT NULL`
	var n int
	if err := s.db.QueryRowContext(ctx, q, sessionID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
