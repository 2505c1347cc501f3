package voicemail

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"
)

// RepSettings are the per-rep voicemail drop preferences.
type RepSettings struct {
	RepID      string    `json:"rep_id"`
	MessageURL string    `json:"message_url"`
	UpdatedAt  time.Time `json:"updated_at"`
}

var (
	ErrNotFound        = errors.New("voicemail: settings not found")
	ErrInvalidArgument = errors.New("voicemail: invalid argument")
	ErrInvalidURL      = errors.New("voicemail: message url must be an absolute http(s) url")
)

type SettingsStore interface {
	Get(ctx context.Context, repID string) (RepSettings, error)
	Put(ctx context.Context, s RepSettings) (RepSettings, error)
}

func validate(s RepSettings) error {
	if strings.TrimSpace(s.RepID) == "" {
		return ErrInvalidArgument
	}
	if s.MessageURL == "" {
		// Clearing the message disables auto-drop.
		return nil
	}
	u, err := url.Parse(s.MessageURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return ErrInvalidURL
	}
	return nil
}

type MemorySettings struct {
	mu   sync.RWMutex
	byID map[string]RepSettings
}

func NewMemorySettings() *MemorySettings {
	return &MemorySettings{byID: map[string]RepSettings{}}
}

func (m *MemorySettings) Get(ctx context.Context, repID string) (RepSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[repID]
	if !ok {
		return RepSettings{}, ErrNotFound
	}
	return s, nil
}

func (m *MemorySettings) Put(ctx context.Context, s RepSettings) (RepSettings, error) {
	if err := validate(s); err != nil {
		return RepSettings{}, err
	}
	s.UpdatedAt = time.Now().UTC()
	m.mu.Lock()
	m.byID[s.RepID] = s
	m.mu.Unlock()
	return s, nil
}

// PostgresSettings reads rep_settings (see internal/migrations).
type PostgresSettings struct {
	db *sql.DB
}

func NewPostgresSettings(db *sql.DB) *PostgresSettings { return &PostgresSettings{db: db} }

func (p *PostgresSettings) Get(ctx context.Context, repID string) (RepSettings, error) {
	var (
		s   RepSettings
		msg sql.NullString
	)
	err := p.db.QueryRowContext(ctx, `
SELECT rep_id, voicemail_message_url, updated_at
FROM rep_settings
WHERE rep_id = $1
`, repID).Scan(&s.RepID, &msg, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return RepSettings{}, ErrNotFound
	}
	if err != nil {
		return RepSettings{}, err
	}
	s.MessageURL = msg.String
	return s, nil
}

func (p *PostgresSettings) Put(ctx context.Context, s RepSettings) (RepSettings, error) {
	if err := validate(s); err != nil {
		return RepSettings{}, err
	}
	var msg sql.NullString
	if s.MessageURL != "" {
		msg = sql.NullString{String: s.MessageURL, Valid: true}
	}
	err := p.db.QueryRowContext(ctx, `
INSERT INTO rep_settings (rep_id, voicemail_message_url, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (rep_id) DO UPDATE
SET voicemail_message_url = EXCLUDED.voicemail_message_url,
    updated_at = now()
RETURNING updated_at
`, s.RepID, msg).Scan(&s.UpdatedAt)
	if err != nil {
		return RepSettings{}, err
	}
	return s, nil
}
