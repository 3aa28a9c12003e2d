// Package records persists panel results, panel configuration, and the
// conversation log read model in Postgres.
package records

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/moodlens/moodlens/internal/db"
	"github.com/moodlens/moodlens/internal/panel"
)

// ErrNotFound indicates no row exists for the session.
var ErrNotFound = errors.New("record not found")

// Querier is the minimal pgx surface the store needs. *pgxpool.Pool
// satisfies it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Result is a persisted analysis result.
type Result struct {
	SessionID string        `json:"session_id"`
	Emotion   panel.Emotion `json:"last_emotion"`
	Reason    string        `json:"last_emotion_reason"`
}

// Store reads and writes panel records.
type Store struct {
	q      Querier
	logger *slog.Logger
}

// NewStore creates a records store.
func NewStore(log *slog.Logger, q Querier) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		q:      q,
		logger: log.With(slog.String("service", "records")),
	}
}

// GetResult returns the persisted result for a session.
func (s *Store) GetResult(ctx context.Context, sessionID string) (Result, error) {
	pgID, err := db.ParseUUID(sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("invalid session id: %w", err)
	}
	var (
		emotion string
		reason  string
	)
	row := s.q.QueryRow(ctx,
		`SELECT last_emotion, last_emotion_reason FROM panel_results WHERE session_id = $1`,
		pgID,
	)
	if err := row.Scan(&emotion, &reason); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Result{}, ErrNotFound
		}
		return Result{}, err
	}
	return Result{
		SessionID: sessionID,
		Emotion:   panel.NormalizeEmotion(emotion),
		Reason:    reason,
	}, nil
}

// SaveResult upserts the latest analysis result for a session.
func (s *Store) SaveResult(ctx context.Context, sessionID string, emotion panel.Emotion, reason string) error {
	pgID, err := db.ParseUUID(sessionID)
	if err != nil {
		return fmt.Errorf("invalid session id: %w", err)
	}
	_, err = s.q.Exec(ctx,
		`INSERT INTO panel_results (session_id, last_emotion, last_emotion_reason, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (session_id) DO UPDATE
		 SET last_emotion = EXCLUDED.last_emotion,
		     last_emotion_reason = EXCLUDED.last_emotion_reason,
		     updated_at = now()`,
		pgID, string(emotion), reason,
	)
	return err
}

// GetPanelConfig returns the stored trigger configuration for a session.
func (s *Store) GetPanelConfig(ctx context.Context, sessionID string) (panel.Config, error) {
	pgID, err := db.ParseUUID(sessionID)
	if err != nil {
		return panel.Config{}, fmt.Errorf("invalid session id: %w", err)
	}
	var cfg panel.Config
	row := s.q.QueryRow(ctx,
		`SELECT calculate_every_message, calculate_on_session_end, show_calculate_button
		 FROM panel_settings WHERE session_id = $1`,
		pgID,
	)
	if err := row.Scan(&cfg.CalculateEveryMessage, &cfg.CalculateOnSessionEnd, &cfg.ShowCalculateButton); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return panel.Config{}, ErrNotFound
		}
		return panel.Config{}, err
	}
	return cfg, nil
}

// UpsertPanelConfig replaces the stored trigger configuration wholesale.
func (s *Store) UpsertPanelConfig(ctx context.Context, sessionID string, cfg panel.Config) error {
	pgID, err := db.ParseUUID(sessionID)
	if err != nil {
		return fmt.Errorf("invalid session id: %w", err)
	}
	_, err = s.q.Exec(ctx,
		`INSERT INTO panel_settings (session_id, calculate_every_message, calculate_on_session_end, show_calculate_button, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (session_id) DO UPDATE
		 SET calculate_every_message = EXCLUDED.calculate_every_message,
		     calculate_on_session_end = EXCLUDED.calculate_on_session_end,
		     show_calculate_button = EXCLUDED.show_calculate_button,
		     updated_at = now()`,
		pgID, cfg.CalculateEveryMessage, cfg.CalculateOnSessionEnd, cfg.ShowCalculateButton,
	)
	return err
}

// ConversationLog returns the ordered message log for a session.
func (s *Store) ConversationLog(ctx context.Context, sessionID string) ([]panel.HistoryEntry, error) {
	pgID, err := db.ParseUUID(sessionID)
	if err != nil {
		return nil, fmt.Errorf("invalid session id: %w", err)
	}
	rows, err := s.q.Query(ctx,
		`SELECT author, content FROM conversation_messages
		 WHERE session_id = $1 ORDER BY created_at`,
		pgID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]panel.HistoryEntry, 0)
	for rows.Next() {
		var entry panel.HistoryEntry
		if err := rows.Scan(&entry.Author, &entry.Content); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// AppendMessage records one inbound conversation message.
func (s *Store) AppendMessage(ctx context.Context, sessionID, author, content string) error {
	pgID, err := db.ParseUUID(sessionID)
	if err != nil {
		return fmt.Errorf("invalid session id: %w", err)
	}
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("content is required")
	}
	_, err = s.q.Exec(ctx,
		`INSERT INTO conversation_messages (session_id, author, content) VALUES ($1, $2, $3)`,
		pgID, strings.TrimSpace(author), content,
	)
	return err
}
