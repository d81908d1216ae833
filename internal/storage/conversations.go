package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

func (s *Store) SaveConversation(ctx context.Context, c Conversation) (Conversation, error) {
	if strings.TrimSpace(c.ID) == "" {
		c.ID = uuid.NewString()
	}
	if strings.TrimSpace(c.MetaJSON) == "" || !json.Valid([]byte(c.MetaJSON)) {
		c.MetaJSON = "{}"
	}

	q := s.sql.Insert("conversations").
		Columns("id", "session_id", "user_id", "role", "content", "meta_json").
		Values(c.ID, c.SessionID, c.UserID, c.Role, c.Content, c.MetaJSON)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Conversation{}, fmt.Errorf("build conversation insert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	return s.GetConversation(ctx, c.ID)
}

func (s *Store) GetConversation(ctx context.Context, id string) (Conversation, error) {
	q := s.sql.Select("id", "session_id", "user_id", "role", "content", "meta_json", "created_at").
		From("conversations").
		Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Conversation{}, fmt.Errorf("build conversation query: %w", err)
	}

	var c Conversation
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(
		&c.ID, &c.SessionID, &c.UserID, &c.Role, &c.Content, &c.MetaJSON, &c.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

func (s *Store) ListSessionMessages(ctx context.Context, userID, sessionID string, limit uint64) ([]Conversation, error) {
	if limit == 0 {
		limit = 50
	}
	q := s.sql.Select("id", "session_id", "user_id", "role", "content", "meta_json", "created_at").
		From("conversations").
		Where(sq.Eq{"session_id": sessionID, "user_id": userID}).
		OrderBy("created_at ASC").
		Limit(limit)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build session messages query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list session messages: %w", err)
	}
	defer rows.Close()

	out := make([]Conversation, 0)
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.SessionID, &c.UserID, &c.Role, &c.Content, &c.MetaJSON, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	return out, nil
}

// RecentSessionMessages returns the newest messages first, capped at limit.
// Callers reverse the slice when they need chronological order.
func (s *Store) RecentSessionMessages(ctx context.Context, userID, sessionID string, limit uint64) ([]Conversation, error) {
	if limit == 0 {
		limit = 10
	}
	q := s.sql.Select("id", "session_id", "user_id", "role", "content", "meta_json", "created_at").
		From("conversations").
		Where(sq.Eq{"session_id": sessionID, "user_id": userID}).
		OrderBy("created_at DESC").
		Limit(limit)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent messages query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("recent session messages: %w", err)
	}
	defer rows.Close()

	out := make([]Conversation, 0)
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.SessionID, &c.UserID, &c.Role, &c.Content, &c.MetaJSON, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	return out, nil
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]SessionSummary, error) {
	q := s.sql.Select("session_id", "MAX(created_at) AS last_updated", "COUNT(*) AS message_count").
		From("conversations").
		Where(sq.Eq{"user_id": userID}).
		GroupBy("session_id").
		OrderBy("last_updated DESC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list sessions query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]SessionSummary, 0)
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.SessionID, &sum.LastUpdated, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}

	for i := range out {
		last, err := s.RecentSessionMessages(ctx, userID, out[i].SessionID, 1)
		if err != nil {
			return nil, err
		}
		if len(last) > 0 {
			out[i].LastMessage = truncate(last[0].Content, 100)
		}
	}
	return out, nil
}

func (s *Store) DeleteSession(ctx context.Context, userID, sessionID string) (int64, error) {
	q := s.sql.Delete("conversations").Where(sq.Eq{"session_id": sessionID, "user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete session query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete session rows affected: %w", err)
	}
	if n == 0 {
		return 0, ErrNotFound
	}
	return n, nil
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
