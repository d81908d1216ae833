package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

func (s *Store) UpsertSetting(ctx context.Context, section, valueJSON string) error {
	if strings.TrimSpace(valueJSON) == "" || !json.Valid([]byte(valueJSON)) {
		return fmt.Errorf("settings value for %q is not valid json", section)
	}
	q := s.sql.Insert("settings").
		Columns("section", "value_json", "updated_at").
		Values(section, valueJSON, nowExpr(s.driver)).
		Suffix("ON CONFLICT(section) DO UPDATE SET value_json=excluded.value_json, updated_at=excluded.updated_at")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build settings upsert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("upsert setting: %w", err)
	}
	return nil
}

func (s *Store) GetSetting(ctx context.Context, section string) (Setting, error) {
	q := s.sql.Select("section", "value_json", "updated_at").From("settings").Where(sq.Eq{"section": section})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Setting{}, fmt.Errorf("build settings query: %w", err)
	}

	var out Setting
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&out.Section, &out.ValueJSON, &out.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Setting{}, ErrNotFound
		}
		return Setting{}, fmt.Errorf("get setting: %w", err)
	}
	return out, nil
}

func (s *Store) AddAPIKey(ctx context.Context, k APIKey) (int64, error) {
	q := s.sql.Insert("api_keys").
		Columns("name", "service", "enc_key", "is_active").
		Values(k.Name, k.Service, k.EncKey, k.IsActive).
		Suffix("ON CONFLICT(name) DO UPDATE SET service=excluded.service, enc_key=excluded.enc_key, is_active=excluded.is_active")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build api key insert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return 0, fmt.Errorf("insert api key: %w", err)
	}

	idQuery := s.sql.Select("id").From("api_keys").Where(sq.Eq{"name": k.Name})
	sqlStr, args, err = idQuery.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build api key id query: %w", err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("get api key id: %w", err)
	}
	return id, nil
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	q := s.sql.Select("id", "name", "service", "enc_key", "is_active", "created_at").
		From("api_keys").
		OrderBy("created_at ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list api keys query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	out := make([]APIKey, 0)
	for rows.Next() {
		var k APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.Service, &k.EncKey, &k.IsActive, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan api key row: %w", err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api key rows: %w", err)
	}
	return out, nil
}

// ActiveAPIKeyForService returns the newest active key for a provider service.
func (s *Store) ActiveAPIKeyForService(ctx context.Context, service string) (APIKey, error) {
	q := s.sql.Select("id", "name", "service", "enc_key", "is_active", "created_at").
		From("api_keys").
		Where(sq.Eq{"service": service, "is_active": true}).
		OrderBy("created_at DESC").
		Limit(1)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return APIKey{}, fmt.Errorf("build active api key query: %w", err)
	}

	var k APIKey
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&k.ID, &k.Name, &k.Service, &k.EncKey, &k.IsActive, &k.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return APIKey{}, ErrNotFound
		}
		return APIKey{}, fmt.Errorf("get active api key: %w", err)
	}
	return k, nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id int64) error {
	q := s.sql.Delete("api_keys").Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete api key query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
