package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

const (
	OperationPending = "pending"
	OperationRunning = "running"
	OperationSuccess = "success"
	OperationFailed  = "failed"
)

func (s *Store) CreateOperation(ctx context.Context, op Operation) (Operation, error) {
	if strings.TrimSpace(op.ID) == "" {
		op.ID = uuid.NewString()
	}
	if op.Status == "" {
		op.Status = OperationPending
	}

	q := s.sql.Insert("operations").
		Columns("id", "device_id", "kind", "status", "command", "result", "error_message", "duration_ms").
		Values(op.ID, op.DeviceID, op.Kind, op.Status, op.Command, op.Result, op.ErrorMessage, op.DurationMS)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Operation{}, fmt.Errorf("build operation insert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return Operation{}, fmt.Errorf("insert operation: %w", err)
	}
	return s.GetOperation(ctx, op.ID)
}

func (s *Store) GetOperation(ctx context.Context, id string) (Operation, error) {
	q := s.sql.Select("id", "device_id", "kind", "status", "command", "result", "error_message", "duration_ms", "created_at").
		From("operations").
		Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Operation{}, fmt.Errorf("build operation query: %w", err)
	}

	var op Operation
	var deviceID sql.NullString
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(
		&op.ID, &deviceID, &op.Kind, &op.Status, &op.Command, &op.Result, &op.ErrorMessage, &op.DurationMS, &op.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Operation{}, ErrNotFound
		}
		return Operation{}, fmt.Errorf("get operation: %w", err)
	}
	if deviceID.Valid {
		op.DeviceID = &deviceID.String
	}
	return op, nil
}

func (s *Store) FinishOperation(ctx context.Context, id, status, result, errorMessage string, durationMS int64) error {
	q := s.sql.Update("operations").
		Set("status", status).
		Set("result", result).
		Set("error_message", errorMessage).
		Set("duration_ms", durationMS).
		Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build finish operation query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("finish operation: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListOperations(ctx context.Context, limit uint64) ([]Operation, error) {
	if limit == 0 {
		limit = 50
	}
	q := s.sql.Select("id", "device_id", "kind", "status", "command", "result", "error_message", "duration_ms", "created_at").
		From("operations").
		OrderBy("created_at DESC").
		Limit(limit)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list operations query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	out := make([]Operation, 0)
	for rows.Next() {
		var op Operation
		var deviceID sql.NullString
		if err := rows.Scan(&op.ID, &deviceID, &op.Kind, &op.Status, &op.Command, &op.Result, &op.ErrorMessage, &op.DurationMS, &op.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan operation row: %w", err)
		}
		if deviceID.Valid {
			op.DeviceID = &deviceID.String
		}
		out = append(out, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operation rows: %w", err)
	}
	return out, nil
}

func (s *Store) OperationCountsByStatus(ctx context.Context) (map[string]int64, error) {
	q := s.sql.Select("status", "COUNT(*)").From("operations").GroupBy("status")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build operation counts query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("operation counts: %w", err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan operation counts row: %w", err)
		}
		out[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operation counts rows: %w", err)
	}
	return out, nil
}
