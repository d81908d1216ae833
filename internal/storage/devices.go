package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var ErrInvalidIPAddress = errors.New("invalid ip address")

const (
	DeviceStatusOnline  = "online"
	DeviceStatusOffline = "offline"
	DeviceStatusWarning = "warning"
	DeviceStatusUnknown = "unknown"
)

func ValidDeviceStatus(status string) bool {
	switch status {
	case DeviceStatusOnline, DeviceStatusOffline, DeviceStatusWarning, DeviceStatusUnknown:
		return true
	}
	return false
}

func (s *Store) CreateDevice(ctx context.Context, d Device) (Device, error) {
	if _, err := netip.ParseAddr(d.IPAddress); err != nil {
		return Device{}, fmt.Errorf("%w: %q", ErrInvalidIPAddress, d.IPAddress)
	}
	if strings.TrimSpace(d.ID) == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = DeviceStatusUnknown
	}
	if strings.TrimSpace(d.MetaJSON) == "" || !json.Valid([]byte(d.MetaJSON)) {
		d.MetaJSON = "{}"
	}

	q := s.sql.Insert("devices").
		Columns("id", "name", "ip_address", "model", "status", "uptime_seconds", "meta_json").
		Values(d.ID, d.Name, d.IPAddress, d.Model, d.Status, d.UptimeSeconds, d.MetaJSON)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Device{}, fmt.Errorf("build device insert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return Device{}, fmt.Errorf("insert device: %w", err)
	}
	return s.GetDevice(ctx, d.ID)
}

func (s *Store) GetDevice(ctx context.Context, id string) (Device, error) {
	q := s.sql.Select(deviceColumns()...).From("devices").Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Device{}, fmt.Errorf("build device query: %w", err)
	}
	return s.scanDevice(s.db.QueryRowContext(ctx, sqlStr, args...))
}

func (s *Store) ListDevices(ctx context.Context) ([]Device, error) {
	q := s.sql.Select(deviceColumns()...).From("devices").OrderBy("created_at ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list devices query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	out := make([]Device, 0)
	for rows.Next() {
		d, err := s.scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate device rows: %w", err)
	}
	return out, nil
}

// UpdateDevice applies only the provided non-nil fields.
type DeviceUpdate struct {
	Name         *string
	IPAddress    *string
	Model        *string
	ConfigBackup *string
	MetaJSON     *string
}

func (s *Store) UpdateDevice(ctx context.Context, id string, upd DeviceUpdate) (Device, error) {
	q := s.sql.Update("devices").Set("updated_at", nowExpr(s.driver)).Where(sq.Eq{"id": id})
	changed := false
	if upd.Name != nil {
		q = q.Set("name", *upd.Name)
		changed = true
	}
	if upd.IPAddress != nil {
		if _, err := netip.ParseAddr(*upd.IPAddress); err != nil {
			return Device{}, fmt.Errorf("%w: %q", ErrInvalidIPAddress, *upd.IPAddress)
		}
		q = q.Set("ip_address", *upd.IPAddress)
		changed = true
	}
	if upd.Model != nil {
		q = q.Set("model", *upd.Model)
		changed = true
	}
	if upd.ConfigBackup != nil {
		q = q.Set("config_backup", *upd.ConfigBackup)
		changed = true
	}
	if upd.MetaJSON != nil && json.Valid([]byte(*upd.MetaJSON)) {
		q = q.Set("meta_json", *upd.MetaJSON)
		changed = true
	}
	if !changed {
		return s.GetDevice(ctx, id)
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Device{}, fmt.Errorf("build device update query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return Device{}, fmt.Errorf("update device: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return Device{}, ErrNotFound
	}
	return s.GetDevice(ctx, id)
}

func (s *Store) UpdateDeviceStatus(ctx context.Context, id, status string, uptimeSeconds *int64) (Device, error) {
	if !ValidDeviceStatus(status) {
		return Device{}, fmt.Errorf("unsupported device status %q", status)
	}
	q := s.sql.Update("devices").
		Set("status", status).
		Set("last_seen", time.Now().UTC()).
		Set("updated_at", nowExpr(s.driver)).
		Where(sq.Eq{"id": id})
	if uptimeSeconds != nil {
		q = q.Set("uptime_seconds", *uptimeSeconds)
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Device{}, fmt.Errorf("build device status query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return Device{}, fmt.Errorf("update device status: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return Device{}, ErrNotFound
	}
	return s.GetDevice(ctx, id)
}

func (s *Store) DeleteDevice(ctx context.Context, id string) error {
	q := s.sql.Delete("devices").Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete device query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeviceStats(ctx context.Context) (DeviceStats, error) {
	q := s.sql.Select("status", "COUNT(*)").From("devices").GroupBy("status")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return DeviceStats{}, fmt.Errorf("build device stats query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return DeviceStats{}, fmt.Errorf("device stats: %w", err)
	}
	defer rows.Close()

	var stats DeviceStats
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return DeviceStats{}, fmt.Errorf("scan device stats row: %w", err)
		}
		stats.Total += count
		switch status {
		case DeviceStatusOnline:
			stats.Online = count
		case DeviceStatusOffline:
			stats.Offline = count
		case DeviceStatusWarning:
			stats.Warning = count
		}
	}
	if err := rows.Err(); err != nil {
		return DeviceStats{}, fmt.Errorf("iterate device stats rows: %w", err)
	}
	return stats, nil
}

func deviceColumns() []string {
	return []string{
		"id", "name", "ip_address", "model", "status", "uptime_seconds",
		"last_seen", "config_backup", "meta_json", "created_at", "updated_at",
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanDevice(row rowScanner) (Device, error) {
	var d Device
	var lastSeen sql.NullTime
	var backup sql.NullString
	if err := row.Scan(
		&d.ID, &d.Name, &d.IPAddress, &d.Model, &d.Status, &d.UptimeSeconds,
		&lastSeen, &backup, &d.MetaJSON, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Device{}, ErrNotFound
		}
		return Device{}, fmt.Errorf("scan device row: %w", err)
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		d.LastSeen = &t
	}
	if backup.Valid {
		d.ConfigBackup = &backup.String
	}
	return d, nil
}

func nowExpr(driver string) any {
	if driver == "postgres" {
		return sq.Expr("NOW()")
	}
	return sq.Expr("CURRENT_TIMESTAMP")
}
