package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/tern/v2/migrate"
	"github.com/jonboulle/clockwork"
	"github.com/mbocsi/accesswatch/proto"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const (
	// migrationLockID is the advisory lock held while migrating ("accwat").
	migrationLockID             = 0x616363776174
	migrationLockReleaseTimeout = 5 * time.Second
)

type Postgres struct {
	pool  *pgxpool.Pool
	clock clockwork.Clock
}

func NewPostgres(pool *pgxpool.Pool, clock clockwork.Clock) *Postgres {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Postgres{pool: pool, clock: clock}
}

// Connect opens a pool and verifies the database answers.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Database connected", "max_conns", poolCfg.MaxConns)
	return pool, nil
}

// Migrate applies the embedded schema under an advisory lock so concurrent
// server instances do not race.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for migration: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), migrationLockReleaseTimeout)
		defer cancel()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			slog.Error("Failed to release migration lock", "error", err)
		}
	}()

	migrationFS, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	migrator, err := migrate.NewMigrator(ctx, conn.Conn(), "public.schema_version")
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := migrator.LoadMigrations(migrationFS); err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	if version, err := migrator.GetCurrentVersion(ctx); err == nil {
		slog.Info("Current schema version", "version", version)
	}

	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func (p *Postgres) RecordAccess(ctx context.Context, e proto.AccessEvent) (proto.AccessEvent, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = p.clock.Now().UTC()
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO access_events (id, device_id, door_name, card_id, subject, granted, reason, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.DeviceID, e.DoorName, e.CardID, e.Subject, e.Granted, e.Reason, e.OccurredAt)
	if err != nil {
		return proto.AccessEvent{}, fmt.Errorf("failed to insert access event: %w", err)
	}
	return e, nil
}

func (p *Postgres) ListAccess(ctx context.Context, f AccessFilter) ([]proto.AccessEvent, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, device_id, door_name, card_id, subject, granted, reason, occurred_at
		FROM access_events
		WHERE $1 = '' OR device_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2`,
		f.DeviceID, limitOrDefault(f.Limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query access events: %w", err)
	}
	defer rows.Close()

	out := []proto.AccessEvent{}
	for rows.Next() {
		var e proto.AccessEvent
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.DoorName, &e.CardID, &e.Subject, &e.Granted, &e.Reason, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan access event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const deviceColumns = "id, name, location, kind, status, last_seen"

func scanDevice(row pgx.Row, extra ...any) (proto.Device, error) {
	var d proto.Device
	var status string
	dest := append([]any{&d.ID, &d.Name, &d.Location, &d.Kind, &status, &d.LastSeen}, extra...)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return proto.Device{}, ErrNotFound
		}
		return proto.Device{}, err
	}
	d.Status = proto.DeviceStatus(status)
	return d, nil
}

func (p *Postgres) UpsertDevice(ctx context.Context, d proto.Device) (proto.Device, error) {
	if d.LastSeen.IsZero() {
		d.LastSeen = p.clock.Now().UTC()
	}

	row := p.pool.QueryRow(ctx, `
		INSERT INTO devices (`+deviceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			location = EXCLUDED.location,
			kind = EXCLUDED.kind,
			status = EXCLUDED.status,
			last_seen = EXCLUDED.last_seen
		RETURNING `+deviceColumns,
		d.ID, d.Name, d.Location, d.Kind, string(d.Status), d.LastSeen)
	out, err := scanDevice(row)
	if err != nil {
		return proto.Device{}, fmt.Errorf("failed to upsert device: %w", err)
	}
	return out, nil
}

func (p *Postgres) GetDevice(ctx context.Context, id string) (proto.Device, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id)
	d, err := scanDevice(row)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return proto.Device{}, fmt.Errorf("failed to get device: %w", err)
	}
	return d, err
}

func (p *Postgres) ListDevices(ctx context.Context, status proto.DeviceStatus) ([]proto.Device, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+deviceColumns+` FROM devices
		WHERE $1 = '' OR status = $1
		ORDER BY id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	out := []proto.Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateDeviceStatus(ctx context.Context, id string, status proto.DeviceStatus) (proto.Device, proto.DeviceStatus, error) {
	var prev string
	row := p.pool.QueryRow(ctx, `
		UPDATE devices d SET status = $2, last_seen = $3
		FROM (SELECT id, status FROM devices WHERE id = $1 FOR UPDATE) prev
		WHERE d.id = prev.id
		RETURNING d.id, d.name, d.location, d.kind, d.status, d.last_seen, prev.status`,
		id, string(status), p.clock.Now().UTC())
	d, err := scanDevice(row, &prev)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return proto.Device{}, "", err
		}
		return proto.Device{}, "", fmt.Errorf("failed to update device status: %w", err)
	}
	return d, proto.DeviceStatus(prev), nil
}

const alertColumns = "id, device_id, severity, message, created_at, acknowledged"

func scanAlert(row pgx.Row) (proto.Alert, error) {
	var a proto.Alert
	var severity string
	if err := row.Scan(&a.ID, &a.DeviceID, &severity, &a.Message, &a.CreatedAt, &a.Acknowledged); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return proto.Alert{}, ErrNotFound
		}
		return proto.Alert{}, err
	}
	a.Severity = proto.Severity(severity)
	return a, nil
}

func (p *Postgres) CreateAlert(ctx context.Context, a proto.Alert) (proto.Alert, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = p.clock.Now().UTC()
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.DeviceID, string(a.Severity), a.Message, a.CreatedAt, a.Acknowledged)
	if err != nil {
		return proto.Alert{}, fmt.Errorf("failed to insert alert: %w", err)
	}
	return a, nil
}

func (p *Postgres) ListAlerts(ctx context.Context, all bool) ([]proto.Alert, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE $1 OR NOT acknowledged
		ORDER BY created_at DESC`, all)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	out := []proto.Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) AcknowledgeAlert(ctx context.Context, id string) (proto.Alert, error) {
	row := p.pool.QueryRow(ctx, `
		UPDATE alerts SET acknowledged = TRUE
		WHERE id = $1
		RETURNING `+alertColumns, id)
	a, err := scanAlert(row)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return proto.Alert{}, fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	return a, err
}

func (p *Postgres) Stats(ctx context.Context) (proto.DashboardStats, error) {
	s := proto.DashboardStats{GeneratedAt: p.clock.Now().UTC()}
	err := p.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM access_events),
			(SELECT count(*) FROM access_events WHERE granted),
			(SELECT count(*) FROM devices WHERE status = 'online'),
			(SELECT count(*) FROM devices WHERE status <> 'online'),
			(SELECT count(*) FROM alerts WHERE NOT acknowledged)`).
		Scan(&s.TotalEvents, &s.GrantedEvents, &s.DevicesOnline, &s.DevicesOffline, &s.OpenAlerts)
	if err != nil {
		return proto.DashboardStats{}, fmt.Errorf("failed to compute stats: %w", err)
	}
	s.DeniedEvents = s.TotalEvents - s.GrantedEvents
	return s, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
