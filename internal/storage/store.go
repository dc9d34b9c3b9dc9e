package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	// timeFormat matches the schema's strftime default.
	timeFormat = "2006-01-02T15:04:05Z"
)

// Store persists telemetry readings and device control history in SQLite.
//
// It is the bridge's source of truth for "last known status"; callers must
// tolerate it being briefly unavailable, so every method returns the
// underlying error rather than retrying.
type Store struct {
	db *sql.DB
}

// New creates a store over an open database connection.
//
// Parameters:
//   - db: Open SQLite connection with migrations applied
//
// Returns:
//   - *Store: Store instance ready for use
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// AppendTelemetry inserts one sensor reading.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - reading: Sample to persist; a zero CreatedAt means now
//
// Returns:
//   - int64: Row id of the inserted reading
//   - error: nil on success, otherwise the underlying database error
func (s *Store) AppendTelemetry(ctx context.Context, reading TelemetryReading) (int64, error) {
	createdAt := reading.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx,
		"INSERT INTO telemetry (temperature, humidity, light_intensity, created_at) VALUES (?, ?, ?, ?)",
		reading.Temperature,
		reading.Humidity,
		reading.LightIntensity,
		createdAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting telemetry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading telemetry insert id: %w", err)
	}
	return id, nil
}

// ListTelemetry returns readings ordered newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - limit: Maximum rows to return (default 50, max 500)
//   - offset: Rows to skip for pagination
//
// Returns:
//   - []TelemetryReading: Readings ordered by created_at DESC
//   - error: nil on success, otherwise the underlying query error
func (s *Store) ListTelemetry(ctx context.Context, limit, offset int) ([]TelemetryReading, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, temperature, humidity, light_intensity, created_at
		 FROM telemetry
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying telemetry: %w", err)
	}
	defer rows.Close()

	return scanTelemetryRows(rows, limit)
}

// LatestTelemetry returns the most recent reading, or nil when the table
// is empty.
func (s *Store) LatestTelemetry(ctx context.Context) (*TelemetryReading, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, temperature, humidity, light_intensity, created_at
		 FROM telemetry
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
	)

	var reading TelemetryReading
	var createdAt string
	err := row.Scan(&reading.ID, &reading.Temperature, &reading.Humidity, &reading.LightIntensity, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest telemetry: %w", err)
	}

	reading.CreatedAt, err = parseTimestamp(createdAt)
	if err != nil {
		return nil, err
	}
	return &reading, nil
}

// TelemetrySeries returns readings at or after the cutoff, ordered oldest
// first for charting.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - since: Inclusive lower bound on created_at
//   - limit: Maximum rows to return (default 50, max 500)
//
// Returns:
//   - []TelemetryReading: Readings ordered by created_at ASC
//   - error: nil on success, otherwise the underlying query error
func (s *Store) TelemetrySeries(ctx context.Context, since time.Time, limit int) ([]TelemetryReading, error) {
	limit = clampLimit(limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, temperature, humidity, light_intensity, created_at
		 FROM telemetry
		 WHERE created_at >= ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`,
		since.UTC().Format(timeFormat),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying telemetry series: %w", err)
	}
	defer rows.Close()

	return scanTelemetryRows(rows, limit)
}

// AppendControlRecord inserts one control history entry.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - record: Entry to persist; empty Source defaults to "command", a zero
//     CreatedAt means now
//
// Returns:
//   - int64: Row id, the authoritative record of the attempt
//   - error: nil on success, otherwise the underlying database error
func (s *Store) AppendControlRecord(ctx context.Context, record ControlRecord) (int64, error) {
	if record.DeviceID == "" {
		return 0, fmt.Errorf("device id is required")
	}
	if record.Source == "" {
		record.Source = SourceCommand
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx,
		"INSERT INTO control_history (device_id, action, status, source, created_at) VALUES (?, ?, ?, ?, ?)",
		record.DeviceID,
		record.Action,
		record.Status,
		record.Source,
		createdAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting control record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading control record insert id: %w", err)
	}
	return id, nil
}

// LastStatus returns the device's most recent status, or nil when the
// device has no control history yet.
//
// No in-memory cache sits in front of this read: toggle resolution re-reads
// every time so a stale cache can never compound across restarts.
func (s *Store) LastStatus(ctx context.Context, deviceID string) (*DeviceStatus, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT status, created_at
		 FROM control_history
		 WHERE device_id = ?
		 ORDER BY id DESC
		 LIMIT 1`,
		deviceID,
	)

	status := DeviceStatus{DeviceID: deviceID}
	var createdAt string
	err := row.Scan(&status.Status, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying last status: %w", err)
	}

	status.UpdatedAt, err = parseTimestamp(createdAt)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// LatestStatuses returns the most recent status per device, keyed by
// device id. Devices with no history are absent from the map.
func (s *Store) LatestStatuses(ctx context.Context) (map[string]DeviceStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.device_id, c.status, c.created_at
		 FROM control_history c
		 JOIN (SELECT device_id, MAX(id) AS max_id FROM control_history GROUP BY device_id) latest
		   ON c.id = latest.max_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying latest statuses: %w", err)
	}
	defer rows.Close()

	statuses := make(map[string]DeviceStatus)
	for rows.Next() {
		var status DeviceStatus
		var createdAt string
		if err := rows.Scan(&status.DeviceID, &status.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning latest status: %w", err)
		}
		status.UpdatedAt, err = parseTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		statuses[status.DeviceID] = status
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating latest statuses: %w", err)
	}
	return statuses, nil
}

// ListControlRecords returns control history ordered newest first,
// optionally filtered to one device.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - deviceID: Filter to one device; "" returns all devices
//   - limit: Maximum rows to return (default 50, max 500)
//   - offset: Rows to skip for pagination
//
// Returns:
//   - []ControlRecord: Records ordered by id DESC
//   - error: nil on success, otherwise the underlying query error
func (s *Store) ListControlRecords(ctx context.Context, deviceID string, limit, offset int) ([]ControlRecord, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	query := `SELECT id, device_id, action, status, source, created_at
		 FROM control_history`
	args := []any{}
	if deviceID != "" {
		query += " WHERE device_id = ?"
		args = append(args, deviceID)
	}
	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying control history: %w", err)
	}
	defer rows.Close()

	records := make([]ControlRecord, 0, limit)
	for rows.Next() {
		var record ControlRecord
		var createdAt string
		if err := rows.Scan(&record.ID, &record.DeviceID, &record.Action, &record.Status, &record.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning control record: %w", err)
		}
		record.CreatedAt, err = parseTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating control history: %w", err)
	}
	return records, nil
}

// Counts returns stored row counts for the stats endpoint.
func (s *Store) Counts(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM telemetry").Scan(&stats.TelemetryCount); err != nil {
		return Stats{}, fmt.Errorf("counting telemetry: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM control_history").Scan(&stats.ControlCount); err != nil {
		return Stats{}, fmt.Errorf("counting control history: %w", err)
	}
	return stats, nil
}

// scanTelemetryRows drains a telemetry result set.
func scanTelemetryRows(rows *sql.Rows, capacityHint int) ([]TelemetryReading, error) {
	readings := make([]TelemetryReading, 0, capacityHint)
	for rows.Next() {
		var reading TelemetryReading
		var createdAt string
		if err := rows.Scan(&reading.ID, &reading.Temperature, &reading.Humidity, &reading.LightIntensity, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning telemetry: %w", err)
		}
		parsed, err := parseTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		reading.CreatedAt = parsed
		readings = append(readings, reading)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating telemetry: %w", err)
	}
	return readings, nil
}

// clampLimit applies the default and maximum page sizes.
func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// parseTimestamp parses a created_at value stored in SQLite.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}

	timestamp, err := time.Parse(timeFormat, value)
	if err == nil {
		return timestamp, nil
	}

	fallback, fallbackErr := time.Parse(time.RFC3339, value)
	if fallbackErr == nil {
		return fallback, nil
	}

	return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
}
