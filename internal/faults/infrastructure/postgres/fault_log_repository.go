package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	faults "nexusgrid/internal/faults/domain"
)

const defaultFaultLogTable = "fault_log"

// FaultLogRepository is a Postgres store for the append-only fault log.
type FaultLogRepository struct {
	db    *sql.DB
	table string
}

// Option configures the repository.
type Option func(*FaultLogRepository)

// WithTable overrides the default table name.
func WithTable(table string) Option {
	return func(r *FaultLogRepository) {
		if table != "" {
			r.table = table
		}
	}
}

// NewFaultLogRepository constructs a repository.
func NewFaultLogRepository(db *sql.DB, opts ...Option) *FaultLogRepository {
	repo := &FaultLogRepository{db: db, table: defaultFaultLogTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Append inserts one fault event.
func (r *FaultLogRepository) Append(ctx context.Context, event faults.Event) error {
	if r == nil || r.db == nil {
		return errors.New("fault log repo: nil db")
	}
	if event.DeviceID == "" {
		return errors.New("fault log repo: empty device id")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id, device_id, fault_type, severity, message, value, threshold, detected_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)`, r.table)

	_, err := r.db.ExecContext(
		ctx,
		query,
		uuid.NewString(),
		event.DeviceID,
		event.Type,
		string(event.Severity),
		event.Message,
		event.Value,
		event.Threshold,
		event.At.UTC(),
	)
	return err
}

// ListRecent loads fault events for a device newer than the cutoff, newest
// first, capped at limit.
func (r *FaultLogRepository) ListRecent(ctx context.Context, deviceID string, since time.Time, limit int) ([]faults.Event, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("fault log repo: nil db")
	}
	if deviceID == "" {
		return nil, errors.New("fault log repo: empty device id")
	}
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
SELECT device_id, fault_type, severity, message, value, threshold, detected_at
FROM %s
WHERE device_id = $1 AND detected_at >= $2
ORDER BY detected_at DESC
LIMIT $3`, r.table)

	rows, err := r.db.QueryContext(ctx, query, deviceID, since.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []faults.Event
	for rows.Next() {
		var event faults.Event
		var severity string
		if err := rows.Scan(
			&event.DeviceID,
			&event.Type,
			&severity,
			&event.Message,
			&event.Value,
			&event.Threshold,
			&event.At,
		); err != nil {
			return nil, err
		}
		event.Severity = faults.Severity(severity)
		event.At = event.At.UTC()
		result = append(result, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
