package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RecordState appends a row to the app_state audit trail.
func (s *Store) RecordState(ctx context.Context, state string) error {
	if _, err := s.Exec(ctx, "INSERT INTO app_state (state_name) VALUES (?)", state); err != nil {
		return fmt.Errorf("record state %q: %w", state, err)
	}
	return nil
}

// MirrorPending upserts a pending row for a queued request.
//
// An existing row keeps its status so that a processing update that raced
// ahead of this write is not rolled back.
func (s *Store) MirrorPending(ctx context.Context, id, opType, params string) error {
	_, err := s.Exec(ctx, `
		INSERT INTO operation_queue (operation_id, operation_type, parameters, status)
		VALUES (?, ?, ?, 'pending')
		ON CONFLICT(operation_id) DO UPDATE SET
			operation_type = excluded.operation_type,
			parameters = excluded.parameters
	`, id, opType, params)
	if err != nil {
		return fmt.Errorf("mirror pending %s: %w", id, err)
	}
	return nil
}

// MirrorProcessing marks a request as dequeued.
func (s *Store) MirrorProcessing(ctx context.Context, id, opType string) error {
	_, err := s.Exec(ctx, `
		INSERT INTO operation_queue (operation_id, operation_type, status, started_at)
		VALUES (?, ?, 'processing', CURRENT_TIMESTAMP)
		ON CONFLICT(operation_id) DO UPDATE SET
			status = 'processing',
			started_at = CURRENT_TIMESTAMP
	`, id, opType)
	if err != nil {
		return fmt.Errorf("mirror processing %s: %w", id, err)
	}
	return nil
}

// StateRecord is one row of the app_state audit trail.
type StateRecord struct {
	ID        int64
	State     string
	Timestamp time.Time
}

// QueueRecord is one row of the operation_queue mirror.
type QueueRecord struct {
	ID            int64
	OperationID   string
	OperationType string
	Parameters    string
	Status        string
	CreatedAt     time.Time
	StartedAt     *time.Time
}

// ReadStateTrail returns the audit trail in insertion order.
func (s *Store) ReadStateTrail(ctx context.Context) ([]StateRecord, error) {
	rows, err := s.Query(ctx, `
		SELECT id, state_name, timestamp
		FROM app_state
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("read state trail: %w", err)
	}
	defer rows.Close()

	var out []StateRecord
	for rows.Next() {
		var rec StateRecord
		var ts sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.State, &ts); err != nil {
			return nil, fmt.Errorf("scan state row: %w", err)
		}
		rec.Timestamp = ts.Time
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state rows: %w", err)
	}
	return out, nil
}

// ReadQueueMirror returns the operation_queue mirror in insertion order.
func (s *Store) ReadQueueMirror(ctx context.Context) ([]QueueRecord, error) {
	rows, err := s.Query(ctx, `
		SELECT id, operation_id, operation_type, COALESCE(parameters, ''), COALESCE(status, ''), created_at, started_at
		FROM operation_queue
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("read queue mirror: %w", err)
	}
	defer rows.Close()

	var out []QueueRecord
	for rows.Next() {
		var rec QueueRecord
		var created, started sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.OperationID, &rec.OperationType, &rec.Parameters, &rec.Status, &created, &started); err != nil {
			return nil, fmt.Errorf("scan queue row: %w", err)
		}
		rec.CreatedAt = created.Time
		if started.Valid {
			t := started.Time
			rec.StartedAt = &t
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue rows: %w", err)
	}
	return out, nil
}
