package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// CallRecording is an optional per-call recording descriptor.
type CallRecording struct {
	ID           int64
	CallSID      string
	RecordingSID string
	StoragePath  *string
	DurationSec  *int
	SizeBytes    *int64
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UpsertRecording creates or updates the recording descriptor for a call. At
// most one completed recording per call is expected upstream (TG only forwards
// status=completed callbacks for processing); this upsert is keyed on the
// provider recording_sid so retried webhooks are idempotent.
func (db *DB) UpsertRecording(ctx context.Context, r CallRecording) (*CallRecording, error) {
	row := db.Pool.QueryRow(ctx, `
		INSERT INTO call_recordings (call_sid, recording_sid, storage_path, duration_sec, size_bytes, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (recording_sid) DO UPDATE SET
			storage_path = COALESCE(NULLIF($3,''), call_recordings.storage_path),
			duration_sec = COALESCE($4, call_recordings.duration_sec),
			size_bytes = COALESCE($5, call_recordings.size_bytes),
			status = COALESCE(NULLIF($6,''), call_recordings.status),
			updated_at = now()
		RETURNING id, call_sid, recording_sid, storage_path, duration_sec, size_bytes, status, created_at, updated_at`,
		r.CallSID, r.RecordingSID, r.StoragePath, r.DurationSec, r.SizeBytes, r.Status)
	return scanRecording(row)
}

func (db *DB) GetRecordingBySID(ctx context.Context, recordingSID string) (*CallRecording, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT id, call_sid, recording_sid, storage_path, duration_sec, size_bytes, status, created_at, updated_at
		FROM call_recordings WHERE recording_sid = $1`, recordingSID)
	return scanRecording(row)
}

func scanRecording(row pgx.Row) (*CallRecording, error) {
	r := &CallRecording{}
	err := row.Scan(&r.ID, &r.CallSID, &r.RecordingSID, &r.StoragePath, &r.DurationSec,
		&r.SizeBytes, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return r, nil
}
