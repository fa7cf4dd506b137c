package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// terminalStatuses are CallEvent statuses from which the status field must
// never regress back to a non-terminal value, regardless of webhook order.
var terminalStatuses = map[string]bool{
	"completed":  true,
	"failed":     true,
	"canceled":   true,
	"no-answer":  true,
	"busy":       true,
}

// CallEvent is the one-row-per-call record keyed by call_sid.
type CallEvent struct {
	ID               int64
	CallSID          string
	Status           string
	Direction        *string
	FromNumber       *string
	ToNumber         *string
	DurationSec      *int
	CallDurationSec  *int
	RecordingSID     *string
	RecordingURL     *string
	LastEventAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CallEventUpsert carries the fields of an inbound status update. Zero values
// (empty string / nil) mean "no new information" and are left untouched by
// the merge, except Status which is subject to the terminal-state guard.
type CallEventUpsert struct {
	CallSID         string
	Status          string
	Direction       string
	FromNumber      string
	ToNumber        string
	DurationSec     *int
	CallDurationSec *int
	RecordingSID    string
	RecordingURL    string
	EventAt         time.Time
}

// UpsertCallEvent is the idempotent, merge-semantics write at the heart of the
// Linkage & Persistence Layer: replaying the same or an older webhook never
// regresses a terminal status, and only non-empty fields overwrite existing ones.
func (db *DB) UpsertCallEvent(ctx context.Context, u CallEventUpsert) (*CallEvent, error) {
	row := db.Pool.QueryRow(ctx, `
		INSERT INTO call_events (
			call_sid, status, direction, from_number, to_number,
			duration_sec, call_duration_sec, recording_sid, recording_url, last_event_at
		) VALUES ($1, $2, NULLIF($3,''), NULLIF($4,''), NULLIF($5,''), $6, $7, NULLIF($8,''), NULLIF($9,''), $10)
		ON CONFLICT (call_sid) DO UPDATE SET
			status = CASE
				WHEN call_events.status = ANY($11::text[]) THEN call_events.status
				ELSE COALESCE(NULLIF($2,''), call_events.status)
			END,
			direction = COALESCE(NULLIF($3,''), call_events.direction),
			from_number = COALESCE(NULLIF($4,''), call_events.from_number),
			to_number = COALESCE(NULLIF($5,''), call_events.to_number),
			duration_sec = COALESCE($6, call_events.duration_sec),
			call_duration_sec = COALESCE($7, call_events.call_duration_sec),
			recording_sid = COALESCE(NULLIF($8,''), call_events.recording_sid),
			recording_url = COALESCE(NULLIF($9,''), call_events.recording_url),
			last_event_at = GREATEST(call_events.last_event_at, $10),
			updated_at = now()
		RETURNING id, call_sid, status, direction, from_number, to_number,
		          duration_sec, call_duration_sec, recording_sid, recording_url,
		          last_event_at, created_at, updated_at`,
		u.CallSID, u.Status, u.Direction, u.FromNumber, u.ToNumber,
		u.DurationSec, u.CallDurationSec, u.RecordingSID, u.RecordingURL, u.EventAt,
		terminalStatusList())

	return scanCallEvent(row)
}

// GetCallEventBySID fetches a CallEvent by its call_sid.
func (db *DB) GetCallEventBySID(ctx context.Context, callSID string) (*CallEvent, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT id, call_sid, status, direction, from_number, to_number,
		       duration_sec, call_duration_sec, recording_sid, recording_url,
		       last_event_at, created_at, updated_at
		FROM call_events WHERE call_sid = $1`, callSID)
	return scanCallEvent(row)
}

// EnsureCallEventExists creates a minimal in-progress CallEvent row if one
// does not already exist for call_sid, satisfying LP's foreign-reference
// requirement before a transcript entry can be appended.
func (db *DB) EnsureCallEventExists(ctx context.Context, callSID string) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO call_events (call_sid, status)
		VALUES ($1, 'in-progress')
		ON CONFLICT (call_sid) DO NOTHING`, callSID)
	return err
}

func scanCallEvent(row pgx.Row) (*CallEvent, error) {
	e := &CallEvent{}
	err := row.Scan(&e.ID, &e.CallSID, &e.Status, &e.Direction, &e.FromNumber, &e.ToNumber,
		&e.DurationSec, &e.CallDurationSec, &e.RecordingSID, &e.RecordingURL,
		&e.LastEventAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func terminalStatusList() []string {
	list := make([]string, 0, len(terminalStatuses))
	for s := range terminalStatuses {
		list = append(list, s)
	}
	return list
}
