package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// TranscriptEntry is one ordered utterance within a call.
type TranscriptEntry struct {
	ID                int64
	CallSID           string
	Role              string // "user" or "assistant"
	Content           string
	ProviderMessageID *string
	LatencyMetrics    []byte // raw jsonb, may be nil
	OccurredAt        time.Time
	CreatedAt         time.Time
}

// AppendTranscript inserts a transcript row idempotently: when providerMessageID
// is non-empty, a conflict on (call_sid, provider_message_id) is a silent no-op
// so retransmitted events never produce duplicate rows. When it is empty the
// row is always inserted (insert-only, no dedup key available).
func (db *DB) AppendTranscript(ctx context.Context, e TranscriptEntry) (*TranscriptEntry, bool, error) {
	var providerMsgID any
	if e.ProviderMessageID != nil && *e.ProviderMessageID != "" {
		providerMsgID = *e.ProviderMessageID
	}

	row := db.Pool.QueryRow(ctx, `
		INSERT INTO conversation_transcripts (call_sid, role, content, provider_message_id, latency_metrics, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (call_sid, provider_message_id) WHERE provider_message_id IS NOT NULL DO NOTHING
		RETURNING id, call_sid, role, content, provider_message_id, latency_metrics, occurred_at, created_at`,
		e.CallSID, e.Role, e.Content, providerMsgID, e.LatencyMetrics, e.OccurredAt)

	inserted, err := scanTranscript(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Conflict hit — row already exists; fetch it for the caller.
		existing, ferr := db.getTranscriptByMessageID(ctx, e.CallSID, *e.ProviderMessageID)
		return existing, false, ferr
	}
	if err != nil {
		return nil, false, err
	}
	return inserted, true, nil
}

func (db *DB) getTranscriptByMessageID(ctx context.Context, callSID, providerMessageID string) (*TranscriptEntry, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT id, call_sid, role, content, provider_message_id, latency_metrics, occurred_at, created_at
		FROM conversation_transcripts
		WHERE call_sid = $1 AND provider_message_id = $2`, callSID, providerMessageID)
	return scanTranscript(row)
}

// ListTranscripts returns all transcript entries for a call, ordered by
// occurrence time to tolerate any write-order skew from transport reordering.
func (db *DB) ListTranscripts(ctx context.Context, callSID string) ([]*TranscriptEntry, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, call_sid, role, content, provider_message_id, latency_metrics, occurred_at, created_at
		FROM conversation_transcripts
		WHERE call_sid = $1
		ORDER BY occurred_at ASC, id ASC`, callSID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*TranscriptEntry
	for rows.Next() {
		e, err := scanTranscript(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanTranscript(row pgx.Row) (*TranscriptEntry, error) {
	e := &TranscriptEntry{}
	err := row.Scan(&e.ID, &e.CallSID, &e.Role, &e.Content, &e.ProviderMessageID,
		&e.LatencyMetrics, &e.OccurredAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}
