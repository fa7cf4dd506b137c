// Package leads implements the Linkage & Persistence Layer (LP): idempotent
// writes from webhook and bridge collaborators down to the row store, plus
// the phone-number linkage between a CallEvent and a lead.
package leads

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/voxreach/call-engine/internal/bridge"
	"github.com/voxreach/call-engine/internal/database"
	"github.com/voxreach/call-engine/internal/telephony"
	"github.com/voxreach/call-engine/internal/worker"
)

// rowStore is the slice of *database.DB that LP actually drives. Narrowing to
// an interface keeps Service testable without a live Postgres connection.
type rowStore interface {
	LeadsForRefill(ctx context.Context, limit int) ([]*database.Lead, error)
	FindLeadByPhone(ctx context.Context, phone string) ([]*database.Lead, error)
	MarkContacted(ctx context.Context, leadID int64, callSID string) error
	SetLeadCallSIDOnce(ctx context.Context, leadID int64, callSID string) (bool, error)
	UpsertCallEvent(ctx context.Context, u database.CallEventUpsert) (*database.CallEvent, error)
	GetCallEventBySID(ctx context.Context, callSID string) (*database.CallEvent, error)
	EnsureCallEventExists(ctx context.Context, callSID string) error
	AppendTranscript(ctx context.Context, e database.TranscriptEntry) (*database.TranscriptEntry, bool, error)
	UpsertRecording(ctx context.Context, r database.CallRecording) (*database.CallRecording, error)
}

// Service is the concrete LP implementation. It satisfies worker.LeadContacter,
// worker.LeadSource, telephony.CallEventSink, telephony.RecordingSink, and
// bridge.TranscriptSink.
type Service struct {
	db  rowStore
	log zerolog.Logger
}

func New(db *database.DB, log zerolog.Logger) *Service {
	return &Service{db: db, log: log.With().Str("component", "leads").Logger()}
}

var (
	_ worker.LeadContacter    = (*Service)(nil)
	_ worker.LeadSource       = (*Service)(nil)
	_ telephony.CallEventSink = (*Service)(nil)
	_ telephony.RecordingSink = (*Service)(nil)
	_ bridge.TranscriptSink   = (*Service)(nil)
)

// MarkContacted implements worker.LeadContacter, called right after a
// place-call job successfully initiates a call.
func (s *Service) MarkContacted(ctx context.Context, leadID, callSID string) error {
	id, err := strconv.ParseInt(leadID, 10, 64)
	if err != nil {
		return fmt.Errorf("mark contacted: invalid lead id %q: %w", leadID, err)
	}
	return s.db.MarkContacted(ctx, id, callSID)
}

// LeadsForRefill implements worker.LeadSource.
func (s *Service) LeadsForRefill(ctx context.Context, limit int) ([]worker.RefillLead, error) {
	rows, err := s.db.LeadsForRefill(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]worker.RefillLead, 0, len(rows))
	for _, l := range rows {
		var phone string
		if l.Phone != nil {
			phone = *l.Phone
		}
		out = append(out, worker.RefillLead{
			ID:    strconv.FormatInt(l.ID, 10),
			Phone: phone,
		})
	}
	return out, nil
}

// UpsertCallEvent implements telephony.CallEventSink (§4.5 upsertCallEvent).
func (s *Service) UpsertCallEvent(ctx context.Context, evt telephony.CallEventUpdate) error {
	_, err := s.db.UpsertCallEvent(ctx, database.CallEventUpsert{
		CallSID:         evt.CallSID,
		Status:          evt.Status,
		Direction:       evt.Direction,
		FromNumber:      evt.From,
		ToNumber:        evt.To,
		DurationSec:     evt.DurationSec,
		CallDurationSec: evt.CallDurationSec,
		RecordingSID:    derefStr(evt.RecordingSID),
		RecordingURL:    derefStr(evt.RecordingURL),
		EventAt:         evt.EventAt,
	})
	return err
}

// AttachRecording implements telephony.RecordingSink (§4.5 attachRecording).
// Object-storage upload has already happened; this only persists the
// descriptor.
func (s *Service) AttachRecording(ctx context.Context, att telephony.RecordingAttachment) error {
	storagePath := att.StorageDescriptor
	durationSec := att.DurationSec
	_, err := s.db.UpsertRecording(ctx, database.CallRecording{
		CallSID:      att.CallSID,
		RecordingSID: att.RecordingSID,
		StoragePath:  &storagePath,
		DurationSec:  &durationSec,
		Status:       "completed",
	})
	return err
}

// AppendTranscript implements bridge.TranscriptSink (§4.5 appendTranscript).
// Ensures a CallEvent row exists first, inserts the entry idempotently by
// provider message id, then tries to link the lead after every newly
// inserted entry (a no-op once the lead is linked to this call).
func (s *Service) AppendTranscript(ctx context.Context, evt bridge.TranscriptEvent) error {
	if err := s.db.EnsureCallEventExists(ctx, evt.CallSID); err != nil {
		return fmt.Errorf("ensure call event: %w", err)
	}

	var providerMsgID *string
	if evt.ProviderMessageID != "" {
		providerMsgID = &evt.ProviderMessageID
	}

	_, inserted, err := s.db.AppendTranscript(ctx, database.TranscriptEntry{
		CallSID:           evt.CallSID,
		Role:              evt.Role,
		Content:           evt.Content,
		ProviderMessageID: providerMsgID,
		OccurredAt:        evt.At,
	})
	if err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}

	if inserted {
		s.linkLead(ctx, evt.CallSID)
	}
	return nil
}

// linkLead implements §4.5 linkLead. Failures are logged, never propagated:
// linkage is a best-effort enrichment of the call record, not a requirement
// for the transcript write to succeed.
func (s *Service) linkLead(ctx context.Context, callSID string) {
	event, err := s.db.GetCallEventBySID(ctx, callSID)
	if err != nil {
		s.log.Warn().Err(err).Str("call_sid", callSID).Msg("link lead: call event lookup failed")
		return
	}
	if event.ToNumber == nil || *event.ToNumber == "" {
		return
	}

	candidates, err := s.db.FindLeadByPhone(ctx, *event.ToNumber)
	if err != nil {
		s.log.Warn().Err(err).Str("call_sid", callSID).Msg("link lead: phone lookup failed")
		return
	}

	for _, lead := range candidates {
		if lead.CallSID != nil && *lead.CallSID == callSID {
			return // already linked to this call
		}
		if lead.CallSID != nil {
			continue // linked to a different call, not eligible
		}
		applied, err := s.db.SetLeadCallSIDOnce(ctx, lead.ID, callSID)
		if err != nil {
			s.log.Warn().Err(err).Int64("lead_id", lead.ID).Str("call_sid", callSID).
				Msg("link lead: set call_sid failed")
			return
		}
		if applied {
			s.log.Info().Int64("lead_id", lead.ID).Str("call_sid", callSID).Msg("lead linked")
		}
		return
	}
}

func derefStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
