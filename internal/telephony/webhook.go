package telephony

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// CallEventUpdate is the normalized form of a status callback, handed to LP's
// upsertCallEvent.
type CallEventUpdate struct {
	CallSID         string
	Status          string
	Direction       string
	From            string
	To              string
	DurationSec     *int
	CallDurationSec *int
	RecordingSID    *string
	RecordingURL    *string
	EventAt         time.Time
}

// CallEventSink is LP's upsertCallEvent, as seen by TG.
type CallEventSink interface {
	UpsertCallEvent(ctx context.Context, evt CallEventUpdate) error
}

// RecordingAttachment is LP's attachRecording input.
type RecordingAttachment struct {
	CallSID           string
	RecordingSID      string
	DurationSec       int
	StorageDescriptor string
}

// RecordingSink is LP's attachRecording, as seen by TG.
type RecordingSink interface {
	AttachRecording(ctx context.Context, att RecordingAttachment) error
}

// RecordingUploader is the object-storage collaborator (§6) that fetches the
// provider's recording and returns a storage descriptor (e.g. an S3 key).
type RecordingUploader interface {
	Upload(ctx context.Context, recordingSID, sourceURL string) (storageDescriptor string, err error)
}

// WebhookHandler answers TG's provider webhooks. Every handler responds 200
// regardless of internal outcome, per §4.3, to prevent provider retries;
// failures are logged and re-driven by later idempotent events.
type WebhookHandler struct {
	Events     CallEventSink
	Recordings RecordingSink
	Uploader   RecordingUploader
	Log        zerolog.Logger
}

// HandleStatusWebhook answers a status callback POST.
func (h *WebhookHandler) HandleStatusWebhook(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)

	if err := r.ParseForm(); err != nil {
		h.Log.Warn().Err(err).Msg("status webhook: malformed form body")
		return
	}

	callSID := r.FormValue("CallSid")
	if callSID == "" {
		h.Log.Warn().Msg("status webhook: missing CallSid")
		return
	}

	evt := CallEventUpdate{
		CallSID:   callSID,
		Status:    normalizeStatus(r.FormValue("CallStatus")),
		Direction: r.FormValue("Direction"),
		From:      r.FormValue("From"),
		To:        r.FormValue("To"),
		EventAt:   parseTimestamp(r.FormValue("Timestamp")),
	}
	if v := r.FormValue("Duration"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			evt.DurationSec = &n
		}
	}
	if v := r.FormValue("CallDuration"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			evt.CallDurationSec = &n
		}
	}
	if v := r.FormValue("RecordingSid"); v != "" {
		evt.RecordingSID = &v
	}
	if v := r.FormValue("RecordingUrl"); v != "" {
		evt.RecordingURL = &v
	}

	if err := h.Events.UpsertCallEvent(r.Context(), evt); err != nil {
		h.Log.Error().Err(err).Str("call_sid", callSID).Msg("status webhook: upsert failed")
	}
}

// HandleRecordingWebhook answers a recording callback POST. Only
// RecordingStatus=completed triggers downstream processing, and that
// processing happens asynchronously after the 200 is written.
func (h *WebhookHandler) HandleRecordingWebhook(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)

	if err := r.ParseForm(); err != nil {
		h.Log.Warn().Err(err).Msg("recording webhook: malformed form body")
		return
	}

	status := r.FormValue("RecordingStatus")
	if status != "completed" {
		return
	}

	callSID := r.FormValue("CallSid")
	recordingSID := r.FormValue("RecordingSid")
	if callSID == "" || recordingSID == "" {
		h.Log.Warn().Msg("recording webhook: missing CallSid or RecordingSid")
		return
	}
	durationSec := 0
	if v := r.FormValue("RecordingDuration"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			durationSec = n
		}
	}
	recordingURL := r.FormValue("RecordingUrl")

	go h.processRecording(callSID, recordingSID, recordingURL, durationSec)
}

func (h *WebhookHandler) processRecording(callSID, recordingSID, sourceURL string, durationSec int) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	descriptor := sourceURL
	if h.Uploader != nil && sourceURL != "" {
		d, err := h.Uploader.Upload(ctx, recordingSID, sourceURL)
		if err != nil {
			h.Log.Error().Err(err).Str("call_sid", callSID).Str("recording_sid", recordingSID).
				Msg("recording upload failed, attaching source url instead")
		} else {
			descriptor = d
		}
	}

	if err := h.Recordings.AttachRecording(ctx, RecordingAttachment{
		CallSID:           callSID,
		RecordingSID:      recordingSID,
		DurationSec:        durationSec,
		StorageDescriptor: descriptor,
	}); err != nil {
		h.Log.Error().Err(err).Str("call_sid", callSID).Str("recording_sid", recordingSID).
			Msg("attach recording failed")
	}
}

// normalizeStatus maps provider-cased statuses (e.g. "completed") through
// unchanged; kept as a seam for provider-specific status vocabularies.
func normalizeStatus(s string) string { return s }

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Now().UTC()
	}
	if t, err := time.Parse(time.RFC1123Z, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Now().UTC()
}
