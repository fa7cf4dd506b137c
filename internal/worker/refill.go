package worker

import (
	"context"
	"fmt"

	"github.com/voxreach/call-engine/internal/jobstore"
)

// RefillLead is the minimal projection of a lead the refill handler needs.
type RefillLead struct {
	ID    string
	Phone string
}

// LeadSource is the Linkage & Persistence collaborator the refill handler
// queries for leads due a courtesy call. Satisfied by internal/leads.
type LeadSource interface {
	LeadsForRefill(ctx context.Context, limit int) ([]RefillLead, error)
}

// RefillHandler implements the `refill-from-leads` job family (§4.2).
type RefillHandler struct {
	Leads LeadSource
	Store jobstore.Store
}

func (h *RefillHandler) Handle(ctx context.Context, job *jobstore.Job) (map[string]any, error) {
	message, _ := job.Payload["message"].(string)
	priority, _ := job.Payload["priority"].(string)

	leadLimit := 50
	switch v := job.Payload["leadLimit"].(type) {
	case float64:
		leadLimit = int(v)
	case int:
		leadLimit = v
	}

	leads, err := h.Leads.LeadsForRefill(ctx, leadLimit)
	if err != nil {
		return nil, fmt.Errorf("lead store unavailable: %w", err)
	}

	scheduledAt := scheduledAtNow()
	jobIDs := make([]string, 0, len(leads))
	for _, lead := range leads {
		if lead.Phone == "" {
			continue
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if h.Store.IsCanceled(ctx, job.ID) {
			return nil, fmt.Errorf("refill: canceled after %d place-call jobs were enqueued", len(jobIDs))
		}

		payload := map[string]any{
			"to":       lead.Phone,
			"message":  message,
			"leadId":   lead.ID,
			"priority": priority,
			"metadata": map[string]any{
				"automationRun": true,
				"scheduledAt":   scheduledAt,
			},
		}
		id, err := h.Store.Enqueue(ctx, job.Stream, jobstore.FamilyPlaceCall, payload, jobstore.EnqueueOptions{
			Priority: jobstore.ParsePriority(priority),
		})
		if err != nil {
			return nil, fmt.Errorf("enqueue place-call for lead %s: %w", lead.ID, err)
		}
		jobIDs = append(jobIDs, id)
	}

	return map[string]any{
		"scheduled": len(jobIDs),
		"jobIds":    jobIDs,
	}, nil
}
