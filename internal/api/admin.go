package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/voxreach/call-engine/internal/jobstore"
	"github.com/voxreach/call-engine/internal/scheduler"
)

// AdminHandler exposes the Scheduler Control Plane's operations (§4.6) over
// HTTP for operator tooling.
type AdminHandler struct {
	sched *scheduler.Scheduler
	log   zerolog.Logger
}

func NewAdminHandler(sched *scheduler.Scheduler, log zerolog.Logger) *AdminHandler {
	return &AdminHandler{sched: sched, log: log}
}

type placeCallRequest struct {
	To         string         `json:"to"`
	Message    string         `json:"message"`
	LeadID     string         `json:"lead_id"`
	Priority   string         `json:"priority"`
	Metadata   map[string]any `json:"metadata"`
	ScheduleAt *time.Time     `json:"schedule_at"`
	DelayMs    int64          `json:"delay_ms"`
	CronExpr   string         `json:"cron"`
}

func (req placeCallRequest) input() scheduler.PlaceCallInput {
	return scheduler.PlaceCallInput{
		To:       req.To,
		Message:  req.Message,
		LeadID:   req.LeadID,
		Priority: req.Priority,
		Metadata: req.Metadata,
	}
}

// PlaceCall schedules a single call, immediately, delayed, or recurring,
// depending on which of schedule_at/delay_ms/cron is present.
func (h *AdminHandler) PlaceCall(w http.ResponseWriter, r *http.Request) {
	var req placeCallRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid request body")
		return
	}

	switch {
	case req.CronExpr != "":
		reg, err := h.sched.ScheduleRecurring(r.Context(), req.input(), req.CronExpr)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		WriteJSON(w, http.StatusCreated, reg)
	case req.ScheduleAt != nil || req.DelayMs > 0:
		var at time.Time
		if req.ScheduleAt != nil {
			at = *req.ScheduleAt
		}
		id, err := h.sched.ScheduleDelayed(r.Context(), req.input(), at, req.DelayMs)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		WriteJSON(w, http.StatusCreated, map[string]string{"job_id": id})
	default:
		id, err := h.sched.ScheduleImmediate(r.Context(), req.input())
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		WriteJSON(w, http.StatusCreated, map[string]string{"job_id": id})
	}
}

// PlaceCallBulk enqueues a batch of place-call jobs atomically.
func (h *AdminHandler) PlaceCallBulk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Calls []placeCallRequest `json:"calls"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid request body")
		return
	}

	inputs := make([]scheduler.PlaceCallInput, len(req.Calls))
	for i, c := range req.Calls {
		inputs[i] = c.input()
	}

	ids, err := h.sched.ScheduleBulk(r.Context(), inputs)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]any{"job_ids": ids})
}

type refillRequest struct {
	Message   string `json:"message"`
	Priority  string `json:"priority"`
	LeadLimit int    `json:"lead_limit"`
	CronExpr  string `json:"cron"`
}

func (req refillRequest) input() scheduler.RefillInput {
	return scheduler.RefillInput{Message: req.Message, Priority: req.Priority, LeadLimit: req.LeadLimit}
}

// RegisterRefill registers (or re-registers) the recurring lead-refill job.
func (h *AdminHandler) RegisterRefill(w http.ResponseWriter, r *http.Request) {
	var req refillRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid request body")
		return
	}
	if req.CronExpr == "" {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "cron is required")
		return
	}

	reg, err := h.sched.ScheduleRefill(r.Context(), req.input(), req.CronExpr)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	WriteJSON(w, http.StatusCreated, reg)
}

// RunRefillNow triggers a one-off refill-from-leads job outside the cron.
func (h *AdminHandler) RunRefillNow(w http.ResponseWriter, r *http.Request) {
	var req refillRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid request body")
		return
	}
	id, err := h.sched.RunRefillNow(r.Context(), req.input())
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]string{"job_id": id})
}

// ListSchedules returns every registered recurring job.
func (h *AdminHandler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	regs, err := h.sched.ListSchedules(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list schedules")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"schedules": regs})
}

// StopSchedule cancels a recurring job by its repeat ID.
func (h *AdminHandler) StopSchedule(w http.ResponseWriter, r *http.Request) {
	repeatID := chi.URLParam(r, "repeatID")
	if err := h.sched.StopSchedule(r.Context(), repeatID); err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetJob returns a single job's current state.
func (h *AdminHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.sched.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		WriteErrorWithCode(w, http.StatusNotFound, ErrNotFound, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// CancelJob cancels a waiting or delayed job.
func (h *AdminHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	if err := h.sched.Cancel(r.Context(), chi.URLParam(r, "jobID")); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RetryJob re-enqueues a failed job, resetting its attempt count.
func (h *AdminHandler) RetryJob(w http.ResponseWriter, r *http.Request) {
	if err := h.sched.Retry(r.Context(), chi.URLParam(r, "jobID")); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stats returns per-state job counts for the call stream.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.sched.Stats(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to fetch stats")
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// ListByState lists jobs in a given state with offset/limit paging.
func (h *AdminHandler) ListByState(w http.ResponseWriter, r *http.Request) {
	state := jobstore.State(chi.URLParam(r, "state"))
	p, err := ParsePagination(r)
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, err.Error())
		return
	}
	jobs, err := h.sched.ListByState(r.Context(), state, jobstore.ListRange{Offset: p.Offset, Limit: p.Limit})
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// Clean prunes terminal jobs older than a grace period.
func (h *AdminHandler) Clean(w http.ResponseWriter, r *http.Request) {
	state := jobstore.State(chi.URLParam(r, "state"))
	graceMs, _ := strconv.ParseInt(r.URL.Query().Get("grace_ms"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 1000
	}
	n, err := h.sched.Clean(r.Context(), state, graceMs, limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "clean failed")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int{"removed": n})
}

// Pause stops the stream from dispatching new jobs to workers.
func (h *AdminHandler) Pause(w http.ResponseWriter, r *http.Request) {
	if err := h.sched.Pause(r.Context()); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Resume resumes dispatch on a paused stream.
func (h *AdminHandler) Resume(w http.ResponseWriter, r *http.Request) {
	if err := h.sched.Resume(r.Context()); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Routes registers admin routes on the given router.
func (h *AdminHandler) Routes(r chi.Router) {
	r.Post("/calls", h.PlaceCall)
	r.Post("/calls/bulk", h.PlaceCallBulk)
	r.Post("/refill", h.RegisterRefill)
	r.Post("/refill/run", h.RunRefillNow)
	r.Get("/schedules", h.ListSchedules)
	r.Delete("/schedules/{repeatID}", h.StopSchedule)
	r.Get("/jobs/{jobID}", h.GetJob)
	r.Delete("/jobs/{jobID}", h.CancelJob)
	r.Post("/jobs/{jobID}/retry", h.RetryJob)
	r.Get("/jobs/state/{state}", h.ListByState)
	r.Delete("/jobs/state/{state}", h.Clean)
	r.Get("/stats", h.Stats)
	r.Post("/pause", h.Pause)
	r.Post("/resume", h.Resume)
}
