// Package worker implements the Worker Pool (WP): a fixed set of goroutines
// that dequeue jobs from the Job Store, dispatch them by family to a
// registered handler, and Ack/Nack the result back to the store.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/voxreach/call-engine/internal/jobstore"
	"github.com/voxreach/call-engine/internal/metrics"
)

// Handler processes one dispatched job and returns a result payload to log,
// or an error that becomes the job's failure cause. Handlers must poll
// Store.IsCanceled between external I/O calls so cooperative cancellation can take
// effect before a call is placed or a batch is scheduled.
type Handler interface {
	Handle(ctx context.Context, job *jobstore.Job) (map[string]any, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *jobstore.Job) (map[string]any, error)

func (f HandlerFunc) Handle(ctx context.Context, job *jobstore.Job) (map[string]any, error) {
	return f(ctx, job)
}

// Options configures a WorkerPool.
type Options struct {
	Store    jobstore.Store
	Stream   string
	Handlers map[string]Handler // family -> handler

	Concurrency int
	// RateCount jobs may be dispatched per RateWindow, across all workers.
	RateCount  int
	RateWindow time.Duration

	// PollInterval is how long a worker sleeps after an empty or paused
	// dequeue before trying again.
	PollInterval time.Duration
	// JobTimeout bounds how long a single handler invocation may run.
	JobTimeout time.Duration

	Log zerolog.Logger
}

// WorkerPool drains Options.Stream by polling jobstore.Store.Dequeue from
// Options.Concurrency goroutines, rate-limited and dispatched by job family.
type WorkerPool struct {
	opts    Options
	limiter *rate.Limiter
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	completed int64
	failed    int64
}

// New builds a WorkerPool. Concurrency, PollInterval, and JobTimeout default
// to sane values if left zero.
func New(opts Options) *WorkerPool {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 60 * time.Second
	}

	var limiter *rate.Limiter
	if opts.RateCount > 0 && opts.RateWindow > 0 {
		perSecond := float64(opts.RateCount) / opts.RateWindow.Seconds()
		limiter = rate.NewLimiter(rate.Limit(perSecond), opts.RateCount)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		opts:    opts,
		limiter: limiter,
		log:     opts.Log,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.opts.Concurrency; i++ {
		wp.wg.Add(1)
		go wp.run(i)
	}
	wp.log.Info().
		Str("stream", wp.opts.Stream).
		Int("concurrency", wp.opts.Concurrency).
		Msg("worker pool started")
}

// Stop cancels the dispatch loops and waits for in-flight handlers to return.
func (wp *WorkerPool) Stop() {
	wp.cancel()
	wp.wg.Wait()
	wp.mu.Lock()
	completed, failed := wp.completed, wp.failed
	wp.mu.Unlock()
	wp.log.Info().
		Int64("completed", completed).
		Int64("failed", failed).
		Msg("worker pool stopped")
}

func (wp *WorkerPool) run(id int) {
	defer wp.wg.Done()
	log := wp.opts.Log.With().Int("worker", id).Logger()

	for {
		if wp.ctx.Err() != nil {
			return
		}

		if wp.limiter != nil {
			if err := wp.limiter.Wait(wp.ctx); err != nil {
				return
			}
		}

		job, err := wp.opts.Store.Dequeue(wp.ctx, wp.opts.Stream)
		if err != nil {
			if errors.Is(err, jobstore.ErrEmpty) || errors.Is(err, jobstore.ErrPaused) {
				wp.sleep()
				continue
			}
			if wp.ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("dequeue failed")
			wp.sleep()
			continue
		}

		wp.process(log, job)
	}
}

func (wp *WorkerPool) sleep() {
	select {
	case <-wp.ctx.Done():
	case <-time.After(wp.opts.PollInterval):
	}
}

func (wp *WorkerPool) process(log zerolog.Logger, job *jobstore.Job) {
	metrics.JobsDispatchedTotal.WithLabelValues(job.Family).Inc()

	h, ok := wp.opts.Handlers[job.Family]
	if !ok {
		log.Error().Str("job_id", job.ID).Str("family", job.Family).Msg("no handler registered for family")
		_ = wp.opts.Store.Nack(wp.ctx, job.ID, "no handler registered for family "+job.Family)
		metrics.JobsFailedTotal.WithLabelValues(job.Family).Inc()
		wp.mu.Lock()
		wp.failed++
		wp.mu.Unlock()
		return
	}

	ctx, cancel := context.WithTimeout(wp.ctx, wp.opts.JobTimeout)
	defer cancel()

	start := time.Now()
	result, err := h.Handle(ctx, job)
	elapsed := time.Since(start)

	if err != nil {
		log.Warn().Err(err).Str("job_id", job.ID).Str("family", job.Family).
			Dur("elapsed", elapsed).Msg("job failed")
		if nackErr := wp.opts.Store.Nack(wp.ctx, job.ID, err.Error()); nackErr != nil {
			log.Error().Err(nackErr).Str("job_id", job.ID).Msg("nack failed")
		}
		metrics.JobsFailedTotal.WithLabelValues(job.Family).Inc()
		wp.mu.Lock()
		wp.failed++
		wp.mu.Unlock()
		return
	}

	if ackErr := wp.opts.Store.Ack(wp.ctx, job.ID); ackErr != nil {
		log.Error().Err(ackErr).Str("job_id", job.ID).Msg("ack failed")
	}
	log.Debug().Str("job_id", job.ID).Str("family", job.Family).
		Dur("elapsed", elapsed).Interface("result", result).Msg("job completed")
	metrics.JobsSucceededTotal.WithLabelValues(job.Family).Inc()
	wp.mu.Lock()
	wp.completed++
	wp.mu.Unlock()
}
