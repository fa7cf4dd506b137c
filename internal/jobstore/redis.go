package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// RedisStore is the production Job Store backend. Priority/delay ordering
// lives in per-stream sorted sets; job bodies live in per-job hashes; active
// leases live in a per-stream sorted set scored by lease deadline so expiry
// sweeps are a single ZRANGEBYSCORE rather than a full scan.
type RedisStore struct {
	rdb    *redis.Client
	log    zerolog.Logger
	cb     *gobreaker.CircuitBreaker
	lease  time.Duration
}

// NewRedisStore wires a Store backed by the given Redis client. A circuit
// breaker guards every round trip so a Redis outage surfaces quickly as
// ErrStoreUnavailable instead of piling up blocked callers.
func NewRedisStore(rdb *redis.Client, leaseDuration time.Duration, log zerolog.Logger) *RedisStore {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "jobstore-redis",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		// Queue-level outcomes (nothing ready, paused, unknown id) are normal
		// answers from a healthy Redis and do not count toward tripping.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrEmpty) || errors.Is(err, ErrPaused) ||
				errors.Is(err, ErrNotFound) || errors.Is(err, redis.Nil)
		},
	})
	return &RedisStore{
		rdb:   rdb,
		log:   log.With().Str("component", "jobstore").Logger(),
		cb:    cb,
		lease: leaseDuration,
	}
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// guard runs fn through the circuit breaker, translating a broken-circuit or
// underlying connection failure into ErrStoreUnavailable.
func guard[T any](s *RedisStore, fn func() (T, error)) (T, error) {
	v, err := s.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		var netErr net.Error
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || errors.As(err, &netErr) {
			return zero, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return zero, err
	}
	return v.(T), nil
}

// --- key helpers ---

func jobKey(id string) string           { return "job:" + id }
func waitingKey(stream string) string   { return "stream:" + stream + ":waiting" }
func delayedKey(stream string) string   { return "stream:" + stream + ":delayed" }
func leasesKey(stream string) string    { return "stream:" + stream + ":leases" }
func completedKey(stream string) string { return "stream:" + stream + ":completed" }
func failedKey(stream string) string    { return "stream:" + stream + ":failed" }
func pausedKey(stream string) string    { return "stream:" + stream + ":paused" }
func seqKey(stream string) string       { return "stream:" + stream + ":seq" }
func streamRepeatsKey(stream string) string { return "stream:" + stream + ":repeats" }
func repeatInfoKey(id string) string    { return "repeat:" + id }
func cancelFlagKey(id string) string    { return "cancel:" + id }

// --- marshaling ---

func jobToFields(j *Job) (map[string]any, error) {
	payload, err := json.Marshal(j.Payload)
	if err != nil {
		return nil, err
	}
	f := map[string]any{
		"id":              j.ID,
		"stream":          j.Stream,
		"family":          j.Family,
		"payload":         string(payload),
		"priority":        int(j.Priority),
		"state":           string(j.State),
		"repeat_pattern":  j.RepeatPattern,
		"repeat_id":       j.RepeatID,
		"attempts_made":   j.AttemptsMade,
		"max_attempts":    j.MaxAttempts,
		"backoff_type":    j.Backoff.Type,
		"backoff_base_ms": j.Backoff.BaseMs,
		"last_error":      j.LastError,
		"created_at":      j.CreatedAt.UnixMilli(),
		"updated_at":      j.UpdatedAt.UnixMilli(),
		"progress":        j.Progress,
	}
	if !j.ScheduledAt.IsZero() {
		f["scheduled_at"] = j.ScheduledAt.UnixMilli()
	}
	if !j.CompletedAt.IsZero() {
		f["completed_at"] = j.CompletedAt.UnixMilli()
	}
	return f, nil
}

func fieldsToJob(fields map[string]string) (*Job, error) {
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	j := &Job{
		ID:            fields["id"],
		Stream:        fields["stream"],
		Family:        fields["family"],
		State:         State(fields["state"]),
		RepeatPattern: fields["repeat_pattern"],
		RepeatID:      fields["repeat_id"],
		LastError:     fields["last_error"],
		Progress:      fields["progress"],
		Backoff: Backoff{
			Type: fields["backoff_type"],
		},
	}
	if err := json.Unmarshal([]byte(fields["payload"]), &j.Payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	j.Priority = Priority(atoiDefault(fields["priority"], int(PriorityNormal)))
	j.AttemptsMade = atoiDefault(fields["attempts_made"], 0)
	j.MaxAttempts = atoiDefault(fields["max_attempts"], 3)
	j.Backoff.BaseMs = atoiDefault(fields["backoff_base_ms"], 2000)
	j.CreatedAt = millisToTime(fields["created_at"])
	j.UpdatedAt = millisToTime(fields["updated_at"])
	j.ScheduledAt = millisToTime(fields["scheduled_at"])
	j.CompletedAt = millisToTime(fields["completed_at"])
	return j, nil
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func millisToTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// --- Enqueue / BulkEnqueue ---

func (s *RedisStore) Enqueue(ctx context.Context, stream, family string, payload map[string]any, opts EnqueueOptions) (string, error) {
	return guard(s, func() (string, error) {
		return s.enqueue(ctx, stream, family, payload, opts)
	})
}

func (s *RedisStore) enqueue(ctx context.Context, stream, family string, payload map[string]any, opts EnqueueOptions) (string, error) {
	id := opts.JobID
	if id != "" {
		exists, err := s.rdb.Exists(ctx, jobKey(id)).Result()
		if err != nil {
			return "", err
		}
		if exists == 1 {
			return id, nil
		}
	} else {
		id = uuid.NewString()
	}

	normalizeOpts(&opts)
	now := time.Now()

	j := &Job{
		ID:          id,
		Stream:      stream,
		Family:      family,
		Payload:     payload,
		Priority:    opts.Priority,
		MaxAttempts: opts.MaxAttempts,
		Backoff:     opts.Backoff,
		RepeatID:    opts.RepeatID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if opts.DelayMs > 0 {
		j.State = StateDelayed
		j.ScheduledAt = now.Add(time.Duration(opts.DelayMs) * time.Millisecond)
	} else {
		j.State = StateWaiting
	}

	fields, err := jobToFields(j)
	if err != nil {
		return "", err
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(id), fields)
	if j.State == StateDelayed {
		pipe.ZAdd(ctx, delayedKey(stream), redis.Z{Score: float64(j.ScheduledAt.UnixMilli()), Member: id})
	} else {
		seq := s.rdb.Incr(ctx, seqKey(stream)).Val()
		pipe.ZAdd(ctx, waitingKey(stream), redis.Z{Score: waitingScore(j.Priority, seq), Member: id})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return id, nil
}

func normalizeOpts(opts *EnqueueOptions) {
	if opts.Priority == 0 {
		opts.Priority = PriorityNormal
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff.Type == "" {
		opts.Backoff.Type = "exponential"
	}
	if opts.Backoff.BaseMs == 0 {
		opts.Backoff.BaseMs = 2000
	}
}

func (s *RedisStore) BulkEnqueue(ctx context.Context, stream string, jobs []BulkJob) ([]string, error) {
	return guard(s, func() ([]string, error) {
		return s.bulkEnqueue(ctx, stream, jobs)
	})
}

func (s *RedisStore) bulkEnqueue(ctx context.Context, stream string, jobs []BulkJob) ([]string, error) {
	if len(jobs) == 0 {
		return nil, nil
	}

	now := time.Now()
	ids := make([]string, len(jobs))
	built := make([]*Job, len(jobs))

	for i, bj := range jobs {
		opts := bj.Opts
		normalizeOpts(&opts)
		id := opts.JobID
		if id == "" {
			id = uuid.NewString()
		}
		ids[i] = id

		j := &Job{
			ID:          id,
			Stream:      stream,
			Family:      bj.Family,
			Payload:     bj.Payload,
			Priority:    opts.Priority,
			MaxAttempts: opts.MaxAttempts,
			Backoff:     opts.Backoff,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if opts.DelayMs > 0 {
			j.State = StateDelayed
			j.ScheduledAt = now.Add(time.Duration(opts.DelayMs) * time.Millisecond)
		} else {
			j.State = StateWaiting
		}
		built[i] = j
	}

	// All-or-nothing: queue every HSET/ZADD inside a single MULTI/EXEC so a
	// mid-batch failure leaves none of the jobs visible.
	pipe := s.rdb.TxPipeline()
	seqBase := s.rdb.IncrBy(ctx, seqKey(stream), int64(len(built))).Val() - int64(len(built))
	for i, j := range built {
		fields, err := jobToFields(j)
		if err != nil {
			return nil, err
		}
		pipe.HSet(ctx, jobKey(j.ID), fields)
		if j.State == StateDelayed {
			pipe.ZAdd(ctx, delayedKey(stream), redis.Z{Score: float64(j.ScheduledAt.UnixMilli()), Member: j.ID})
		} else {
			pipe.ZAdd(ctx, waitingKey(stream), redis.Z{Score: waitingScore(j.Priority, seqBase+int64(i)+1), Member: j.ID})
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// --- Dequeue / Ack / Nack ---

func (s *RedisStore) Dequeue(ctx context.Context, stream string) (*Job, error) {
	return guard(s, func() (*Job, error) {
		return s.dequeue(ctx, stream)
	})
}

func (s *RedisStore) dequeue(ctx context.Context, stream string) (*Job, error) {
	paused, err := s.rdb.Exists(ctx, pausedKey(stream)).Result()
	if err != nil {
		return nil, err
	}
	if paused == 1 {
		return nil, ErrPaused
	}

	now := time.Now()
	if err := s.promoteDueDelayed(ctx, stream, now); err != nil {
		return nil, err
	}
	if err := s.requeueExpiredLeases(ctx, stream, now); err != nil {
		return nil, err
	}

	popped, err := s.rdb.ZPopMin(ctx, waitingKey(stream), 1).Result()
	if err != nil {
		return nil, err
	}
	if len(popped) == 0 {
		return nil, ErrEmpty
	}
	id := popped[0].Member.(string)

	j, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	j.State = StateActive
	j.AttemptsMade++
	j.UpdatedAt = now
	if err := s.saveJob(ctx, j); err != nil {
		return nil, err
	}

	leaseDeadline := now.Add(s.lease)
	if err := s.rdb.ZAdd(ctx, leasesKey(stream), redis.Z{Score: float64(leaseDeadline.UnixMilli()), Member: id}).Err(); err != nil {
		return nil, err
	}

	if j.RepeatPattern != "" {
		if err := s.spawnRepeatChild(ctx, j, now); err != nil {
			s.log.Warn().Err(err).Str("job_id", j.ID).Msg("failed to schedule next repeat occurrence")
		}
	}

	return j, nil
}

func (s *RedisStore) promoteDueDelayed(ctx context.Context, stream string, now time.Time) error {
	due, err := s.rdb.ZRangeByScore(ctx, delayedKey(stream), &redis.ZRangeBy{
		Min: "0", Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return err
	}
	for _, id := range due {
		j, err := s.get(ctx, id)
		if err != nil {
			continue
		}
		seq := s.rdb.Incr(ctx, seqKey(stream)).Val()
		pipe := s.rdb.TxPipeline()
		pipe.ZRem(ctx, delayedKey(stream), id)
		pipe.ZAdd(ctx, waitingKey(stream), redis.Z{Score: waitingScore(j.Priority, seq), Member: id})
		j.State = StateWaiting
		j.UpdatedAt = now
		fields, ferr := jobToFields(j)
		if ferr != nil {
			return ferr
		}
		pipe.HSet(ctx, jobKey(id), fields)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisStore) requeueExpiredLeases(ctx context.Context, stream string, now time.Time) error {
	expired, err := s.rdb.ZRangeByScore(ctx, leasesKey(stream), &redis.ZRangeBy{
		Min: "0", Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return err
	}
	for _, id := range expired {
		j, err := s.get(ctx, id)
		if err != nil {
			continue
		}
		seq := s.rdb.Incr(ctx, seqKey(stream)).Val()
		pipe := s.rdb.TxPipeline()
		pipe.ZRem(ctx, leasesKey(stream), id)
		pipe.ZAdd(ctx, waitingKey(stream), redis.Z{Score: waitingScore(j.Priority, seq), Member: id})
		j.State = StateWaiting
		j.UpdatedAt = now
		fields, ferr := jobToFields(j)
		if ferr != nil {
			return ferr
		}
		pipe.HSet(ctx, jobKey(id), fields)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisStore) Ack(ctx context.Context, jobID string) error {
	_, err := guard(s, func() (struct{}, error) {
		return struct{}{}, s.ack(ctx, jobID)
	})
	return err
}

func (s *RedisStore) ack(ctx context.Context, jobID string) error {
	j, err := s.get(ctx, jobID)
	if err != nil {
		return err
	}
	now := time.Now()
	j.State = StateCompleted
	j.CompletedAt = now
	j.UpdatedAt = now

	fields, err := jobToFields(j)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.ZRem(ctx, leasesKey(j.Stream), jobID)
	pipe.HSet(ctx, jobKey(jobID), fields)
	pipe.ZAdd(ctx, completedKey(j.Stream), redis.Z{Score: float64(now.UnixMilli()), Member: jobID})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Nack(ctx context.Context, jobID string, cause string) error {
	_, err := guard(s, func() (struct{}, error) {
		return struct{}{}, s.nack(ctx, jobID, cause)
	})
	return err
}

func (s *RedisStore) nack(ctx context.Context, jobID string, cause string) error {
	j, err := s.get(ctx, jobID)
	if err != nil {
		return err
	}
	now := time.Now()
	j.LastError = cause
	j.UpdatedAt = now

	pipe := s.rdb.TxPipeline()
	pipe.ZRem(ctx, leasesKey(j.Stream), jobID)

	if j.AttemptsMade >= j.MaxAttempts {
		j.State = StateFailed
		fields, ferr := jobToFields(j)
		if ferr != nil {
			return ferr
		}
		pipe.HSet(ctx, jobKey(jobID), fields)
		pipe.ZAdd(ctx, failedKey(j.Stream), redis.Z{Score: float64(now.UnixMilli()), Member: jobID})
	} else {
		delayMs := j.Backoff.BaseMs * (1 << (j.AttemptsMade - 1))
		j.State = StateDelayed
		j.ScheduledAt = now.Add(time.Duration(delayMs) * time.Millisecond)
		fields, ferr := jobToFields(j)
		if ferr != nil {
			return ferr
		}
		pipe.HSet(ctx, jobKey(jobID), fields)
		pipe.ZAdd(ctx, delayedKey(j.Stream), redis.Z{Score: float64(j.ScheduledAt.UnixMilli()), Member: jobID})
	}

	_, err = pipe.Exec(ctx)
	return err
}

// --- reads ---

func (s *RedisStore) Get(ctx context.Context, jobID string) (*Job, error) {
	return guard(s, func() (*Job, error) {
		return s.get(ctx, jobID)
	})
}

func (s *RedisStore) get(ctx context.Context, jobID string) (*Job, error) {
	fields, err := s.rdb.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, err
	}
	return fieldsToJob(fields)
}

func (s *RedisStore) saveJob(ctx context.Context, j *Job) error {
	fields, err := jobToFields(j)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, jobKey(j.ID), fields).Err()
}

// --- Cancel / Retry ---

func (s *RedisStore) Cancel(ctx context.Context, jobID string) error {
	_, err := guard(s, func() (struct{}, error) {
		return struct{}{}, s.cancel(ctx, jobID)
	})
	return err
}

func (s *RedisStore) cancel(ctx context.Context, jobID string) error {
	j, err := s.get(ctx, jobID)
	if err != nil {
		return err
	}

	switch j.State {
	case StateWaiting:
		s.rdb.ZRem(ctx, waitingKey(j.Stream), jobID)
	case StateDelayed:
		s.rdb.ZRem(ctx, delayedKey(j.Stream), jobID)
	case StateActive:
		// Best-effort: set a cooperative cancellation flag the worker checks
		// between external calls. The leased job still runs to its next
		// suspension point; a provider call already initiated is not rolled back.
		s.rdb.Set(ctx, cancelFlagKey(jobID), "1", s.lease)
	default:
		return nil
	}

	j.State = StateCanceled
	j.UpdatedAt = time.Now()
	return s.saveJob(ctx, j)
}

// Canceled reports whether a cooperative cancellation was requested for an
// active job. Worker Pool task loops poll this between external I/O calls.
func (s *RedisStore) Canceled(ctx context.Context, jobID string) bool {
	n, _ := s.rdb.Exists(ctx, cancelFlagKey(jobID)).Result()
	return n == 1
}

// IsCanceled is the Store-interface form of Canceled.
func (s *RedisStore) IsCanceled(ctx context.Context, jobID string) bool {
	return s.Canceled(ctx, jobID)
}

func (s *RedisStore) Retry(ctx context.Context, jobID string) error {
	_, err := guard(s, func() (struct{}, error) {
		return struct{}{}, s.retry(ctx, jobID)
	})
	return err
}

func (s *RedisStore) retry(ctx context.Context, jobID string) error {
	j, err := s.get(ctx, jobID)
	if err != nil {
		return err
	}
	if j.State != StateFailed {
		return fmt.Errorf("jobstore: job %s is not failed, cannot retry", jobID)
	}

	now := time.Now()
	seq := s.rdb.Incr(ctx, seqKey(j.Stream)).Val()

	j.State = StateWaiting
	j.MaxAttempts = j.AttemptsMade + 1 // allow exactly one more pass
	j.LastError = ""
	j.UpdatedAt = now

	pipe := s.rdb.TxPipeline()
	pipe.ZRem(ctx, failedKey(j.Stream), jobID)
	fields, ferr := jobToFields(j)
	if ferr != nil {
		return ferr
	}
	pipe.HSet(ctx, jobKey(jobID), fields)
	pipe.ZAdd(ctx, waitingKey(j.Stream), redis.Z{Score: waitingScore(j.Priority, seq), Member: jobID})
	_, err = pipe.Exec(ctx)
	return err
}

// --- listing / stats / retention / pause ---

func (s *RedisStore) List(ctx context.Context, stream string, state State, r ListRange) ([]*Job, error) {
	return guard(s, func() ([]*Job, error) {
		return s.list(ctx, stream, state, r)
	})
}

func (s *RedisStore) list(ctx context.Context, stream string, state State, r ListRange) ([]*Job, error) {
	if r.Limit <= 0 {
		r.Limit = 50
	}
	start := int64(r.Offset)
	stop := int64(r.Offset + r.Limit - 1)

	var key string
	desc := false
	switch state {
	case StateWaiting:
		key = waitingKey(stream)
	case StateDelayed:
		key = delayedKey(stream)
	case StateActive:
		key = leasesKey(stream)
	case StateCompleted:
		key = completedKey(stream)
		desc = true
	case StateFailed:
		key = failedKey(stream)
		desc = true
	default:
		return nil, fmt.Errorf("jobstore: unsupported list state %q", state)
	}

	var ids []string
	var err error
	if desc {
		ids, err = s.rdb.ZRevRange(ctx, key, start, stop).Result()
	} else {
		ids, err = s.rdb.ZRange(ctx, key, start, stop).Result()
	}
	if err != nil {
		return nil, err
	}

	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		j, err := s.get(ctx, id)
		if err != nil {
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (s *RedisStore) StreamStats(ctx context.Context, stream string) (Stats, error) {
	return guard(s, func() (Stats, error) {
		return s.streamStats(ctx, stream)
	})
}

func (s *RedisStore) streamStats(ctx context.Context, stream string) (Stats, error) {
	pipe := s.rdb.Pipeline()
	waiting := pipe.ZCard(ctx, waitingKey(stream))
	delayed := pipe.ZCard(ctx, delayedKey(stream))
	active := pipe.ZCard(ctx, leasesKey(stream))
	completed := pipe.ZCard(ctx, completedKey(stream))
	failed := pipe.ZCard(ctx, failedKey(stream))
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, err
	}
	return Stats{
		Waiting:   waiting.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

func (s *RedisStore) Clean(ctx context.Context, stream string, state State, graceMs int64, limit int) (int, error) {
	return guard(s, func() (int, error) {
		return s.clean(ctx, stream, state, graceMs, limit)
	})
}

func (s *RedisStore) clean(ctx context.Context, stream string, state State, graceMs int64, limit int) (int, error) {
	var key string
	switch state {
	case StateCompleted:
		key = completedKey(stream)
	case StateFailed:
		key = failedKey(stream)
	default:
		return 0, fmt.Errorf("jobstore: clean only applies to completed/failed, got %q", state)
	}

	cutoff := time.Now().Add(-time.Duration(graceMs) * time.Millisecond).UnixMilli()
	ids, err := s.rdb.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min: "0", Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	removed := 0
	for _, z := range ids {
		id := z.Member.(string)
		pipe := s.rdb.TxPipeline()
		pipe.ZRem(ctx, key, id)
		pipe.Del(ctx, jobKey(id))
		if _, err := pipe.Exec(ctx); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *RedisStore) Pause(ctx context.Context, stream string) error {
	_, err := guard(s, func() (struct{}, error) {
		return struct{}{}, s.rdb.Set(ctx, pausedKey(stream), "1", 0).Err()
	})
	return err
}

func (s *RedisStore) Resume(ctx context.Context, stream string) error {
	_, err := guard(s, func() (struct{}, error) {
		return struct{}{}, s.rdb.Del(ctx, pausedKey(stream)).Err()
	})
	return err
}

func (s *RedisStore) IsPaused(ctx context.Context, stream string) (bool, error) {
	return guard(s, func() (bool, error) {
		n, err := s.rdb.Exists(ctx, pausedKey(stream)).Result()
		return n == 1, err
	})
}

// --- repeats ---

type repeatInfo struct {
	Stream       string `json:"stream"`
	Family       string `json:"family"`
	Payload      map[string]any `json:"payload"`
	Priority     Priority `json:"priority"`
	CronExpr     string `json:"cron_expr"`
	CurrentJobID string `json:"current_job_id"`
	CreatedAt    int64  `json:"created_at"`
}

func (s *RedisStore) RegisterRepeat(ctx context.Context, stream, family string, payload map[string]any, priority Priority, cronExpr string) (*RepeatRegistration, error) {
	return guard(s, func() (*RepeatRegistration, error) {
		return s.registerRepeat(ctx, stream, family, payload, priority, cronExpr)
	})
}

func (s *RedisStore) registerRepeat(ctx context.Context, stream, family string, payload map[string]any, priority Priority, cronExpr string) (*RepeatRegistration, error) {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	repeatID := uuid.NewString()
	now := time.Now()
	next := schedule.Next(now)

	childID, err := s.enqueue(ctx, stream, family, payload, EnqueueOptions{
		Priority: priority,
		DelayMs:  next.Sub(now).Milliseconds(),
		RepeatID: repeatID,
	})
	if err != nil {
		return nil, err
	}
	if err := s.saveRepeatField(ctx, childID, cronExpr, repeatID); err != nil {
		return nil, err
	}

	info := repeatInfo{
		Stream: stream, Family: family, Payload: payload, Priority: priority,
		CronExpr: cronExpr, CurrentJobID: childID, CreatedAt: now.UnixMilli(),
	}
	buf, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, repeatInfoKey(repeatID), buf, 0)
	pipe.SAdd(ctx, streamRepeatsKey(stream), repeatID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	return &RepeatRegistration{
		ID: repeatID, Stream: stream, Family: family, Payload: payload,
		Priority: priority, CronExpr: cronExpr, CurrentJobID: childID, CreatedAt: now,
	}, nil
}

// saveRepeatField stamps repeat_pattern/repeat_id onto a job that was
// enqueued before its owning repeat registration existed.
func (s *RedisStore) saveRepeatField(ctx context.Context, jobID, cronExpr, repeatID string) error {
	return s.rdb.HSet(ctx, jobKey(jobID), map[string]any{
		"repeat_pattern": cronExpr,
		"repeat_id":      repeatID,
	}).Err()
}

func (s *RedisStore) spawnRepeatChild(ctx context.Context, dispatched *Job, now time.Time) error {
	raw, err := s.rdb.Get(ctx, repeatInfoKey(dispatched.RepeatID)).Result()
	if errors.Is(err, redis.Nil) {
		// Repeat was stopped between lease and this point; no new child.
		return nil
	}
	if err != nil {
		return err
	}

	var info repeatInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return err
	}

	schedule, err := cronParser.Parse(info.CronExpr)
	if err != nil {
		return err
	}
	next := schedule.Next(now)

	childID, err := s.enqueue(ctx, info.Stream, info.Family, info.Payload, EnqueueOptions{
		Priority: info.Priority,
		DelayMs:  next.Sub(now).Milliseconds(),
		RepeatID: dispatched.RepeatID,
	})
	if err != nil {
		return err
	}
	if err := s.saveRepeatField(ctx, childID, info.CronExpr, dispatched.RepeatID); err != nil {
		return err
	}

	info.CurrentJobID = childID
	buf, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, repeatInfoKey(dispatched.RepeatID), buf, 0).Err()
}

func (s *RedisStore) ListRepeats(ctx context.Context, stream string) ([]*RepeatRegistration, error) {
	return guard(s, func() ([]*RepeatRegistration, error) {
		return s.listRepeats(ctx, stream)
	})
}

func (s *RedisStore) listRepeats(ctx context.Context, stream string) ([]*RepeatRegistration, error) {
	ids, err := s.rdb.SMembers(ctx, streamRepeatsKey(stream)).Result()
	if err != nil {
		return nil, err
	}

	regs := make([]*RepeatRegistration, 0, len(ids))
	for _, id := range ids {
		raw, err := s.rdb.Get(ctx, repeatInfoKey(id)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var info repeatInfo
		if err := json.Unmarshal([]byte(raw), &info); err != nil {
			return nil, err
		}
		regs = append(regs, &RepeatRegistration{
			ID: id, Stream: info.Stream, Family: info.Family, Payload: info.Payload,
			Priority: info.Priority, CronExpr: info.CronExpr, CurrentJobID: info.CurrentJobID,
			CreatedAt: time.UnixMilli(info.CreatedAt),
		})
	}
	return regs, nil
}

func (s *RedisStore) StopRepeat(ctx context.Context, repeatID string) error {
	_, err := guard(s, func() (struct{}, error) {
		return struct{}{}, s.stopRepeat(ctx, repeatID)
	})
	return err
}

func (s *RedisStore) stopRepeat(ctx context.Context, repeatID string) error {
	raw, err := s.rdb.Get(ctx, repeatInfoKey(repeatID)).Result()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	var info repeatInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return err
	}

	if info.CurrentJobID != "" {
		_ = s.cancel(ctx, info.CurrentJobID) // best-effort; repeat removal is the source of truth
	}

	pipe := s.rdb.TxPipeline()
	pipe.SRem(ctx, streamRepeatsKey(info.Stream), repeatID)
	pipe.Del(ctx, repeatInfoKey(repeatID))
	_, err = pipe.Exec(ctx)
	return err
}
