// Package bidqueue is the high-frequency bid path: submissions are accepted
// immediately as jobs, ordered by priority and processed by a worker pool
// that retries conflicts in-worker and transient failures through the
// queue's own backoff policy.
package bidqueue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/cristianortiz/timedAuction/internal/auction/application"
	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/cristianortiz/timedAuction/internal/shared/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

// Options tunes the queue and its workers.
type Options struct {
	Workers int
	// MaxAttempts bounds the queue level retries of transient failures.
	MaxAttempts int
	// ConflictRetries bounds the in-worker retries of conflicting bids.
	ConflictRetries     int
	ConflictBackoff     time.Duration
	RetryBackoff        time.Duration
	HighValueThreshold  decimal.Decimal
	HighPriorityDelay   time.Duration
	MediumPriorityDelay time.Duration
	// CompletedRetention is how long finished jobs are kept for lookups.
	CompletedRetention time.Duration
	// BacklogThreshold is the waiting count above which Health degrades.
	BacklogThreshold int
	Clock            domain.Clock
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.ConflictRetries <= 0 {
		o.ConflictRetries = 3
	}
	if o.ConflictBackoff <= 0 {
		o.ConflictBackoff = 100 * time.Millisecond
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = time.Second
	}
	if o.HighValueThreshold.IsZero() {
		o.HighValueThreshold = decimal.NewFromInt(1000)
	}
	if o.CompletedRetention <= 0 {
		o.CompletedRetention = time.Hour
	}
	if o.BacklogThreshold <= 0 {
		o.BacklogThreshold = 1000
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// Queue is the in-process bid queue.
type Queue struct {
	opts      Options
	processor *Processor
	notifier  domain.Notifier

	mu      sync.Mutex
	jobs    map[uuid.UUID]*Job
	ready   readyHeap
	delayed delayHeap
	seq     uint64
	paused  bool
	running bool
	active  int

	processed      int
	failedTotal    int
	processingTime time.Duration

	wake   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewQueue(processor *Processor, notifier domain.Notifier, opts Options) *Queue {
	opts = opts.withDefaults()
	return &Queue{
		opts:      opts,
		processor: processor,
		notifier:  notifier,
		jobs:      make(map[uuid.UUID]*Job),
		wake:      make(chan struct{}, opts.Workers),
	}
}

// Start launches the worker pool and the retention janitor.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	ctx, q.cancel = context.WithCancel(ctx)
	q.running = true
	q.mu.Unlock()

	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	q.wg.Add(1)
	go q.janitor(ctx)
	log.Info("Bid queue started", zap.Int("workers", q.opts.Workers))
}

// Stop cancels the workers and waits for in-flight jobs to return.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	cancel := q.cancel
	q.mu.Unlock()

	cancel()
	q.wg.Wait()
	log.Info("Bid queue stopped")
}

// Submit enqueues a bid and returns the job handle right away.
func (q *Queue) Submit(_ context.Context, bid application.PlaceBidDTO) (*Job, error) {
	if bid.Type == "" {
		bid.Type = domain.BidTypeRegular
	}
	if !bid.Type.Valid() {
		return nil, domain.NewError(domain.KindInvalidInput, "unknown bid type %q", bid.Type)
	}
	if !bid.Amount.IsPositive() {
		return nil, domain.NewError(domain.KindInvalidInput, "bid amount must be positive")
	}

	now := q.opts.Clock()
	priority, delay := q.classify(bid)
	job := &Job{
		ID:          uuid.New(),
		Bid:         bid,
		Priority:    priority,
		EnqueuedAt:  now,
		AvailableAt: now.Add(delay),
	}
	job.Bid.Metadata.JobID = job.ID.String()
	if job.Bid.Metadata.Source == "" {
		job.Bid.Metadata.Source = "queue"
	}

	q.mu.Lock()
	q.seq++
	job.seq = q.seq
	q.jobs[job.ID] = job
	q.schedule(job, now)
	snap := job.snapshot()
	q.mu.Unlock()

	q.signal()
	log.Info("Bid job queued",
		zap.String("jobID", job.ID.String()),
		zap.String("auctionID", bid.AuctionID.String()),
		zap.String("bidderID", bid.BidderID.String()),
		zap.String("amount", bid.Amount.String()),
		zap.String("priority", priority.String()),
		zap.Duration("delay", delay),
	)
	return snap, nil
}

// classify assigns priority and the settling delay of a bid.
func (q *Queue) classify(bid application.PlaceBidDTO) (Priority, time.Duration) {
	switch {
	case bid.Type == domain.BidTypeBuyNow:
		return PriorityBuyNow, 0
	case bid.Amount.GreaterThanOrEqual(q.opts.HighValueThreshold):
		return PriorityHigh, q.opts.HighPriorityDelay
	default:
		return PriorityMedium, q.opts.MediumPriorityDelay
	}
}

// schedule puts job on the ready or the delayed heap. Callers hold q.mu.
func (q *Queue) schedule(job *Job, now time.Time) {
	if job.AvailableAt.After(now) {
		job.State = JobDelayed
		heap.Push(&q.delayed, job)
		return
	}
	job.State = JobWaiting
	heap.Push(&q.ready, job)
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// next pops the best runnable job. When nothing is runnable it returns the
// wait until the next delayed job, or a negative wait when there is none.
func (q *Queue) next() (*Job, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.opts.Clock()
	for q.delayed.Len() > 0 && !q.delayed[0].AvailableAt.After(now) {
		job := heap.Pop(&q.delayed).(*Job)
		job.State = JobWaiting
		heap.Push(&q.ready, job)
	}
	if q.paused {
		return nil, -1
	}
	if q.ready.Len() == 0 {
		if q.delayed.Len() == 0 {
			return nil, -1
		}
		return nil, q.delayed[0].AvailableAt.Sub(now)
	}

	job := heap.Pop(&q.ready).(*Job)
	job.State = JobActive
	job.Attempts++
	started := now
	job.StartedAt = &started
	q.active++
	if q.ready.Len() > 0 {
		q.signal()
	}
	return job, 0
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	defer log.Debug("Bid queue worker stopped", zap.Int("worker", id))
	for {
		if ctx.Err() != nil {
			return
		}
		job, wait := q.next()
		if job != nil {
			q.run(ctx, job)
			continue
		}

		if wait < 0 {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
			}
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (q *Queue) run(ctx context.Context, job *Job) {
	q.mu.Lock()
	bid := job.Bid
	attempt := job.Attempts
	q.mu.Unlock()

	log.Debug("Processing bid job",
		zap.String("jobID", job.ID.String()),
		zap.Int("attempt", attempt),
	)
	result, conflicts, err := q.processor.Process(ctx, bid)
	q.finish(job, result, conflicts, err)
}

// finish records the outcome of one attempt and applies the retry policy.
func (q *Queue) finish(job *Job, result *JobResult, conflicts int, err error) {
	q.mu.Lock()
	now := q.opts.Clock()
	q.active--
	job.ConflictRetries += conflicts
	if job.StartedAt != nil {
		job.ProcessingTime += now.Sub(*job.StartedAt)
	}

	retry := err != nil && domain.IsTransient(err) && job.Attempts < q.opts.MaxAttempts
	switch {
	case err == nil:
		job.State = JobCompleted
		job.Result = result
		job.Error, job.ErrorKind = "", ""
	case retry:
		backoff := q.opts.RetryBackoff * time.Duration(1<<(job.Attempts-1))
		job.Error = err.Error()
		job.ErrorKind = domain.KindOf(err).String()
		job.AvailableAt = now.Add(backoff)
		q.schedule(job, now)
	default:
		job.State = JobFailed
		job.Result = result
		job.Error = domain.Reason(err)
		job.ErrorKind = domain.KindOf(err).String()
	}
	if job.State.finished() {
		finished := now
		job.FinishedAt = &finished
		q.processed++
		q.processingTime += job.ProcessingTime
		if job.State == JobFailed {
			q.failedTotal++
		}
	}
	snap := job.snapshot()
	q.mu.Unlock()

	if retry {
		log.Warn("Bid job hit a transient failure, retrying",
			zap.String("jobID", snap.ID.String()),
			zap.Int("attempt", snap.Attempts),
			zap.Time("nextAttemptAt", snap.AvailableAt),
			zap.Error(err),
		)
		q.signal()
		return
	}
	q.notifyOutcome(snap)
}

func (q *Queue) notifyOutcome(job *Job) {
	fields := []zap.Field{
		zap.String("jobID", job.ID.String()),
		zap.String("auctionID", job.Bid.AuctionID.String()),
		zap.Int("attempts", job.Attempts),
		zap.Int("conflictRetries", job.ConflictRetries),
		zap.Duration("processingTime", job.ProcessingTime),
	}
	payload := map[string]any{
		"job_id":           job.ID.String(),
		"attempts":         job.Attempts,
		"conflict_retries": job.ConflictRetries,
		"processing_ms":    job.ProcessingTime.Milliseconds(),
	}
	eventType := domain.EventBidJobCompleted
	if job.State == JobCompleted {
		log.Info("Bid job completed", fields...)
		if job.Result != nil {
			payload["bid_id"] = job.Result.BidID.String()
			payload["is_winning"] = job.Result.IsWinning
		}
	} else {
		eventType = domain.EventBidJobFailed
		log.Warn("Bid job failed", append(fields, zap.String("error", job.Error), zap.String("kind", job.ErrorKind))...)
		payload["error"] = job.Error
		payload["error_kind"] = job.ErrorKind
	}
	if q.notifier == nil {
		return
	}
	ev := domain.NewEvent(eventType, job.Bid.AuctionID, payload, q.opts.Clock())
	if err := q.notifier.NotifyParticipant(context.Background(), job.Bid.BidderID, ev); err != nil {
		log.Warn("Failed to notify bid job outcome", append(fields, zap.Error(err))...)
	}
}

func (q *Queue) janitor(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.opts.CompletedRetention)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := q.Cleanup(q.opts.CompletedRetention); n > 0 {
				log.Info("Cleaned finished bid jobs", zap.Int("removed", n))
			}
		}
	}
}
