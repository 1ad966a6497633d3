package bidqueue

import (
	"container/heap"
	"fmt"
	"time"

	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Metrics is a point in time view of the queue.
type Metrics struct {
	Waiting           int           `json:"waiting"`
	Delayed           int           `json:"delayed"`
	Active            int           `json:"active"`
	Completed         int           `json:"completed"`
	Failed            int           `json:"failed"`
	Processed         int           `json:"processed"`
	FailedTotal       int           `json:"failed_total"`
	AvgProcessingTime time.Duration `json:"avg_processing_time"`
	Workers           int           `json:"workers"`
	Paused            bool          `json:"paused"`
}

// Health is the queue's self assessment.
type Health struct {
	Healthy bool     `json:"healthy"`
	Issues  []string `json:"issues,omitempty"`
	Metrics Metrics  `json:"metrics"`
}

func (q *Queue) GetJob(id uuid.UUID) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, jobNotFound(id)
	}
	return job.snapshot(), nil
}

func (q *Queue) Metrics() Metrics {
	q.mu.Lock()
	defer q.mu.Unlock()
	m := Metrics{
		Waiting:     q.ready.Len(),
		Delayed:     q.delayed.Len(),
		Active:      q.active,
		Processed:   q.processed,
		FailedTotal: q.failedTotal,
		Workers:     q.opts.Workers,
		Paused:      q.paused,
	}
	for _, job := range q.jobs {
		switch job.State {
		case JobCompleted:
			m.Completed++
		case JobFailed:
			m.Failed++
		}
	}
	if q.processed > 0 {
		m.AvgProcessingTime = q.processingTime / time.Duration(q.processed)
	}
	return m
}

func (q *Queue) Health() Health {
	m := q.Metrics()
	q.mu.Lock()
	running := q.running
	q.mu.Unlock()

	var issues []string
	if !running {
		issues = append(issues, "workers are not running")
	}
	if m.Paused {
		issues = append(issues, "queue is paused")
	}
	if m.Waiting > q.opts.BacklogThreshold {
		issues = append(issues, fmt.Sprintf("backlog of %d jobs exceeds %d", m.Waiting, q.opts.BacklogThreshold))
	}
	if m.Processed >= 10 && m.FailedTotal*2 > m.Processed {
		issues = append(issues, fmt.Sprintf("%d of %d processed jobs failed", m.FailedTotal, m.Processed))
	}
	return Health{Healthy: len(issues) == 0, Issues: issues, Metrics: m}
}

// Retry puts a failed job back in the queue with fresh attempt counters.
func (q *Queue) Retry(id uuid.UUID) (*Job, error) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return nil, jobNotFound(id)
	}
	if job.State != JobFailed {
		q.mu.Unlock()
		return nil, domain.NewError(domain.KindInvalidState, "job %s is %s, only failed jobs can be retried", id, job.State)
	}
	now := q.opts.Clock()
	job.Attempts = 0
	job.ConflictRetries = 0
	job.Error, job.ErrorKind = "", ""
	job.Result = nil
	job.StartedAt, job.FinishedAt = nil, nil
	job.ProcessingTime = 0
	job.AvailableAt = now
	q.schedule(job, now)
	snap := job.snapshot()
	q.mu.Unlock()

	q.signal()
	log.Info("Bid job requeued", zap.String("jobID", id.String()))
	return snap, nil
}

// Remove drops a job that is not being processed.
func (q *Queue) Remove(id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return jobNotFound(id)
	}
	switch job.State {
	case JobActive:
		return domain.NewError(domain.KindInvalidState, "job %s is being processed", id)
	case JobWaiting:
		heap.Remove(&q.ready, job.index)
	case JobDelayed:
		heap.Remove(&q.delayed, job.index)
	}
	delete(q.jobs, id)
	log.Info("Bid job removed", zap.String("jobID", id.String()), zap.String("state", string(job.State)))
	return nil
}

// Cleanup drops finished jobs older than grace and returns how many went.
func (q *Queue) Cleanup(grace time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := q.opts.Clock().Add(-grace)
	removed := 0
	for id, job := range q.jobs {
		if job.State.finished() && job.FinishedAt != nil && !job.FinishedAt.After(cutoff) {
			delete(q.jobs, id)
			removed++
		}
	}
	return removed
}

// Pause stops workers from taking new jobs; in-flight jobs finish.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
	log.Info("Bid queue paused")
}

func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	// one signal per worker, each of them may be parked
	for i := 0; i < q.opts.Workers; i++ {
		q.signal()
	}
	log.Info("Bid queue resumed")
}

func jobNotFound(id uuid.UUID) error {
	return domain.NewError(domain.KindNotFound, "bid job %s not found", id)
}
