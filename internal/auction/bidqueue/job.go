package bidqueue

import (
	"time"

	"github.com/cristianortiz/timedAuction/internal/auction/application"
	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Priority orders jobs, lower runs first.
type Priority int

const (
	PriorityBuyNow Priority = iota
	PriorityHigh
	PriorityMedium
)

func (p Priority) String() string {
	switch p {
	case PriorityBuyNow:
		return "buy_now"
	case PriorityHigh:
		return "high"
	default:
		return "medium"
	}
}

// JobState is where a job is in the queue.
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobDelayed   JobState = "delayed"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

func (s JobState) finished() bool { return s == JobCompleted || s == JobFailed }

// JobResult is the outcome of a processed bid.
type JobResult struct {
	BidID         uuid.UUID            `json:"bid_id"`
	IsWinning     bool                 `json:"is_winning"`
	AuctionStatus domain.AuctionStatus `json:"auction_status"`
	HighestBid    decimal.Decimal      `json:"highest_bid"`
	Ended         bool                 `json:"ended"`
}

// Job is a queued bid submission. Copies handed out by the queue are
// snapshots.
type Job struct {
	ID              uuid.UUID               `json:"id"`
	Bid             application.PlaceBidDTO `json:"-"`
	Priority        Priority                `json:"priority"`
	State           JobState                `json:"state"`
	Attempts        int                     `json:"attempts"`
	ConflictRetries int                     `json:"conflict_retries"`
	Result          *JobResult              `json:"result,omitempty"`
	Error           string                  `json:"error,omitempty"`
	ErrorKind       string                  `json:"error_kind,omitempty"`
	EnqueuedAt      time.Time               `json:"enqueued_at"`
	AvailableAt     time.Time               `json:"available_at"`
	StartedAt       *time.Time              `json:"started_at,omitempty"`
	FinishedAt      *time.Time              `json:"finished_at,omitempty"`
	ProcessingTime  time.Duration           `json:"processing_time"`

	seq   uint64
	index int
}

func (j *Job) snapshot() *Job {
	cp := *j
	if j.Result != nil {
		r := *j.Result
		cp.Result = &r
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		cp.FinishedAt = &t
	}
	cp.index = -1
	return &cp
}

// readyHeap orders runnable jobs by priority then submission order.
type readyHeap []*Job

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}
func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *readyHeap) Push(x any) {
	j := x.(*Job)
	j.index = len(*h)
	*h = append(*h, j)
}
func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	j.index = -1
	*h = old[:n-1]
	return j
}

// delayHeap orders delayed jobs by the time they become runnable.
type delayHeap []*Job

func (h delayHeap) Len() int { return len(h) }
func (h delayHeap) Less(i, j int) bool {
	if !h[i].AvailableAt.Equal(h[j].AvailableAt) {
		return h[i].AvailableAt.Before(h[j].AvailableAt)
	}
	return h[i].seq < h[j].seq
}
func (h delayHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *delayHeap) Push(x any) {
	j := x.(*Job)
	j.index = len(*h)
	*h = append(*h, j)
}
func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	j.index = -1
	*h = old[:n-1]
	return j
}
