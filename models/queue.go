package models

import "time"

type QueueStatus string

const (
	StatusPending    QueueStatus = "pending"
	StatusProcessing QueueStatus = "processing"
	StatusCompleted  QueueStatus = "completed"
	StatusFailed     QueueStatus = "failed"
)

// QueueItem is one hotel URL waiting to be scraped. The dispatcher claims
// items by flipping pending -> processing; that transition is the only
// double-dispatch guard, so it must happen as a single conditional update.
type QueueItem struct {
	ID         int64
	URL        string
	Status     QueueStatus
	Priority   int
	RetryCount int
	MaxRetries int
	LastError  string
	ScrapedAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Retryable reports whether a failed pass may be re-queued.
func (q *QueueItem) Retryable() bool {
	return q.RetryCount < q.MaxRetries
}
