package models

import "time"

type LogStatus string

const (
	LogCompleted LogStatus = "completed"
	LogError     LogStatus = "error"
	LogRetry     LogStatus = "retry"
	LogNoData    LogStatus = "no_data"
)

// ScrapeLogEntry is an append-only audit record, one per
// (item, language, attempt). Never mutated after insert.
type ScrapeLogEntry struct {
	ID             int64
	URLID          int64
	Language       string
	Status         LogStatus
	Duration       time.Duration
	ItemsExtracted int
	ErrorMessage   string
	VPNIP          string
	Timestamp      time.Time
}
