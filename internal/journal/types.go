package journal

import "time"

// Entry is one routed envelope.
type Entry struct {
	EnvelopeID string
	Channel    string
	Type       string // message or progress_update
	Command    string // empty for responses and progress
	Status     string // request, result, error or a progress status
	PeerID     string
	Delivered  int
	Size       int
	RoutedAt   time.Time
}

// Stats are writer counters.
type Stats struct {
	Recorded int64
	Dropped  int64
	Inserted int64
	Flushes  int64
	Errors   int64
	Queue    QueueStats
}
