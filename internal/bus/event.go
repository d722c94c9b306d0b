package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kind namespaces. Subscribers filter by prefix, so "transport."
// matches every live update kind.
const (
	KindTransportMessage = "transport.message" // transport.Event payload; added, edited or deleted
	KindIndexUpserted    = "index.upserted"
	KindIndexDeleted     = "index.deleted"
	KindJobProgress      = "job.progress" // backfill progress report
	KindJobDone          = "job.done"
	KindJobFailed        = "job.failed"
	KindStatusChanged    = "daemon.status_changed"
)
