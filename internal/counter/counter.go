// Package counter records per-chat/per-user activity in a store shared by
// independently running frontend instances. Keys are namespaced per
// instance so two deployments sharing the same store never collide.
package counter

import "fmt"

// Store is the external counter collaborator: atomic increment and read of
// named counters. Implementations must be safe for concurrent use from
// multiple processes.
type Store interface {
	Incr(name string, delta int64) error
	Get(name string) (int64, error)
	All() (map[string]int64, error)
	Close() error
}

// Well-known counter names.
const (
	MessagesIndexed  = "msg_indexed"
	SearchesMade     = "searches"
	BackfillsStarted = "backfills"
)

// ChatKey builds a per-chat counter name.
func ChatKey(name string, chatID int64) string {
	return fmt.Sprintf("%s:chat:%d", name, chatID)
}

// UserKey builds a per-user counter name.
func UserKey(name string, userID int64) string {
	return fmt.Sprintf("%s:user:%d", name, userID)
}
