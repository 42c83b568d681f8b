package core

import "time"

// Change operations, matching the remote store's mutation surface.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// ChangeEvent describes one confirmed mutation of a transaction. It is
// the payload every reconciliation input carries: local mutations,
// cross-process broadcasts and server change notifications all reduce to
// this shape before invalidation.
type ChangeEvent struct {
	Op            string    `json:"op"`
	TransactionID string    `json:"transaction_id"`
	OldDate       time.Time `json:"old_date,omitempty"`
	NewDate       time.Time `json:"new_date,omitempty"`
}

// AffectedKeys returns the cache partitions the change invalidates.
func (e ChangeEvent) AffectedKeys() []string {
	return AffectedKeys(e.OldDate, e.NewDate)
}
