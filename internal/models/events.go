package models

// RelocationEvent announces that a record moved from a local-only identifier
// to its server-confirmed identifier during reconciliation. Any component that
// cached the old identifier must resolve it through this event.
type RelocationEvent struct {
	OldID string `json:"old_id"`
	NewID string `json:"new_id"`
	At    int64  `json:"at"`
}
