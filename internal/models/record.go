// Package models provides data model definitions for the fieldsync engine.
package models

import "encoding/json"

// Record is a unit of application data tracked for synchronization.
// The sync engine owns the identifier and sync metadata; the Payload carries
// the business fields (assessment forms, checklist results) and is opaque here.
type Record struct {
	ID        string          `db:"id" json:"id"`
	OwnerID   string          `db:"owner_id" json:"owner_id"`
	Type      string          `db:"record_type" json:"record_type"`
	Status    string          `db:"status" json:"status"`
	Synced    bool            `db:"synced" json:"synced"`
	UpdatedAt int64           `db:"updated_at" json:"updated_at"`
	Payload   json.RawMessage `db:"payload" json:"payload,omitempty"`
}

// TableName returns the table name for Record.
func (Record) TableName() string {
	return "records"
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	out := *r
	if r.Payload != nil {
		out.Payload = make(json.RawMessage, len(r.Payload))
		copy(out.Payload, r.Payload)
	}
	return &out
}
