package types

import "time"

// KnownMessages maps each already-stored Message-ID of one account/folder
// to the read flag last persisted for it.
type KnownMessages map[string]bool

// ReadUpdate is a read-flag change observed on the server for a known message
type ReadUpdate struct {
	MessageID string `json:"message_id"`
	UID       string `json:"uid"`
	Read      bool   `json:"read"`
}

// SyncResult is the outcome of one folder sync. The caller persists
// New and Updated together; nothing is retained between syncs.
type SyncResult struct {
	Account      string       `json:"account"`
	Folder       string       `json:"folder"`
	NewCount     int          `json:"new_count"`
	UpdatedCount int          `json:"updated_count"`
	Failed       int          `json:"failed"`
	SyncedAt     time.Time    `json:"synced_at"`
	New          []Message    `json:"new,omitempty"`
	Updated      []ReadUpdate `json:"updated,omitempty"`
}
