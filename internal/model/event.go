package model

import "time"

// ActivationEvent records what happened to a single activation email so
// failed messages can be replayed by hand.
type ActivationEvent struct {
	// ID is the unique identifier for this event.
	ID string `db:"id" json:"id"`

	// RunID groups all events produced by one process run.
	RunID string `db:"run_id" json:"run_id"`

	// MessageUID is the IMAP UID of the source email.
	MessageUID uint32 `db:"message_uid" json:"message_uid"`

	// Login is empty when extraction failed before a login was known.
	Login string `db:"login" json:"login"`

	// AccountID is empty when no account row was resolved.
	AccountID string `db:"account_id" json:"account_id"`

	// Outcome is the terminal verification outcome, or "failed"/"skipped".
	Outcome string `db:"outcome" json:"outcome"`

	// Detail holds the failure reason, if any.
	Detail string `db:"detail" json:"detail"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
