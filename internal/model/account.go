package model

import "time"

// ActivationStatus is the tri-state activation flag stored on an account.
type ActivationStatus string

const (
	// ActivationPending means no verification outcome has been recorded yet.
	ActivationPending ActivationStatus = "P"

	// ActivationDone means the remote service reported the account active.
	ActivationDone ActivationStatus = "Y"

	// ActivationRetry means a new activation email was requested and the
	// account will be picked up again when it arrives.
	ActivationRetry ActivationStatus = "N"
)

// Account is a locally tracked remote account awaiting (or past) activation.
type Account struct {
	// ID is assigned by the store on insert.
	ID string `db:"id" json:"id"`

	// Login is the local part of the destination address. Unique.
	Login string `db:"login" json:"login"`

	// Password is the credential used when a new activation email has
	// to be requested through the login form.
	Password string `db:"password" json:"-"`

	// Email is the full destination address of the activation email.
	Email string `db:"email" json:"email"`

	// Activated is the current activation status.
	Activated ActivationStatus `db:"activated" json:"activated"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IsActivated reports whether the account has reached ActivationDone.
func (a Account) IsActivated() bool {
	return a.Activated == ActivationDone
}
