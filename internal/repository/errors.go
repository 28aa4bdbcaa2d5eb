// Package repository defines the results and sentinel errors shared by the
// storage backends and the services that consume them.
package repository

import "errors"

var (
	// ErrNotFound is returned when no row matches a lookup.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists is returned when an insert loses to an existing row
	// with the same key.
	ErrAlreadyExists = errors.New("record already exists")
)

// RedeemOutcome is the result of the conditional mark-used update on a
// verification code. The update is a single atomic compare-and-set at the
// datastore, never a read followed by a write, so exactly one concurrent
// caller observes Redeemed.
type RedeemOutcome int

const (
	// Redeemed means this caller transitioned is_used from false to true.
	Redeemed RedeemOutcome = iota
	// AlreadyRedeemed means another caller consumed the code first.
	AlreadyRedeemed
)

func (o RedeemOutcome) String() string {
	if o == Redeemed {
		return "redeemed"
	}
	return "already_redeemed"
}
