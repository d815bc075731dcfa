package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and external collaborators
// return these (optionally wrapped) so services can translate them into coded
// domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: record does not exist in the store or on the ledger
// - ErrConflict: a uniqueness constraint rejected the write
// - ErrExpired: credential validity window has passed
// - ErrAlreadyUsed: single-use resource (voting credential) already consumed
// - ErrInvalidState: record in wrong state for the requested transition
// - ErrUnavailable: store or ledger temporarily unreachable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
