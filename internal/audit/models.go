// Package audit records what happened to a registration without recording
// who the person is.
//
// Events reference voters only by identity key, never by name or national
// identifier. Recording is fail-open: request paths enqueue and move on, and
// a full pipeline drops events rather than blocking registration or
// redemption.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Action names the domain occurrence an event captures.
type Action string

const (
	ActionRegistered         Action = "voter_registered"
	ActionLedgerDegraded     Action = "ledger_degraded_registration"
	ActionVerified           Action = "voter_verified"
	ActionOrphanDetected     Action = "orphaned_ledger_entry"
	ActionCredentialIssued   Action = "credential_issued"
	ActionCredentialRedeemed Action = "credential_redeemed"
	ActionRedemptionDenied   Action = "redemption_denied"
	ActionReconcilerRepaired Action = "reconciler_repaired"
	ActionAdminLogin         Action = "admin_login"
)

// Event is one audit trail entry. IdentityKey and CredentialID carry the hex
// and UUID string forms; either may be empty when the action predates them.
// ClientIP and UserAgent come from request metadata when the action was
// client-initiated.
type Event struct {
	ID           uuid.UUID
	Action       Action
	IdentityKey  string
	CredentialID string
	Outcome      string
	Detail       string
	RequestID    string
	ClientIP     string
	UserAgent    string
	At           time.Time
}

// New creates an event with a fresh ID and the given occurrence time.
func New(action Action, at time.Time) Event {
	return Event{ID: uuid.New(), Action: action, At: at}
}
