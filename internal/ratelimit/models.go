// Package ratelimit throttles the public surface per client IP.
//
// Endpoints are grouped into classes with their own budgets: registration
// and redemption are expensive writes with tight limits, status reads are
// cheap and generous, admin login is tight to slow secret guessing. The
// limiter fails open: when the backing store is unreachable the request
// passes, because losing registrations to a limiter outage is worse than
// briefly losing the throttle.
package ratelimit

import "time"

// EndpointClass groups routes sharing one budget.
type EndpointClass string

const (
	ClassRegister   EndpointClass = "register"
	ClassIssue      EndpointClass = "issue"
	ClassRedeem     EndpointClass = "redeem"
	ClassStatus     EndpointClass = "status"
	ClassAdminLogin EndpointClass = "admin_login"
)

// Policy is one class's budget.
type Policy struct {
	Limit  int
	Window time.Duration
}

// DefaultPolicies returns the built-in budgets, overridable via config.
func DefaultPolicies() map[EndpointClass]Policy {
	return map[EndpointClass]Policy{
		ClassRegister:   {Limit: 5, Window: time.Minute},
		ClassIssue:      {Limit: 10, Window: time.Minute},
		ClassRedeem:     {Limit: 10, Window: time.Minute},
		ClassStatus:     {Limit: 60, Window: time.Minute},
		ClassAdminLogin: {Limit: 5, Window: 5 * time.Minute},
	}
}

// Result is one admission decision.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}
