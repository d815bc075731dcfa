package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
)

// Limiter applies per-class budgets keyed by client IP.
type Limiter struct {
	store    BucketStore
	policies map[EndpointClass]Policy
	logger   *slog.Logger
}

// NewLimiter creates a limiter. Nil policies fall back to the defaults.
func NewLimiter(store BucketStore, policies map[EndpointClass]Policy, logger *slog.Logger) *Limiter {
	if policies == nil {
		policies = DefaultPolicies()
	}
	return &Limiter{store: store, policies: policies, logger: logger}
}

// CheckIP admits or rejects one request from ip against the class budget.
// An unknown class is admitted; a store failure is admitted and logged.
func (l *Limiter) CheckIP(ctx context.Context, ip string, class EndpointClass) *Result {
	policy, ok := l.policies[class]
	if !ok || policy.Limit <= 0 {
		return &Result{Allowed: true}
	}

	res, err := l.store.Allow(ctx, fmt.Sprintf("%s:%s", class, ip), policy.Limit, policy.Window)
	if err != nil {
		l.logger.Warn("rate limit store unreachable, admitting request",
			slog.String("class", string(class)),
			slog.String("error", err.Error()),
		)
		return &Result{Allowed: true}
	}
	return res
}
