// Package subscription holds the pure lifecycle rules for client
// subscriptions: the state assigned at creation, the extension law applied
// on purchase, and the expiry predicate. No I/O happens here; the service
// layer applies the results transactionally.
package subscription

import (
	"time"

	"github.com/gatewarden/warden/internal/model"
)

// Policy captures the deployment-wide subscription switches.
type Policy struct {
	// Enabled gates paid subscriptions. When false every new client is
	// created active with no expiry and subscribe calls are rejected.
	Enabled bool

	// TrialEnabled gates the one-shot trial grant for new clients.
	TrialEnabled bool

	// TrialPeriod is the length of the trial grant.
	TrialPeriod time.Duration
}

// Initial describes the lifecycle fields assigned to a new client.
type Initial struct {
	Status    model.SubscriptionStatus
	ExpiresAt *time.Time // nil means no expiry
	TrialUsed bool
}

// InitialState computes the lifecycle fields for a client created at now.
// Admin-created clients bypass the trial machinery entirely.
func (p Policy) InitialState(now time.Time, admin bool) Initial {
	if !p.Enabled || admin {
		return Initial{Status: model.SubscriptionActive}
	}
	if p.TrialEnabled {
		// The grant is only consumed when the trial ends, at purchase or
		// at the expiry sweep.
		expires := now.Add(p.TrialPeriod)
		return Initial{Status: model.SubscriptionTrial, ExpiresAt: &expires}
	}
	// No trial to grant: the client exists but cannot connect until it
	// subscribes.
	expires := now
	return Initial{Status: model.SubscriptionExpired, ExpiresAt: &expires, TrialUsed: true}
}

// Extend computes the new expiry for a subscription purchase of the given
// length. An active, unexpired subscription stacks on top of its current
// expiry; anything else restarts from now.
func Extend(c *model.Client, now time.Time, period time.Duration) time.Time {
	if c.SubscriptionStatus == model.SubscriptionActive && c.ExpiresAt != nil && c.ExpiresAt.After(now) {
		return c.ExpiresAt.Add(period)
	}
	return now.Add(period)
}

// Expired reports whether the client's subscription has lapsed at now.
// A nil expiry never lapses.
func Expired(c *model.Client, now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

// NeedsTeardown reports whether a client's existing peers must be torn down
// before a new subscription activates. Trial and expired clients get fresh
// provisioning; an active client keeps its peers.
func NeedsTeardown(c *model.Client) bool {
	return c.SubscriptionStatus == model.SubscriptionTrial || c.SubscriptionStatus == model.SubscriptionExpired
}
