// Package liveness derives a cluster's user-facing operational status from
// its last recorded container status and handshake age. The evaluation is a
// read-time projection only; the downgraded value is never written back to
// the durable store or the cache.
package liveness

import "time"

// Effective status values reported to clients. ContainerRunning is the only
// raw value the evaluator downgrades; any other reported status passes
// through unchanged.
const (
	StatusUnknown = "unknown"
	StatusStale   = "stale"

	ContainerRunning = "running"
)

// Evaluator turns raw cluster facts into a freshness judgment.
type Evaluator struct {
	// Threshold is the maximum handshake age before a running cluster is
	// reported stale. Matches the peer status TTL.
	Threshold time.Duration

	// Location is the reference time zone handshake timestamps are
	// normalized to before subtraction.
	Location *time.Location

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// NewEvaluator creates an Evaluator with the given staleness threshold and
// reference time zone.
func NewEvaluator(threshold time.Duration, loc *time.Location) *Evaluator {
	if loc == nil {
		loc = time.UTC
	}
	return &Evaluator{Threshold: threshold, Location: loc, Now: time.Now}
}

// EffectiveStatus computes the status reported to clients.
//
// A missing container status is reported as "unknown". A "running" status
// with no handshake on record, or with a handshake older than the
// threshold, is downgraded to "stale". Everything else passes through.
func (e *Evaluator) EffectiveStatus(containerStatus *string, lastHandshake *time.Time) string {
	if containerStatus == nil || *containerStatus == "" {
		return StatusUnknown
	}
	status := *containerStatus
	if status != ContainerRunning {
		return status
	}
	if lastHandshake == nil {
		return StatusStale
	}

	now := e.Now().In(e.Location)
	age := now.Sub(lastHandshake.In(e.Location))
	if age > e.Threshold {
		return StatusStale
	}
	return status
}
