// Package util holds small standalone helpers shared across packages,
// mirroring the teacher's util package role.
package util

import (
	"math/rand"
	"time"
)

// DefaultBackoff returns a delay with an exponential backoff based on
// the number of retries, using gRPC's default jitter (0.2) and growth
// factor (2.0).
func DefaultBackoff(base, maxNS float64, retries int) time.Duration {
	return Backoff(base, maxNS, 0.2, 2.0, retries)
}

// Backoff returns a delay with an exponential backoff based on the
// number of retries: base grows by factor per retry, capped at maxNS,
// then jittered by +/- jitter fraction. Same algorithm used in gRPC.
//
// The teacher re-exports this from an internal v1/util package that
// was not part of the retrieved pack; only its wrapper
// (github.com/open-policy-agent/opa/util) was, so the algorithm itself
// is reimplemented here directly against this module's own path.
func Backoff(base, maxNS, jitter, factor float64, retries int) time.Duration {
	if retries < 0 {
		retries = 0
	}

	backoff, max := base, maxNS
	for backoff < max && retries > 0 {
		backoff *= factor
		retries--
	}
	if backoff > max {
		backoff = max
	}

	backoff *= 1 + jitter*(rand.Float64()*2-1)
	if backoff < 0 {
		return 0
	}
	return time.Duration(backoff)
}
