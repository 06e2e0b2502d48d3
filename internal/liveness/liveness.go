// Package liveness answers "is the remote still there" from heartbeat
// receipt times. The tracker itself does no I/O and keeps no timer;
// online-ness is always derived from (now - last) < timeout so readers
// on any goroutine get a consistent answer.
package liveness

import (
	"math"
	"time"

	"github.com/aquanaut/thrustctl/helpers/atomic_clock"
)

// Never is returned by SinceLast* when no heartbeat was ever recorded.
const Never = time.Duration(math.MaxInt64)

// DefaultTimeout matches a remote heartbeat period of 0.5-1s.
const DefaultTimeout = 1 * time.Second

type Tracker struct {
	last atomic_clock.Clock
}

// RecordAt stores a heartbeat observed at unix-nano time now.
// Latest write wins.
func (t *Tracker) RecordAt(now int64) { t.last.Set(now) }

// Record stores a heartbeat observed at the current time.
func (t *Tracker) Record() { t.last.SetNow() }

// OnlineAt reports whether a heartbeat was seen within timeout before
// now. False until the first heartbeat is recorded.
func (t *Tracker) OnlineAt(now int64, timeout time.Duration) bool {
	if t.last.IsZero() {
		return false
	}
	return time.Duration(now-t.last.UnixNano()) < timeout
}

func (t *Tracker) Online(timeout time.Duration) bool {
	return t.OnlineAt(atomic_clock.Source(), timeout)
}

// SinceLastAt returns elapsed time from the latest heartbeat to now,
// or Never if none was recorded.
func (t *Tracker) SinceLastAt(now int64) time.Duration {
	if t.last.IsZero() {
		return Never
	}
	return time.Duration(now - t.last.UnixNano())
}

func (t *Tracker) SinceLast() time.Duration {
	return t.SinceLastAt(atomic_clock.Source())
}
