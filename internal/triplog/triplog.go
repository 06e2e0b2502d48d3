// Package triplog accumulates per-trip water metering totals and
// keeps them across restarts. The remote reports its own cumulative
// total which resets when the controller reboots; the trip log
// integrates over such resets.
package triplog

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/juju/errors"

	"github.com/aquanaut/thrustctl/internal/persist"
	"github.com/aquanaut/thrustctl/log2"
)

type state struct {
	StartUnix     int64   `json:"start_unix"`
	TotalL        float64 `json:"total_l"`
	MaxVelocityMS float64 `json:"max_velocity_ms"`
	FlowFrames    uint64  `json:"flow_frames"`

	// last cumulative total seen from the remote, to detect resets
	LastRemoteL float64 `json:"last_remote_l"`
}

type Trip struct {
	mu      sync.Mutex
	s       state
	Persist persist.Persist
}

func (t *Trip) Init(root string, enabled bool, log *log2.Log) error {
	if err := t.Persist.Init("trip", t, root, enabled, log); err != nil {
		return errors.Annotate(err, "triplog")
	}
	if err := t.Persist.Load(); err != nil {
		return errors.Annotate(err, "triplog")
	}
	t.mu.Lock()
	if t.s.StartUnix == 0 {
		t.s.StartUnix = time.Now().Unix()
	}
	t.mu.Unlock()
	return nil
}

// Observe folds one flow frame into the trip totals.
// remoteTotalL is the remote's cumulative counter; a drop below the
// previous value means the controller rebooted and restarted from 0.
func (t *Trip) Observe(remoteTotalL, velocityMS float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delta := remoteTotalL - t.s.LastRemoteL
	if delta < 0 {
		// counter reset, the new reading is all fresh volume
		delta = remoteTotalL
	}
	t.s.TotalL += delta
	t.s.LastRemoteL = remoteTotalL
	if velocityMS > t.s.MaxVelocityMS {
		t.s.MaxVelocityMS = velocityMS
	}
	t.s.FlowFrames++
}

// Reset starts a new trip.
func (t *Trip) Reset() {
	t.mu.Lock()
	t.s = state{StartUnix: time.Now().Unix()}
	t.mu.Unlock()
}

func (t *Trip) TotalL() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.s.TotalL
}

func (t *Trip) MaxVelocityMS() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.s.MaxVelocityMS
}

func (t *Trip) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fmt.Sprintf("trip since=%s total=%.3fL max-velocity=%.4fm/s frames=%d",
		time.Unix(t.s.StartUnix, 0).Format(time.RFC3339), t.s.TotalL, t.s.MaxVelocityMS, t.s.FlowFrames)
}

func (t *Trip) MarshalBinary() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return json.Marshal(t.s)
}

func (t *Trip) UnmarshalBinary(b []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return json.Unmarshal(b, &t.s)
}
