package tele

import (
	"context"

	tele_config "github.com/aquanaut/thrustctl/internal/tele/config"
	"github.com/aquanaut/thrustctl/log2"
)

// Teler is the upstream telemetry reporting port. Clients publish
// remote state transitions and telemetry readings, they never read
// anything back.
type Teler interface {
	Init(ctx context.Context, log *log2.Log, cfg tele_config.Config) error
	Close()

	// State publishes online/offline transitions. Best effort, may be lost.
	State(online bool)

	// Status/Flow/Error enqueue telemetry, delivered at least once.
	Status(mode string, left, right int)
	Flow(freqHz, rateLMin, velocityMS, totalL float64)
	Error(err error)
}

type stub struct{}

var _ Teler = stub{} // compile-time interface test

func NewStub() Teler { return stub{} }

func (stub) Init(context.Context, *log2.Log, tele_config.Config) error { return nil }
func (stub) Close()                                                    {}
func (stub) State(bool)                                                {}
func (stub) Status(string, int, int)                                   {}
func (stub) Flow(float64, float64, float64, float64)                   {}
func (stub) Error(error)                                               {}

// Telemetry is the queued wire payload, JSON encoded.
type Telemetry struct {
	Device string        `json:"device"`
	Time   int64         `json:"time"`
	Status *StatusReport `json:"status,omitempty"`
	Flow   *FlowReport   `json:"flow,omitempty"`
	Error  string        `json:"error,omitempty"`
}

type StatusReport struct {
	Mode  string `json:"mode"`
	Left  int    `json:"left"`
	Right int    `json:"right"`
}

type FlowReport struct {
	FreqHz     float64 `json:"freq_hz"`
	RateLMin   float64 `json:"rate_lmin"`
	VelocityMS float64 `json:"velocity_ms"`
	TotalL     float64 `json:"total_l"`
}
