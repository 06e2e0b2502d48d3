// Link diagnostics: heartbeat rate, command echo and round-trip
// latency against a live controller. Useful after wiring changes and
// firmware updates.
package probe

import (
	"context"
	"sort"
	"time"

	"github.com/juju/errors"

	"github.com/aquanaut/thrustctl/cmd/thrustctl/subcmd"
	"github.com/aquanaut/thrustctl/internal/session"
	"github.com/aquanaut/thrustctl/internal/state"
	"github.com/aquanaut/thrustctl/wire"
)

const (
	heartbeatWindow = 5 * time.Second
	holdPulse       = 1600
	holdTimeout     = 2 * time.Second
	latencyProbes   = 20
	latencyInterval = 100 * time.Millisecond
	burstCount      = 5
	burstInterval   = 20 * time.Millisecond
	burstSettle     = 1 * time.Second
)

var Mod = subcmd.Mod{Name: "probe", Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)

	opt, err := config.SessionOptions()
	if err != nil {
		return errors.Annotate(err, "probe")
	}
	statusCh := make(chan session.Status, 64)
	opt.OnStatus = func(st session.Status) {
		select {
		case statusCh <- st:
		default: // probe fell behind, drop
		}
	}

	s := session.New(g.Log, opt)
	if err := s.Start(); err != nil {
		return errors.Annotate(err, "probe")
	}
	defer s.Stop()
	s.StartKeepalive(config.KeepaliveInterval())

	// handshake so the remote learns our address
	if err := s.SendPing(); err != nil {
		return errors.Annotate(err, "probe handshake")
	}

	probeHeartbeat(g, s)
	if err := probeHold(g, s, statusCh); err != nil {
		g.Error(err, "hold probe")
	}
	probeLatency(g, s, statusCh)
	probeBurst(g, s, statusCh)

	// leave the remote in a safe state
	return s.SendCommand(wire.PulseNeutral, wire.PulseNeutral)
}

func probeHeartbeat(g *state.Global, s *session.Session) {
	g.Log.Infof("heartbeat probe: listening %s", heartbeatWindow)
	before := s.Counters().Heartbeat
	time.Sleep(heartbeatWindow)
	n := s.Counters().Heartbeat - before
	rate := float64(n) / heartbeatWindow.Seconds()
	g.Log.Infof("heartbeat probe: count=%d rate=%.2f/s online=%t", n, rate, s.Online())
}

// probeHold sends one command and waits for the status echo to
// confirm the remote applied it.
func probeHold(g *state.Global, s *session.Session, statusCh <-chan session.Status) error {
	g.Log.Infof("hold probe: command %d %d", holdPulse, holdPulse)
	if err := s.SendCommand(holdPulse, holdPulse); err != nil {
		return err
	}
	deadline := time.After(holdTimeout)
	for {
		select {
		case st := <-statusCh:
			if st.Left == holdPulse && st.Right == holdPulse {
				g.Log.Infof("hold probe: confirmed mode=%s", st.Mode)
				return nil
			}
		case <-deadline:
			return errors.Errorf("hold probe: no echo within %s", holdTimeout)
		}
	}
}

// probeLatency measures command-to-status-echo round trips. Pulse
// values alternate so each echo is attributable to one command.
func probeLatency(g *state.Global, s *session.Session, statusCh <-chan session.Status) {
	g.Log.Infof("latency probe: %d commands at %s", latencyProbes, latencyInterval)
	durations := make([]time.Duration, 0, latencyProbes)

	for i := 0; i < latencyProbes; i++ {
		// distinct value per probe, stays in range
		pulse := wire.PulseNeutral + 10 + i
		tbegin := time.Now()
		if err := s.SendCommand(pulse, pulse); err != nil {
			g.Log.Errorf("latency probe send err=%v", err)
			break
		}
		deadline := time.After(latencyInterval)
	waitEcho:
		for {
			select {
			case st := <-statusCh:
				if st.Left == pulse && st.Right == pulse {
					durations = append(durations, time.Since(tbegin))
					break waitEcho
				}
			case <-deadline:
				break waitEcho
			}
		}
	}

	if len(durations) == 0 {
		g.Log.Errorf("latency probe: no echo received")
		return
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	g.Log.Infof("latency probe: replies=%d/%d min=%s avg=%s median=%s max=%s",
		len(durations), latencyProbes,
		durations[0],
		sum/time.Duration(len(durations)),
		durations[len(durations)/2],
		durations[len(durations)-1])
}

// probeBurst sends commands faster than the remote's accepted spacing
// and reports how many distinct values echo back. The remote rate
// limits to one command per 100ms, so a full burst never lands.
func probeBurst(g *state.Global, s *session.Session, statusCh <-chan session.Status) {
	g.Log.Infof("burst probe: %d commands at %s spacing", burstCount, burstInterval)
	sent := make(map[int]bool, burstCount)
	for i := 0; i < burstCount; i++ {
		pulse := wire.PulseNeutral + 50 + i
		if err := s.SendCommand(pulse, pulse); err != nil {
			g.Log.Errorf("burst probe send err=%v", err)
			return
		}
		sent[pulse] = true
		time.Sleep(burstInterval)
	}

	applied := make(map[int]bool, burstCount)
	deadline := time.After(burstSettle)
collect:
	for {
		select {
		case st := <-statusCh:
			if sent[st.Left] {
				applied[st.Left] = true
			}
		case <-deadline:
			break collect
		}
	}
	g.Log.Infof("burst probe: applied %d of %d (remote rate limit)", len(applied), burstCount)
}
