// Passive telemetry service: keeps the session alive, publishes
// online/offline transitions upstream and logs periodic reports.
// Reconnects with backoff after a channel fault. Intended to run
// under systemd.
package monitor

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"

	"github.com/aquanaut/thrustctl/cmd/thrustctl/subcmd"
	"github.com/aquanaut/thrustctl/helpers"
	"github.com/aquanaut/thrustctl/internal/state"
)

const reportInterval = 1 * time.Second
const tripStoreInterval = 1 * time.Minute

var Mod = subcmd.Mod{Name: "monitor", Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)
	g.Log.Debugf("config=%+v", g.Config)

	s, err := g.Session()
	if err != nil {
		return errors.Annotate(err, "monitor")
	}
	subcmd.SdNotify(daemon.SdNotifyReady)
	g.Log.Infof("monitor started topology=%s", g.Config.Remote.Topology)

	report := time.NewTicker(reportInterval)
	defer report.Stop()
	store := time.NewTicker(tripStoreInterval)
	defer store.Stop()
	stopCh := g.Alive.StopChan()
	redial := helpers.Backoff{Min: 1 * time.Second, Max: 1 * time.Minute, K: 2}

	online := false
	for {
		select {
		case <-stopCh:
			return nil

		case <-report.C:
			if s == nil {
				if delay := redial.DelayBefore(); delay > 0 {
					continue
				}
				var err error
				if s, err = g.Session(); err != nil {
					redial.Failure()
					g.Error(err, "monitor redial")
					s = nil
					continue
				}
				redial.Reset()
				g.Log.Infof("monitor session reconnected")
			}
			if s.Disconnected() {
				g.Log.Errorf("monitor session fault: %v", s.LastError())
				if online {
					online = false
					g.Tele.State(false)
				}
				g.CloseSession()
				redial.Failure()
				s = nil
				continue
			}
			now := s.Online()
			if now != online {
				online = now
				g.Log.Infof("remote online=%t", online)
				g.Tele.State(online)
			}
			g.Log.Infof(s.Stats())

		case <-store.C:
			if err := g.Trip.Persist.Store(); err != nil {
				g.Error(err, "trip store")
			}
		}
	}
}
