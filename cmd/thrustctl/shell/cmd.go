// Interactive control console for a thruster controller.
package shell

import (
	"context"
	"strconv"
	"strings"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"

	"github.com/aquanaut/thrustctl/cmd/thrustctl/subcmd"
	"github.com/aquanaut/thrustctl/helpers/cli"
	"github.com/aquanaut/thrustctl/internal/state"
	"github.com/aquanaut/thrustctl/wire"
)

const usage = `commands:
- c L R      raw command, pulse widths in microseconds
- fwd N      both thrusters neutral+N (also: forward)
- rev N      both thrusters neutral-N (also: backward)
- left N     turn: left rev, right fwd
- right N    turn: left fwd, right rev
- stop       neutral on both (also: neutral)
- ping       send keepalive now
- status     latest remote status
- flow       latest flow reading
- stats      session counters and liveness
- trip       accumulated trip totals
- trip-reset start a new trip
- help       this text
`

var Mod = subcmd.Mod{Name: "shell", Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)
	g.Log.Debugf("config=%+v", g.Config)

	if _, err := g.Session(); err != nil {
		return errors.Annotate(err, "shell")
	}

	cli.MainLoop("thrustctl-shell", newExecutor(ctx), newCompleter())
	return nil
}

var suggests = []prompt.Suggest{
	{Text: "c", Description: "raw command: c L R"},
	{Text: "fwd", Description: "forward, both neutral+N"},
	{Text: "rev", Description: "reverse, both neutral-N"},
	{Text: "left", Description: "turn left"},
	{Text: "right", Description: "turn right"},
	{Text: "stop", Description: "neutral on both"},
	{Text: "neutral", Description: "neutral on both"},
	{Text: "ping", Description: "send keepalive now"},
	{Text: "status", Description: "latest remote status"},
	{Text: "flow", Description: "latest flow reading"},
	{Text: "stats", Description: "session counters"},
	{Text: "trip", Description: "trip totals"},
	{Text: "trip-reset", Description: "start a new trip"},
	{Text: "help", Description: "show usage"},
}

func newCompleter() func(d prompt.Document) []prompt.Suggest {
	return func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterFuzzy(suggests, d.GetWordBeforeCursor(), true)
	}
}

func newExecutor(ctx context.Context) func(string) {
	g := state.GetGlobal(ctx)

	return func(line string) {
		if err := execute(ctx, line); err != nil {
			g.Log.Errorf(errors.ErrorStack(err))
		}
	}
}

func execute(ctx context.Context, line string) error {
	g := state.GetGlobal(ctx)
	words := strings.Fields(line)
	if len(words) == 0 {
		return nil
	}
	s := g.MustSession()

	switch words[0] {
	case "help", "/help":
		g.Log.Infof(usage)
		return nil

	case "c":
		if len(words) != 3 {
			return errors.Errorf("syntax: c L R")
		}
		left, err := strconv.Atoi(words[1])
		if err != nil {
			return errors.Annotatef(err, "left=%s", words[1])
		}
		right, err := strconv.Atoi(words[2])
		if err != nil {
			return errors.Annotatef(err, "right=%s", words[2])
		}
		return s.SendCommand(left, right)

	case "fwd", "forward", "rev", "backward", "left", "right":
		if len(words) != 2 {
			return errors.Errorf("syntax: %s N", words[0])
		}
		n, err := strconv.Atoi(words[1])
		if err != nil {
			return errors.Annotatef(err, "n=%s", words[1])
		}
		left, right := mix(words[0], n)
		return s.SendCommand(left, right)

	case "stop", "neutral":
		return s.SendCommand(wire.PulseNeutral, wire.PulseNeutral)

	case "ping":
		return s.SendPing()

	case "status":
		if st, ok := s.LatestStatus(); ok {
			g.Log.Infof("mode=%s left=%dus right=%dus", st.Mode, st.Left, st.Right)
		} else {
			g.Log.Infof("no status received yet")
		}
		return nil

	case "flow":
		if fl, ok := s.LatestFlow(); ok {
			g.Log.Infof("%.2fHz %.2fL/min %.4fm/s total=%.3fL", fl.FreqHz, fl.RateLMin, fl.VelocityMS, fl.TotalL)
		} else {
			g.Log.Infof("no flow received yet")
		}
		return nil

	case "stats":
		g.Log.Infof(s.Stats())
		return nil

	case "trip":
		g.Log.Infof(g.Trip.String())
		return nil

	case "trip-reset":
		g.Trip.Reset()
		return g.Trip.Persist.Store()

	default:
		return errors.Errorf("unknown command='%s' try help", words[0])
	}
}

// mix converts a direction word and magnitude into left/right pulses.
func mix(dir string, n int) (int, int) {
	switch dir {
	case "fwd", "forward":
		return wire.PulseNeutral + n, wire.PulseNeutral + n
	case "rev", "backward":
		return wire.PulseNeutral - n, wire.PulseNeutral - n
	case "left":
		return wire.PulseNeutral - n, wire.PulseNeutral + n
	case "right":
		return wire.PulseNeutral + n, wire.PulseNeutral - n
	}
	return wire.PulseNeutral, wire.PulseNeutral
}
