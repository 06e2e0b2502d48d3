package state

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"

	"github.com/aquanaut/thrustctl/internal/session"
	"github.com/aquanaut/thrustctl/internal/tele"
	"github.com/aquanaut/thrustctl/internal/triplog"
	"github.com/aquanaut/thrustctl/log2"
)

type Global struct {
	Alive        *alive.Alive
	BuildVersion string
	Config       *Config
	Log          *log2.Log
	Tele         tele.Teler
	Trip         *triplog.Trip

	lk      sync.Mutex
	session *session.Session
}

const ContextKey = "run/state-global"

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

func NewContext(log *log2.Log, teler tele.Teler) (context.Context, *Global) {
	if log == nil {
		panic("code error NewContext() log=nil")
	}

	g := &Global{
		Alive: alive.NewAlive(),
		Log:   log,
		Tele:  teler,
		Trip:  &triplog.Trip{},
	}
	ctx := context.Background()
	ctx = context.WithValue(ctx, log2.ContextKey, log)
	ctx = context.WithValue(ctx, ContextKey, g)

	return ctx, g
}

// If `Init` fails, consider `Global` is in broken state.
func (g *Global) Init(ctx context.Context, cfg *Config) error {
	g.Config = cfg

	if g.Config.Persist.Root == "" {
		g.Config.Persist.Root = "./tmp-thrustctl-db"
		g.Log.Errorf("config: persist.root=empty changed=%s", g.Config.Persist.Root)
	}
	g.Log.Debugf("config: persist.root=%s", g.Config.Persist.Root)

	// tele is the remote error reporting mechanism, init before anything else
	if g.Config.Tele.PersistPath == "" {
		g.Config.Tele.PersistPath = filepath.Join(g.Config.Persist.Root, "tele")
	}
	g.Config.Tele.BuildVersion = g.BuildVersion
	if err := g.Tele.Init(ctx, g.Log, g.Config.Tele); err != nil {
		return errors.Annotate(err, "tele init")
	}

	if err := g.Trip.Init(g.Config.Persist.Root, true, g.Log); err != nil {
		g.Error(err)
	}

	return nil
}

func (g *Global) MustInit(ctx context.Context, cfg *Config) {
	err := g.Init(ctx, cfg)
	if err != nil {
		g.Log.Fatal(errors.ErrorStack(err))
	}
}

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Errorf(errors.ErrorStack(err))
		g.Tele.Error(err)
	}
}

// Session returns the shared control session, creating and starting
// it on first use. Telemetry and trip accounting are wired into the
// receive hooks here.
func (g *Global) Session() (*session.Session, error) {
	g.lk.Lock()
	defer g.lk.Unlock()
	if g.session != nil {
		return g.session, nil
	}

	opt, err := g.Config.SessionOptions()
	if err != nil {
		return nil, errors.Trace(err)
	}
	opt.OnStatus = func(st session.Status) {
		g.Tele.Status(st.Mode.String(), st.Left, st.Right)
	}
	opt.OnFlow = func(fl session.Flow) {
		g.Trip.Observe(fl.TotalL, fl.VelocityMS)
		g.Tele.Flow(fl.FreqHz, fl.RateLMin, fl.VelocityMS, fl.TotalL)
	}

	s := session.New(g.Log, opt)
	if err := s.Start(); err != nil {
		return nil, errors.Trace(err)
	}
	s.StartKeepalive(g.Config.KeepaliveInterval())
	// handshake: first packet teaches the remote our address
	if err := s.SendPing(); err != nil {
		g.Log.Debugf("session handshake ping err=%v", err)
	}
	g.session = s
	return s, nil
}

// CloseSession stops and forgets the shared session; the next
// Session() call dials anew.
func (g *Global) CloseSession() {
	g.lk.Lock()
	s := g.session
	g.session = nil
	g.lk.Unlock()
	if s != nil {
		s.Stop()
	}
}

// MustSession is for CLI drivers where a session failure is fatal.
func (g *Global) MustSession() *session.Session {
	s, err := g.Session()
	if err != nil {
		g.Log.Fatal(errors.ErrorStack(err))
	}
	return s
}

// Stop shuts down the session, stores trip totals and flushes tele.
func (g *Global) Stop() {
	g.lk.Lock()
	s := g.session
	g.session = nil
	g.lk.Unlock()
	if s != nil {
		g.Tele.State(false)
		s.Stop()
	}
	if err := g.Trip.Persist.Store(); err != nil {
		g.Log.Errorf("trip store err=%v", err)
	}
	g.Alive.Stop()
	g.Alive.Wait()
	g.Tele.Close()
}
