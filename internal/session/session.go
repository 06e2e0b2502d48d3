// Package session is the control/telemetry engine for one remote
// thruster controller. One background receive loop owns every piece
// of mutable state (snapshots, counters, liveness); callers only use
// the send path and snapshot accessors, both safe from any goroutine.
package session

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"

	"github.com/aquanaut/thrustctl/helpers"
	"github.com/aquanaut/thrustctl/internal/link"
	"github.com/aquanaut/thrustctl/internal/liveness"
	"github.com/aquanaut/thrustctl/log2"
	"github.com/aquanaut/thrustctl/wire"
)

var (
	ErrNotStarted   = fmt.Errorf("session not started")
	ErrDisconnected = fmt.Errorf("session disconnected")
)

// Engine states. Receiving is entered as soon as the receive loop is
// launched; Disconnected is terminal until the next Start.
const (
	stateDisconnected uint32 = iota
	stateConnected
	stateReceiving
)

// Status is the latest remote actuator state.
type Status struct {
	Mode  wire.Mode
	Left  int
	Right int
	At    time.Time
}

// Flow is the latest flow meter reading.
type Flow struct {
	FreqHz     float64
	RateLMin   float64
	VelocityMS float64
	TotalL     float64
	At         time.Time
}

// Counters are cumulative per-session frame counts.
type Counters struct {
	Heartbeat    uint32
	Pong         uint32
	Status       uint32
	Flow         uint32
	Unrecognized uint32
}

type Options struct {
	Link             link.Config
	HeartbeatTimeout time.Duration

	// Hooks run on the receive loop goroutine; keep them short.
	OnStatus       func(Status)
	OnFlow         func(Flow)
	OnUnrecognized func(line string, from net.Addr)
}

type Session struct {
	alive *alive.Alive
	log   *log2.Log
	opt   Options
	set   *link.Set
	state uint32

	mu       sync.Mutex
	status   Status
	statusOk bool
	flow     Flow
	flowOk   bool

	heartbeat liveness.Tracker
	lastErr   helpers.AtomicError

	cHeartbeat    uint32
	cPong         uint32
	cStatus       uint32
	cFlow         uint32
	cUnrecognized uint32
}

func New(log *log2.Log, opt Options) *Session {
	if opt.HeartbeatTimeout == 0 {
		opt.HeartbeatTimeout = liveness.DefaultTimeout
	}
	return &Session{
		log: log,
		opt: opt,
	}
}

// Start opens the channel set and launches the receive loop.
// A bind/connect failure aborts: no goroutines run, nothing leaks.
func (s *Session) Start() error {
	if atomic.LoadUint32(&s.state) != stateDisconnected {
		return errors.Errorf("session already started")
	}
	// after a fault the previous loop may still be winding down
	if s.alive != nil {
		s.alive.Stop()
		s.alive.Wait()
	}

	set, err := link.Open(s.opt.Link, s.log)
	if err != nil {
		return errors.Annotate(err, "session start")
	}
	s.set = set
	s.alive = alive.NewAlive()
	s.lastErr = helpers.AtomicError{}
	atomic.StoreUint32(&s.state, stateConnected)

	set.Start()
	if !s.alive.Add(1) {
		set.Close()
		return link.ErrClosing
	}
	atomic.StoreUint32(&s.state, stateReceiving)
	a := s.alive
	go func() {
		defer a.Done()
		s.recvLoop(a, set)
	}()
	s.log.Debugf("session started topology=%s", set.Topology())
	return nil
}

// Stop signals the receive loop and keepalive, closes all channels
// and waits for both to finish. Safe to call more than once.
func (s *Session) Stop() {
	if s.alive == nil {
		return
	}
	s.alive.Stop()
	s.set.Close()
	s.alive.Wait()
	atomic.StoreUint32(&s.state, stateDisconnected)
}

func (s *Session) Running() bool {
	return atomic.LoadUint32(&s.state) == stateReceiving && s.alive.IsRunning()
}

// Disconnected reports a fatal channel fault; Start anew to recover.
func (s *Session) Disconnected() bool {
	_, set := s.lastErr.Load()
	return set
}

// LastError returns the fault that disconnected the session, if any.
func (s *Session) LastError() error {
	e, _ := s.lastErr.Load()
	return e
}

// SendCommand transmits an actuator command, both pulse widths
// clamped into the accepted range. At-most-once: no retry, UDP gives
// no delivery guarantee and status echo is the acknowledgment.
func (s *Session) SendCommand(left, right int) error {
	if err := s.sendable(); err != nil {
		return err
	}
	return s.set.Send(link.RoleData, wire.FormatCommand(left, right))
}

// SendPing transmits a keepalive/handshake frame. The first packet
// the remote receives teaches it the host address.
func (s *Session) SendPing() error {
	if err := s.sendable(); err != nil {
		return err
	}
	return s.set.Send(link.RolePing, wire.FormatPing())
}

func (s *Session) sendable() error {
	st := atomic.LoadUint32(&s.state)
	if st != stateConnected && st != stateReceiving {
		return ErrNotStarted
	}
	if s.Disconnected() {
		return ErrDisconnected
	}
	return nil
}

func (s *Session) LatestStatus() (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.statusOk
}

func (s *Session) LatestFlow() (Flow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flow, s.flowOk
}

// Online reports remote reachability. Datagram topologies derive it
// from heartbeat receipt; the stream topology has no heartbeat frames
// and equates liveness with a healthy connection.
func (s *Session) Online() bool {
	if s.opt.Link.Topology == link.TopologyStream {
		return s.Running() && !s.Disconnected()
	}
	return s.heartbeat.Online(s.opt.HeartbeatTimeout)
}

// SinceHeartbeat returns elapsed time since the last heartbeat, or
// liveness.Never before the first one.
func (s *Session) SinceHeartbeat() time.Duration {
	return s.heartbeat.SinceLast()
}

func (s *Session) Counters() Counters {
	return Counters{
		Heartbeat:    atomic.LoadUint32(&s.cHeartbeat),
		Pong:         atomic.LoadUint32(&s.cPong),
		Status:       atomic.LoadUint32(&s.cStatus),
		Flow:         atomic.LoadUint32(&s.cFlow),
		Unrecognized: atomic.LoadUint32(&s.cUnrecognized),
	}
}

// Stats renders a human report for CLI drivers.
func (s *Session) Stats() string {
	c := s.Counters()
	since := "never"
	if d := s.SinceHeartbeat(); d != liveness.Never {
		since = d.Truncate(10 * time.Millisecond).String()
	}
	r := fmt.Sprintf("online=%t last-heartbeat=%s counters: heartbeat=%d status=%d flow=%d pong=%d unrecognized=%d",
		s.Online(), since, c.Heartbeat, c.Status, c.Flow, c.Pong, c.Unrecognized)
	if st, ok := s.LatestStatus(); ok {
		r += fmt.Sprintf("\nstatus: mode=%s left=%dus right=%dus age=%s",
			st.Mode, st.Left, st.Right, time.Since(st.At).Truncate(time.Millisecond))
	}
	if fl, ok := s.LatestFlow(); ok {
		r += fmt.Sprintf("\nflow: %.2fHz %.2fL/min %.4fm/s total=%.3fL age=%s",
			fl.FreqHz, fl.RateLMin, fl.VelocityMS, fl.TotalL, time.Since(fl.At).Truncate(time.Millisecond))
	}
	return r
}

// recvLoop is the only writer of snapshots, counters and liveness.
// It takes its own alive and set: a later Start replaces the struct
// fields while this goroutine may still be winding down.
func (s *Session) recvLoop(a *alive.Alive, set *link.Set) {
	stopCh := a.StopChan()
	for {
		select {
		case in := <-set.Recv():
			if in.Err != nil {
				s.log.Errorf("session channel fault: %v", in.Err)
				// release sockets and stop keepalive so the next
				// Start can rebind without a Stop in between
				set.Close()
				a.Stop()
				atomic.StoreUint32(&s.state, stateDisconnected)
				s.lastErr.StoreOnce(in.Err)
				return
			}
			s.handle(in)

		case <-stopCh:
			return
		}
	}
}

func (s *Session) handle(in link.Inbound) {
	// only the stream firmware ever emits legacy mode-less status
	parse := wire.Parse
	if s.opt.Link.Topology == link.TopologyStream {
		parse = wire.ParseLenient
	}
	f := parse(in.Line)
	switch f.Kind {
	case wire.Heartbeat:
		atomic.AddUint32(&s.cHeartbeat, 1)
		s.heartbeat.Record()
		s.log.Debugf("heartbeat #%d from %v", atomic.LoadUint32(&s.cHeartbeat), in.From)

	case wire.Pong:
		atomic.AddUint32(&s.cPong, 1)
		s.log.Debugf("pong from %v", in.From)

	case wire.Status:
		atomic.AddUint32(&s.cStatus, 1)
		st := Status{Mode: f.Mode, Left: f.Left, Right: f.Right, At: time.Now()}
		helpers.WithLock(&s.mu, func() {
			s.status = st
			s.statusOk = true
		})
		if s.opt.OnStatus != nil {
			s.opt.OnStatus(st)
		}

	case wire.Flow:
		atomic.AddUint32(&s.cFlow, 1)
		fl := Flow{FreqHz: f.FreqHz, RateLMin: f.RateLMin, VelocityMS: f.VelocityMS, TotalL: f.TotalL, At: time.Now()}
		helpers.WithLock(&s.mu, func() {
			s.flow = fl
			s.flowOk = true
		})
		if s.opt.OnFlow != nil {
			s.opt.OnFlow(fl)
		}

	default:
		atomic.AddUint32(&s.cUnrecognized, 1)
		if s.opt.OnUnrecognized != nil {
			s.opt.OnUnrecognized(in.Line, in.From)
		} else {
			s.log.Debugf("unrecognized %q from %v", in.Line, in.From)
		}
	}
}
