// Package link owns the network endpoints toward the remote thruster
// controller. A Set is 1-3 UDP sockets or one TCP stream depending on
// configured topology; every endpoint is pumped by a reader goroutine
// into a single inbound channel so that exactly one consumer (the
// session receive loop) sees all traffic.
package link

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"

	"github.com/aquanaut/thrustctl/log2"
)

const (
	DefaultDataPort      = 8888
	DefaultHeartbeatPort = 8889
	DefaultPingPort      = 8890

	DefaultPollInterval   = 100 * time.Millisecond
	DefaultConnectTimeout = 5 * time.Second
	DefaultStreamTimeout  = 1 * time.Second

	// Protocol frames fit UDP datagrams well under this.
	readBufferSize = 256
)

var ErrClosing = fmt.Errorf("closing")

// Role is the logical duty of one endpoint.
type Role uint8

const (
	RoleData Role = iota // commands out; status/flow (and more) in
	RolePing             // PING out, PONG in (dedicated socket topologies)
	RoleHeartbeat        // HEARTBEAT in, receive-only
)

func (r Role) String() string {
	switch r {
	case RoleData:
		return "data"
	case RolePing:
		return "ping"
	case RoleHeartbeat:
		return "heartbeat"
	}
	return "invalid"
}

// Topology selects how many endpoints reach the remote and what runs
// on each. This is deployment configuration, not a protocol change.
type Topology uint8

const (
	TopologyInvalid Topology = iota
	// TopologySingle: one UDP socket carries everything.
	TopologySingle
	// TopologyDual: data socket + dedicated heartbeat listener.
	TopologyDual
	// TopologyTriple: data + ping + heartbeat sockets.
	TopologyTriple
	// TopologyStream: one persistent TCP connection, command/status
	// only; liveness is connection-open state.
	TopologyStream
)

func (t Topology) String() string {
	switch t {
	case TopologySingle:
		return "single"
	case TopologyDual:
		return "dual"
	case TopologyTriple:
		return "triple"
	case TopologyStream:
		return "stream"
	}
	return "invalid"
}

func ParseTopology(s string) (Topology, error) {
	switch s {
	case "single":
		return TopologySingle, nil
	case "dual", "":
		return TopologyDual, nil
	case "triple":
		return TopologyTriple, nil
	case "stream", "tcp":
		return TopologyStream, nil
	}
	return TopologyInvalid, errors.NotValidf("topology=%s", s)
}

type Config struct {
	Host          string
	DataPort      int
	PingPort      int
	HeartbeatPort int
	Topology      Topology

	// PollInterval bounds every blocking receive so stop signals are
	// noticed promptly even on silent channels.
	PollInterval   time.Duration
	ConnectTimeout time.Duration // stream dial
	StreamTimeout  time.Duration // stream read deadline after connect
}

func (c *Config) SetDefaults() {
	if c.DataPort == 0 {
		c.DataPort = DefaultDataPort
	}
	if c.HeartbeatPort == 0 {
		c.HeartbeatPort = DefaultHeartbeatPort
	}
	if c.PingPort == 0 {
		c.PingPort = DefaultPingPort
	}
	if c.Topology == TopologyInvalid {
		c.Topology = TopologyDual
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.StreamTimeout == 0 {
		c.StreamTimeout = DefaultStreamTimeout
	}
}

// Inbound is one received frame line, or a fatal endpoint error.
type Inbound struct {
	Role Role
	Line string
	From net.Addr
	Err  error // non-nil means the endpoint died; no Line
}

type endpoint interface {
	Role() Role
	// Pump reads until stop or fatal error, delivering into rx.
	Pump(a *alive.Alive, rx chan<- Inbound)
	Send(b []byte) error
	Close() error
	LocalAddr() net.Addr
}

// Set is the open channel set. Construction is atomic: if any
// endpoint fails to open, previously opened ones are closed and the
// error is returned; a half-open Set never escapes.
type Set struct {
	alive     *alive.Alive
	log       *log2.Log
	cfg       Config
	rx        chan Inbound
	sendMu    sync.Mutex
	endpoints []endpoint
	data      endpoint
	ping      endpoint
}

func Open(cfg Config, log *log2.Log) (*Set, error) {
	cfg.SetDefaults()
	if cfg.Host == "" {
		return nil, errors.NotValidf("link host=empty")
	}

	s := &Set{
		alive: alive.NewAlive(),
		log:   log,
		cfg:   cfg,
		rx:    make(chan Inbound, 32),
	}
	if err := s.open(); err != nil {
		s.closeEndpoints()
		return nil, err
	}
	return s, nil
}

func (s *Set) open() error {
	if s.cfg.Topology == TopologyStream {
		st, err := openStream(s.cfg)
		if err != nil {
			return errors.Annotate(err, "link stream")
		}
		s.endpoints = append(s.endpoints, st)
		s.data = st
		return nil
	}

	data, err := openUDP(RoleData, s.cfg)
	if err != nil {
		return errors.Annotate(err, "link data")
	}
	s.endpoints = append(s.endpoints, data)
	s.data = data

	if s.cfg.Topology == TopologyTriple {
		ping, err := openUDP(RolePing, s.cfg)
		if err != nil {
			return errors.Annotate(err, "link ping")
		}
		s.endpoints = append(s.endpoints, ping)
		s.ping = ping
	}

	if s.cfg.Topology == TopologyDual || s.cfg.Topology == TopologyTriple {
		hb, err := openUDP(RoleHeartbeat, s.cfg)
		if err != nil {
			return errors.Annotate(err, "link heartbeat")
		}
		s.endpoints = append(s.endpoints, hb)
	}
	return nil
}

// Start launches one reader goroutine per endpoint.
func (s *Set) Start() {
	for _, ep := range s.endpoints {
		ep := ep
		if !s.alive.Add(1) {
			return
		}
		go func() {
			defer s.alive.Done()
			ep.Pump(s.alive, s.rx)
		}()
	}
	for _, ep := range s.endpoints {
		s.log.Debugf("link %s local=%v", ep.Role(), ep.LocalAddr())
	}
}

// Recv is the single inbound channel for all endpoints.
func (s *Set) Recv() <-chan Inbound { return s.rx }

// Send writes one frame to the endpoint serving role. RolePing falls
// back to the data endpoint in topologies without a dedicated ping
// socket. Writes are serialized.
func (s *Set) Send(role Role, b []byte) error {
	ep := s.data
	if role == RolePing && s.ping != nil {
		ep = s.ping
	}
	if ep == nil {
		return errors.Errorf("link no endpoint for role=%s", role)
	}
	if !s.alive.IsRunning() {
		return ErrClosing
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return ep.Send(b)
}

// Close stops the pumps and closes every endpoint. Idempotent.
func (s *Set) Close() {
	s.alive.Stop()
	s.closeEndpoints()
	s.alive.Wait()
}

func (s *Set) closeEndpoints() {
	for _, ep := range s.endpoints {
		if err := ep.Close(); err != nil {
			s.log.Debugf("link close %s err=%v", ep.Role(), err)
		}
	}
}

func (s *Set) Topology() Topology { return s.cfg.Topology }
