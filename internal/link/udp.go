package link

import (
	"net"
	"strconv"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
)

// udpEndpoint is one UDP socket with a fixed logical role.
// Data and ping sockets bind an ephemeral local port and address
// datagrams to the remote; the heartbeat socket binds the well-known
// local port the remote broadcasts to and never sends.
type udpEndpoint struct {
	role   Role
	conn   *net.UDPConn
	remote *net.UDPAddr // nil for receive-only
	poll   time.Duration
}

func openUDP(role Role, cfg Config) (*udpEndpoint, error) {
	e := &udpEndpoint{role: role, poll: cfg.PollInterval}

	switch role {
	case RoleData, RolePing:
		port := cfg.DataPort
		if role == RolePing {
			port = cfg.PingPort
		}
		remote, err := net.ResolveUDPAddr("udp", net.JoinHostPort(cfg.Host, strconv.Itoa(port)))
		if err != nil {
			return nil, errors.Annotatef(err, "resolve %s", role)
		}
		e.remote = remote
		e.conn, err = net.ListenUDP("udp", &net.UDPAddr{})
		if err != nil {
			return nil, errors.Annotatef(err, "bind %s", role)
		}

	case RoleHeartbeat:
		var err error
		e.conn, err = net.ListenUDP("udp", &net.UDPAddr{Port: cfg.HeartbeatPort})
		if err != nil {
			return nil, errors.Annotatef(err, "bind %s port=%d", role, cfg.HeartbeatPort)
		}
	}
	return e, nil
}

func (e *udpEndpoint) Role() Role          { return e.role }
func (e *udpEndpoint) LocalAddr() net.Addr { return e.conn.LocalAddr() }
func (e *udpEndpoint) Close() error        { return e.conn.Close() }

func (e *udpEndpoint) Send(b []byte) error {
	if e.remote == nil {
		return errors.Errorf("link %s is receive-only", e.role)
	}
	_, err := e.conn.WriteToUDP(b, e.remote)
	return errors.Annotatef(err, "send %s", e.role)
}

// Pump delivers one Inbound per datagram. Read deadline bounds each
// wait so a stop is noticed within one poll interval. Deadline misses
// are the expected idle case, not errors.
func (e *udpEndpoint) Pump(a *alive.Alive, rx chan<- Inbound) {
	buf := make([]byte, readBufferSize)
	for a.IsRunning() {
		_ = e.conn.SetReadDeadline(time.Now().Add(e.poll))
		n, from, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				continue
			}
			if !a.IsRunning() {
				return
			}
			deliver(a, rx, Inbound{Role: e.role, Err: errors.Annotatef(err, "recv %s", e.role)})
			return
		}
		if !deliver(a, rx, Inbound{Role: e.role, Line: string(buf[:n]), From: from}) {
			return
		}
	}
}

// deliver sends into rx unless the set is stopping; the consumer may
// already be gone then and blocking would stall Close.
func deliver(a *alive.Alive, rx chan<- Inbound, in Inbound) bool {
	select {
	case rx <- in:
		return true
	case <-a.StopChan():
		return false
	}
}
