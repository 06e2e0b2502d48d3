package link

import (
	"bytes"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
)

// streamEndpoint is the persistent-connection deployment: one TCP
// stream carrying command and status lines. Received bytes are
// buffered and split on \n; a partial line is retained until its
// terminator arrives.
type streamEndpoint struct {
	conn    net.Conn
	poll    time.Duration
	timeout time.Duration
	buf     bytes.Buffer
}

func openStream(cfg Config) (*streamEndpoint, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.DataPort))
	conn, err := net.DialTimeout("tcp", addr, cfg.ConnectTimeout)
	if err != nil {
		return nil, errors.Annotatef(err, "connect %s", addr)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	return &streamEndpoint{
		conn:    conn,
		poll:    cfg.StreamTimeout,
		timeout: cfg.ConnectTimeout,
	}, nil
}

func (e *streamEndpoint) Role() Role          { return RoleData }
func (e *streamEndpoint) LocalAddr() net.Addr { return e.conn.LocalAddr() }
func (e *streamEndpoint) Close() error        { return e.conn.Close() }

func (e *streamEndpoint) Send(b []byte) error {
	_ = e.conn.SetWriteDeadline(time.Now().Add(e.timeout))
	_, err := e.conn.Write(b)
	return errors.Annotate(err, "send stream")
}

func (e *streamEndpoint) Pump(a *alive.Alive, rx chan<- Inbound) {
	chunk := make([]byte, readBufferSize)
	for a.IsRunning() {
		_ = e.conn.SetReadDeadline(time.Now().Add(e.poll))
		n, err := e.conn.Read(chunk)
		if n > 0 {
			e.buf.Write(chunk[:n])
			if !e.flushLines(a, rx) {
				return
			}
		}
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				continue
			}
			if !a.IsRunning() {
				return
			}
			if err == io.EOF {
				err = errors.New("closed by remote")
			}
			deliver(a, rx, Inbound{Role: RoleData, Err: errors.Annotate(err, "recv stream")})
			return
		}
	}
}

func (e *streamEndpoint) flushLines(a *alive.Alive, rx chan<- Inbound) bool {
	for {
		s := e.buf.String()
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			return true
		}
		line := s[:i]
		e.buf.Next(i + 1)
		if !deliver(a, rx, Inbound{Role: RoleData, Line: line, From: e.conn.RemoteAddr()}) {
			return false
		}
	}
}
