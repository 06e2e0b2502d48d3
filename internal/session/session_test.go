package session

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquanaut/thrustctl/internal/link"
	"github.com/aquanaut/thrustctl/internal/liveness"
	"github.com/aquanaut/thrustctl/log2"
	"github.com/aquanaut/thrustctl/wire"
)

// fakeRemote plays the controller side over loopback UDP: waits for
// the handshake packet to learn the client address, then serves
// scripted replies.
type fakeRemote struct {
	t    testing.TB
	conn *net.UDPConn
}

func newFakeRemote(t testing.TB) *fakeRemote {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &fakeRemote{t: t, conn: conn}
}

func (r *fakeRemote) port() int { return r.conn.LocalAddr().(*net.UDPAddr).Port }

func (r *fakeRemote) read() (string, *net.UDPAddr) {
	buf := make([]byte, 256)
	require.NoError(r.t, r.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, from, err := r.conn.ReadFromUDP(buf)
	require.NoError(r.t, err)
	return string(buf[:n]), from
}

func (r *fakeRemote) send(to *net.UDPAddr, lines ...string) {
	for _, s := range lines {
		_, err := r.conn.WriteToUDP([]byte(s+"\n"), to)
		require.NoError(r.t, err)
	}
}

func newTestSession(t testing.TB, remote *fakeRemote) *Session {
	log := log2.NewTest(t, log2.LDebug)
	log.SetFlags(log2.LTestFlags)
	return New(log, Options{
		Link: link.Config{
			Host:     "127.0.0.1",
			DataPort: remote.port(),
			Topology: link.TopologySingle,
		},
	})
}

func waitFor(t testing.TB, what string, f func() bool) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestSessionReceiveAndDispatch(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote(t)
	s := newTestSession(t, remote)
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.False(t, s.Online())
	assert.Equal(t, liveness.Never, s.SinceHeartbeat())

	// handshake teaches the remote our address
	require.NoError(t, s.SendPing())
	line, client := remote.read()
	assert.Equal(t, "PING\n", line)

	// mode-less status is a stream-firmware artifact, over UDP it is noise
	remote.send(client, "PONG", "HEARTBEAT", "S 1 1500 1600", "F 10.5 2.3 0.15 4.200", "S 1234 1234", "bogus")

	waitFor(t, "all frames counted", func() bool {
		c := s.Counters()
		return c.Pong == 1 && c.Heartbeat == 1 && c.Status == 1 && c.Flow == 1 && c.Unrecognized == 2
	})

	assert.True(t, s.Online())
	assert.Less(t, int64(s.SinceHeartbeat()), int64(2*time.Second))

	st, ok := s.LatestStatus()
	require.True(t, ok)
	assert.Equal(t, wire.ModeNetwork, st.Mode)
	assert.Equal(t, 1500, st.Left)
	assert.Equal(t, 1600, st.Right)
	assert.False(t, st.At.IsZero())

	fl, ok := s.LatestFlow()
	require.True(t, ok)
	assert.Equal(t, 10.5, fl.FreqHz)
	assert.Equal(t, 2.3, fl.RateLMin)
	assert.Equal(t, 0.15, fl.VelocityMS)
	assert.Equal(t, 4.2, fl.TotalL)

	// latest write wins
	remote.send(client, "S 0 1400 1400")
	waitFor(t, "status overwrite", func() bool {
		st, _ := s.LatestStatus()
		return st.Left == 1400
	})
	st, _ = s.LatestStatus()
	assert.Equal(t, wire.ModeManual, st.Mode)
}

func TestSessionSendCommandClamps(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote(t)
	s := newTestSession(t, remote)
	require.NoError(t, s.Start())
	defer s.Stop()

	require.NoError(t, s.SendCommand(2500, 100))
	line, _ := remote.read()
	assert.Equal(t, "C 1900 1100\n", line)

	require.NoError(t, s.SendCommand(1500, 1600))
	line, _ = remote.read()
	assert.Equal(t, "C 1500 1600\n", line)
}

func TestSessionKeepalive(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote(t)
	s := newTestSession(t, remote)
	require.NoError(t, s.Start())
	defer s.Stop()

	s.StartKeepalive(20 * time.Millisecond)
	for i := 0; i < 2; i++ {
		line, _ := remote.read()
		assert.Equal(t, "PING\n", line)
	}
}

func TestSessionNotStarted(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote(t)
	s := newTestSession(t, remote)
	assert.Equal(t, ErrNotStarted, s.SendCommand(1500, 1500))
	assert.Equal(t, ErrNotStarted, s.SendPing())
	_, ok := s.LatestStatus()
	assert.False(t, ok)
	assert.False(t, s.Online())
}

func TestSessionStopIdempotent(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote(t)
	s := newTestSession(t, remote)
	require.NoError(t, s.Start())
	s.Stop()
	s.Stop()
	assert.Equal(t, ErrNotStarted, s.SendCommand(1500, 1500))
}

func TestSessionStartBindConflict(t *testing.T) {
	t.Parallel()

	taken, err := net.ListenUDP("udp", &net.UDPAddr{})
	require.NoError(t, err)
	defer taken.Close()

	log := log2.NewTest(t, log2.LDebug)
	s := New(log, Options{
		Link: link.Config{
			Host:          "127.0.0.1",
			DataPort:      taken.LocalAddr().(*net.UDPAddr).Port,
			HeartbeatPort: taken.LocalAddr().(*net.UDPAddr).Port,
			Topology:      link.TopologyDual,
		},
	})
	err = s.Start()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "heartbeat"))
	// construction failed cleanly: session stays unusable but calm
	s.Stop()
	assert.Equal(t, ErrNotStarted, s.SendPing())
}

func TestSessionStreamFaultReleasesLink(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	accepted := make(chan net.Conn, 2)
	go func() {
		for i := 0; i < 2; i++ {
			c, aerr := ln.Accept()
			if aerr != nil {
				return
			}
			accepted <- c
		}
	}()
	accept := func() net.Conn {
		select {
		case c := <-accepted:
			t.Cleanup(func() { c.Close() })
			return c
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for connect")
			return nil
		}
	}

	log := log2.NewTest(t, log2.LDebug)
	log.SetFlags(log2.LTestFlags)
	s := New(log, Options{
		Link: link.Config{
			Host:     "127.0.0.1",
			DataPort: ln.Addr().(*net.TCPAddr).Port,
			Topology: link.TopologyStream,
		},
	})
	require.NoError(t, s.Start())

	// remote drops the connection: session must notice the fault and
	// release the dead link by itself
	accept().Close()
	waitFor(t, "fault detected", func() bool { return s.Disconnected() })
	require.Error(t, s.LastError())
	assert.Error(t, s.SendCommand(1500, 1500))
	assert.False(t, s.Online())

	// no Stop in between: a fresh Start dials anew and works
	require.NoError(t, s.Start())
	defer s.Stop()
	assert.False(t, s.Disconnected())

	conn := accept()
	require.NoError(t, s.SendCommand(1400, 1600))
	buf := make([]byte, 64)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "C 1400 1600\n", string(buf[:n]))

	// stream firmware may still send the mode-less status form
	_, err = conn.Write([]byte("S 1450 1550\n"))
	require.NoError(t, err)
	waitFor(t, "status after restart", func() bool {
		st, ok := s.LatestStatus()
		return ok && st.Left == 1450
	})
	st, _ := s.LatestStatus()
	assert.Equal(t, wire.ModeUnknown, st.Mode)
	assert.True(t, s.Online())
}

func TestSessionUnrecognizedHook(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote(t)
	log := log2.NewTest(t, log2.LDebug)
	got := make(chan string, 1)
	s := New(log, Options{
		Link: link.Config{
			Host:     "127.0.0.1",
			DataPort: remote.port(),
			Topology: link.TopologySingle,
		},
		OnUnrecognized: func(line string, _ net.Addr) { got <- line },
	})
	require.NoError(t, s.Start())
	defer s.Stop()

	require.NoError(t, s.SendPing())
	_, client := remote.read()
	remote.send(client, "whatever this is")

	select {
	case line := <-got:
		assert.Equal(t, "whatever this is\n", line)
	case <-time.After(2 * time.Second):
		t.Fatal("unrecognized hook not called")
	}
}
