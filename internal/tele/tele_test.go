package tele

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/spq"

	tele_config "github.com/aquanaut/thrustctl/internal/tele/config"
	"github.com/aquanaut/thrustctl/log2"
)

// mockTransport records payloads in memory; fail makes SendTelemetry
// refuse delivery so the queue retries.
type mockTransport struct {
	mu          sync.Mutex
	state       [][]byte
	tele        chan []byte
	fail        bool
	initCalled  bool
	closeCalled bool
}

func newMockTransport() *mockTransport {
	return &mockTransport{tele: make(chan []byte, 16)}
}

func (m *mockTransport) Init(context.Context, *log2.Log, tele_config.Config) error {
	m.mu.Lock()
	m.initCalled = true
	m.mu.Unlock()
	return nil
}

func (m *mockTransport) Close() {
	m.mu.Lock()
	m.closeCalled = true
	m.mu.Unlock()
}

func (m *mockTransport) SendState(payload []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = append(m.state, append([]byte(nil), payload...))
	return true
}

func (m *mockTransport) SendTelemetry(payload []byte) bool {
	m.mu.Lock()
	fail := m.fail
	m.mu.Unlock()
	if fail {
		return false
	}
	m.tele <- append([]byte(nil), payload...)
	return true
}

func (m *mockTransport) setFail(f bool) {
	m.mu.Lock()
	m.fail = f
	m.mu.Unlock()
}

func (m *mockTransport) states() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.state...)
}

func newTestTele(t testing.TB, trans Transporter) Teler {
	log := log2.NewTest(t, log2.LDebug)
	log.SetFlags(log2.LTestFlags)
	teler := NewWithTransporter(trans)
	require.NoError(t, teler.Init(context.Background(), log, tele_config.Config{
		Enabled:     true,
		DeviceName:  "test-rig",
		PersistPath: spq.OnlyForTesting,
	}))
	t.Cleanup(teler.Close)
	return teler
}

func receiveTelemetry(t testing.TB, trans *mockTransport) Telemetry {
	select {
	case payload := <-trans.tele:
		var tm Telemetry
		require.NoError(t, json.Unmarshal(payload, &tm))
		return tm
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for telemetry")
		return Telemetry{}
	}
}

func TestTeleStatusDelivered(t *testing.T) {
	t.Parallel()

	trans := newMockTransport()
	teler := newTestTele(t, trans)

	teler.Status("NETWORK", 1500, 1600)
	tm := receiveTelemetry(t, trans)
	assert.Equal(t, "test-rig", tm.Device)
	assert.NotZero(t, tm.Time)
	require.NotNil(t, tm.Status)
	assert.Equal(t, "NETWORK", tm.Status.Mode)
	assert.Equal(t, 1500, tm.Status.Left)
	assert.Equal(t, 1600, tm.Status.Right)
	assert.Nil(t, tm.Flow)

	teler.Flow(10.5, 2.3, 0.15, 4.2)
	tm = receiveTelemetry(t, trans)
	require.NotNil(t, tm.Flow)
	assert.Equal(t, 2.3, tm.Flow.RateLMin)
	assert.Equal(t, 4.2, tm.Flow.TotalL)
}

func TestTeleRetryAfterTransportFailure(t *testing.T) {
	t.Parallel()

	trans := newMockTransport()
	trans.setFail(true)
	teler := newTestTele(t, trans)

	teler.Status("MANUAL", 1500, 1500)
	time.Sleep(50 * time.Millisecond)
	trans.setFail(false)

	tm := receiveTelemetry(t, trans)
	require.NotNil(t, tm.Status)
	assert.Equal(t, "MANUAL", tm.Status.Mode)
}

func TestTeleState(t *testing.T) {
	t.Parallel()

	trans := newMockTransport()
	teler := newTestTele(t, trans)

	teler.State(true)
	teler.State(false)
	states := trans.states()
	// Init publishes offline first
	require.Len(t, states, 3)
	assert.Equal(t, []byte{0x00}, states[0])
	assert.Equal(t, []byte{0x01}, states[1])
	assert.Equal(t, []byte{0x00}, states[2])
}

func TestTeleDisabledIsNoop(t *testing.T) {
	t.Parallel()

	trans := newMockTransport()
	log := log2.NewTest(t, log2.LDebug)
	teler := NewWithTransporter(trans)
	require.NoError(t, teler.Init(context.Background(), log, tele_config.Config{Enabled: false}))
	defer teler.Close()

	teler.State(true)
	teler.Status("MANUAL", 1500, 1500)
	teler.Error(nil)
	teler.Close()
	assert.Empty(t, trans.states())
	assert.Empty(t, trans.tele)

	// disabled tele must not touch the transport at all
	trans.mu.Lock()
	defer trans.mu.Unlock()
	assert.False(t, trans.initCalled)
	assert.False(t, trans.closeCalled)
}
