package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquanaut/thrustctl/internal/link"
)

func TestGlobalSessionLifecycle(t *testing.T) {
	t.Parallel()

	conf := `
remote { host = "127.0.0.1" topology = "single" keepalive_ms = 50 }
persist { root = "` + t.TempDir() + `" }`
	ctx, g := NewTestContext(t, conf)
	assert.Same(t, g, GetGlobal(ctx))

	s, err := g.Session()
	require.NoError(t, err)
	assert.True(t, s.Running())

	// cached: same session on repeat calls
	s2, err := g.Session()
	require.NoError(t, err)
	assert.Same(t, s, s2)

	g.CloseSession()
	assert.False(t, s.Running())

	// next call dials anew
	s3, err := g.Session()
	require.NoError(t, err)
	assert.NotSame(t, s, s3)

	opt, err := g.Config.SessionOptions()
	require.NoError(t, err)
	assert.Equal(t, link.TopologySingle, opt.Link.Topology)

	g.Stop()
	assert.False(t, s3.Running())
}
