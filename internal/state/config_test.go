package state

import (
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"

	"github.com/aquanaut/thrustctl/internal/link"
	"github.com/aquanaut/thrustctl/internal/session"
	"github.com/aquanaut/thrustctl/log2"
)

func TestReadConfig(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		input     string
		check     func(testing.TB, *Config)
		expectErr string
	}
	cases := []Case{
		{"empty", "", func(t testing.TB, c *Config) {
			_, err := c.SessionOptions()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "host=empty")
			assert.Equal(t, session.DefaultKeepalive, c.KeepaliveInterval())
		}, ""},

		{"remote",
			`remote { host = "192.168.4.1" topology = "triple" keepalive_ms = 500 }`,
			func(t testing.TB, c *Config) {
				opt, err := c.SessionOptions()
				assert.NoError(t, err)
				assert.Equal(t, "192.168.4.1", opt.Link.Host)
				assert.Equal(t, link.TopologyTriple, opt.Link.Topology)
				assert.Equal(t, time.Second, opt.HeartbeatTimeout)
				assert.Equal(t, 500*time.Millisecond, c.KeepaliveInterval())
			},
			"",
		},

		{"remote-defaults-ports", `remote { host = "10.0.0.7" }`,
			func(t testing.TB, c *Config) {
				opt, err := c.SessionOptions()
				assert.NoError(t, err)
				// zero ports are filled by the link layer on Open
				assert.Equal(t, 0, opt.Link.DataPort)
				assert.Equal(t, link.TopologyDual, opt.Link.Topology)
			}, ""},

		{"remote-bad-topology", `remote { host = "10.0.0.7" topology = "quad" }`,
			func(t testing.TB, c *Config) {
				_, err := c.SessionOptions()
				assert.Error(t, err)
			}, ""},

		{"tele", `
tele {
	enable = true
	device_name = "boat-1"
	mqtt_broker = "tcp://broker.example:1883"
}`,
			func(t testing.TB, c *Config) {
				assert.True(t, c.Tele.Enabled)
				assert.Equal(t, "boat-1", c.Tele.DeviceName)
				assert.Equal(t, "tcp://broker.example:1883", c.Tele.MqttBroker)
			}, ""},

		{"include-optional", `
include "remote-host-9" {}
include "non-exist" { optional = true }`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, "10.9.9.9", c.Remote.Host)
			}, ""},

		{"include-overwrites", `
remote { host = "1.1.1.1" }
include "remote-host-9" {}`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, "10.9.9.9", c.Remote.Host)
			}, ""},

		{"error-syntax", `hello`, nil, "key 'hello' expected start of object"},
		{"error-include-loop", `include "include-loop" {}`, nil, "config include loop: from=include-loop include=include-loop"},
		{"error-include-required", `include "non-exist" {}`, nil, "config required name=non-exist"},
	}
	mkCheck := func(c Case) func(*testing.T) {
		return func(t *testing.T) {
			// log := log2.NewStderr(log2.LDebug) // helps with panics
			log := log2.NewTest(t, log2.LDebug)

			fs := NewMockFullReader(map[string]string{
				"test-inline":   c.input,
				"empty":         "",
				"remote-host-9": `remote { host = "10.9.9.9" }`,
				"include-loop":  `include "include-loop" {}`,
			})
			cfg, err := ReadConfig(log, fs, "test-inline")
			if c.expectErr == "" {
				if err != nil {
					t.Fatalf("error expected=nil actual='%v'", errors.ErrorStack(err))
				}
				if c.check != nil {
					c.check(t, cfg)
				}
			} else {
				if err == nil || !strings.Contains(err.Error(), c.expectErr) {
					t.Fatalf("error expected='%s' actual='%v'", c.expectErr, err)
				}
			}
		}
	}
	for _, c := range cases {
		t.Run(c.name, mkCheck(c))
	}
}
