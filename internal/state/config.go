package state

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"

	"github.com/aquanaut/thrustctl/helpers"
	"github.com/aquanaut/thrustctl/internal/link"
	"github.com/aquanaut/thrustctl/internal/liveness"
	"github.com/aquanaut/thrustctl/internal/session"
	tele_config "github.com/aquanaut/thrustctl/internal/tele/config"
	"github.com/aquanaut/thrustctl/log2"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	Remote struct {
		Host               string `hcl:"host"`
		DataPort           int    `hcl:"data_port"`
		PingPort           int    `hcl:"ping_port"`
		HeartbeatPort      int    `hcl:"heartbeat_port"`
		Topology           string `hcl:"topology"`
		HeartbeatTimeoutMs int    `hcl:"heartbeat_timeout_ms"`
		KeepaliveMs        int    `hcl:"keepalive_ms"`
	} `hcl:"remote"`

	Persist struct {
		Root string `hcl:"root"`
	} `hcl:"persist"`

	Tele tele_config.Config `hcl:"tele"`

	_copy_guard sync.Mutex //nolint:unused
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

// SessionOptions translates config into engine options.
func (c *Config) SessionOptions() (session.Options, error) {
	topology, err := link.ParseTopology(c.Remote.Topology)
	if err != nil {
		return session.Options{}, errors.Annotate(err, "config remote")
	}
	if c.Remote.Host == "" {
		return session.Options{}, errors.NotValidf("config remote host=empty")
	}
	opt := session.Options{
		Link: link.Config{
			Host:          c.Remote.Host,
			DataPort:      c.Remote.DataPort,
			PingPort:      c.Remote.PingPort,
			HeartbeatPort: c.Remote.HeartbeatPort,
			Topology:      topology,
		},
		HeartbeatTimeout: time.Duration(c.Remote.HeartbeatTimeoutMs) * time.Millisecond,
	}
	if opt.HeartbeatTimeout == 0 {
		opt.HeartbeatTimeout = liveness.DefaultTimeout
	}
	return opt, nil
}

func (c *Config) KeepaliveInterval() time.Duration {
	if c.Remote.KeepaliveMs == 0 {
		return session.DefaultKeepalive
	}
	return time.Duration(c.Remote.KeepaliveMs) * time.Millisecond
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		log.Fatalf("config duplicate source=%s", source.Name)
	} else {
		log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	}
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
			return
		}
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s content='%s'", source.Name, string(bs))
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		log.Fatal("code error [Must]ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
