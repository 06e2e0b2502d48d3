package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/juju/errors"

	"github.com/aquanaut/thrustctl/cmd/thrustctl/monitor"
	"github.com/aquanaut/thrustctl/cmd/thrustctl/probe"
	"github.com/aquanaut/thrustctl/cmd/thrustctl/shell"
	"github.com/aquanaut/thrustctl/cmd/thrustctl/subcmd"
	"github.com/aquanaut/thrustctl/internal/state"
	"github.com/aquanaut/thrustctl/internal/tele"
	"github.com/aquanaut/thrustctl/log2"
)

var modules = []subcmd.Mod{
	monitor.Mod,
	probe.Mod,
	shell.Mod,
}

// set by ldflags -X main.BuildVersion
var BuildVersion string = "unknown"

func main() {
	flagConfig := flag.String("config", "thrustctl.hcl", "")
	flagVersion := flag.Bool("version", false, "print build version and exit")
	flag.Parse()
	if *flagVersion {
		fmt.Printf("thrustctl %s\n", BuildVersion)
		return
	}

	log := log2.NewStderr(log2.LInfo)
	if subcmd.SdNotify("start") {
		// under systemd assume journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}
	log.Infof("thrustctl %s", BuildVersion)

	mod, err := subcmd.Parse(flag.Arg(0), modules)
	if err != nil {
		fmt.Fprintf(os.Stderr, "command line error: %v\nusage: thrustctl [-config=path] {monitor|probe|shell}\n", err)
		os.Exit(1)
	}

	config := state.MustReadConfig(log, state.NewOsFullReader(), *flagConfig)
	ctx, g := state.NewContext(log, tele.New())
	g.BuildVersion = BuildVersion

	if err := mod.Main(ctx, config); err != nil {
		g.Stop()
		log.Fatal(errors.ErrorStack(err))
	}
	g.Stop()
}
