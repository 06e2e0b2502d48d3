package tele

import (
	"context"
	"encoding/json"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/spq"

	tele_config "github.com/aquanaut/thrustctl/internal/tele/config"
	"github.com/aquanaut/thrustctl/log2"
)

const DefaultNetworkTimeout = 30 * time.Second

// Tele contract:
// - Init() fails only with invalid config, network issues ignored
// - Status/Flow/Error block at most for a disk write; the network may
//   be slow or absent, messages are delivered in background
// - Close() blocks until the queue is flushed to disk
// - Telemetry messages delivered at least once
// - State messages may be lost
type tele struct {
	config    tele_config.Config
	log       *log2.Log
	transport Transporter
	q         *spq.Queue
	stopCh    chan struct{}
	device    string
}

func New() Teler { return &tele{} }

func NewWithTransporter(trans Transporter) Teler { return &tele{transport: trans} }

func (self *tele) Init(ctx context.Context, log *log2.Log, teleConfig tele_config.Config) error {
	self.config = teleConfig
	self.log = log
	if self.config.LogDebug {
		self.log.SetLevel(log2.LDebug)
	}
	self.device = self.config.DeviceName
	if self.device == "" {
		self.device = "thrustctl"
	}
	// disabled tele must not touch network or disk
	if !self.config.Enabled {
		return nil
	}

	self.stopCh = make(chan struct{})
	// test code sets .transport
	if self.transport == nil { // production path
		self.transport = &transportMqtt{}
	}
	if err := self.transport.Init(ctx, log, teleConfig); err != nil {
		return errors.Annotate(err, "tele transport")
	}

	if self.config.PersistPath == "" {
		panic("code error must set tele config.PersistPath")
	}
	var err error
	self.q, err = spq.Open(self.config.PersistPath)
	if err != nil {
		return errors.Annotate(err, "tele queue")
	}

	go self.qworker()
	self.State(false)
	return nil
}

func (self *tele) Close() {
	if !self.config.Enabled {
		return
	}
	close(self.stopCh)
	if self.q != nil {
		self.q.Close()
	}
	self.transport.Close()
}

func (self *tele) State(online bool) {
	if !self.config.Enabled {
		return
	}
	b := []byte{0x00}
	if online {
		b[0] = 0x01
	}
	self.transport.SendState(b)
}

func (self *tele) Status(mode string, left, right int) {
	self.push(&Telemetry{Status: &StatusReport{Mode: mode, Left: left, Right: right}})
}

func (self *tele) Flow(freqHz, rateLMin, velocityMS, totalL float64) {
	self.push(&Telemetry{Flow: &FlowReport{FreqHz: freqHz, RateLMin: rateLMin, VelocityMS: velocityMS, TotalL: totalL}})
}

func (self *tele) Error(e error) {
	if e == nil {
		return
	}
	self.push(&Telemetry{Error: e.Error()})
}

// denote value type in persistent queue bytes form
const qTelemetry byte = 2

func (self *tele) push(tm *Telemetry) {
	if !self.config.Enabled || self.q == nil {
		return
	}
	if tm.Device == "" {
		tm.Device = self.device
	}
	if tm.Time == 0 {
		tm.Time = time.Now().UnixNano()
	}
	payload, err := json.Marshal(tm)
	if err != nil {
		self.log.Errorf("CRITICAL tele marshal tm=%#v err=%v", tm, err)
		return
	}
	b := make([]byte, 0, 1+len(payload))
	b = append(b, qTelemetry)
	b = append(b, payload...)
	if err = self.q.Push(b); err != nil {
		self.log.Errorf("tele push err=%v", err)
	}
}

func (self *tele) qworker() {
	for {
		box, err := self.q.Peek()
		switch err {
		case nil:
			// success path
			b := box.Bytes()
			var del bool
			del, err = self.qhandle(b)
			if err != nil {
				self.log.Errorf("tele qhandle b=%x err=%v", b, err)
			}
			if del {
				if err = self.q.Delete(box); err != nil {
					self.log.Errorf("tele qhandle Delete b=%x err=%v", b, err)
				}
			} else {
				if err = self.q.DeletePush(box); err != nil {
					self.log.Errorf("tele qhandle DeletePush b=%x err=%v", b, err)
				}
			}

		case spq.ErrClosed:
			select {
			case <-self.stopCh: // success path
			default:
				self.log.Errorf("CRITICAL tele spq closed unexpectedly")
			}
			return

		default:
			self.log.Errorf("CRITICAL tele spq err=%v", err)
			// here will go yet unhandled shit like disk full
		}
	}
}

func (self *tele) qhandle(b []byte) (bool, error) {
	if len(b) == 0 {
		self.log.Errorf("tele spq peek=empty")
		// what else can we do?
		return true, nil
	}

	switch b[0] {
	case qTelemetry:
		return self.transport.SendTelemetry(b[1:]), nil

	default:
		return true, errors.Errorf("unknown kind=%d", b[0])
	}
}
