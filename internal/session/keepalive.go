package session

import (
	"time"

	"github.com/temoto/alive/v2"
)

// DefaultKeepalive must stay safely below the remote's 2s
// fail-to-manual timeout.
const DefaultKeepalive = 1 * time.Second

// StartKeepalive launches the periodic ping task. It runs until Stop
// and never escalates send failures: a lost ping is a network hiccup,
// the next tick tries again.
func (s *Session) StartKeepalive(interval time.Duration) {
	if interval == 0 {
		interval = DefaultKeepalive
	}
	if s.alive == nil || !s.alive.Add(1) {
		return
	}
	a := s.alive
	go func() {
		defer a.Done()
		s.keepaliveLoop(a, interval)
	}()
}

func (s *Session) keepaliveLoop(a *alive.Alive, interval time.Duration) {
	s.log.Debugf("keepalive interval=%s", interval)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-a.StopChan():
			return
		case <-t.C:
			if err := s.SendPing(); err != nil {
				s.log.Debugf("keepalive ping err=%v", err)
			}
		}
	}
}
