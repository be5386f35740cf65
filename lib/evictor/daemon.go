package evictor

import (
	"time"
)

// Start launches the eviction daemon. The daemon runs a pass every wakeup
// interval and whenever AlertIfNeeded finds work. Starting a running daemon
// does nothing.
func (e *Evictor) Start() {
	e.daemonMu.Lock()
	defer e.daemonMu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.shutdown.Store(false)
	e.wake = make(chan struct{}, 1)
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	go e.daemon(e.wake, e.stop, e.done)
	Logger.Infof("%s evictor daemon started (interval %s)", e.name, e.config.WakeupInterval)
}

// Stop requests shutdown and waits for the daemon to exit. A pass in
// progress stops after its current batch unless it is critical.
func (e *Evictor) Stop() {
	e.daemonMu.Lock()
	defer e.daemonMu.Unlock()
	if !e.running {
		return
	}
	e.running = false
	e.shutdown.Store(true)
	close(e.stop)
	<-e.done
	Logger.Infof("%s evictor daemon stopped", e.name)
}

// AlertIfNeeded wakes the daemon if the cache is over budget and reports
// whether it did. It never blocks and does nothing while a pass is active.
func (e *Evictor) AlertIfNeeded() bool {
	if e.active.Load() {
		return false
	}
	if runnable, _ := e.isRunnable(); !runnable {
		return false
	}

	e.daemonMu.Lock()
	wake := e.wake
	running := e.running
	e.daemonMu.Unlock()
	if !running {
		return false
	}
	select {
	case wake <- struct{}{}:
	default:
		// a wakeup is already pending
	}
	return true
}

// daemon is the loop of the eviction goroutine
func (e *Evictor) daemon(wake <-chan struct{}, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(e.config.WakeupInterval)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}

		if err := e.RunEviction(SourceDaemon, false, true); err != nil {
			Logger.Errorf("%s eviction pass failed: %v", e.name, err)
		}
		timer.Reset(e.config.WakeupInterval)
	}
}
