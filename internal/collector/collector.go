// Package collector produces the live stream of behavioral events from
// four independent monitors: process table polling, established socket
// polling, auth log tailing and filesystem watching. Every event is
// delivered to a single registered sink.
package collector

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"trustd/internal/logger"
	"trustd/pkg/models"
)

// Sink receives every emitted event. Sink errors are logged by the
// collector and never propagated into a monitor loop.
type Sink func(event *models.Event) error

// Config controls monitor cadence and sources.
type Config struct {
	ProcessInterval time.Duration
	NetworkInterval time.Duration
	AuthLogInterval time.Duration
	AuthLogPath     string
	WatchRoots      []string
}

func (c *Config) applyDefaults() {
	if c.ProcessInterval <= 0 {
		c.ProcessInterval = 1 * time.Second
	}
	if c.NetworkInterval <= 0 {
		c.NetworkInterval = 2 * time.Second
	}
	if c.AuthLogInterval <= 0 {
		c.AuthLogInterval = 1 * time.Second
	}
	if c.AuthLogPath == "" {
		c.AuthLogPath = "/var/log/auth.log"
	}
	if len(c.WatchRoots) == 0 {
		c.WatchRoots = []string{"/etc", "/home", "/var/log"}
	}
}

// Collector runs the four monitors and fans their events into the sink.
type Collector struct {
	cfg  Config
	sink Sink

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	fswatch *fsWatch
}

// New creates a stopped collector.
func New(cfg Config, sink Sink) *Collector {
	cfg.applyDefaults()
	return &Collector{cfg: cfg, sink: sink}
}

// Start launches all monitors. Starting an already-started collector
// logs and returns.
func (c *Collector) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		logger.Warnf("Event collection already started")
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true

	c.wg.Add(3)
	go c.runLoop(runCtx, "process", c.cfg.ProcessInterval, newProcessMonitor().poll)
	go c.runLoop(runCtx, "network", c.cfg.NetworkInterval, newNetworkMonitor().poll)
	go c.runLoop(runCtx, "auth_log", c.cfg.AuthLogInterval, newAuthLogMonitor(c.cfg.AuthLogPath).poll)

	fw, err := newFSWatch(c.cfg.WatchRoots, c.emit)
	if err != nil {
		logger.Errorf("Failed to start file monitoring: %v", err)
	} else if fw != nil {
		c.fswatch = fw
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			fw.run(runCtx)
		}()
	}

	logger.Infof("Event collection started")
	return nil
}

// Stop halts all monitors, releases the filesystem watch handle and
// waits for every monitor goroutine to exit.
func (c *Collector) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	fw := c.fswatch
	c.fswatch = nil
	c.mu.Unlock()

	cancel()
	if fw != nil {
		fw.close()
	}
	c.wg.Wait()
	logger.Infof("Event collection stopped")
}

// runLoop drives one polling monitor. A failure inside a single poll
// iteration is logged and the loop continues at the next tick.
func (c *Collector) runLoop(ctx context.Context, name string, interval time.Duration, poll func(emit emitFunc) error) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		err := c.pollOnce(name, poll)
		if errors.Is(err, errMonitorStop) {
			// The monitor declared itself finished (e.g. absent auth
			// log). Not fatal for the collector; this loop just ends.
			logger.Warnf("Monitor %s stopped: nothing to observe", name)
			return
		}
		if err != nil {
			logger.Errorf("Error monitoring %s: %v", name, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// errMonitorStop is returned by a poll that can never produce events
// again; the owning loop exits quietly.
var errMonitorStop = errors.New("monitor stopped")

// pollOnce isolates one iteration so a panic in a monitor cannot kill
// its loop.
func (c *Collector) pollOnce(name string, poll func(emit emitFunc) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Recovered panic in %s monitor: %v", name, r)
		}
	}()

	return poll(c.emit)
}

type emitFunc func(eventType models.EventType, metadata map[string]any)

// emit builds the normalized event and hands it to the sink.
func (c *Collector) emit(eventType models.EventType, metadata map[string]any) {
	if c.sink == nil {
		return
	}
	event := &models.Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Type:      eventType,
		Metadata:  metadata,
	}
	if err := c.sink(event); err != nil {
		logger.Errorf("Error delivering event %s: %v", event.ID, err)
	}
}
