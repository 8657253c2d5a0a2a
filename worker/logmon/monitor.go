package logmon

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/worker-supervisor/worker/internal/backoff"
)

// Config configures a Monitor.
type Config struct {
	Path         string
	Patterns     []Pattern
	PollInterval time.Duration  // fallback wake-up period (default 250ms)
	Buffer       int            // event channel capacity (default 256)
	Backoff      backoff.Config // retry schedule for open/read failures
}

const (
	defaultPollInterval = 250 * time.Millisecond
	defaultBuffer       = 256
)

// Monitor turns a growing log file into a stream of classified events.
type Monitor struct {
	cfg        Config
	classifier *Classifier
	now        func() time.Time
	dropped    atomic.Uint64
}

// NewMonitor creates a Monitor. Nothing is read until Events is called.
func NewMonitor(cfg Config) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if cfg.Backoff == (backoff.Config{}) {
		cfg.Backoff = backoff.Default()
	}
	return &Monitor{
		cfg:        cfg,
		classifier: NewClassifier(cfg.Patterns),
		now:        time.Now,
	}
}

// Classifier exposes the monitor's pattern set.
func (m *Monitor) Classifier() *Classifier {
	return m.classifier
}

// Dropped is the number of non-error events discarded because the consumer lagged.
func (m *Monitor) Dropped() uint64 {
	return m.dropped.Load()
}

// Events starts tailing and returns the event stream. The stream is infinite until ctx is
// done, after which the channel is closed. Each call starts an independent tail from the
// beginning of the file.
func (m *Monitor) Events(ctx context.Context) <-chan Event {
	out := make(chan Event, m.cfg.Buffer)
	go m.run(ctx, out)
	return out
}

func (m *Monitor) run(ctx context.Context, out chan<- Event) {
	defer close(out)

	wake, stopWatch := m.watch()
	defer stopWatch()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	log := logrus.WithField("log_file", m.cfg.Path)
	t := newTailer(m.cfg.Path)
	defer t.close()

	failures := 0
	for {
		if err := t.poll(func(line string) { m.emit(ctx, out, line) }); err != nil {
			failures++
			log.WithField("attempt", failures).Debugf("log tail failed, retrying: %v", err)
			if m.cfg.Backoff.Sleep(ctx, failures) != nil {
				return
			}
			continue
		}
		failures = 0

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-wake:
		}
	}
}

func (m *Monitor) emit(ctx context.Context, out chan<- Event, line string) {
	cat, ok := m.classifier.Classify(line)
	if !ok {
		return
	}
	ev := Event{Category: cat, Line: line, Time: m.now()}
	if cat == Error {
		select {
		case out <- ev:
		case <-ctx.Done():
		}
		return
	}
	select {
	case out <- ev:
	default:
		m.dropped.Add(1)
		logrus.Debugf("log event consumer lagging; dropped %s event", cat)
	}
}

// watch subscribes to changes in the log file's directory. When notification is unavailable
// the returned channel is nil and the poll ticker alone drives the tailer.
func (m *Monitor) watch() (<-chan struct{}, func()) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logrus.Debugf("file notifications unavailable, polling %s: %v", m.cfg.Path, err)
		return nil, func() {}
	}
	if err := watcher.Add(filepath.Dir(m.cfg.Path)); err != nil {
		logrus.Debugf("cannot watch %s, polling: %v", filepath.Dir(m.cfg.Path), err)
		_ = watcher.Close()
		return nil, func() {}
	}

	target := filepath.Clean(m.cfg.Path)
	wake := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logrus.Debugf("file watcher error: %v", err)
			}
		}
	}()
	return wake, func() {
		close(done)
		_ = watcher.Close()
	}
}
