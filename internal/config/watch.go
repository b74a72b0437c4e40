package config

import (
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/homelabops/orchestrator/internal/telemetry"
)

// Tunables is the hot-reloadable subset of Config: thresholds and
// intervals that are safe to change without restarting connections to
// Postgres/Redis or re-registering provider SDKs.
type Tunables struct {
	PauseCapacityThresholdPercent float64
	PauseResumeIntervalSeconds    int
	RetryMaxAttempts              int
	RetryBackoffSeconds           []int
	DefaultTaskDeadlineSeconds    int
	LLMQuotaThresholdPercent      float64
}

func (c *Config) tunables() Tunables {
	return Tunables{
		PauseCapacityThresholdPercent: c.Scheduler.PauseCapacityThresholdPercent,
		PauseResumeIntervalSeconds:    c.Scheduler.PauseResumeIntervalSeconds,
		RetryMaxAttempts:              c.Resilience.RetryMaxAttempts,
		RetryBackoffSeconds:           c.Resilience.RetryBackoffSeconds,
		DefaultTaskDeadlineSeconds:    c.Supervisor.DefaultTaskDeadlineSeconds,
		LLMQuotaThresholdPercent:      c.LLM.QuotaThresholdPercent,
	}
}

// Watcher reloads Tunables from a YAML file whenever it changes on disk,
// without touching the connection-level settings in Config. Components
// that need live values call Current() rather than holding a Config
// snapshot.
type Watcher struct {
	path    string
	logger  telemetry.ComponentLogger
	current atomic.Pointer[Tunables]

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	stop    chan struct{}
}

// NewWatcher starts watching path for changes, seeding Current() from
// initial. Call Close to stop the underlying fsnotify watcher.
func NewWatcher(path string, initial *Config, logger telemetry.ComponentLogger) (*Watcher, error) {
	if logger == nil {
		logger = telemetry.NewNop()
	}
	w := &Watcher{path: path, logger: logger.WithComponent("config_watcher"), stop: make(chan struct{})}
	t := initial.tunables()
	w.current.Store(&t)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}
	w.watcher = fw

	go w.loop()
	return w, nil
}

// Current returns the most recently loaded tunables.
func (w *Watcher) Current() Tunables {
	return *w.current.Load()
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", map[string]interface{}{"error": err.Error()})
		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg := DefaultConfig()
	if err := cfg.LoadYAMLFile(w.path); err != nil {
		w.logger.Warn("config hot reload failed, keeping previous values", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Warn("config hot reload produced invalid config, keeping previous values", map[string]interface{}{"error": err.Error()})
		return
	}
	t := cfg.tunables()
	w.current.Store(&t)
	w.logger.Info("config tunables reloaded", map[string]interface{}{"path": w.path})
}

func (w *Watcher) Close() error {
	close(w.stop)
	return w.watcher.Close()
}
