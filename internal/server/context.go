// Package server runs the daemon's dispatch loop.
//
// A ServerContext owns the process-wide resources (configuration, log
// sink, spawner, metrics).  A Dispatcher owns a fixed pool of reusable
// session slots and feeds authorised connections from a
// transport.Acceptor to per-connection workers until its failure budget
// runs out or its context is cancelled.
package server

import (
	"fmt"
	"io"

	"ipcd/config"
	"ipcd/internal/logging"
	"ipcd/internal/metrics"
)

// Spawner starts a worker.  An error means fn will never run.
type Spawner interface {
	Spawn(fn func()) error
}

// SpawnerFunc adapts a function to Spawner.
type SpawnerFunc func(fn func()) error

// Spawn calls f(fn).
func (f SpawnerFunc) Spawn(fn func()) error { return f(fn) }

// GoSpawner runs each worker on a fresh goroutine.  It never fails.
type GoSpawner struct{}

// Spawn starts fn on a new goroutine.
func (GoSpawner) Spawn(fn func()) error {
	go fn()
	return nil
}

// ServerContext is created once at startup and closed once at shutdown.
// The configuration is held by reference and never modified.
type ServerContext struct {
	Config  *config.Config
	Log     *logging.Sink
	Spawner Spawner
	Metrics *metrics.Collector
}

type options struct {
	opener       logging.Opener
	console      io.Writer
	consoleLevel logging.Level
	spawner      Spawner
	metrics      *metrics.Collector
}

// Option customises NewServerContext.
type Option func(*options)

// WithOpener replaces the log file opener.
func WithOpener(o logging.Opener) Option {
	return func(opts *options) { opts.opener = o }
}

// WithConsole mirrors log records at or below level to w.
func WithConsole(w io.Writer, level logging.Level) Option {
	return func(opts *options) {
		opts.console = w
		opts.consoleLevel = level
	}
}

// WithSpawner replaces GoSpawner.
func WithSpawner(s Spawner) Option {
	return func(opts *options) { opts.spawner = s }
}

// WithMetrics uses an existing collector instead of a fresh one.
func WithMetrics(m *metrics.Collector) Option {
	return func(opts *options) { opts.metrics = m }
}

// NewServerContext opens the log sink named by cfg.  A sink that fails
// to open is reported as an error so the caller can clean up; nothing is
// left open in that case.
func NewServerContext(cfg *config.Config, opts ...Option) (*ServerContext, error) {
	o := options{spawner: GoSpawner{}}
	for _, fn := range opts {
		fn(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}

	// The file always keeps lifecycle events; -vv adds trace.
	fileLevel := logging.LevelInfo
	if cfg.Verbose >= 2 {
		fileLevel = logging.LevelTrace
	}

	m := o.metrics
	sink, err := logging.Open(logging.Options{
		Name:         cfg.MQName,
		Path:         cfg.LogFile,
		Opener:       o.opener,
		Level:        fileLevel,
		Console:      o.console,
		ConsoleLevel: o.consoleLevel,
		OnDrop:       m.LogDropped,
	})
	if err != nil {
		return nil, fmt.Errorf("server context: %w", err)
	}

	sc := &ServerContext{
		Config:  cfg,
		Log:     sink,
		Spawner: o.spawner,
		Metrics: m,
	}
	sink.Info("ipcd starting: %s %s, %d slots", cfg.Domain, cfg.Address(), cfg.MaxConnections)
	return sc, nil
}

// Close logs the final metrics and closes the log sink.  Safe to call
// more than once.
func (sc *ServerContext) Close() error {
	sc.Log.Info("ipcd stopped: %s", sc.Metrics.JSON())
	return sc.Log.Close()
}
