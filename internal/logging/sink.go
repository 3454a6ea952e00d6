// Package logging provides the daemon's shared log sink.
//
// A Sink is a named, queue-backed log stream: any number of goroutines
// emit records without blocking, and a single consumer goroutine formats
// them and writes them to the log file (and optionally a console mirror).
// Emission latency is therefore decoupled from file I/O latency.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Level orders records by severity; lower is more severe.
type Level int

const (
	LevelFatal Level = iota
	LevelAlert
	LevelError
	LevelWarn
	LevelInfo
	LevelTrace
)

// Tag returns the three-letter prefix written in brackets.
func (l Level) Tag() string {
	switch l {
	case LevelFatal:
		return "FTL"
	case LevelAlert:
		return "ALT"
	case LevelError:
		return "ERR"
	case LevelWarn:
		return "WRN"
	case LevelInfo:
		return "INF"
	case LevelTrace:
		return "TRC"
	default:
		return "???"
	}
}

// LevelForVerbosity maps a -v count to a threshold: 0 keeps alerts and
// errors, 1 adds warnings and info, 2 or more adds trace.
func LevelForVerbosity(v int) Level {
	switch {
	case v <= 0:
		return LevelError
	case v == 1:
		return LevelInfo
	default:
		return LevelTrace
	}
}

// Record is one log entry.
type Record struct {
	Time    time.Time
	Level   Level
	Message string
	ErrCode int // errno-style code of the failure being reported, 0 if none
	CtxCode int // caller-defined code locating the call site, 0 if none
}

// Opener opens the sink's backing file.  Tests substitute a double to
// observe that every open is matched by a close.
type Opener interface {
	Open(path string) (io.WriteCloser, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(path string) (io.WriteCloser, error)

// Open calls f(path).
func (f OpenerFunc) Open(path string) (io.WriteCloser, error) { return f(path) }

// FileOpener appends to a regular file, creating it owner-only.
var FileOpener = OpenerFunc(func(path string) (io.WriteCloser, error) { //nolint:gochecknoglobals
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
})

// DefaultQueueSize is the number of records buffered between producers
// and the writer goroutine.
const DefaultQueueSize = 1024

// Options configures Open.
type Options struct {
	Name      string // queue name, reported in the first record
	Path      string // log file path
	Opener    Opener // defaults to FileOpener
	Level     Level  // records above this level are discarded
	QueueSize int    // defaults to DefaultQueueSize

	// Console, when set, mirrors records at or below ConsoleLevel.
	Console      io.Writer
	ConsoleLevel Level

	// OnDrop is called for every record discarded because the queue was
	// full.
	OnDrop func()
}

// Sink is a process-wide, append-only log stream that is safe for
// concurrent emission.  Callers never lock it.
type Sink struct {
	name         string
	level        Level
	out          io.WriteCloser
	console      io.Writer
	consoleLevel Level
	onDrop       func()

	queue chan Record
	done  chan struct{}

	mu      sync.RWMutex // guards closed against concurrent sends
	closed  bool
	dropped atomic.Int64
}

// Open opens the backing file and starts the writer goroutine.  The
// returned error is the opener's; nothing is left running on failure.
func Open(opts Options) (*Sink, error) {
	opener := opts.Opener
	if opener == nil {
		opener = FileOpener
	}
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}

	out, err := opener.Open(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", opts.Path, err)
	}

	s := &Sink{
		name:         opts.Name,
		level:        opts.Level,
		out:          out,
		console:      opts.Console,
		consoleLevel: opts.ConsoleLevel,
		onDrop:       opts.OnDrop,
		queue:        make(chan Record, size),
		done:         make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Discard returns a sink that formats nothing and writes nowhere.  No
// level is enabled, so it never queues and runs no writer goroutine.
func Discard() *Sink {
	done := make(chan struct{})
	close(done)
	return &Sink{
		level:        LevelFatal - 1,
		consoleLevel: LevelFatal - 1,
		out:          nopCloser{io.Discard},
		done:         done,
		closed:       true,
	}
}

// Name returns the queue name.
func (s *Sink) Name() string { return s.name }

// Dropped returns the number of records lost to a full queue or a closed
// sink.
func (s *Sink) Dropped() int64 { return s.dropped.Load() }

// Emit queues a record without blocking.  When the queue is full or the
// sink has been closed the record is dropped.
func (s *Sink) Emit(level Level, msg string, errCode, ctxCode int) {
	if !s.Enabled(level) {
		return
	}
	r := Record{Time: time.Now(), Level: level, Message: msg, ErrCode: errCode, CtxCode: ctxCode}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.queue <- r:
	default:
		s.dropped.Add(1)
		if s.onDrop != nil {
			s.onDrop()
		}
	}
}

// Enabled reports whether a record at level would be written anywhere.
func (s *Sink) Enabled(level Level) bool {
	return level <= s.level || (s.console != nil && level <= s.consoleLevel)
}

// Logf formats and emits a record with no codes.
func (s *Sink) Logf(level Level, format string, args ...interface{}) {
	if !s.Enabled(level) {
		return
	}
	s.Emit(level, fmt.Sprintf(format, args...), 0, 0)
}

// Info emits at LevelInfo.
func (s *Sink) Info(format string, args ...interface{}) { s.Logf(LevelInfo, format, args...) }

// Warn emits at LevelWarn.
func (s *Sink) Warn(format string, args ...interface{}) { s.Logf(LevelWarn, format, args...) }

// Trace emits at LevelTrace.
func (s *Sink) Trace(format string, args ...interface{}) { s.Logf(LevelTrace, format, args...) }

// Error emits at LevelError.
func (s *Sink) Error(format string, args ...interface{}) { s.Logf(LevelError, format, args...) }

// Close stops accepting records, drains the queue, and closes the
// backing file.  It is safe to call more than once.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	return s.out.Close()
}

// ── writer ───────────────────────────────────────────────────────────

func (s *Sink) run() {
	defer close(s.done)

	if s.name != "" {
		s.write(Record{Time: time.Now(), Level: LevelTrace, Message: "log queue " + s.name + " opened"})
	}
	for r := range s.queue {
		s.write(r)
	}
}

func (s *Sink) write(r Record) {
	line := Format(r)
	if r.Level <= s.level {
		io.WriteString(s.out, line) //nolint:errcheck
	}
	if s.console != nil && r.Level <= s.consoleLevel {
		io.WriteString(s.console, line) //nolint:errcheck
	}
}

// Format renders a record as a single line:
//
//	2024-05-01T10:00:00.000Z [ALT] connection denied (err=13, ctx=3)
func Format(r Record) string {
	ts := r.Time.Format("2006-01-02T15:04:05.000Z07:00")
	if r.ErrCode != 0 || r.CtxCode != 0 {
		return fmt.Sprintf("%s [%s] %s (err=%d, ctx=%d)\n", ts, r.Level.Tag(), r.Message, r.ErrCode, r.CtxCode)
	}
	return fmt.Sprintf("%s [%s] %s\n", ts, r.Level.Tag(), r.Message)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
