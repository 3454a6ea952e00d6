package logging

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memFile is a thread-safe in-memory log file that records Close.
type memFile struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (m *memFile) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf.Write(p)
}

func (m *memFile) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memFile) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf.String()
}

func openMem(t *testing.T, opts Options) (*Sink, *memFile) {
	t.Helper()
	f := &memFile{}
	opts.Opener = OpenerFunc(func(string) (io.WriteCloser, error) { return f, nil })
	s, err := Open(opts)
	require.NoError(t, err)
	return s, f
}

func TestSink_WritesRecordsInOrder(t *testing.T) {
	s, f := openMem(t, Options{Level: LevelTrace})

	s.Emit(LevelInfo, "first", 0, 0)
	s.Emit(LevelAlert, "connection denied", 13, 3)
	s.Trace("slot %d assigned", 2)
	require.NoError(t, s.Close())

	lines := strings.Split(strings.TrimSpace(f.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "[INF] first")
	assert.Contains(t, lines[1], "[ALT] connection denied (err=13, ctx=3)")
	assert.Contains(t, lines[2], "[TRC] slot 2 assigned")
	assert.True(t, f.closed, "Close must close the backing file")
}

func TestSink_LevelFilter(t *testing.T) {
	s, f := openMem(t, Options{Level: LevelError})

	s.Info("hidden")
	s.Trace("hidden")
	s.Error("shown")
	s.Emit(LevelFatal, "fatal", 1, 0)
	require.NoError(t, s.Close())

	out := f.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[ERR] shown")
	assert.Contains(t, out, "[FTL] fatal")
}

func TestSink_ConsoleMirror(t *testing.T) {
	var console syncBuffer
	s, f := openMem(t, Options{
		Level:        LevelInfo,
		Console:      &console,
		ConsoleLevel: LevelTrace,
	})

	s.Info("both")
	s.Trace("console only")
	require.NoError(t, s.Close())

	assert.Contains(t, f.String(), "both")
	assert.NotContains(t, f.String(), "console only")
	assert.Contains(t, console.String(), "both")
	assert.Contains(t, console.String(), "console only")
}

func TestSink_QueueNameRecorded(t *testing.T) {
	s, f := openMem(t, Options{Name: "/ipcd_test", Level: LevelTrace})
	require.NoError(t, s.Close())

	assert.Equal(t, "/ipcd_test", s.Name())
	assert.Contains(t, f.String(), "log queue /ipcd_test opened")
}

func TestSink_ConcurrentEmit(t *testing.T) {
	s, f := openMem(t, Options{Level: LevelInfo, QueueSize: 4096})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Info("g%d-%d", g, i)
			}
		}(g)
	}
	wg.Wait()
	require.NoError(t, s.Close())

	lines := strings.Split(strings.TrimSpace(f.String()), "\n")
	assert.Len(t, lines, 800)
	for _, l := range lines {
		assert.Contains(t, l, "[INF] g")
	}
}

func TestSink_DropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	f := &blockingFile{release: block}
	drops := 0
	var mu sync.Mutex

	s, err := Open(Options{
		Level:     LevelInfo,
		QueueSize: 1,
		Opener:    OpenerFunc(func(string) (io.WriteCloser, error) { return f, nil }),
		OnDrop: func() {
			mu.Lock()
			drops++
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	// The writer picks up the first record and blocks on it; the second
	// fills the queue; everything after that is dropped without blocking.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			s.Info("record %d", i)
			time.Sleep(time.Millisecond)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a full queue")
	}
	close(block)
	require.NoError(t, s.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Positive(t, drops)
	assert.EqualValues(t, drops, s.Dropped())
}

func TestSink_EmitAfterClose(t *testing.T) {
	s, f := openMem(t, Options{Level: LevelInfo})
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "second Close is a no-op")

	assert.NotPanics(t, func() { s.Info("late") })
	assert.NotContains(t, f.String(), "late")
	assert.EqualValues(t, 1, s.Dropped())
}

func TestOpen_Failure(t *testing.T) {
	_, err := Open(Options{
		Path:   "/nonexistent",
		Opener: OpenerFunc(func(string) (io.WriteCloser, error) { return nil, os.ErrPermission }),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrPermission)
}

func TestFileOpener(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipcd.log")
	s, err := Open(Options{Path: path, Level: LevelInfo})
	require.NoError(t, err)
	s.Info("to disk")
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[INF] to disk")

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
}

func TestDiscard(t *testing.T) {
	s := Discard()
	assert.False(t, s.Enabled(LevelFatal))
	assert.NotPanics(t, func() { s.Emit(LevelFatal, "x", 1, 1) })
	assert.Zero(t, s.Dropped())
	require.NoError(t, s.Close())
}

func TestDiscard_StartsNoWriter(t *testing.T) {
	before := runtime.NumGoroutine()
	for i := 0; i < 100; i++ {
		Discard().Info("nothing %d", i)
	}
	assert.Less(t, runtime.NumGoroutine(), before+10, "Discard must not leave writer goroutines behind")
}

func TestLevelForVerbosity(t *testing.T) {
	assert.Equal(t, LevelError, LevelForVerbosity(0))
	assert.Equal(t, LevelInfo, LevelForVerbosity(1))
	assert.Equal(t, LevelTrace, LevelForVerbosity(2))
	assert.Equal(t, LevelTrace, LevelForVerbosity(5))
}

func TestFormat(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-05-01T10:00:00.000Z [WRN] plain\n",
		Format(Record{Time: ts, Level: LevelWarn, Message: "plain"}))
	assert.Equal(t, "2024-05-01T10:00:00.000Z [ALT] denied (err=13, ctx=3)\n",
		Format(Record{Time: ts, Level: LevelAlert, Message: "denied", ErrCode: 13, CtxCode: 3}))
	assert.Equal(t, "???", Level(42).Tag())
}

func TestErrno(t *testing.T) {
	assert.Equal(t, 0, Errno(nil))
	assert.Equal(t, -1, Errno(errors.New("plain")))
	assert.Equal(t, int(syscall.EACCES), Errno(fmt.Errorf("open: %w", syscall.EACCES)))
}

// ── helpers ──────────────────────────────────────────────────────────

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type blockingFile struct {
	release chan struct{}
	once    sync.Once
}

func (f *blockingFile) Write(p []byte) (int, error) {
	f.once.Do(func() { <-f.release })
	return len(p), nil
}

func (f *blockingFile) Close() error { return nil }
