package server

// ============================================================================
// Server Test File
// Purpose: Verify dispatch, shutdown coordination and in-flight draining
// ============================================================================

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/ChuLiYu/hello-pool/internal/httpx"
	"github.com/ChuLiYu/hello-pool/internal/shutdown"
	"github.com/ChuLiYu/hello-pool/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingRecorder struct {
	accepted, discarded, failed atomic.Int64
}

func (r *countingRecorder) ConnectionAccepted() { r.accepted.Add(1) }
func (r *countingRecorder) ConnectionDiscarded() { r.discarded.Add(1) }
func (r *countingRecorder) ConnectionFailed() { r.failed.Add(1) }

type testServer struct {
	*Server
	notifier *shutdown.Notifier
	pool     *worker.Pool
	rec      *countingRecorder
	served   chan error
}

func startServer(t *testing.T, workers int, handler Handler) *testServer {
	t.Helper()

	log := quietLogger()
	pool := worker.NewPool(workers, worker.WithLogger(log))
	notifier := shutdown.NewNotifier(shutdown.WithLogger(log))
	rec := &countingRecorder{}

	srv := New(Config{Addr: "127.0.0.1:0"}, pool, notifier, handler, WithLogger(log), WithMetrics(rec))
	require.NoError(t, srv.Listen())

	ts := &testServer{Server: srv, notifier: notifier, pool: pool, rec: rec, served: make(chan error, 1)}
	go func() { ts.served <- srv.Serve() }()

	t.Cleanup(func() {
		notifier.Fire()
		select {
		case <-ts.served:
		case <-time.After(5 * time.Second):
		}
	})
	return ts
}

func (ts *testServer) waitServed(t *testing.T, timeout time.Duration) error {
	t.Helper()
	select {
	case err := <-ts.served:
		ts.served <- err
		return err
	case <-time.After(timeout):
		t.Fatal("Serve did not return")
		return nil
	}
}

func fetch(addr net.Addr, path string) (string, error) {
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if _, err := io.WriteString(conn, "GET "+path+" HTTP/1.1\r\nHost: localhost\r\n\r\n"); err != nil {
		return "", err
	}
	resp, err := io.ReadAll(conn)
	return string(resp), err
}

func get(t *testing.T, addr net.Addr, path string) string {
	t.Helper()
	resp, err := fetch(addr, path)
	require.NoError(t, err)
	return resp
}

// ============================================================================
// Dispatch Tests
// ============================================================================

// TestServeRoutes tests end-to-end request handling through the pool
func TestServeRoutes(t *testing.T) {
	handler := httpx.New(httpx.Config{Root: t.TempDir()}, quietLogger())
	ts := startServer(t, 4, handler)

	resp := get(t, ts.Addr(), "/")
	assert.True(t, strings.HasPrefix(resp, httpx.StatusOK), resp)

	resp = get(t, ts.Addr(), "/missing")
	assert.True(t, strings.HasPrefix(resp, httpx.StatusNotFound), resp)

	ts.Shutdown()
	require.NoError(t, ts.waitServed(t, 5*time.Second))

	assert.Equal(t, int64(2), ts.rec.accepted.Load())
	assert.Equal(t, int64(1), ts.rec.discarded.Load(), "the self-connect is discarded")
	assert.Equal(t, 0, ts.pool.AliveWorkers())
}

// TestSleepDoesNotBlockOthers tests that a slow request leaves other workers responsive
func TestSleepDoesNotBlockOthers(t *testing.T) {
	handler := httpx.New(httpx.Config{Root: t.TempDir(), SleepDelay: time.Second}, quietLogger())
	ts := startServer(t, 4, handler)

	slow := make(chan string, 1)
	go func() {
		resp, _ := fetch(ts.Addr(), "/sleep")
		slow <- resp
	}()
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	for i := 0; i < 10; i++ {
		resp := get(t, ts.Addr(), "/")
		assert.True(t, strings.HasPrefix(resp, httpx.StatusOK))
	}
	assert.Less(t, time.Since(start), 900*time.Millisecond)

	assert.True(t, strings.HasPrefix(<-slow, httpx.StatusOK))
}

// TestHandlerErrorCounted tests that handler failures are recorded, not fatal
func TestHandlerErrorCounted(t *testing.T) {
	ts := startServer(t, 1, HandlerFunc(func(net.Conn) error {
		return errors.New("broken pipe")
	}))

	for i := 0; i < 3; i++ {
		conn, err := net.Dial("tcp", ts.Addr().String())
		require.NoError(t, err)
		_, _ = io.ReadAll(conn)
		conn.Close()
	}

	assert.Eventually(t, func() bool { return ts.rec.failed.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, ts.pool.AliveWorkers(), "handler errors do not cost a worker")
}

// ============================================================================
// Shutdown Tests
// ============================================================================

// TestShutdownWithInFlightConnection tests that accept stops promptly while the
// in-flight connection still completes before Serve returns
func TestShutdownWithInFlightConnection(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var completed atomic.Bool

	ts := startServer(t, 2, HandlerFunc(func(conn net.Conn) error {
		close(started)
		<-release
		_, err := io.WriteString(conn, "done")
		completed.Store(true)
		return err
	}))

	client, err := net.Dial("tcp", ts.Addr().String())
	require.NoError(t, err)
	defer client.Close()
	<-started

	ts.Shutdown()

	assert.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", ts.Addr().String(), 100*time.Millisecond)
		if err != nil {
			return true
		}
		conn.Close()
		return false
	}, 2*time.Second, 10*time.Millisecond, "listener should stop accepting")

	select {
	case <-ts.served:
		t.Fatal("Serve returned before the in-flight connection finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, ts.waitServed(t, 5*time.Second))
	assert.True(t, completed.Load())

	resp, err := io.ReadAll(client)
	require.NoError(t, err)
	assert.Equal(t, "done", string(resp))
}

// TestShutdownBeforeServe tests that a notifier fired early stops Serve at once
func TestShutdownBeforeServe(t *testing.T) {
	log := quietLogger()
	pool := worker.NewPool(1, worker.WithLogger(log))
	notifier := shutdown.NewNotifier(shutdown.WithLogger(log))

	srv := New(Config{Addr: "127.0.0.1:0"}, pool, notifier, HandlerFunc(func(net.Conn) error { return nil }), WithLogger(log))
	require.NoError(t, srv.Listen())
	notifier.Fire()

	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve blocked after the notifier fired")
	}
	assert.True(t, pool.IsStopped())
}

// TestServeNotListening tests that Serve without Listen fails and still stops the pool
func TestServeNotListening(t *testing.T) {
	pool := worker.NewPool(1, worker.WithLogger(quietLogger()))
	srv := New(Config{Addr: "127.0.0.1:0"}, pool, shutdown.NewNotifier(), nil)

	assert.Nil(t, srv.Addr())
	assert.ErrorIs(t, srv.Serve(), ErrNotListening)
	assert.True(t, pool.IsStopped())
}

// TestListenTwice tests that a second Listen is rejected
func TestListenTwice(t *testing.T) {
	pool := worker.NewPool(1, worker.WithLogger(quietLogger()))
	defer pool.Stop()

	srv := New(Config{Addr: "127.0.0.1:0"}, pool, shutdown.NewNotifier(), nil, WithLogger(quietLogger()))
	require.NoError(t, srv.Listen())
	defer srv.listener.Close()

	assert.ErrorIs(t, srv.Listen(), ErrAlreadyListening)
}

// TestListenInvalidAddr tests that bind failures are returned
func TestListenInvalidAddr(t *testing.T) {
	pool := worker.NewPool(1, worker.WithLogger(quietLogger()))
	defer pool.Stop()

	srv := New(Config{Addr: "not-an-address"}, pool, shutdown.NewNotifier(), nil)
	assert.Error(t, srv.Listen())
}

// ============================================================================
// Accept Error Tests
// ============================================================================

// scriptedListener returns the scripted errors from Accept in order, then
// repeats the last one
type scriptedListener struct {
	mu     sync.Mutex
	errs   []error
	calls  int
	closed bool
}

func (l *scriptedListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.calls
	if i >= len(l.errs) {
		i = len(l.errs) - 1
	}
	l.calls++
	return nil, l.errs[i]
}

func (l *scriptedListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *scriptedListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}
}

func (l *scriptedListener) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type temporaryError struct{}

func (temporaryError) Error() string { return "temporary accept failure" }
func (temporaryError) Timeout() bool { return false }
func (temporaryError) Temporary() bool { return true }

func serveScripted(t *testing.T, ln *scriptedListener) (*worker.Pool, error) {
	t.Helper()
	pool := worker.NewPool(1, worker.WithLogger(quietLogger()))
	srv := New(Config{}, pool, shutdown.NewNotifier(), nil, WithLogger(quietLogger()))
	srv.listener = ln

	served := make(chan error, 1)
	go func() { served <- srv.Serve() }()

	select {
	case err := <-served:
		return pool, err
	case <-time.After(3 * time.Second):
		t.Fatalf("Serve still retrying after %d Accept calls", ln.Calls())
		return nil, nil
	}
}

// TestServePermanentAcceptError tests that a non-temporary error ends Serve and drains the pool
func TestServePermanentAcceptError(t *testing.T) {
	permanent := errors.New("permanent accept failure")
	ln := &scriptedListener{errs: []error{permanent}}

	pool, err := serveScripted(t, ln)

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, ln.Calls(), "permanent errors are not retried")
	assert.True(t, pool.IsStopped())
	assert.True(t, ln.closed)
}

// TestServeTemporaryAcceptError tests that temporary errors are retried before a permanent one ends Serve
func TestServeTemporaryAcceptError(t *testing.T) {
	permanent := errors.New("permanent accept failure")
	ln := &scriptedListener{errs: []error{
		temporaryError{},
		&net.OpError{Op: "accept", Net: "tcp", Err: syscall.EMFILE},
		permanent,
	}}

	pool, err := serveScripted(t, ln)

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 3, ln.Calls())
	assert.True(t, pool.IsStopped())
}

// TestIsTemporary tests accept error classification
func TestIsTemporary(t *testing.T) {
	assert.True(t, isTemporary(temporaryError{}))
	assert.True(t, isTemporary(&net.OpError{Op: "accept", Err: syscall.ECONNABORTED}))
	assert.True(t, isTemporary(fmt.Errorf("wrapped: %w", syscall.ENFILE)))
	assert.False(t, isTemporary(net.ErrClosed))
	assert.False(t, isTemporary(errors.New("permanent accept failure")))
}
