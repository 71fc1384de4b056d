package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domerrors "github.com/gantry-dev/gantry/domain/errors"
	"github.com/gantry-dev/gantry/wireformat"
)

const testTimeout = 5 * time.Second

// fakeProcess simulates an extension child over in-memory pipes. The test
// plays the child: it reads request lines from stdin and writes reply lines
// to stdout.
type fakeProcess struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	exitOnce sync.Once
	exited   chan struct{}
	exitErr  error

	mu      sync.Mutex
	signals []string
	onTerm  func()
}

func newFakeProcess() *fakeProcess {
	f := &fakeProcess{exited: make(chan struct{})}
	f.stdinR, f.stdinW = io.Pipe()
	f.stdoutR, f.stdoutW = io.Pipe()
	f.stderrR, f.stderrW = io.Pipe()
	return f
}

func (f *fakeProcess) Stdin() io.WriteCloser { return f.stdinW }
func (f *fakeProcess) Stdout() io.Reader     { return f.stdoutR }
func (f *fakeProcess) Stderr() io.Reader     { return f.stderrR }
func (f *fakeProcess) PID() int              { return 4242 }

func (f *fakeProcess) Wait() error {
	<-f.exited
	return f.exitErr
}

func (f *fakeProcess) Terminate() error {
	f.mu.Lock()
	f.signals = append(f.signals, "term")
	onTerm := f.onTerm
	f.mu.Unlock()
	if onTerm != nil {
		onTerm()
	}
	return nil
}

func (f *fakeProcess) Kill() error {
	f.mu.Lock()
	f.signals = append(f.signals, "kill")
	f.mu.Unlock()
	f.exit(errors.New("killed"))
	return nil
}

// exit simulates process death: streams close and Wait returns err.
func (f *fakeProcess) exit(err error) {
	f.exitOnce.Do(func() {
		f.exitErr = err
		f.stdoutW.Close()
		f.stderrW.Close()
		f.stdinW.Close()
		close(f.exited)
	})
}

func (f *fakeProcess) sentSignals() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.signals))
	copy(out, f.signals)
	return out
}

// testChild reads the request lines the conn writes and hands them to the
// test over a channel.
type testChild struct {
	proc  *fakeProcess
	reqCh chan wireformat.StdioRequestWire
	done  chan struct{}
}

func newTestConn(t *testing.T) (*conn, *testChild) {
	t.Helper()

	proc := newFakeProcess()
	child := &testChild{
		proc:  proc,
		reqCh: make(chan wireformat.StdioRequestWire, 10),
		done:  make(chan struct{}),
	}

	go func() {
		defer close(child.done)
		sc := bufio.NewScanner(proc.stdinR)
		for sc.Scan() {
			var req wireformat.StdioRequestWire
			if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
				continue
			}
			child.reqCh <- req
		}
	}()

	c := newConn(proc, quietLogger(), 0)

	t.Cleanup(func() {
		proc.exit(nil)
		select {
		case <-c.done:
		case <-time.After(testTimeout):
			t.Error("conn did not shut down")
		}
	})

	return c, child
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// readRequest returns the next request the conn sent, or fails the test.
func (tc *testChild) readRequest(t *testing.T) wireformat.StdioRequestWire {
	t.Helper()
	select {
	case req := <-tc.reqCh:
		return req
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for request from conn")
		return wireformat.StdioRequestWire{}
	}
}

// send writes one raw line to the conn's reader.
func (tc *testChild) send(t *testing.T, line string) {
	t.Helper()
	if _, err := tc.proc.stdoutW.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func (tc *testChild) reply(t *testing.T, id uint64, result any) {
	t.Helper()
	data, err := json.Marshal(result)
	require.NoError(t, err)
	frame, err := json.Marshal(wireformat.StdioResponseWire{ID: id, Result: data})
	require.NoError(t, err)
	tc.send(t, string(frame))
}

func (tc *testChild) replyError(t *testing.T, id uint64, msg string) {
	t.Helper()
	frame, err := json.Marshal(wireformat.StdioResponseWire{ID: id, Error: &msg})
	require.NoError(t, err)
	tc.send(t, string(frame))
}

func TestCall_RequestIDsStartAtZero(t *testing.T) {
	c, child := newTestConn(t)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := c.call(ctx, wireformat.MethodInitialize, json.RawMessage(`{}`))
		errCh <- err
	}()

	req := child.readRequest(t)
	require.NotNil(t, req.ID)
	assert.Equal(t, uint64(0), *req.ID)
	assert.Equal(t, wireformat.MethodInitialize, req.Method)

	child.reply(t, *req.ID, map[string]string{"status": "ready"})
	require.NoError(t, <-errCh)

	go func() {
		_, err := c.call(ctx, wireformat.MethodCapabilities, nil)
		errCh <- err
	}()

	req = child.readRequest(t)
	require.NotNil(t, req.ID)
	assert.Equal(t, uint64(1), *req.ID)

	child.reply(t, *req.ID, []string{})
	require.NoError(t, <-errCh)
}

func TestCall_ReturnsRawResult(t *testing.T) {
	c, child := newTestConn(t)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	type reply struct {
		raw json.RawMessage
		err error
	}
	replyCh := make(chan reply, 1)
	go func() {
		raw, err := c.call(ctx, "echo", json.RawMessage(`{"msg":"hello"}`))
		replyCh <- reply{raw, err}
	}()

	req := child.readRequest(t)
	assert.JSONEq(t, `{"msg":"hello"}`, string(req.Params))
	child.reply(t, *req.ID, map[string]string{"msg": "hello"})

	got := <-replyCh
	require.NoError(t, got.err)
	assert.JSONEq(t, `{"msg":"hello"}`, string(got.raw))
}

func TestCall_ErrorStringBecomesExtensionError(t *testing.T) {
	c, child := newTestConn(t)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := c.call(ctx, "explode", nil)
		errCh <- err
	}()

	req := child.readRequest(t)
	child.replyError(t, *req.ID, "something broke")

	err := <-errCh
	require.Error(t, err)
	assert.ErrorIs(t, err, domerrors.ErrExtension)

	var extErr *domerrors.ExtensionError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, "something broke", extErr.Msg)
}

func TestCall_MethodNotFoundClassified(t *testing.T) {
	c, child := newTestConn(t)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := c.call(ctx, "tools/frobnicate", nil)
		errCh <- err
	}()

	req := child.readRequest(t)
	child.replyError(t, *req.ID, "method not found: tools/frobnicate")

	err := <-errCh
	assert.ErrorIs(t, err, domerrors.ErrMethodNotFound)

	var nfErr *domerrors.MethodNotFoundError
	require.ErrorAs(t, err, &nfErr)
	assert.Equal(t, "tools/frobnicate", nfErr.Method)
}

func TestCall_RepliesMatchedByID(t *testing.T) {
	c, child := newTestConn(t)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	type reply struct {
		raw json.RawMessage
		err error
	}
	first := make(chan reply, 1)
	second := make(chan reply, 1)
	go func() {
		raw, err := c.call(ctx, "slow", nil)
		first <- reply{raw, err}
	}()
	reqA := child.readRequest(t)
	go func() {
		raw, err := c.call(ctx, "fast", nil)
		second <- reply{raw, err}
	}()
	reqB := child.readRequest(t)

	// Answer in reverse order of issue.
	child.reply(t, *reqB.ID, map[string]string{"answer": "fast"})
	child.reply(t, *reqA.ID, map[string]string{"answer": "slow"})

	got := <-first
	require.NoError(t, got.err)
	assert.JSONEq(t, `{"answer":"slow"}`, string(got.raw))

	got = <-second
	require.NoError(t, got.err)
	assert.JSONEq(t, `{"answer":"fast"}`, string(got.raw))
}

func TestCall_MalformedReplyFailsOnlyThatRequest(t *testing.T) {
	c, child := newTestConn(t)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	type reply struct {
		raw json.RawMessage
		err error
	}
	healthy := make(chan reply, 1)
	poisoned := make(chan reply, 1)
	go func() {
		raw, err := c.call(ctx, "healthy", nil)
		healthy <- reply{raw, err}
	}()
	reqA := child.readRequest(t)
	go func() {
		raw, err := c.call(ctx, "poisoned", nil)
		poisoned <- reply{raw, err}
	}()
	reqB := child.readRequest(t)
	require.Equal(t, uint64(1), *reqB.ID)

	// A broken reply line that still names the second request's id.
	child.send(t, `{"id": 1, "result": {broken`)

	got := <-poisoned
	require.Error(t, got.err)
	assert.ErrorIs(t, got.err, domerrors.ErrProtocol)

	// The other request is untouched and still answerable.
	child.reply(t, *reqA.ID, map[string]bool{"ok": true})
	got = <-healthy
	require.NoError(t, got.err)
	assert.JSONEq(t, `{"ok":true}`, string(got.raw))
}

func TestCall_GarbageWithoutIDIsDropped(t *testing.T) {
	c, child := newTestConn(t)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := c.call(ctx, "ping", nil)
		errCh <- err
	}()

	req := child.readRequest(t)
	child.send(t, `{nonsense without any identifier`)
	child.reply(t, *req.ID, "pong")

	require.NoError(t, <-errCh)
}

func TestCall_BannerLinesIgnored(t *testing.T) {
	c, child := newTestConn(t)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := c.call(ctx, "ping", nil)
		errCh <- err
	}()

	req := child.readRequest(t)
	child.send(t, "extension v1.0 starting up")
	child.send(t, "")
	child.reply(t, *req.ID, "pong")

	require.NoError(t, <-errCh)
}

func TestNotify_HasNoID(t *testing.T) {
	c, child := newTestConn(t)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	require.NoError(t, c.notify(ctx, wireformat.MethodTeardown, nil))

	req := child.readRequest(t)
	assert.Nil(t, req.ID)
	assert.Equal(t, wireformat.MethodTeardown, req.Method)
}

func TestCall_ContextTimeout(t *testing.T) {
	c, _ := newTestConn(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.call(ctx, "never-answered", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	c.mu.Lock()
	pending := len(c.pending)
	c.mu.Unlock()
	assert.Zero(t, pending, "timed-out request must be unregistered")
}

func TestCall_ReplyBeatsCancel(t *testing.T) {
	c, child := newTestConn(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type reply struct {
		raw json.RawMessage
		err error
	}
	replyCh := make(chan reply, 1)
	go func() {
		raw, err := c.call(ctx, "close-race", nil)
		replyCh <- reply{raw, err}
	}()

	req := child.readRequest(t)
	child.reply(t, *req.ID, "made it")
	// Let the reader park the reply in the buffered channel, then cancel.
	time.Sleep(10 * time.Millisecond)
	cancel()

	got := <-replyCh
	require.NoError(t, got.err, "reply landed before cancel, must not be lost")
	assert.JSONEq(t, `"made it"`, string(got.raw))
}

func TestProcessExit_FailsPending(t *testing.T) {
	c, child := newTestConn(t)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := c.call(ctx, "doomed", nil)
		errCh <- err
	}()
	child.readRequest(t)

	child.proc.exit(errors.New("exit status 2"))

	err := <-errCh
	require.Error(t, err)
	assert.ErrorIs(t, err, domerrors.ErrProtocol)

	// Later calls fail fast instead of hanging.
	_, err = c.call(ctx, "after-death", nil)
	assert.ErrorIs(t, err, domerrors.ErrProtocol)
}

func TestClose_GracefulTermination(t *testing.T) {
	c, child := newTestConn(t)

	// A well-behaved child exits on SIGTERM.
	child.proc.mu.Lock()
	child.proc.onTerm = func() { child.proc.exit(nil) }
	child.proc.mu.Unlock()

	c.close(context.Background(), testTimeout)

	assert.Equal(t, []string{"term"}, child.proc.sentSignals())
	select {
	case <-c.done:
	case <-time.After(testTimeout):
		t.Fatal("conn did not observe exit")
	}
}

func TestClose_EscalatesToKill(t *testing.T) {
	c, child := newTestConn(t)

	// The child ignores SIGTERM, so the grace period expires.
	c.close(context.Background(), 30*time.Millisecond)

	sigs := child.proc.sentSignals()
	require.Len(t, sigs, 2)
	assert.Equal(t, "term", sigs[0])
	assert.Equal(t, "kill", sigs[1])
}

func TestDuplicateReplyDropped(t *testing.T) {
	c, child := newTestConn(t)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	type reply struct {
		raw json.RawMessage
		err error
	}
	replyCh := make(chan reply, 1)
	go func() {
		raw, err := c.call(ctx, "once", nil)
		replyCh <- reply{raw, err}
	}()

	req := child.readRequest(t)
	child.reply(t, *req.ID, "first")
	got := <-replyCh
	require.NoError(t, got.err)
	assert.JSONEq(t, `"first"`, string(got.raw))

	// A second reply with the same id is silently discarded.
	child.reply(t, *req.ID, "second")
	time.Sleep(20 * time.Millisecond)
}

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

func TestStderrForwardedToLog(t *testing.T) {
	proc := newFakeProcess()
	var buf syncBuffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	c := newConn(proc, logger, 0)
	t.Cleanup(func() {
		proc.exit(nil)
		<-c.done
	})

	_, err := proc.stderrW.Write([]byte("boot diagnostics ok\n"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(buf.String()), []byte("boot diagnostics ok"))
	}, testTimeout, 10*time.Millisecond, "stderr line should reach the host log")
}
