package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	domerrors "github.com/gantry-dev/gantry/domain/errors"
	"github.com/gantry-dev/gantry/domain/ports"
	"github.com/gantry-dev/gantry/wireformat"
)

const (
	// DefaultMaxLineBytes caps one reply line from the child.
	DefaultMaxLineBytes = 4 << 20

	// stderrLineLimit caps one forwarded diagnostic line. Longer lines are
	// truncated, not dropped.
	stderrLineLimit = 8 << 10

	outboxCapacity = 32
)

// idSalvage recovers a request id from a line that failed to parse, so the
// one pending request it answered can fail without touching the others.
var idSalvage = regexp.MustCompile(`"id"\s*:\s*(\d+)`)

type stdioReply struct {
	result json.RawMessage
	err    error
}

// conn multiplexes JSON-lines requests onto one child process. Three
// goroutines run per conn: a writer draining the outbox onto stdin, a
// reader resolving reply lines against the pending map, and a diagnostic
// reader forwarding stderr to the host log. The reader owns Wait: when
// stdout closes it reaps the process and fails everything still pending.
type conn struct {
	handle  ports.ProcessHandle
	logger  *slog.Logger
	maxLine int

	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan stdioReply
	closed  bool
	exitErr error

	outbox chan []byte
	done   chan struct{}

	closeOnce sync.Once
	killOnce  sync.Once
}

func newConn(handle ports.ProcessHandle, logger *slog.Logger, maxLine int) *conn {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineBytes
	}
	c := &conn{
		handle:  handle,
		logger:  logger,
		maxLine: maxLine,
		pending: make(map[uint64]chan stdioReply),
		outbox:  make(chan []byte, outboxCapacity),
		done:    make(chan struct{}),
	}
	go c.writeLoop()
	go c.readLoop()
	go c.stderrLoop()
	return c
}

// call sends one request and blocks until its reply arrives, the context
// expires, or the process dies. Request ids count up from zero.
func (c *conn) call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	id := c.nextID.Add(1) - 1

	ch, err := c.register(id)
	if err != nil {
		return nil, err
	}

	frame, err := encodeLine(wireformat.StdioRequestWire{ID: &id, Method: method, Params: params})
	if err != nil {
		c.unregister(id)
		return nil, &domerrors.SerializationError{Err: err, Operation: "encode request"}
	}
	if err := c.enqueue(ctx, frame); err != nil {
		c.unregister(id)
		return nil, err
	}

	select {
	case reply := <-ch:
		return reply.result, reply.err
	case <-ctx.Done():
		c.unregister(id)
		// The reply may have landed just before cancellation.
		select {
		case reply := <-ch:
			return reply.result, reply.err
		default:
			return nil, ctx.Err()
		}
	}
}

// notify sends a request without an id. The child must not reply.
func (c *conn) notify(ctx context.Context, method string, params json.RawMessage) error {
	frame, err := encodeLine(wireformat.StdioRequestWire{Method: method, Params: params})
	if err != nil {
		return &domerrors.SerializationError{Err: err, Operation: "encode notification"}
	}
	return c.enqueue(ctx, frame)
}

func encodeLine(frame wireformat.StdioRequestWire) ([]byte, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (c *conn) enqueue(ctx context.Context, frame []byte) error {
	select {
	case c.outbox <- frame:
		return nil
	case <-c.done:
		return c.exitError()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *conn) register(id uint64) (chan stdioReply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, c.exitErrorLocked()
	}
	ch := make(chan stdioReply, 1)
	c.pending[id] = ch
	return ch, nil
}

func (c *conn) unregister(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// takePending removes and returns the channel waiting on id, if any.
func (c *conn) takePending(id uint64) (chan stdioReply, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	return ch, ok
}

func (c *conn) writeLoop() {
	stdin := c.handle.Stdin()
	for {
		select {
		case frame := <-c.outbox:
			if _, err := stdin.Write(frame); err != nil {
				// The reader notices the death and fails the pending
				// requests; nothing to do here but stop writing.
				c.logger.Debug("stdin write failed", "error", err)
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *conn) readLoop() {
	scanner := bufio.NewScanner(c.handle.Stdout())
	scanner.Buffer(make([]byte, 0, 4096), c.maxLine)
	for scanner.Scan() {
		c.handleLine(scanner.Bytes())
	}
	if err := scanner.Err(); err != nil {
		c.logger.Warn("stdout read failed", "error", err)
	}

	// Stdout closed: reap the process and fail whatever is still waiting.
	waitErr := c.handle.Wait()
	c.shutdown(waitErr)
}

func (c *conn) handleLine(line []byte) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return
	}
	if trimmed[0] != '{' {
		// Startup banners and stray prints are tolerated.
		c.logger.Debug("ignoring non-frame output", "bytes", len(trimmed))
		return
	}

	var frame struct {
		ID     *uint64         `json:"id"`
		Method string          `json:"method"`
		Result json.RawMessage `json:"result"`
		Error  *string         `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &frame); err != nil {
		c.failMalformed(trimmed, err)
		return
	}

	if frame.ID == nil {
		c.logger.Debug("dropping frame without id", "method", frame.Method)
		return
	}

	ch, ok := c.takePending(*frame.ID)
	if !ok {
		c.logger.Debug("dropping reply with unknown id", "reply_id", *frame.ID)
		return
	}
	if frame.Error != nil {
		ch <- stdioReply{err: classifyStringError(*frame.Error)}
		return
	}
	ch <- stdioReply{result: frame.Result}
}

// failMalformed handles a reply line that is not valid JSON. When the id is
// recoverable the matching request fails alone; everything else pending
// stays untouched.
func (c *conn) failMalformed(line []byte, parseErr error) {
	m := idSalvage.FindSubmatch(line)
	if m == nil {
		c.logger.Warn("dropping unparseable reply line", "error", parseErr, "bytes", len(line))
		return
	}
	id, err := strconv.ParseUint(string(m[1]), 10, 64)
	if err != nil {
		c.logger.Warn("dropping unparseable reply line", "error", parseErr, "bytes", len(line))
		return
	}
	ch, ok := c.takePending(id)
	if !ok {
		return
	}
	ch <- stdioReply{err: &domerrors.ProtocolError{
		Protocol: "stdio",
		Err:      parseErr,
		Msg:      fmt.Sprintf("malformed reply to request %d", id),
	}}
}

// classifyStringError maps the plain-string error of the stdio dialect back
// into the taxonomy.
func classifyStringError(msg string) error {
	if rest, ok := strings.CutPrefix(msg, wireformat.MethodNotFoundPrefix); ok {
		method := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), ":"))
		return &domerrors.MethodNotFoundError{Method: method}
	}
	return &domerrors.ExtensionError{Msg: msg}
}

func (c *conn) stderrLoop() {
	r := bufio.NewReaderSize(c.handle.Stderr(), stderrLineLimit)
	for {
		line, isPrefix, err := r.ReadLine()
		if len(line) > 0 {
			c.logger.Info("extension stderr", "line", string(line), "truncated", isPrefix)
		}
		// Skip the remainder of an overlong line.
		for isPrefix && err == nil {
			_, isPrefix, err = r.ReadLine()
		}
		if err != nil {
			return
		}
	}
}

// shutdown fails every pending request with a protocol error and marks the
// conn dead. Called exactly once, by the reader.
func (c *conn) shutdown(waitErr error) {
	c.mu.Lock()
	c.closed = true
	c.exitErr = waitErr
	pend := c.pending
	c.pending = make(map[uint64]chan stdioReply)
	c.mu.Unlock()

	for _, ch := range pend {
		ch <- stdioReply{err: &domerrors.ProtocolError{
			Protocol: "stdio",
			Err:      waitErr,
			Msg:      "process exited before replying",
		}}
	}
	close(c.done)

	if waitErr != nil {
		c.logger.Info("extension process exited", "error", waitErr)
	} else {
		c.logger.Info("extension process exited")
	}
}

func (c *conn) exitError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitErrorLocked()
}

func (c *conn) exitErrorLocked() error {
	return &domerrors.ProtocolError{Protocol: "stdio", Err: c.exitErr, Msg: "process exited"}
}

// close tears the child down: stdin closes to signal EOF, then SIGTERM,
// then after the grace period SIGKILL. It returns once the process has been
// reaped.
func (c *conn) close(ctx context.Context, grace time.Duration) {
	c.closeOnce.Do(func() {
		_ = c.handle.Stdin().Close()
		_ = c.handle.Terminate()
		select {
		case <-c.done:
		case <-time.After(grace):
			c.kill()
		case <-ctx.Done():
			c.kill()
		}
	})
}

// kill force-terminates the child. The reader observes the death, reaps
// the process and drains the pending map.
func (c *conn) kill() {
	c.killOnce.Do(func() {
		_ = c.handle.Kill()
	})
	<-c.done
}
