package stream

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/toolbridge/toolbridge/auth"
)

// Terminal stream failures, distinguishable with errors.Is.
var (
	// ErrAuthRequired: no identity was resolvable before the stream opened.
	// No connection is attempted.
	ErrAuthRequired = errors.New("authentication required for streaming")

	// ErrConnectionLost: the transport closed before any content arrived.
	ErrConnectionLost = errors.New("connection lost")

	// ErrEmptyStream: content markers arrived but the accumulated message is
	// empty. Indicates a decoding or backend bug, never normal completion.
	ErrEmptyStream = errors.New("stream ended with empty response")
)

// Callbacks are supplied by the caller of Open. OnChunk, OnComplete and
// OnError are required; the rest are optional observers.
type Callbacks struct {
	OnChunk    func(chunk string)
	OnComplete func(fullMessage string)
	OnError    func(err error)

	OnToolCallStart func(tool ToolCallInfo)
	OnToolCallEnd   func(tool ToolCallInfo)
	OnNodeExecute   func(nodeName string, phase NodePhase)
}

// Options configure one streaming exchange.
type Options struct {
	// BaseURL of the dashboard backend, e.g. "http://localhost:3001".
	BaseURL string

	// SessionID and MessageID scope the stream to one already-persisted
	// user message.
	SessionID string
	MessageID string

	// Identity is resolved once before the transport opens. The transport
	// cannot carry custom headers, so the user id rides as a query
	// parameter instead.
	Identity auth.Provider

	// HTTPClient defaults to a client without timeout (the connection is
	// long-lived by design).
	HTTPClient *http.Client

	// TypingDelay is the pause between displayed fragments. Zero means the
	// 40ms default.
	TypingDelay time.Duration

	// DrainPollInterval is how often the controller re-checks the typing
	// queue while waiting for it to empty before completion. Zero means
	// 100ms.
	DrainPollInterval time.Duration

	Logger *slog.Logger
}

// closeOutcome is the three-way disambiguation of the transport's single
// generic close/error signal.
type closeOutcome int

const (
	closeCompleted closeOutcome = iota
	closeEmptyStream
	closeConnectionLost
)

// classifyClose decides what a transport closure means. The transport fires
// the same signal on clean end-of-stream and on genuine connection loss, so
// received content is the only available evidence. Kept as a pure function
// so a transport with distinct close-clean/close-error signals can replace
// it wholesale.
func classifyClose(receivedContent bool, accumulated string) closeOutcome {
	switch {
	case receivedContent && len(accumulated) > 0:
		return closeCompleted
	case receivedContent:
		return closeEmptyStream
	default:
		return closeConnectionLost
	}
}

// Open runs one streaming exchange for a (session, user message) pair: it
// resolves identity, opens the server-push connection, routes decoded events
// into the typing queue and the observer callbacks, disambiguates completion
// from connection failure, and guarantees resource release.
//
// Exactly one of OnComplete / OnError fires, and all failures are terminal
// for the exchange; retry is the caller's decision. The returned handle
// forcibly closes the transport and stops the drain worker; callers must
// invoke it on teardown even after completion.
func Open(ctx context.Context, opts Options, cb Callbacks) (cancel func()) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	identity := opts.Identity
	if identity == nil {
		identity = auth.Anonymous
	}
	userID, err := identity.UserID(ctx)
	if err != nil || userID == "" {
		cb.OnError(ErrAuthRequired)
		return func() {}
	}

	streamURL := fmt.Sprintf(
		"%s/api/public/chat/sessions/%s/messages/%s/stream?userId=%s",
		strings.TrimSuffix(opts.BaseURL, "/"),
		url.PathEscape(opts.SessionID),
		url.PathEscape(opts.MessageID),
		url.QueryEscape(userID),
	)

	ctx, cancelCtx := context.WithCancel(ctx)

	queue := newTypingQueue(opts.TypingDelay, func(fragment string) {
		cb.OnChunk(fragment)
	})

	c := &controller{
		opts:   opts,
		cb:     cb,
		queue:  queue,
		logger: logger,
	}

	go c.run(ctx, streamURL)

	var once sync.Once
	return func() {
		once.Do(func() {
			cancelCtx()
			queue.Close()
		})
	}
}

type controller struct {
	opts   Options
	cb     Callbacks
	queue  *typingQueue
	logger *slog.Logger

	// single writer: the run goroutine
	fullMessage     strings.Builder
	receivedContent bool

	terminal sync.Once
}

func (c *controller) run(ctx context.Context, streamURL string) {
	httpClient := c.opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		c.fail(errors.Wrap(err, "build stream request"))
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			c.queue.Close()
			return
		}
		c.fail(ErrConnectionLost)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.fail(errors.Wrapf(ErrConnectionLost, "stream endpoint returned %d", resp.StatusCode))
		return
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if !c.handle(payload) {
			return
		}
	}
	// A cancelled exchange fires no further callbacks, matching a transport
	// that was explicitly closed by its owner.
	if ctx.Err() != nil {
		c.queue.Close()
		return
	}
	// EOF or read error: the transport's one generic close signal. A read
	// error after content still means the producer is gone, which the
	// three-way branch already covers.
	c.finish()
}

// handle routes one decoded payload. It returns false when the stream is
// terminally failed and reading must stop.
func (c *controller) handle(payload string) bool {
	ev, err := Decode([]byte(payload))
	if err != nil {
		c.logger.Error("malformed stream frame", "err", err)
		c.fail(err)
		return false
	}

	switch ev.Kind {
	case KindContent:
		c.fullMessage.WriteString(ev.Content)
		c.receivedContent = true
		c.queue.Enqueue(ev.Content)
	case KindBegin:
		// The backend restarted its internal stream framing; start over.
		c.fullMessage.Reset()
		c.queue.Reset()
	case KindEnd:
		// Carries no reliable completion semantics; transport closure is
		// the real signal.
	case KindError:
		c.fail(errors.New(ev.Message))
		return false
	case KindToolCallStart:
		if c.cb.OnToolCallStart != nil {
			c.cb.OnToolCallStart(ev.Tool)
		}
	case KindToolCallEnd:
		if c.cb.OnToolCallEnd != nil {
			c.cb.OnToolCallEnd(ev.Tool)
		}
	case KindNodeExecuteBefore:
		if c.cb.OnNodeExecute != nil {
			c.cb.OnNodeExecute(ev.NodeName, NodeBefore)
		}
	case KindNodeExecuteAfter:
		if c.cb.OnNodeExecute != nil {
			c.cb.OnNodeExecute(ev.NodeName, NodeAfter)
		}
	}
	return true
}

func (c *controller) finish() {
	switch classifyClose(c.receivedContent, c.fullMessage.String()) {
	case closeCompleted:
		c.drainQueue()
		full := c.fullMessage.String()
		c.terminal.Do(func() {
			c.cb.OnComplete(full)
		})
		c.queue.Close()
	case closeEmptyStream:
		c.fail(ErrEmptyStream)
	case closeConnectionLost:
		c.fail(ErrConnectionLost)
	}
}

// drainQueue polls until every queued fragment has been displayed, so the
// completion callback never outruns the typing animation.
func (c *controller) drainQueue() {
	interval := c.opts.DrainPollInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	for !c.queue.Idle() {
		time.Sleep(interval)
	}
}

// fail reports a terminal failure. Fragments already queued are delivered
// first, so partial content received before the failure reaches the caller's
// buffer before the error does; the caller decides what to show for it. Only
// the cleanup handle force-drops pending fragments.
func (c *controller) fail(err error) {
	c.drainQueue()
	c.terminal.Do(func() {
		c.cb.OnError(err)
	})
	c.queue.Close()
}
