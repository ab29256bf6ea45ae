package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolbridge/toolbridge/auth"
)

// sseEmitter writes data-line SSE frames to the response.
type sseEmitter struct {
	rw http.ResponseWriter
}

func (e *sseEmitter) emit(payload string) {
	fmt.Fprintf(e.rw, "data: %s\n\n", payload)
	if f, ok := e.rw.(http.Flusher); ok {
		f.Flush()
	}
}

// newStreamServer serves the stream endpoint; handle emits frames and
// returns to close the connection.
func newStreamServer(t *testing.T, handle func(c *echo.Context, emit func(string))) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	e := echo.New()
	e.GET("/api/public/chat/sessions/:sessionID/messages/:messageID/stream", func(c *echo.Context) error {
		hits.Add(1)
		rw := c.Response()
		rw.Header().Set("Content-Type", "text/event-stream")
		rw.Header().Set("Cache-Control", "no-cache")
		rw.WriteHeader(http.StatusOK)
		em := &sseEmitter{rw: rw}
		handle(c, em.emit)
		return nil
	})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv, &hits
}

type streamResult struct {
	mu       sync.Mutex
	chunks   []string
	complete *string
	err      error
	done     chan struct{}
}

func newStreamResult() *streamResult {
	return &streamResult{done: make(chan struct{})}
}

func (r *streamResult) callbacks() Callbacks {
	return Callbacks{
		OnChunk: func(chunk string) {
			r.mu.Lock()
			r.chunks = append(r.chunks, chunk)
			r.mu.Unlock()
		},
		OnComplete: func(full string) {
			r.mu.Lock()
			r.complete = &full
			r.mu.Unlock()
			close(r.done)
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.err = err
			r.mu.Unlock()
			close(r.done)
		},
	}
}

func (r *streamResult) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not terminate")
	}
}

func testOptions(baseURL string) Options {
	return Options{
		BaseURL:           baseURL,
		SessionID:         "sess-1",
		MessageID:         "msg-1",
		Identity:          auth.NewStatic("user-1"),
		TypingDelay:       time.Millisecond,
		DrainPollInterval: 5 * time.Millisecond,
	}
}

func TestStreamHappyPath(t *testing.T) {
	srv, _ := newStreamServer(t, func(c *echo.Context, emit func(string)) {
		assert.Equal(t, "user-1", c.Request().URL.Query().Get("userId"))
		emit(`{"type":"item","content":"Hi"}`)
		emit(`{"type":"item","content":" there"}`)
		emit(`{"type":"item","content":"!"}`)
	})

	res := newStreamResult()
	cancel := Open(context.Background(), testOptions(srv.URL), res.callbacks())
	defer cancel()
	res.wait(t)

	require.NoError(t, res.err)
	require.NotNil(t, res.complete)
	assert.Equal(t, "Hi there!", *res.complete)
	assert.Equal(t, []string{"Hi", " there", "!"}, res.chunks)
}

func TestStreamMixedShapes(t *testing.T) {
	srv, _ := newStreamServer(t, func(c *echo.Context, emit func(string)) {
		emit(`{"event":{"type":"text_message_content","data":{"content":"a"}}}`)
		emit(`{"type":"chunk","data":"b"}`)
		emit(`{"message":"c"}`)
		emit(`{"type":"unknown-future-event"}`) // ignored
		emit(`{"output":"d"}`)
	})

	res := newStreamResult()
	cancel := Open(context.Background(), testOptions(srv.URL), res.callbacks())
	defer cancel()
	res.wait(t)

	require.NoError(t, res.err)
	require.NotNil(t, res.complete)
	assert.Equal(t, "abcd", *res.complete)
}

func TestStreamNoContentIsConnectionLost(t *testing.T) {
	srv, _ := newStreamServer(t, func(c *echo.Context, emit func(string)) {
		emit(`{"type":"begin"}`)
		emit(`{"type":"end"}`)
	})

	res := newStreamResult()
	cancel := Open(context.Background(), testOptions(srv.URL), res.callbacks())
	defer cancel()
	res.wait(t)

	assert.Nil(t, res.complete)
	assert.True(t, errors.Is(res.err, ErrConnectionLost))
}

func TestStreamEmptyContentIsAnomaly(t *testing.T) {
	// A chunk arrived, but the concatenation is empty: never success.
	srv, _ := newStreamServer(t, func(c *echo.Context, emit func(string)) {
		emit(`{"type":"data","data":{"content":""}}`)
	})

	res := newStreamResult()
	cancel := Open(context.Background(), testOptions(srv.URL), res.callbacks())
	defer cancel()
	res.wait(t)

	assert.Nil(t, res.complete)
	assert.True(t, errors.Is(res.err, ErrEmptyStream))
}

func TestStreamBackendError(t *testing.T) {
	srv, _ := newStreamServer(t, func(c *echo.Context, emit func(string)) {
		emit(`{"type":"item","content":"partial"}`)
		emit(`{"type":"error","message":"rate limited"}`)
	})

	res := newStreamResult()
	cancel := Open(context.Background(), testOptions(srv.URL), res.callbacks())
	defer cancel()
	res.wait(t)

	assert.Nil(t, res.complete)
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "rate limited")
}

func TestStreamErrorDeliversPendingChunks(t *testing.T) {
	srv, _ := newStreamServer(t, func(c *echo.Context, emit func(string)) {
		for i := 0; i < 5; i++ {
			emit(`{"type":"item","content":"x"}`)
		}
		emit(`{"type":"error","message":"rate limited"}`)
	})

	// A delay well above frame arrival keeps fragments queued when the
	// failure lands.
	opts := testOptions(srv.URL)
	opts.TypingDelay = 20 * time.Millisecond

	res := newStreamResult()
	cancel := Open(context.Background(), opts, res.callbacks())
	defer cancel()
	res.wait(t)

	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "rate limited")
	assert.Equal(t, []string{"x", "x", "x", "x", "x"}, res.chunks,
		"fragments queued before the failure must still be delivered")
}

func TestStreamMalformedFrame(t *testing.T) {
	srv, _ := newStreamServer(t, func(c *echo.Context, emit func(string)) {
		emit(`{"type":"item","content":"kept"}`)
		emit(`this is not json`)
	})

	res := newStreamResult()
	cancel := Open(context.Background(), testOptions(srv.URL), res.callbacks())
	defer cancel()
	res.wait(t)

	assert.Nil(t, res.complete)
	assert.True(t, errors.Is(res.err, ErrMalformedFrame))
}

func TestStreamBeginResetsBuffer(t *testing.T) {
	srv, _ := newStreamServer(t, func(c *echo.Context, emit func(string)) {
		emit(`{"type":"item","content":"partial"}`)
		emit(`{"type":"begin"}`)
		emit(`{"type":"item","content":"full"}`)
	})

	res := newStreamResult()
	cancel := Open(context.Background(), testOptions(srv.URL), res.callbacks())
	defer cancel()
	res.wait(t)

	require.NoError(t, res.err)
	require.NotNil(t, res.complete)
	assert.Equal(t, "full", *res.complete)
}

func TestStreamToolCallLifecycle(t *testing.T) {
	srv, _ := newStreamServer(t, func(c *echo.Context, emit func(string)) {
		emit(`{"type":"tool-call-start","name":"search","description":"Wikipedia"}`)
		emit(`{"type":"item","content":"answer"}`)
		emit(`{"type":"tool-call-end","name":"search"}`)
	})

	var mu sync.Mutex
	var started, ended []string
	res := newStreamResult()
	cb := res.callbacks()
	cb.OnToolCallStart = func(tool ToolCallInfo) {
		mu.Lock()
		started = append(started, tool.Name)
		mu.Unlock()
	}
	cb.OnToolCallEnd = func(tool ToolCallInfo) {
		mu.Lock()
		ended = append(ended, tool.Name)
		mu.Unlock()
	}

	cancel := Open(context.Background(), testOptions(srv.URL), cb)
	defer cancel()
	res.wait(t)

	require.NoError(t, res.err)
	assert.Equal(t, []string{"search"}, started)
	assert.Equal(t, []string{"search"}, ended)
}

func TestStreamNodeExecuteObserver(t *testing.T) {
	srv, _ := newStreamServer(t, func(c *echo.Context, emit func(string)) {
		emit(`{"type":"node-execute-before","nodeName":"Agent"}`)
		emit(`{"type":"item","content":"x"}`)
		emit(`{"type":"node-execute-after","nodeName":"Agent"}`)
	})

	var mu sync.Mutex
	var phases []NodePhase
	res := newStreamResult()
	cb := res.callbacks()
	cb.OnNodeExecute = func(name string, phase NodePhase) {
		mu.Lock()
		phases = append(phases, phase)
		mu.Unlock()
	}

	cancel := Open(context.Background(), testOptions(srv.URL), cb)
	defer cancel()
	res.wait(t)

	require.NoError(t, res.err)
	assert.Equal(t, []NodePhase{NodeBefore, NodeAfter}, phases)
}

func TestStreamAuthRequired(t *testing.T) {
	srv, hits := newStreamServer(t, func(c *echo.Context, emit func(string)) {
		emit(`{"type":"item","content":"should never happen"}`)
	})

	opts := testOptions(srv.URL)
	opts.Identity = auth.Anonymous

	res := newStreamResult()
	cancel := Open(context.Background(), opts, res.callbacks())
	defer cancel()
	res.wait(t)

	assert.True(t, errors.Is(res.err, ErrAuthRequired))
	assert.Equal(t, int32(0), hits.Load(), "no connection may be attempted without identity")
}

func TestStreamCancelFiresNoCallbacks(t *testing.T) {
	release := make(chan struct{})
	srv, _ := newStreamServer(t, func(c *echo.Context, emit func(string)) {
		emit(`{"type":"item","content":"partial"}`)
		select {
		case <-release:
		case <-c.Request().Context().Done():
		}
	})
	defer close(release)

	res := newStreamResult()
	cancel := Open(context.Background(), testOptions(srv.URL), res.callbacks())

	// Give it time to receive the first chunk, then tear down.
	require.Eventually(t, func() bool {
		res.mu.Lock()
		defer res.mu.Unlock()
		return len(res.chunks) > 0
	}, 5*time.Second, time.Millisecond)
	cancel()

	select {
	case <-res.done:
		t.Fatal("no completion or error callback may fire after cleanup")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestStreamNon200IsConnectionLost(t *testing.T) {
	e := echo.New() // no route registered: 404
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	res := newStreamResult()
	cancel := Open(context.Background(), testOptions(srv.URL), res.callbacks())
	defer cancel()
	res.wait(t)

	assert.True(t, errors.Is(res.err, ErrConnectionLost))
}

func TestClassifyClose(t *testing.T) {
	tests := []struct {
		name        string
		received    bool
		accumulated string
		want        closeOutcome
	}{
		{"content received, non-empty", true, "Hi there!", closeCompleted},
		{"content received, empty", true, "", closeEmptyStream},
		{"nothing received", false, "", closeConnectionLost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyClose(tt.received, tt.accumulated))
		})
	}
}
