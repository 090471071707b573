package headerinject

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/metrics"
)

// Message types accepted by HandleMessage.
const (
	MessageSetHeaders = "set-headers"
	MessagePing       = "ping"
)

// DefaultTimeout bounds the wait for response headers on injected requests.
const DefaultTimeout = 12 * time.Second

// minTimeout keeps a misconfigured timeout from failing every request.
const minTimeout = 3 * time.Second

// Message is one controller-to-worker message.
type Message struct {
	T       string            `json:"t"`
	ForURL  string            `json:"forUrl,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	// TTL is in seconds.
	TTL int `json:"ttl,omitempty"`
}

// Reply acknowledges a message.
type Reply struct {
	T     string `json:"t"`
	OK    bool   `json:"ok"`
	Host  string `json:"host,omitempty"`
	Error string `json:"error,omitempty"`
}

// Worker injects cached provider headers into media requests. It is safe
// for concurrent use.
type Worker struct {
	cache   *Cache
	next    http.RoundTripper
	timeout time.Duration
	log     *logging.Logger
}

// New creates a worker that forwards through next (http.DefaultTransport
// when nil).
func New(cache *Cache, next http.RoundTripper, timeout time.Duration, log *logging.Logger) *Worker {
	if next == nil {
		next = http.DefaultTransport
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if timeout < minTimeout {
		timeout = minTimeout
	}
	return &Worker{
		cache:   cache,
		next:    next,
		timeout: timeout,
		log:     log.WithComponent("header-worker"),
	}
}

// HandleMessage applies a controller message. Unknown types are rejected
// without touching the cache.
func (w *Worker) HandleMessage(msg Message) Reply {
	switch msg.T {
	case MessagePing:
		return Reply{T: "pong", OK: true}
	case MessageSetHeaders:
		entry, ok := w.cache.Set(msg.ForURL, msg.Headers, time.Duration(msg.TTL)*time.Second)
		if !ok {
			return Reply{T: msg.T, Error: fmt.Sprintf("invalid forUrl %q", msg.ForURL)}
		}
		w.log.Debug("headers set", "host", entry.Host, "expires_at", entry.ExpiresAt)
		return Reply{T: msg.T, OK: true, Host: entry.Host}
	default:
		return Reply{T: msg.T, Error: "unknown message type"}
	}
}

// Intercepts reports whether a request path is a manifest or segment the
// worker should handle.
func Intercepts(path string) bool {
	p := strings.ToLower(path)
	return strings.HasSuffix(p, ".m3u8") || strings.HasSuffix(p, ".ts") ||
		strings.HasSuffix(p, ".m4s") || strings.HasSuffix(p, ".mp4")
}

// RoundTrip re-issues intercepted requests with the cached headers merged
// in. A request whose headers do not arrive within the timeout gets a
// synthesized 504; any other failure is retried once without the injected
// headers under the same timeout, and a synthesized 502 is returned if that
// fails too.
func (w *Worker) RoundTrip(req *http.Request) (*http.Response, error) {
	if !Intercepts(req.URL.Path) {
		return w.next.RoundTrip(req)
	}
	entry, ok := w.cache.Get(req.URL.Host)
	if !ok {
		return w.next.RoundTrip(req)
	}

	resp, timedOut, err := w.send(req, entry.Headers)
	if err == nil {
		metrics.ObserveWorkerRequest("injected")
		return resp, nil
	}
	if req.Context().Err() != nil {
		// The caller gave up; nothing to retry.
		return nil, err
	}
	if timedOut {
		w.log.Warn("injected request timed out", "host", req.URL.Host, "path", req.URL.Path)
		metrics.ObserveWorkerRequest("timeout")
		return synthesize(req, http.StatusGatewayTimeout, "Gateway Timeout"), nil
	}

	w.log.Debug("injected request failed, retrying plain", "host", req.URL.Host, "error", err)
	resp, timedOut, err = w.send(req, nil)
	switch {
	case err == nil:
		metrics.ObserveWorkerRequest("fallback")
		return resp, nil
	case req.Context().Err() != nil:
		return nil, err
	case timedOut:
		w.log.Warn("plain retry timed out", "host", req.URL.Host, "path", req.URL.Path)
		metrics.ObserveWorkerRequest("timeout")
		return synthesize(req, http.StatusGatewayTimeout, "Gateway Timeout"), nil
	default:
		metrics.ObserveWorkerRequest("failed")
		return synthesize(req, http.StatusBadGateway, "Network error"), nil
	}
}

// send forwards a clone of req with headers set, giving up when response
// headers do not arrive within the worker timeout. The body of a returned
// response stays readable until it is closed.
func (w *Worker) send(req *http.Request, headers map[string]string) (*http.Response, bool, error) {
	ctx, cancel := context.WithCancel(req.Context())
	var timedOut atomic.Bool
	timer := time.AfterFunc(w.timeout, func() {
		timedOut.Store(true)
		cancel()
	})

	out := req.Clone(ctx)
	for k, v := range headers {
		out.Header.Set(k, v)
	}

	resp, err := w.next.RoundTrip(out)
	timer.Stop()
	if err != nil {
		cancel()
		return nil, timedOut.Load(), err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, false, nil
}

// Client returns an http.Client whose requests pass through the worker.
func (w *Worker) Client() *http.Client {
	return &http.Client{Transport: w}
}

// Cache returns the worker's header cache.
func (w *Worker) Cache() *Cache {
	return w.cache
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func synthesize(req *http.Request, status int, text string) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:          io.NopCloser(strings.NewReader(text)),
		ContentLength: int64(len(text)),
		Request:       req,
	}
}

var _ http.RoundTripper = (*Worker)(nil)
