// Package proxy serves the manifest/segment proxy and the HTML frame proxy.
package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"stream-resolver-go/pkg/httpclient"
	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/metrics"
	"stream-resolver-go/pkg/middleware"
	"stream-resolver-go/pkg/rewrite"
	"stream-resolver-go/pkg/types"
	"stream-resolver-go/pkg/urlutil"
)

// ProxiedBy is sent as X-Proxy-By on every proxied response.
const ProxiedBy = "stream-resolver-go"

const maxManifestBytes = 16 << 20

// Options tunes the proxy handler.
type Options struct {
	// SegmentTimeout bounds the wait for upstream response headers on
	// /proxy, and separately the read of a manifest body. Segment bodies
	// stream for as long as the client keeps reading.
	SegmentTimeout time.Duration
	// PageTimeout bounds the /frame header wait and body read the same way.
	PageTimeout time.Duration
}

// Handler proxies manifests, keys and segments, and frames HTML pages.
type Handler struct {
	client         interfaces.Fetcher
	rewriter       *rewrite.Rewriter
	segmentTimeout time.Duration
	pageTimeout    time.Duration
	log            *logging.Logger
}

// New creates a proxy handler. The rewriter's prefix is the path the handler
// is mounted on.
func New(client interfaces.Fetcher, rewriter *rewrite.Rewriter, opts Options, log *logging.Logger) *Handler {
	if opts.SegmentTimeout <= 0 {
		opts.SegmentTimeout = 60 * time.Second
	}
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 12 * time.Second
	}
	return &Handler{
		client:         client,
		rewriter:       rewriter,
		segmentTimeout: opts.SegmentTimeout,
		pageTimeout:    opts.PageTimeout,
		log:            log.WithComponent("proxy"),
	}
}

// RegisterRoutes mounts /proxy (at the rewriter prefix) and /frame.
func (h *Handler) RegisterRoutes(r chi.Router) {
	prefix := h.rewriter.Prefix()
	r.Get(prefix, h.ServeProxy)
	r.Head(prefix, h.ServeProxy)
	r.Options(prefix, h.ServeProxy)
	r.Get("/frame", h.ServeFrame)
	r.Options("/frame", h.ServeFrame)
}

// ServeProxy handles GET, HEAD and OPTIONS on the proxy path.
func (h *Handler) ServeProxy(w http.ResponseWriter, r *http.Request) {
	middleware.SetCORSHeaders(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	q := r.URL.Query()
	target := strings.TrimSpace(q.Get("url"))
	if target == "" || !urlutil.IsAbsolute(target) {
		metrics.ObserveProxy("invalid", http.StatusBadRequest)
		middleware.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": types.ErrMissingTarget.Error()})
		return
	}
	referer := q.Get("referer")
	if referer == "" {
		referer = q.Get("ref")
	}
	if referer == "" {
		referer = urlutil.OriginReferer(target)
	}
	origin := q.Get("origin")

	ua := r.UserAgent()
	if ua == "" {
		ua = httpclient.DefaultUserAgent
	}
	headers := map[string]string{
		"Accept":     httpclient.AcceptAny,
		"User-Agent": ua,
		"Referer":    referer,
		"Origin":     origin,
		"Range":      r.Header.Get("Range"),
	}

	method := http.MethodGet
	if r.Method == http.MethodHead {
		method = http.MethodHead
	}

	resp, cancel, err := h.send(r.Context(), method, target, headers, h.segmentTimeout)
	if err != nil {
		h.fail(w, target, err)
		return
	}
	defer cancel()
	defer resp.Body.Close()

	w.Header().Set("X-Proxy-By", ProxiedBy)

	if method == http.MethodHead {
		mirrorHeaders(w.Header(), resp.Header, "Content-Type", "Accept-Ranges", "Content-Range", "Content-Length")
		w.WriteHeader(resp.StatusCode)
		metrics.ObserveProxy("head", resp.StatusCode)
		return
	}

	if rewrite.IsManifest(resp.Header.Get("Content-Type"), target) {
		h.serveManifest(w, resp, cancel, target, referer, origin)
		return
	}
	h.serveSegment(w, resp, target)
}

func (h *Handler) serveManifest(w http.ResponseWriter, resp *http.Response, cancel context.CancelFunc, target, referer, origin string) {
	if !httpclient.IsSuccess(resp.StatusCode) {
		h.fail(w, target, &types.UpstreamError{URL: target, Status: resp.StatusCode})
		return
	}
	body, err := readBody(resp.Body, cancel, maxManifestBytes, h.segmentTimeout)
	if err != nil {
		h.fail(w, target, err)
		return
	}

	source := target
	if resp.Request != nil && resp.Request.URL != nil {
		source = resp.Request.URL.String()
	}
	out := h.rewriter.Rewrite(body, source, referer, origin)

	w.Header().Set("Content-Type", rewrite.ManifestContentType+"; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	w.WriteHeader(http.StatusOK)
	n, _ := w.Write(out)
	metrics.ObserveProxy("manifest", http.StatusOK)
	metrics.AddProxyBytes(int64(n))
}

func (h *Handler) serveSegment(w http.ResponseWriter, resp *http.Response, target string) {
	mirrorHeaders(w.Header(), resp.Header, "Content-Type", "Accept-Ranges", "Content-Range", "Content-Length")
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", guessContentType(target))
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "" {
		w.Header().Set("Cache-Control", cc)
	} else {
		w.Header().Set("Cache-Control", "public, max-age=60")
	}
	w.WriteHeader(resp.StatusCode)

	n, err := io.Copy(w, resp.Body)
	metrics.ObserveProxy("segment", resp.StatusCode)
	metrics.AddProxyBytes(n)
	if err != nil {
		// Headers are gone; the player sees a truncated body.
		h.log.Debug("segment stream interrupted", "url", target, "bytes", n, "error", err)
	}
}

// send issues an upstream request whose response headers must arrive
// within timeout. The returned cancel releases the body's context.
func (h *Handler) send(ctx context.Context, method, target string, headers map[string]string, timeout time.Duration) (*http.Response, context.CancelFunc, error) {
	ctx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(timeout, cancel)
	resp, err := h.client.Send(ctx, method, target, headers, nil)
	timer.Stop()
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return resp, cancel, nil
}

// readBody reads at most limit bytes of body, cancelling the request when
// the read takes longer than timeout.
func readBody(body io.Reader, cancel context.CancelFunc, limit int64, timeout time.Duration) ([]byte, error) {
	var timedOut atomic.Bool
	timer := time.AfterFunc(timeout, func() {
		timedOut.Store(true)
		cancel()
	})
	data, err := io.ReadAll(io.LimitReader(body, limit))
	timer.Stop()
	if err != nil && timedOut.Load() {
		return nil, fmt.Errorf("read body: %w", context.DeadlineExceeded)
	}
	return data, err
}

func (h *Handler) fail(w http.ResponseWriter, target string, err error) {
	h.log.Error("proxy request failed", "url", target, "error", err)
	metrics.ObserveProxy("error", http.StatusInternalServerError)
	middleware.WriteJSON(w, http.StatusInternalServerError, map[string]string{
		"error":   "proxy request failed",
		"details": err.Error(),
	})
}

func mirrorHeaders(dst, src http.Header, keys ...string) {
	for _, k := range keys {
		if v := src.Get(k); v != "" {
			dst.Set(k, v)
		}
	}
}

// guessContentType guesses the content type based on file extension.
func guessContentType(urlStr string) string {
	if idx := strings.IndexAny(urlStr, "?#"); idx > 0 {
		urlStr = urlStr[:idx]
	}
	contentTypes := map[string]string{
		".ts":  "video/mp2t",
		".m4s": "video/iso.segment",
		".mp4": "video/mp4",
		".m4a": "audio/mp4",
		".aac": "audio/aac",
		".vtt": "text/vtt",
		".key": "application/octet-stream",
	}
	if ct, ok := contentTypes[strings.ToLower(path.Ext(urlStr))]; ok {
		return ct
	}
	return "application/octet-stream"
}
