// Package services orchestrates resolution for the HTTP layer: request
// de-duplication, metrics and wrapping results in proxy URLs.
package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/metrics"
	"stream-resolver-go/pkg/rewrite"
	"stream-resolver-go/pkg/types"
)

// ResolveResult is a resolved stream plus its proxy-wrapped manifest URL.
type ResolveResult struct {
	Stream   *types.ResolvedStream
	ProxyURL string
	Trace    types.Trace
}

// FrameResult is a resolved frame plus its /frame URL.
type FrameResult struct {
	Frame    *types.ResolvedFrame
	FrameURL string
	Trace    types.Trace
}

// Resolvers groups the strategies the service can pick from.
type Resolvers struct {
	Stream interfaces.StreamResolver
	Frame  interfaces.FrameResolver
	// Deep strategies crawl breadth-first. Optional.
	DeepStream interfaces.StreamResolver
	DeepFrame  interfaces.FrameResolver
}

// DefaultResolveTimeout bounds one shared resolution run.
const DefaultResolveTimeout = 90 * time.Second

// ResolveService handles /resolve and /iframe requests.
type ResolveService struct {
	log         *logging.Logger
	resolvers   Resolvers
	proxyPrefix string
	framePath   string
	// runTimeout bounds a shared run, which outlives any single caller.
	runTimeout time.Duration
	group      singleflight.Group
}

// NewResolveService creates a resolve service.
func NewResolveService(log *logging.Logger, resolvers Resolvers, proxyPrefix string) *ResolveService {
	if proxyPrefix == "" {
		proxyPrefix = "/proxy"
	}
	return &ResolveService{
		log:         log.WithComponent("resolve-service"),
		resolvers:   resolvers,
		proxyPrefix: proxyPrefix,
		framePath:   "/frame",
		runTimeout:  DefaultResolveTimeout,
	}
}

// share runs fn once per key. The run is detached from any caller's
// context so a cancelled caller does not fail the others waiting on it;
// each caller still returns as soon as its own ctx is done.
func (s *ResolveService) share(ctx context.Context, key string, fn func(context.Context) (outcome, error)) (outcome, error, bool) {
	ch := s.group.DoChan(key, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.runTimeout)
		defer cancel()
		return fn(runCtx)
	})
	select {
	case res := <-ch:
		out, _ := res.Val.(outcome)
		return out, res.Err, res.Shared
	case <-ctx.Done():
		return outcome{}, ctx.Err(), false
	}
}

type outcome struct {
	stream *types.ResolvedStream
	frame  *types.ResolvedFrame
	trace  types.Trace
}

// Resolve resolves req to a manifest. Identical concurrent requests share
// one resolution run. base is prepended to the proxy URL.
func (s *ResolveService) Resolve(ctx context.Context, req types.PlaybackRequest, deep bool, base string) (*ResolveResult, error) {
	req.EmbedURL = DecodeURL(req.EmbedURL)
	resolver := s.resolvers.Stream
	mode := "stream"
	if deep && s.resolvers.DeepStream != nil {
		resolver, mode = s.resolvers.DeepStream, "stream-deep"
	}

	start := time.Now()
	out, err, shared := s.share(ctx, requestKey(mode, req), func(ctx context.Context) (outcome, error) {
		stream, trace, err := resolver.Resolve(ctx, req)
		return outcome{stream: stream, trace: trace}, err
	})
	s.observe(mode, req, out.stream != nil, len(out.trace), time.Since(start), shared)
	if err != nil {
		return nil, err
	}

	return &ResolveResult{
		Stream:   out.stream,
		ProxyURL: strings.TrimSuffix(base, "/") + rewrite.ProxyURL(s.proxyPrefix, out.stream.ManifestURL, out.stream.Referer, ""),
		Trace:    out.trace,
	}, nil
}

// ResolveFrame resolves req to an embeddable frame wrapped in /frame.
func (s *ResolveService) ResolveFrame(ctx context.Context, req types.PlaybackRequest, deep bool, base string) (*FrameResult, error) {
	req.EmbedURL = DecodeURL(req.EmbedURL)
	resolver := s.resolvers.Frame
	mode := "frame"
	if deep && s.resolvers.DeepFrame != nil {
		resolver, mode = s.resolvers.DeepFrame, "frame-deep"
	}

	start := time.Now()
	out, err, shared := s.share(ctx, requestKey(mode, req), func(ctx context.Context) (outcome, error) {
		frame, trace, err := resolver.ResolveFrame(ctx, req)
		return outcome{frame: frame, trace: trace}, err
	})
	s.observe(mode, req, out.frame != nil, len(out.trace), time.Since(start), shared)
	if err != nil {
		return nil, err
	}

	return &FrameResult{
		Frame:    out.frame,
		FrameURL: strings.TrimSuffix(base, "/") + FrameURL(s.framePath, out.frame.FrameURL, out.frame.Referer),
		Trace:    out.trace,
	}, nil
}

func (s *ResolveService) observe(mode string, req types.PlaybackRequest, ok bool, attempts int, d time.Duration, shared bool) {
	provider := req.Provider
	if provider == "" {
		provider = types.ProviderAuto
	}
	if !shared {
		metrics.ObserveResolve(mode, provider, ok, attempts, d)
	}
	log := s.log.WithProvider(provider)
	if ok {
		log.Info("resolved", "mode", mode, "id", req.CatalogID, "attempts", attempts, "duration", d, "shared", shared)
		return
	}
	log.Warn("resolution failed", "mode", mode, "id", req.CatalogID, "attempts", attempts, "duration", d, "shared", shared)
}

// requestKey identifies requests that resolve identically.
func requestKey(mode string, req types.PlaybackRequest) string {
	return fmt.Sprintf("%s|%s|%s|%d|%d|%d|%s|%s", mode, strings.ToLower(req.Provider), req.MediaType,
		req.CatalogID, req.SeasonOrDefault(), req.EpisodeOrDefault(), req.EmbedURL, req.EmbedReferer)
}

// FrameURL builds path?url=<target>&referer=<referer>.
func FrameURL(path, target, referer string) string {
	out := path + "?url=" + url.QueryEscape(target)
	if referer != "" {
		out += "&referer=" + url.QueryEscape(referer)
	}
	return out
}

// DecodeURL accepts embed URLs that arrive percent-encoded or base64
// encoded and returns them as plain absolute URLs.
func DecodeURL(urlStr string) string {
	if urlStr == "" {
		return urlStr
	}

	if decoded, err := url.QueryUnescape(urlStr); err == nil && decoded != urlStr && isHTTP(decoded) {
		urlStr = decoded
	}
	if isHTTP(urlStr) {
		return urlStr
	}

	padded := urlStr
	switch len(urlStr) % 4 {
	case 2:
		padded += "=="
	case 3:
		padded += "="
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding} {
		if decoded, err := enc.DecodeString(padded); err == nil && isHTTP(string(decoded)) {
			return string(decoded)
		}
	}
	return urlStr
}

func isHTTP(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
