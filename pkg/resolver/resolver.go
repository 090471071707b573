// Package resolver locates playable HLS manifests behind provider embed
// pages. It walks generated candidates in order, descends into iframes and
// probes token APIs, recording every fetch in a trace.
package resolver

import (
	"context"
	"html"
	"strings"
	"time"

	"stream-resolver-go/pkg/extract"
	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/registry"
	"stream-resolver-go/pkg/types"
	"stream-resolver-go/pkg/urlutil"
)

// ProviderDirect names results from an explicit embed URL.
const ProviderDirect = "direct"

// maxIframeFollow bounds iframe descent per candidate.
const maxIframeFollow = 3

// ChallengeSolver renders pages that sit behind a bot challenge.
// *flaresolverr.Client implements it.
type ChallengeSolver interface {
	IsConfigured() bool
	Solve(ctx context.Context, pageURL string) (string, int, error)
}

// Options tunes a Resolver.
type Options struct {
	// PageTimeout bounds every embed, iframe and API fetch.
	PageTimeout time.Duration
	// Solver is consulted on 403/503 page responses. Optional.
	Solver ChallengeSolver
}

// Resolver turns playback requests into manifest URLs.
type Resolver struct {
	fetcher     interfaces.Fetcher
	providers   *registry.ProviderRegistry
	solver      ChallengeSolver
	pageTimeout time.Duration
	log         *logging.Logger
}

// New creates a resolver.
func New(fetcher interfaces.Fetcher, providers *registry.ProviderRegistry, opts Options, log *logging.Logger) *Resolver {
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 12 * time.Second
	}
	return &Resolver{
		fetcher:     fetcher,
		providers:   providers,
		solver:      opts.Solver,
		pageTimeout: opts.PageTimeout,
		log:         log.WithComponent("resolver"),
	}
}

// Resolve tries the direct embed override first, then every candidate of
// each provider the request selects. "auto" walks the configured order; a
// named provider is tried alone. The trace is returned on success and
// failure alike; failure is a *types.ResolutionFailure wrapping
// types.ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, req types.PlaybackRequest) (*types.ResolvedStream, types.Trace, error) {
	var trace types.Trace

	if req.EmbedURL != "" {
		if stream := r.resolveDirect(ctx, req, &trace); stream != nil {
			return stream, trace, nil
		}
	}

	if req.CatalogID > 0 {
		for _, name := range r.providerNames(req.Provider) {
			if ctx.Err() != nil {
				break
			}
			if stream := r.resolveProvider(ctx, name, req, &trace); stream != nil {
				return stream, trace, nil
			}
		}
	}

	r.log.Info("stream not found", "provider", req.Provider, "id", req.CatalogID, "attempts", len(trace))
	return nil, trace, &types.ResolutionFailure{Err: types.ErrNotFound, Trace: trace}
}

func (r *Resolver) providerNames(preference string) []string {
	pref := strings.ToLower(strings.TrimSpace(preference))
	if pref == "" || pref == types.ProviderAuto {
		return r.providers.Order(types.ProviderAuto)
	}
	return []string{pref}
}

func (r *Resolver) resolveDirect(ctx context.Context, req types.PlaybackRequest, trace *types.Trace) *types.ResolvedStream {
	referer := req.EmbedReferer
	if referer == "" {
		referer = urlutil.OriginReferer(req.EmbedURL)
	}
	// A known provider host still gets its token API probe.
	provider := r.providers.Get(req.EmbedURL)
	cand := types.Candidate{EmbedURL: req.EmbedURL, Referer: referer}
	return r.tryCandidate(ctx, ProviderDirect, provider, cand, trace)
}

func (r *Resolver) resolveProvider(ctx context.Context, name string, req types.PlaybackRequest, trace *types.Trace) *types.ResolvedStream {
	provider := r.providers.GetByName(name)
	if provider == nil {
		r.log.Warn("unknown provider", "provider", name)
		return nil
	}

	log := r.log.WithProvider(name)
	for i, cand := range provider.Candidates(req) {
		if ctx.Err() != nil {
			return nil
		}
		log.Debug("trying candidate", "index", i, "embed", cand.EmbedURL)
		if stream := r.tryCandidate(ctx, name, provider, cand, trace); stream != nil {
			log.Info("resolved stream", "embed", cand.EmbedURL, "attempts", len(*trace))
			return stream
		}
	}
	return nil
}

// tryCandidate runs the layered fallback chain on one embed page: text
// patterns, then iframe descent, then the provider's token API.
func (r *Resolver) tryCandidate(ctx context.Context, name string, provider interfaces.Provider, cand types.Candidate, trace *types.Trace) *types.ResolvedStream {
	pg, attempt := r.fetchPage(ctx, name, cand.EmbedURL, cand.Referer)
	if pg == nil {
		*trace = append(*trace, attempt)
		return nil
	}

	if manifest, ok := extract.ManifestURL(pg.body); ok {
		attempt.Outcome = types.OutcomeFound
		*trace = append(*trace, attempt)
		return &types.ResolvedStream{
			ManifestURL: urlutil.ResolveURL(manifest, pg.url),
			Referer:     cand.Referer,
			Provider:    name,
			EmbedURL:    cand.EmbedURL,
		}
	}

	frames := extract.IframeSources(pg.body)
	if len(frames) > maxIframeFollow {
		frames = frames[:maxIframeFollow]
	}
	attempt.Outcome = types.OutcomeNotFound
	attempt.Extra = mergeExtra(attempt.Extra, map[string]any{
		"iframe_count": len(frames),
		"html_len":     len(pg.body),
	})
	*trace = append(*trace, attempt)

	for _, src := range frames {
		if ctx.Err() != nil {
			return nil
		}
		frameURL := urlutil.ResolveURL(html.UnescapeString(src), pg.url)
		// The parent's referer is kept for the frame fetch itself.
		fp, fAttempt := r.fetchPage(ctx, name+"-iframe", frameURL, cand.Referer)
		if fp == nil {
			*trace = append(*trace, fAttempt)
			continue
		}
		manifest, ok := extract.ManifestURL(fp.body)
		fAttempt.Extra = mergeExtra(fAttempt.Extra, map[string]any{"html_len": len(fp.body)})
		if !ok {
			fAttempt.Outcome = types.OutcomeNotFound
			*trace = append(*trace, fAttempt)
			continue
		}
		fAttempt.Outcome = types.OutcomeFound
		*trace = append(*trace, fAttempt)
		return &types.ResolvedStream{
			ManifestURL: urlutil.ResolveURL(manifest, fp.url),
			Referer:     urlutil.OriginReferer(frameURL),
			Provider:    name,
			EmbedURL:    cand.EmbedURL,
		}
	}

	tp, ok := provider.(interfaces.TokenAPIProvider)
	if !ok {
		return nil
	}
	manifest, apiAttempt := r.probeTokenAPI(ctx, name, tp, pg, cand.Referer)
	*trace = append(*trace, apiAttempt)
	if manifest == "" {
		return nil
	}
	return &types.ResolvedStream{
		ManifestURL: urlutil.ResolveURL(manifest, pg.url),
		Referer:     cand.Referer,
		Provider:    name,
		EmbedURL:    cand.EmbedURL,
	}
}

func mergeExtra(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

var _ interfaces.StreamResolver = (*Resolver)(nil)
