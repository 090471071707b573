package resolver

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"stream-resolver-go/pkg/extract"
	"stream-resolver-go/pkg/httpclient"
	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/types"
	"stream-resolver-go/pkg/urlutil"
)

const (
	crawlMaxDepth    = 4
	crawlMaxPages    = 40
	crawlPageTimeout = 15 * time.Second
)

var crawlLinkRe = regexp.MustCompile(`(?i)(?:embed|watch|play|video|movie|tv)`)

// CrawlResult is what a breadth-first crawl found.
type CrawlResult struct {
	ManifestURL string
	// FrameURL is the page the manifest was found on.
	FrameURL string
	// Chain lists every page queued, in discovery order.
	Chain []string
}

type crawlItem struct {
	url   string
	depth int
}

// Crawl walks iframes, inline srcdoc documents and player-looking links
// breadth-first from startURL, up to depth 4, looking for a manifest
// anywhere in the reachable pages. Only hosts matching allowed (or the
// start host when allowed is empty) are followed.
func (r *Resolver) Crawl(ctx context.Context, name, startURL string, headers map[string]string, allowed []string) (*CrawlResult, types.Trace) {
	var trace types.Trace
	result := &CrawlResult{Chain: []string{startURL}}

	startHost := urlutil.Host(startURL)
	isAllowed := func(u string) bool {
		host := urlutil.Host(u)
		if host == "" {
			return false
		}
		if len(allowed) == 0 {
			return host == startHost
		}
		for _, suffix := range allowed {
			if urlutil.HostMatches(host, suffix) {
				return true
			}
		}
		return false
	}

	visited := make(map[string]bool)
	queue := []crawlItem{{url: startURL}}
	fetched := 0

	for len(queue) > 0 && fetched < crawlMaxPages {
		if ctx.Err() != nil {
			break
		}
		cur := queue[0]
		queue = queue[1:]
		if visited[cur.url] || cur.depth > crawlMaxDepth {
			continue
		}
		visited[cur.url] = true
		fetched++

		body, attempt := r.crawlFetch(ctx, name, cur.url, headers)
		attempt.Extra = mergeExtra(attempt.Extra, map[string]any{"depth": cur.depth})
		if body == "" {
			trace = append(trace, attempt)
			continue
		}

		if manifest, ok := extract.ManifestURL(body); ok {
			attempt.Outcome = types.OutcomeFound
			trace = append(trace, attempt)
			result.ManifestURL = urlutil.ResolveURL(manifest, cur.url)
			result.FrameURL = cur.url
			return result, trace
		}

		links := extract.Links(body, cur.url)
		for _, doc := range links.SrcDocs {
			if manifest, ok := extract.ManifestURL(doc); ok {
				attempt.Outcome = types.OutcomeFound
				attempt.Extra["srcdoc"] = true
				trace = append(trace, attempt)
				result.ManifestURL = urlutil.ResolveURL(manifest, cur.url)
				result.FrameURL = cur.url
				return result, trace
			}
		}

		attempt.Outcome = types.OutcomeNotFound
		trace = append(trace, attempt)

		next := append(links.Frames, links.Anchors...)
		for _, u := range next {
			if visited[u] || !isAllowed(u) || !crawlLinkRe.MatchString(u) {
				continue
			}
			queue = append(queue, crawlItem{url: u, depth: cur.depth + 1})
			result.Chain = append(result.Chain, u)
		}
	}

	return result, trace
}

func (r *Resolver) crawlFetch(ctx context.Context, name, target string, headers map[string]string) (string, types.ResolutionAttempt) {
	attempt := types.ResolutionAttempt{Provider: name + "-crawl", Target: target}

	fetchCtx, cancel := context.WithTimeout(ctx, crawlPageTimeout)
	defer cancel()

	h := map[string]string{
		"User-Agent": httpclient.DefaultUserAgent,
		"Accept":     httpclient.AcceptHTML,
	}
	for k, v := range headers {
		h[k] = v
	}

	resp, err := r.fetcher.Send(fetchCtx, http.MethodGet, target, h, nil)
	if err != nil {
		attempt.Outcome = types.OutcomeNetworkError
		attempt.Extra = map[string]any{"error": err.Error()}
		return "", attempt
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	attempt.Status = &status
	// Error pages are still scanned; some providers serve the player with a 404.
	body, err := readLimited(resp.Body)
	if err != nil || body == "" {
		if httpclient.IsSuccess(status) {
			attempt.Outcome = types.OutcomeNotFound
		} else {
			attempt.Outcome = types.OutcomeHTTPError
		}
		return "", attempt
	}
	return body, attempt
}

// CrawlResolver resolves streams with the breadth-first crawl instead of
// the candidate pattern chain. Media requests are then made with the
// provider's playback headers.
type CrawlResolver struct {
	*Resolver
}

// NewCrawlResolver wraps a Resolver.
func NewCrawlResolver(r *Resolver) *CrawlResolver {
	return &CrawlResolver{Resolver: r}
}

// crawlStart is one crawl root with the headers its pages are fetched with.
type crawlStart struct {
	name    string
	cand    types.Candidate
	headers map[string]string
	allowed []string
	// streamReferer is reported with a manifest found from this root.
	streamReferer string
}

// crawlStarts lists the crawl roots for req: the explicit embed URL first,
// then each candidate of each selected provider.
func (c *CrawlResolver) crawlStarts(req types.PlaybackRequest) []crawlStart {
	var starts []crawlStart

	if req.EmbedURL != "" {
		referer := req.EmbedReferer
		if referer == "" {
			referer = urlutil.OriginReferer(req.EmbedURL)
		}
		start := crawlStart{
			name:          ProviderDirect,
			cand:          types.Candidate{EmbedURL: req.EmbedURL, Referer: referer},
			headers:       map[string]string{"Referer": referer},
			streamReferer: referer,
		}
		// A known provider host widens the crawl to its allow-list.
		if provider := c.providers.Get(req.EmbedURL); provider != nil {
			start.allowed = []string{provider.AllowedHost()}
		}
		starts = append(starts, start)
	}

	if req.CatalogID <= 0 {
		return starts
	}
	for _, name := range c.providerNames(req.Provider) {
		provider := c.providers.GetByName(name)
		if provider == nil {
			continue
		}
		headers := provider.PlaybackHeaders()
		for _, cand := range provider.Candidates(req) {
			starts = append(starts, crawlStart{
				name:          name,
				cand:          cand,
				headers:       headers,
				allowed:       []string{provider.AllowedHost()},
				streamReferer: headers["Referer"],
			})
		}
	}
	return starts
}

// Resolve crawls from the embed URL, then from each candidate of each
// selected provider.
func (c *CrawlResolver) Resolve(ctx context.Context, req types.PlaybackRequest) (*types.ResolvedStream, types.Trace, error) {
	var trace types.Trace

	for _, st := range c.crawlStarts(req) {
		if ctx.Err() != nil {
			break
		}
		res, t := c.Crawl(ctx, st.name, st.cand.EmbedURL, st.headers, st.allowed)
		trace = append(trace, t...)
		if res.ManifestURL != "" {
			return &types.ResolvedStream{
				ManifestURL: res.ManifestURL,
				Referer:     st.streamReferer,
				Provider:    st.name,
				EmbedURL:    st.cand.EmbedURL,
			}, trace, nil
		}
	}

	return nil, trace, &types.ResolutionFailure{Err: types.ErrNotFound, Trace: trace}
}

// ResolveFrame crawls like Resolve but returns the page that carries the
// manifest as the embeddable frame.
func (c *CrawlResolver) ResolveFrame(ctx context.Context, req types.PlaybackRequest) (*types.ResolvedFrame, types.Trace, error) {
	var trace types.Trace

	for _, st := range c.crawlStarts(req) {
		if ctx.Err() != nil {
			break
		}
		res, t := c.Crawl(ctx, st.name, st.cand.EmbedURL, st.headers, st.allowed)
		trace = append(trace, t...)
		if res.FrameURL != "" {
			return &types.ResolvedFrame{
				FrameURL: urlutil.StripTracking(res.FrameURL),
				Referer:  st.cand.Referer,
				Provider: st.name,
				EmbedURL: st.cand.EmbedURL,
			}, trace, nil
		}
	}

	return nil, trace, &types.ResolutionFailure{Err: types.ErrFrameNotFound, Trace: trace}
}

var (
	_ interfaces.StreamResolver = (*CrawlResolver)(nil)
	_ interfaces.FrameResolver  = (*CrawlResolver)(nil)
)
