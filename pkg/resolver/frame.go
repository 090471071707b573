package resolver

import (
	"context"
	"html"

	"stream-resolver-go/pkg/extract"
	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/types"
	"stream-resolver-go/pkg/urlutil"
)

// ResolveFrame finds an embeddable player frame instead of a manifest: the
// first iframe on the first reachable embed page, or that embed page itself
// when it has none. Tracking parameters are stripped from the result.
func (r *Resolver) ResolveFrame(ctx context.Context, req types.PlaybackRequest) (*types.ResolvedFrame, types.Trace, error) {
	var trace types.Trace

	if req.EmbedURL != "" {
		referer := req.EmbedReferer
		if referer == "" {
			referer = urlutil.OriginReferer(req.EmbedURL)
		}
		cand := types.Candidate{EmbedURL: req.EmbedURL, Referer: referer}
		if frame := r.frameFrom(ctx, ProviderDirect, cand, &trace); frame != nil {
			return frame, trace, nil
		}
	}

	if req.CatalogID > 0 {
		for _, name := range r.providerNames(req.Provider) {
			provider := r.providers.GetByName(name)
			if provider == nil {
				continue
			}
			for _, cand := range provider.Candidates(req) {
				if ctx.Err() != nil {
					break
				}
				if frame := r.frameFrom(ctx, name, cand, &trace); frame != nil {
					return frame, trace, nil
				}
			}
		}
	}

	return nil, trace, &types.ResolutionFailure{Err: types.ErrFrameNotFound, Trace: trace}
}

func (r *Resolver) frameFrom(ctx context.Context, name string, cand types.Candidate, trace *types.Trace) *types.ResolvedFrame {
	pg, attempt := r.fetchPage(ctx, name, cand.EmbedURL, cand.Referer)
	if pg == nil {
		*trace = append(*trace, attempt)
		return nil
	}

	frames := extract.IframeSources(pg.body)
	attempt.Outcome = types.OutcomeFound
	attempt.Extra = mergeExtra(attempt.Extra, map[string]any{
		"iframe_count": len(frames),
		"html_len":     len(pg.body),
	})
	*trace = append(*trace, attempt)

	frameURL := cand.EmbedURL
	if len(frames) > 0 {
		frameURL = urlutil.ResolveURL(html.UnescapeString(frames[0]), pg.url)
	}
	return &types.ResolvedFrame{
		FrameURL: urlutil.StripTracking(frameURL),
		Referer:  cand.Referer,
		Provider: name,
		EmbedURL: cand.EmbedURL,
	}
}

var _ interfaces.FrameResolver = (*Resolver)(nil)
