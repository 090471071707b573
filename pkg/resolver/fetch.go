package resolver

import (
	"context"
	"errors"
	"io"
	"net/http"

	"stream-resolver-go/pkg/flaresolverr"
	"stream-resolver-go/pkg/httpclient"
	"stream-resolver-go/pkg/types"
)

// maxPageBytes caps how much of an embed page or API response is read.
const maxPageBytes = 4 << 20

// page is a fetched HTML or JSON document.
type page struct {
	url    string // final URL after redirects
	body   string
	status int
}

func pageHeaders(referer string) map[string]string {
	return map[string]string{
		"User-Agent":      httpclient.DefaultUserAgent,
		"Accept":          httpclient.AcceptHTML,
		"Accept-Language": "en-US,en;q=0.9",
		"Referer":         referer,
	}
}

// fetchPage GETs target with browser-like headers under the page timeout.
// It never returns an error: failures are described by the attempt, and a
// nil page means the caller should move on.
func (r *Resolver) fetchPage(ctx context.Context, provider, target, referer string) (*page, types.ResolutionAttempt) {
	attempt := types.ResolutionAttempt{Provider: provider, Target: target}

	fetchCtx, cancel := context.WithTimeout(ctx, r.pageTimeout)
	defer cancel()

	resp, err := r.fetcher.Send(fetchCtx, http.MethodGet, target, pageHeaders(referer), nil)
	if err != nil {
		attempt.Outcome = types.OutcomeNetworkError
		attempt.Extra = map[string]any{"error": err.Error()}
		if errors.Is(err, context.DeadlineExceeded) {
			attempt.Extra["timeout"] = true
		}
		return nil, attempt
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	attempt.Status = &status

	if !httpclient.IsSuccess(status) {
		attempt.Outcome = types.OutcomeHTTPError
		if p := r.solveChallenge(ctx, target, status); p != nil {
			attempt.Extra = map[string]any{"solver": true}
			return p, attempt
		}
		return nil, attempt
	}

	body, err := readLimited(resp.Body)
	if err != nil {
		attempt.Outcome = types.OutcomeNetworkError
		attempt.Extra = map[string]any{"error": err.Error()}
		return nil, attempt
	}

	final := target
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	return &page{url: final, body: body, status: status}, attempt
}

// solveChallenge re-fetches a page through the challenge solver when one
// is configured and the status looks like a bot wall.
func (r *Resolver) solveChallenge(ctx context.Context, target string, status int) *page {
	if r.solver == nil || !r.solver.IsConfigured() || !flaresolverr.IsChallengeStatus(status) {
		return nil
	}
	body, solvedStatus, err := r.solver.Solve(ctx, target)
	if err != nil {
		r.log.Debug("challenge solve failed", "url", target, "error", err)
		return nil
	}
	if solvedStatus != 0 && !httpclient.IsSuccess(solvedStatus) {
		return nil
	}
	return &page{url: target, body: body, status: http.StatusOK}
}

// readLimited reads at most maxPageBytes of a page body.
func readLimited(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxPageBytes))
	return string(data), err
}
