package resolver

import (
	"context"
	"io"
	"strings"

	"stream-resolver-go/pkg/extract"
	"stream-resolver-go/pkg/httpclient"
	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/types"
)

// probeTokenAPI walks the provider's API probes in order and returns the
// first manifest any of them yields. One attempt summarizes the whole probe.
func (r *Resolver) probeTokenAPI(ctx context.Context, name string, tp interfaces.TokenAPIProvider, pg *page, referer string) (string, types.ResolutionAttempt) {
	attempt := types.ResolutionAttempt{
		Provider: name + "-api",
		Target:   pg.url,
		Outcome:  types.OutcomeNotFound,
	}

	probes := tp.APIRequests(pg.url, pg.body)
	if len(probes) == 0 {
		attempt.Extra = map[string]any{"reason": "missing token or host"}
		return "", attempt
	}
	attempt.Extra = map[string]any{
		"host":   probes[0].Origin,
		"token":  truncate(probes[0].Token, 16),
		"probes": len(probes),
	}

	for _, probe := range probes {
		if ctx.Err() != nil {
			break
		}
		manifest, status, ok := r.runProbe(ctx, probe, referer)
		if status != 0 {
			attempt.Status = &status
		}
		if ok {
			attempt.Outcome = types.OutcomeFound
			attempt.Target = probe.URL
			attempt.Extra["method"] = probe.Method
			return manifest, attempt
		}
	}
	return "", attempt
}

func (r *Resolver) runProbe(ctx context.Context, probe types.APIRequest, referer string) (string, int, bool) {
	headers := map[string]string{
		"User-Agent":       httpclient.DefaultUserAgent,
		"Accept":           httpclient.AcceptJSON,
		"Referer":          referer,
		"Origin":           probe.Origin,
		"X-Requested-With": "XMLHttpRequest",
		"Content-Type":     probe.ContentType,
	}

	var body io.Reader
	if probe.Form != "" {
		body = strings.NewReader(probe.Form)
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.pageTimeout)
	defer cancel()

	resp, err := r.fetcher.Send(probeCtx, probe.Method, probe.URL, headers, body)
	if err != nil {
		r.log.Debug("token api probe failed", "url", probe.URL, "method", probe.Method, "error", err)
		return "", 0, false
	}
	defer resp.Body.Close()

	if !httpclient.IsSuccess(resp.StatusCode) {
		return "", resp.StatusCode, false
	}
	data, err := readLimited(resp.Body)
	if err != nil {
		return "", resp.StatusCode, false
	}
	manifest, ok := extract.ManifestFromJSON([]byte(data))
	return manifest, resp.StatusCode, ok
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
