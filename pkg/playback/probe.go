package playback

import (
	"context"
	"io"
	"net/http"
	"time"

	"stream-resolver-go/pkg/httpclient"
)

const probeTimeout = 8 * time.Second

// checkReachable issues a HEAD and, failing that, a ranged GET against the
// proxied manifest. The result is only logged.
func (c *Controller) checkReachable(ctx context.Context, target string) bool {
	if status, err := c.probe(ctx, http.MethodHead, target, nil); err == nil && httpclient.IsSuccess(status) {
		c.log.Debug("stream reachable", "method", http.MethodHead, "status", status)
		return true
	}
	status, err := c.probe(ctx, http.MethodGet, target, map[string]string{"Range": "bytes=0-1023"})
	if err != nil || !httpclient.IsSuccess(status) {
		c.log.Warn("stream not reachable through proxy", "status", status, "error", err)
		return false
	}
	c.log.Debug("stream reachable", "method", http.MethodGet, "status", status)
	return true
}

func (c *Controller) probe(ctx context.Context, method, target string, headers map[string]string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.prober.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}
