package playback

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"stream-resolver-go/pkg/httpclient"
	"stream-resolver-go/pkg/types"
	"stream-resolver-go/pkg/urlutil"
)

// ErrEngineDestroyed is returned by Load after Destroy.
var ErrEngineDestroyed = errors.New("engine destroyed")

const maxPlaylistBytes = 2 << 20

// Source is what an engine is attached to.
type Source struct {
	URL     string
	Headers map[string]string
}

// Engine plays one source at a time. Load blocks until the manifest has been
// parsed or loading failed, and settles exactly once. Destroy aborts any
// in-flight fetch and must be called before the engine is dropped.
type Engine interface {
	Load(ctx context.Context, src Source) error
	Destroy()
}

// settlement delivers the first of possibly racing outcomes.
type settlement struct {
	once sync.Once
	done chan error
}

func newSettlement() *settlement {
	return &settlement{done: make(chan error, 1)}
}

func (s *settlement) settle(err error) {
	s.once.Do(func() { s.done <- err })
}

// HLSEngine is a headless engine: it loads the master playlist and the first
// variant's media playlist, which is the point a browser player reports the
// manifest as parsed.
type HLSEngine struct {
	client *http.Client

	mu        sync.Mutex
	cancel    context.CancelFunc
	destroyed bool
	wg        sync.WaitGroup

	segments int
}

// NewHLSEngine creates an engine fetching through client.
func NewHLSEngine(client *http.Client) *HLSEngine {
	if client == nil {
		client = http.DefaultClient
	}
	return &HLSEngine{client: client}
}

// Load attaches the engine to src, detaching any previous source first.
func (e *HLSEngine) Load(ctx context.Context, src Source) error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return ErrEngineDestroyed
	}
	if e.cancel != nil {
		e.cancel()
	}
	loadCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()

	s := newSettlement()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		n, err := e.load(loadCtx, src)
		if err != nil {
			s.settle(err)
			return
		}
		e.mu.Lock()
		e.segments = n
		e.mu.Unlock()
		s.settle(nil)
	}()

	select {
	case err := <-s.done:
		return err
	case <-loadCtx.Done():
		s.settle(loadCtx.Err())
		return <-s.done
	}
}

func (e *HLSEngine) load(ctx context.Context, src Source) (int, error) {
	body, final, err := e.fetchPlaylist(ctx, src.URL, src.Headers)
	if err != nil {
		return 0, err
	}
	if variant := firstVariant(body); variant != "" {
		body, _, err = e.fetchPlaylist(ctx, urlutil.ResolveURL(variant, final), src.Headers)
		if err != nil {
			return 0, err
		}
	}
	return countSegments(body), nil
}

func (e *HLSEngine) fetchPlaylist(ctx context.Context, target string, headers map[string]string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", types.ErrEngineFatal, err)
	}
	req.Header.Set("Accept", httpclient.AcceptAny)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		return "", "", fmt.Errorf("%w: load %s: %w", types.ErrEngineFatal, target, err)
	}
	defer resp.Body.Close()

	if !httpclient.IsSuccess(resp.StatusCode) {
		return "", "", fmt.Errorf("%w: %w", types.ErrEngineFatal, &types.UpstreamError{URL: target, Status: resp.StatusCode})
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistBytes))
	if err != nil {
		return "", "", fmt.Errorf("%w: read %s: %w", types.ErrEngineFatal, target, err)
	}
	body := strings.TrimPrefix(string(data), "\ufeff")
	if !strings.HasPrefix(strings.TrimSpace(body), "#EXTM3U") {
		return "", "", fmt.Errorf("%w: %s is not an HLS playlist", types.ErrEngineFatal, target)
	}

	final := target
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	return body, final, nil
}

// Segments returns the media segment count of the last loaded playlist.
func (e *HLSEngine) Segments() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.segments
}

// Destroy aborts in-flight fetches and waits for them to return.
func (e *HLSEngine) Destroy() {
	e.mu.Lock()
	e.destroyed = true
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// firstVariant returns the URI following the first EXT-X-STREAM-INF tag.
func firstVariant(playlist string) string {
	sc := bufio.NewScanner(strings.NewReader(playlist))
	sc.Buffer(make([]byte, 0, 64*1024), maxPlaylistBytes)
	inf := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF"):
			inf = true
		case line == "" || strings.HasPrefix(line, "#"):
		case inf:
			return line
		}
	}
	return ""
}

func countSegments(playlist string) int {
	return strings.Count(playlist, "#EXTINF")
}

var _ Engine = (*HLSEngine)(nil)
