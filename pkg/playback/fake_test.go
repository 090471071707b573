package playback

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"

	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/providers"
	"stream-resolver-go/pkg/registry"
	"stream-resolver-go/pkg/resolver"
)

// pageFetcher serves canned bodies; anything else is a 404.
type pageFetcher struct {
	pages map[string]string
}

func (f *pageFetcher) Send(ctx context.Context, method, url string, headers map[string]string, body io.Reader) (*http.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req, _ := http.NewRequestWithContext(ctx, method, url, nil)
	page, ok := f.pages[url]
	status := http.StatusOK
	if !ok {
		status, page = http.StatusNotFound, "not found"
	}
	return &http.Response{StatusCode: status, Header: http.Header{}, Body: io.NopCloser(strings.NewReader(page)), Request: req}, nil
}

type fakeEngine struct {
	transport Transport
	err       error

	mu        sync.Mutex
	loads     []Source
	destroyed bool
}

func (e *fakeEngine) Load(ctx context.Context, src Source) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loads = append(e.loads, src)
	return e.err
}

func (e *fakeEngine) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.destroyed = true
}

func (e *fakeEngine) isDestroyed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroyed
}

// engineFactory hands out fake engines, failing loads per transport.
type engineFactory struct {
	mu      sync.Mutex
	fail    map[Transport]error
	engines []*fakeEngine
}

func (f *engineFactory) New(t Transport) Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := &fakeEngine{transport: t, err: f.fail[t]}
	f.engines = append(f.engines, e)
	return e
}

func (f *engineFactory) setFail(t Transport, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail == nil {
		f.fail = map[Transport]error{}
	}
	f.fail[t] = err
}

func (f *engineFactory) all() []*fakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*fakeEngine, len(f.engines))
	copy(out, f.engines)
	return out
}

func testRegistry() *registry.ProviderRegistry {
	reg := registry.NewProviderRegistry([]string{"vidfast", "videasy"})
	reg.Register(providers.NewVidfast())
	reg.Register(providers.NewVideasy())
	return reg
}

func newTestController(pages map[string]string, factory *engineFactory, opts Options) *Controller {
	reg := testRegistry()
	res := resolver.New(&pageFetcher{pages: pages}, reg, resolver.Options{}, logging.Discard())
	opts.Providers = reg
	if opts.ProxyBase == "" {
		opts.ProxyBase = "http://localhost:7860"
	}
	if opts.ProxyPrefix == "" {
		opts.ProxyPrefix = "/proxy"
	}
	opts.NewEngine = factory.New
	return NewController(res, opts, logging.Discard())
}
