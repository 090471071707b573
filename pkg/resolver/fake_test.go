package resolver

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"

	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/providers"
	"stream-resolver-go/pkg/registry"
)

type route struct {
	status int
	body   string
	err    error
}

type call struct {
	method  string
	url     string
	headers map[string]string
	body    string
}

// fakeFetcher serves canned responses keyed by "METHOD url" or bare url.
// Unknown URLs answer 404.
type fakeFetcher struct {
	mu     sync.Mutex
	routes map[string]route
	calls  []call
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{routes: make(map[string]route)}
}

func (f *fakeFetcher) on(url string, status int, body string) *fakeFetcher {
	f.routes[url] = route{status: status, body: body}
	return f
}

func (f *fakeFetcher) onMethod(method, url string, status int, body string) *fakeFetcher {
	f.routes[method+" "+url] = route{status: status, body: body}
	return f
}

func (f *fakeFetcher) fail(url string, err error) *fakeFetcher {
	f.routes[url] = route{err: err}
	return f
}

func (f *fakeFetcher) Send(ctx context.Context, method, url string, headers map[string]string, body io.Reader) (*http.Response, error) {
	var sent string
	if body != nil {
		b, _ := io.ReadAll(body)
		sent = string(b)
	}

	f.mu.Lock()
	f.calls = append(f.calls, call{method: method, url: url, headers: headers, body: sent})
	rt, ok := f.routes[method+" "+url]
	if !ok {
		rt, ok = f.routes[url]
	}
	f.mu.Unlock()

	if !ok {
		rt = route{status: http.StatusNotFound}
	}
	if rt.err != nil {
		return nil, rt.err
	}
	return &http.Response{
		StatusCode: rt.status,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(rt.body)),
	}, nil
}

func (f *fakeFetcher) callsTo(url string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.url == url {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeFetcher) fetchedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.url
	}
	return out
}

type fakeSolver struct {
	body   string
	status int
	err    error
}

func (s *fakeSolver) IsConfigured() bool { return true }

func (s *fakeSolver) Solve(ctx context.Context, pageURL string) (string, int, error) {
	return s.body, s.status, s.err
}

func testRegistry() *registry.ProviderRegistry {
	reg := registry.NewProviderRegistry([]string{"vidfast", "videasy"})
	reg.Register(providers.NewVidfast())
	reg.Register(providers.NewVideasy())
	return reg
}

func newTestResolver(f *fakeFetcher, opts Options) *Resolver {
	return New(f, testRegistry(), opts, logging.Discard())
}
