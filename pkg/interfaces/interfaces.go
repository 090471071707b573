// Package interfaces defines the core abstractions for the stream resolver.
// Providers, resolvers and rewriters implement these interfaces so the
// HTTP layer and the playback controller never depend on concrete types.
package interfaces

import (
	"context"
	"io"
	"net/http"

	"stream-resolver-go/pkg/types"
)

// Provider describes one embed-streaming provider: the domains and path
// shapes it serves, and the headers its media hosts expect.
//
// To add a new provider:
// 1. Create a new file in pkg/providers/
// 2. Implement this interface
// 3. Register it in the ProviderRegistry
type Provider interface {
	// Name returns a unique lowercase identifier, e.g. "vidfast".
	Name() string

	// CanHandle reports whether an embed URL belongs to this provider.
	CanHandle(url string) bool

	// Candidates returns the ordered, de-duplicated embed pages to try.
	Candidates(req types.PlaybackRequest) []types.Candidate

	// PlaybackHeaders are the Referer/Origin headers the provider's media
	// hosts expect when segments are fetched directly.
	PlaybackHeaders() map[string]string

	// AllowedHost is the host suffix the frame resolver may crawl into.
	AllowedHost() string
}

// TokenAPIProvider is implemented by providers whose embed pages carry a
// token that unlocks a JSON source API.
type TokenAPIProvider interface {
	Provider

	// APIRequests derives the API probes from an embed page body. It
	// returns nil when the page carries no token.
	APIRequests(pageURL, body string) []types.APIRequest
}

// Fetcher issues upstream requests. *httpclient.Client implements it.
type Fetcher interface {
	Send(ctx context.Context, method, url string, headers map[string]string, body io.Reader) (*http.Response, error)
}

// StreamResolver turns a playback request into a playable manifest URL.
type StreamResolver interface {
	Resolve(ctx context.Context, req types.PlaybackRequest) (*types.ResolvedStream, types.Trace, error)
}

// FrameResolver turns a playback request into an embeddable frame URL.
type FrameResolver interface {
	ResolveFrame(ctx context.Context, req types.PlaybackRequest) (*types.ResolvedFrame, types.Trace, error)
}

// ManifestRewriter transforms HLS playlists so every URI routes through the proxy.
type ManifestRewriter interface {
	Rewrite(manifest []byte, sourceURL, referer, origin string) []byte
}

// ProgressStore persists resume checkpoints per title and episode.
type ProgressStore interface {
	Save(ctx context.Context, key string, seconds float64) error
	Load(ctx context.Context, key string) (float64, bool, error)
	Clear(ctx context.Context, key string) error
}

// HTTPClient abstracts HTTP operations for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Registry is a generic interface for component registries.
type Registry[T any] interface {
	// Register adds a component to the registry.
	Register(component T)

	// Get returns the appropriate component for the given URL.
	Get(url string) T

	// All returns all registered components.
	All() []T
}
