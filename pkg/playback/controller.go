package playback

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"stream-resolver-go/pkg/headerinject"
	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/metrics"
	"stream-resolver-go/pkg/registry"
	"stream-resolver-go/pkg/rewrite"
	"stream-resolver-go/pkg/types"
	"stream-resolver-go/pkg/urlutil"
)

// ProviderDirect names streams attached through PlayManifest.
const ProviderDirect = "direct"

// MessageSender delivers header-injection worker messages. Both
// *headerinject.Worker and a remote *headerinject.Conn implement it.
type MessageSender interface {
	HandleMessage(msg headerinject.Message) headerinject.Reply
}

// Options configures a Controller.
type Options struct {
	Providers       *registry.ProviderRegistry
	DefaultProvider string

	// ProxyBase is the absolute base URL of the proxy service, e.g.
	// http://localhost:7860. ProxyPrefix is its proxy path.
	ProxyBase   string
	ProxyPrefix string

	// Worker enables the header-injection transport. Without it every
	// stream goes through the proxy.
	Worker    MessageSender
	HeaderTTL time.Duration

	// NewEngine creates an engine for the given transport.
	NewEngine func(Transport) Engine

	// Progress stores resume checkpoints. Optional.
	Progress interfaces.ProgressStore

	// Prober runs the post-resolution reachability check. Optional.
	Prober *http.Client
}

// Controller owns one playback session. Actions are serialized; State and
// the other accessors may be called concurrently with them.
type Controller struct {
	resolver        interfaces.StreamResolver
	providers       *registry.ProviderRegistry
	defaultProvider string
	proxyBase       string
	proxyPrefix     string
	worker          MessageSender
	headerTTL       time.Duration
	newEngine       func(Transport) Engine
	progress        interfaces.ProgressStore
	prober          *http.Client
	log             *logging.Logger

	// opMu serializes actions; mu guards the fields below.
	opMu sync.Mutex
	mu   sync.RWMutex

	state     State
	req       types.PlaybackRequest
	stream    *types.ResolvedStream
	headers   map[string]string
	trace     types.Trace
	transport Transport
	engine    Engine
	lastErr   error
}

// NewController creates an idle controller.
func NewController(resolver interfaces.StreamResolver, opts Options, log *logging.Logger) *Controller {
	if opts.NewEngine == nil {
		opts.NewEngine = func(Transport) Engine { return NewHLSEngine(nil) }
	}
	if opts.DefaultProvider == "" {
		opts.DefaultProvider = "vidfast"
	}
	return &Controller{
		resolver:        resolver,
		providers:       opts.Providers,
		defaultProvider: opts.DefaultProvider,
		proxyBase:       strings.TrimSuffix(opts.ProxyBase, "/"),
		proxyPrefix:     opts.ProxyPrefix,
		worker:          opts.Worker,
		headerTTL:       opts.HeaderTTL,
		newEngine:       opts.NewEngine,
		progress:        opts.Progress,
		prober:          opts.Prober,
		state:           StateIdle,
		log:             log.WithComponent("playback"),
	}
}

// Play resolves req and attaches the result to a fresh engine.
func (c *Controller) Play(ctx context.Context, req types.PlaybackRequest) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.teardown()
	c.mu.Lock()
	c.req = req
	c.trace = nil
	c.mu.Unlock()
	return c.resolve(ctx)
}

// PlayManifest attaches a known manifest without resolving. Missing
// referer and origin default to the default provider's headers.
func (c *Controller) PlayManifest(ctx context.Context, manifestURL, referer, origin string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.teardown()
	headers := map[string]string{}
	if p := c.providerByName(c.defaultProvider); p != nil {
		headers = p.PlaybackHeaders()
	}
	if referer != "" {
		headers["Referer"] = referer
	}
	if origin != "" {
		headers["Origin"] = origin
	}

	c.mu.Lock()
	c.req = types.PlaybackRequest{Provider: ProviderDirect}
	c.trace = nil
	c.stream = &types.ResolvedStream{ManifestURL: manifestURL, Referer: headers["Referer"], Provider: ProviderDirect}
	c.headers = headers
	c.mu.Unlock()
	return c.attach(ctx, c.initialTransport())
}

// SwitchProvider tears the current engine down and resolves again with
// another provider.
func (c *Controller) SwitchProvider(ctx context.Context, name string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.teardown()
	c.mu.Lock()
	c.req = c.req.WithProvider(name)
	c.req.EmbedURL = ""
	c.trace = nil
	c.mu.Unlock()
	return c.resolve(ctx)
}

// Retry re-runs resolution with the same request. Only valid in the error
// state.
func (c *Controller) Retry(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.State() != StateError {
		return fmt.Errorf("retry in state %s: %w", c.State(), ErrInvalidState)
	}
	c.teardown()
	c.mu.Lock()
	c.trace = nil
	c.mu.Unlock()
	return c.resolve(ctx)
}

// HandleEngineError reports a fatal engine or media element error during
// playback. Errors outside the playing state are ignored.
func (c *Controller) HandleEngineError(ctx context.Context, err error) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.State() != StatePlaying {
		return nil
	}
	return c.engineFailed(ctx, err)
}

// Ended marks natural completion and clears the resume checkpoint.
func (c *Controller) Ended(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.State() != StatePlaying {
		return fmt.Errorf("ended in state %s: %w", c.State(), ErrInvalidState)
	}
	c.teardown()
	c.setState(StateEnded)

	if c.progress == nil || c.Request().CatalogID <= 0 {
		return nil
	}
	return c.progress.Clear(ctx, ProgressKey(c.Request()))
}

// SaveProgress checkpoints the playback position of the current title.
func (c *Controller) SaveProgress(ctx context.Context, seconds float64) error {
	if c.progress == nil || c.State() != StatePlaying || c.Request().CatalogID <= 0 {
		return nil
	}
	return c.progress.Save(ctx, ProgressKey(c.Request()), seconds)
}

// ResumePosition returns the stored checkpoint for the current title.
func (c *Controller) ResumePosition(ctx context.Context) (float64, bool, error) {
	if c.progress == nil || c.Request().CatalogID <= 0 {
		return 0, false, nil
	}
	return c.progress.Load(ctx, ProgressKey(c.Request()))
}

// Close destroys the engine and returns the controller to idle.
func (c *Controller) Close() {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.teardown()
	c.setState(StateIdle)
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Trace returns the attempts of the last resolution, across providers.
func (c *Controller) Trace() types.Trace {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(types.Trace, len(c.trace))
	copy(out, c.trace)
	return out
}

// Stream returns the stream being played, or nil.
func (c *Controller) Stream() *types.ResolvedStream {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stream == nil {
		return nil
	}
	s := *c.stream
	return &s
}

// Transport returns the transport of the attached engine.
func (c *Controller) Transport() Transport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transport
}

// Err returns the error that put the controller in the error state.
func (c *Controller) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Request returns the active playback request.
func (c *Controller) Request() types.PlaybackRequest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.req
}

// resolve walks the provider order, preferred provider first, and stops
// at the first provider that yields a stream.
func (c *Controller) resolve(ctx context.Context) error {
	c.setState(StateResolving)
	req := c.Request()

	var (
		stream *types.ResolvedStream
		trace  types.Trace
	)
	for i, name := range c.providerOrder(req.Provider) {
		if ctx.Err() != nil {
			break
		}
		attempt := req.WithProvider(name)
		if i > 0 {
			attempt.EmbedURL = ""
		}
		s, t, err := c.resolver.Resolve(ctx, attempt)
		trace = append(trace, t...)
		if err == nil && s != nil {
			stream = s
			break
		}
		c.log.Info("provider exhausted", "provider", name, "attempts", len(t))
	}

	c.mu.Lock()
	c.trace = trace
	c.mu.Unlock()

	if stream == nil {
		err := error(&types.ResolutionFailure{Err: types.ErrNotFound, Trace: trace})
		if ctx.Err() != nil {
			err = fmt.Errorf("resolve: %w", ctx.Err())
		}
		c.fail(err)
		return err
	}

	c.mu.Lock()
	c.stream = stream
	c.headers = c.playbackHeaders(stream)
	c.mu.Unlock()
	c.log.Info("stream resolved", "provider", stream.Provider, "attempts", len(trace))

	return c.attach(ctx, c.initialTransport())
}

func (c *Controller) providerOrder(preference string) []string {
	if preference == "" || strings.EqualFold(preference, types.ProviderAuto) {
		preference = c.defaultProvider
	}
	if c.providers == nil {
		return []string{preference}
	}
	return c.providers.Order(preference)
}

func (c *Controller) providerByName(name string) interfaces.Provider {
	if c.providers == nil {
		return nil
	}
	return c.providers.GetByName(name)
}

// playbackHeaders are the provider's media headers with the resolved
// referer taking precedence.
func (c *Controller) playbackHeaders(stream *types.ResolvedStream) map[string]string {
	headers := map[string]string{}
	if p := c.providerByName(stream.Provider); p != nil {
		headers = p.PlaybackHeaders()
	}
	if stream.Referer != "" {
		headers["Referer"] = stream.Referer
	}
	if headers["Origin"] == "" && headers["Referer"] != "" {
		headers["Origin"] = urlutil.GetSchemeHost(headers["Referer"])
	}
	return headers
}

func (c *Controller) initialTransport() Transport {
	if c.worker != nil {
		return TransportHeaders
	}
	return TransportProxy
}

// attach loads the current stream into a new engine over transport.
func (c *Controller) attach(ctx context.Context, transport Transport) error {
	c.mu.RLock()
	stream := c.stream
	headers := c.headers
	c.mu.RUnlock()

	if transport == TransportHeaders {
		reply := c.worker.HandleMessage(headerinject.Message{
			T:       headerinject.MessageSetHeaders,
			ForURL:  stream.ManifestURL,
			Headers: headers,
			TTL:     int(c.headerTTL / time.Second),
		})
		if !reply.OK {
			c.log.Warn("worker rejected headers, using proxy", "error", reply.Error)
			transport = TransportProxy
		}
	}

	src := Source{URL: stream.ManifestURL}
	if transport == TransportProxy {
		src.URL = c.proxied(stream.ManifestURL, headers)
	}

	engine := c.newEngine(transport)
	c.mu.Lock()
	c.engine = engine
	c.transport = transport
	c.mu.Unlock()

	if err := engine.Load(ctx, src); err != nil {
		return c.engineFailed(ctx, err)
	}

	c.mu.Lock()
	c.lastErr = nil
	c.mu.Unlock()
	c.setState(StatePlaying)
	c.log.Info("playing", "provider", stream.Provider, "transport", transport)

	if c.prober != nil && c.proxyBase != "" {
		c.checkReachable(ctx, c.proxied(stream.ManifestURL, headers))
	}
	return nil
}

// engineFailed moves to the error state and, when the header transport was
// in use, retries once through the proxy.
func (c *Controller) engineFailed(ctx context.Context, err error) error {
	c.setState(StateError)
	transport := c.Transport()
	c.teardown()

	if transport == TransportHeaders && ctx.Err() == nil {
		c.log.Warn("engine failed on header transport, retrying through proxy", "error", err)
		return c.attach(ctx, TransportProxy)
	}

	if !errors.Is(err, types.ErrEngineFatal) {
		err = fmt.Errorf("%w: %w", types.ErrEngineFatal, err)
	}
	c.fail(err)
	return err
}

func (c *Controller) fail(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	c.setState(StateError)
	c.log.Warn("playback failed", "error", err)
}

func (c *Controller) proxied(target string, headers map[string]string) string {
	return c.proxyBase + rewrite.ProxyURL(c.proxyPrefix, target, headers["Referer"], headers["Origin"])
}

// teardown destroys the engine, if any. The media element is never shared
// by two engines.
func (c *Controller) teardown() {
	c.mu.Lock()
	engine := c.engine
	c.engine = nil
	c.mu.Unlock()
	if engine != nil {
		engine.Destroy()
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed {
		metrics.ObserveTransition(string(s))
	}
}
