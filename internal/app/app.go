// Package app provides the main application setup and dependency injection.
package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"stream-resolver-go/pkg/appctx"
	"stream-resolver-go/pkg/config"
	"stream-resolver-go/pkg/flaresolverr"
	"stream-resolver-go/pkg/handlers/api"
	"stream-resolver-go/pkg/handlers/proxy"
	"stream-resolver-go/pkg/headerinject"
	"stream-resolver-go/pkg/httpclient"
	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/playback"
	"stream-resolver-go/pkg/providers"
	"stream-resolver-go/pkg/registry"
	"stream-resolver-go/pkg/resolver"
	"stream-resolver-go/pkg/rewrite"
	"stream-resolver-go/pkg/server"
	"stream-resolver-go/pkg/services"
)

// progressTTL is how long resume checkpoints are kept.
const progressTTL = 30 * 24 * time.Hour

// App is the main application container.
type App struct {
	Ctx        *appctx.Context
	Server     *server.Server
	HTTPClient *httpclient.Client
	Providers  *registry.ProviderRegistry
	Resolver   *resolver.Resolver
	Crawler    *resolver.CrawlResolver
	Rewriter   *rewrite.Rewriter
	Worker     *headerinject.Worker
	Progress   *playback.RedisProgressStore
}

// New creates and initializes the application. Logs go to logOut (stdout
// when nil).
func New(cfg *config.Config, logOut io.Writer) (*App, error) {
	log := logging.New(cfg.LogLevel, cfg.LogJSON, logOut)
	log.Info("initializing stream resolver", "port", cfg.Port, "log_level", cfg.LogLevel)

	// Create application context
	ctx := appctx.New(cfg, log)

	// Create HTTP client
	httpClient := httpclient.New(cfg, log)

	// Register providers
	providerReg := registry.NewProviderRegistry(cfg.ProviderOrder)
	registerProviders(providerReg, log)
	ctx.WithProviders(providerReg)

	// Create FlareSolverr client if configured
	var solver resolver.ChallengeSolver
	if cfg.FlareSolverrURL != "" {
		solver = flaresolverr.NewClient(cfg.FlareSolverrURL, cfg.FlareSolverrTimeout, log)
		log.Info("FlareSolverr client enabled", "url", cfg.FlareSolverrURL)
	}

	res := resolver.New(httpClient, providerReg, resolver.Options{
		PageTimeout: cfg.PageTimeout,
		Solver:      solver,
	}, log)
	crawler := resolver.NewCrawlResolver(res)

	// Create resolve service
	resolveService := services.NewResolveService(log, services.Resolvers{
		Stream:     res,
		Frame:      res,
		DeepStream: crawler,
		DeepFrame:  crawler,
	}, cfg.ProxyPath)
	ctx.WithResolveService(resolveService)

	// Header-injection worker
	cache, err := headerinject.NewCache(cfg.HeaderCacheSize, cfg.HeaderTTL)
	if err != nil {
		return nil, fmt.Errorf("header cache: %w", err)
	}
	worker := headerinject.New(cache, nil, cfg.WorkerTimeout, log)
	ctx.WithWorker(worker)

	rewriter := rewrite.New(cfg.ProxyPath, log)

	// Optional progress store
	var progress *playback.RedisProgressStore
	if cfg.RedisAddr != "" {
		progress, err = playback.NewRedisProgressStore(playback.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, progressTTL)
		if err != nil {
			log.Warn("progress store unavailable", "addr", cfg.RedisAddr, "error", err)
			progress = nil
		}
	}

	// Create HTTP server
	srv := server.New(cfg, log)

	proxy.New(httpClient, rewriter, proxy.Options{
		SegmentTimeout: cfg.SegmentTimeout,
		PageTimeout:    cfg.PageTimeout,
	}, log).RegisterRoutes(srv.Router())

	api.NewHandlers(ctx).RegisterRoutes(srv.Router())

	return &App{
		Ctx:        ctx,
		Server:     srv,
		HTTPClient: httpClient,
		Providers:  providerReg,
		Resolver:   res,
		Crawler:    crawler,
		Rewriter:   rewriter,
		Worker:     worker,
		Progress:   progress,
	}, nil
}

// Run starts the application and blocks until ctx is cancelled or a
// shutdown signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.Ctx.Log.Info("starting stream resolver server", "port", a.Ctx.Config.Port)
	return a.Server.Start(ctx)
}

// Shutdown releases resources held by the application.
func (a *App) Shutdown() {
	a.Ctx.Log.Info("shutting down application")
	if a.Progress != nil {
		if err := a.Progress.Close(); err != nil {
			a.Ctx.Log.Warn("closing progress store", "error", err)
		}
	}
}

// NewController builds a playback controller whose proxy transport points
// at proxyBase. When remote is set, header messages also go to that worker,
// e.g. a websocket connection to a deployed service.
func (a *App) NewController(proxyBase string, remote playback.MessageSender) *playback.Controller {
	cfg := a.Ctx.Config
	var sender playback.MessageSender = a.Worker
	if remote != nil {
		sender = fanout{a.Worker, remote}
	}
	var progress interfaces.ProgressStore
	if a.Progress != nil {
		progress = a.Progress
	}
	worker := a.Worker
	return playback.NewController(a.Resolver, playback.Options{
		Providers:       a.Providers,
		DefaultProvider: cfg.DefaultProvider,
		ProxyBase:       proxyBase,
		ProxyPrefix:     cfg.ProxyPath,
		Worker:          sender,
		HeaderTTL:       cfg.HeaderTTL,
		NewEngine: func(t playback.Transport) playback.Engine {
			if t == playback.TransportHeaders {
				return playback.NewHLSEngine(worker.Client())
			}
			return playback.NewHLSEngine(&http.Client{})
		},
		Progress: progress,
		Prober:   &http.Client{},
	}, a.Ctx.Log)
}

// fanout sends a message to every worker and returns the first rejection,
// or the last reply.
type fanout []playback.MessageSender

func (f fanout) HandleMessage(msg headerinject.Message) headerinject.Reply {
	var reply headerinject.Reply
	for _, s := range f {
		reply = s.HandleMessage(msg)
		if !reply.OK {
			return reply
		}
	}
	return reply
}

// registerProviders registers all embed providers.
// Add new providers here by:
// 1. Creating a new provider in pkg/providers/
// 2. Registering it below
func registerProviders(reg *registry.ProviderRegistry, log *logging.Logger) {
	reg.Register(providers.NewVidfast())
	reg.Register(providers.NewVideasy())

	log.Info("registered providers", "count", len(reg.All()), "order", reg.Order("auto"))
}
