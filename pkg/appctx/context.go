// Package appctx provides the application context that holds all runtime dependencies.
package appctx

import (
	"fmt"

	"stream-resolver-go/pkg/config"
	"stream-resolver-go/pkg/headerinject"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/registry"
	"stream-resolver-go/pkg/services"
)

// Context holds all application runtime dependencies.
// Pass this single struct to components instead of individual parameters.
type Context struct {
	Config         *config.Config
	Log            *logging.Logger
	ResolveService *services.ResolveService
	Providers      *registry.ProviderRegistry
	Worker         *headerinject.Worker
	BaseURL        string
}

// New creates a new application context.
func New(cfg *config.Config, log *logging.Logger) *Context {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%d", cfg.Port)
	}
	return &Context{
		Config:  cfg,
		Log:     log,
		BaseURL: baseURL,
	}
}

// WithResolveService sets the resolve service.
func (c *Context) WithResolveService(rs *services.ResolveService) *Context {
	c.ResolveService = rs
	return c
}

// WithProviders sets the provider registry.
func (c *Context) WithProviders(p *registry.ProviderRegistry) *Context {
	c.Providers = p
	return c
}

// WithWorker sets the header-injection worker.
func (c *Context) WithWorker(w *headerinject.Worker) *Context {
	c.Worker = w
	return c
}
