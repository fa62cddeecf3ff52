package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/getrestd/restd/pkg/config"
	"github.com/getrestd/restd/pkg/interceptor"
	"github.com/getrestd/restd/pkg/logging"
	"github.com/getrestd/restd/pkg/schema"
	"github.com/getrestd/restd/pkg/storage"
)

// Server is the HTTP resource server. It owns the request pipeline but not
// the storage gateway; the caller constructs the gateway and closes it after
// Shutdown returns.
type Server struct {
	cfg     *config.Config
	handler *handler
	httpSrv *http.Server
}

// Option customizes a Server at construction time.
type Option func(*options)

type options struct {
	log   *slog.Logger
	hooks interceptor.Chain
}

// WithLogger sets the operational logger. The default discards everything.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithInterceptors registers programmatic hooks. They take precedence over
// expression interceptors declared in the configuration, per hook slot.
func WithInterceptors(chain interceptor.Chain) Option {
	return func(o *options) { o.hooks = chain }
}

// New builds a Server from a validated configuration and a storage gateway.
// Schemas and interceptor expressions are compiled here, once; compile errors
// surface at startup rather than on first use.
func New(cfg *config.Config, gateway storage.Gateway, opts ...Option) (*Server, error) {
	o := &options{log: logging.Nop()}
	for _, opt := range opts {
		opt(o)
	}

	schemas, err := schema.Compile(cfg.Schemas)
	if err != nil {
		return nil, fmt.Errorf("compiling schemas: %w", err)
	}

	chain, err := interceptor.CompileChain(cfg.Interceptors)
	if err != nil {
		return nil, fmt.Errorf("compiling interceptors: %w", err)
	}
	chain = chain.Merge(o.hooks)

	var static http.Handler
	if cfg.StaticFolder != "" {
		static = http.FileServer(http.Dir(cfg.StaticFolder))
	}

	h := &handler{
		log:     o.log,
		gateway: gateway,
		schemas: schemas,
		chain:   chain,

		allowed: cfg.AllowedResources(),
		prefix:  cfg.APIPrefix,
		static:  static,

		cacheControl:          cfg.CacheControl,
		delay:                 time.Duration(cfg.DelayMillis) * time.Millisecond,
		returnNullFields:      cfg.ReturnNullFields,
		allowDeleteCollection: cfg.AllowDeleteCollection,
		etags:                 cfg.ETags,
	}

	return &Server{
		cfg:     cfg,
		handler: h,
		httpSrv: &http.Server{
			Addr:              cfg.Listen,
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Handler exposes the request pipeline as an http.Handler, for embedding and
// for httptest.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start runs the HTTP server until it fails or Shutdown is called. A clean
// shutdown returns nil.
func (s *Server) Start() error {
	s.handler.log.Info("server listening", "addr", s.cfg.Listen)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for in-flight requests,
// bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
