package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/style-suite/api/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

type middlewareFunc = func(http.Handler) http.Handler

// Route groups mounted under basePath. A group without a registrar answers 501.
const (
	groupOrders   = "orders"
	groupMe       = "me"
	groupPartner  = "partner"
	groupAdmin    = "admin"
	groupInternal = "internal"
)

// routeGroup is one mount point. Order in groupLayout is mount order.
type routeGroup struct {
	name   string
	prefix string
}

var groupLayout = []routeGroup{
	{name: groupOrders, prefix: "/orders"},
	{name: groupMe, prefix: "/me"},
	{name: groupPartner, prefix: "/v1"},
	{name: groupAdmin, prefix: "/admin"},
	{name: groupInternal, prefix: "/internal"},
}

type routerConfig struct {
	basePath    string
	middlewares []middlewareFunc
	health      *HealthHandlers
	metrics     http.Handler

	registrars       map[string]RouteRegistrar
	groupMiddlewares map[string][]middlewareFunc
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	basePath          = "/api"
	requestTimeout    = 60 * time.Second
	errorNotFoundCode = "route_not_found"
)

// NewRouter builds the HTTP surface: probes and metrics at the root, gateways under /api.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath: basePath,
		middlewares: []middlewareFunc{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(requestTimeout),
		},
		registrars:       map[string]RouteRegistrar{},
		groupMiddlewares: map[string][]middlewareFunc{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)
	if cfg.metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metrics)
	}

	r.Route(cfg.basePath, func(api chi.Router) {
		for _, group := range groupLayout {
			mountGroup(api, group, cfg.registrars[group.name], cfg.groupMiddlewares[group.name])
		}
	})
	return r
}

func mountGroup(api chi.Router, group routeGroup, registrar RouteRegistrar, mws []middlewareFunc) {
	api.Route(group.prefix, func(sub chi.Router) {
		for _, mw := range mws {
			if mw != nil {
				sub.Use(mw)
			}
		}
		if registrar == nil {
			registerNotImplemented(sub, group.name)
			return
		}
		registrar(sub)
	})
}

func withGroup(name string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.registrars[name] = reg
	}
}

// WithMiddlewares appends global middleware, applied after request id, real IP and timeout.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz endpoints.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithMetricsHandler exposes the given handler on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.metrics = h
	}
}

// WithOrderRoutes mounts the session gateway and public tracking under /api/orders.
func WithOrderRoutes(reg RouteRegistrar) Option { return withGroup(groupOrders, reg) }

// WithMeRoutes mounts user scoped endpoints under /api/me.
func WithMeRoutes(reg RouteRegistrar) Option { return withGroup(groupMe, reg) }

// WithPartnerRoutes mounts the API-key gateway under /api/v1.
func WithPartnerRoutes(reg RouteRegistrar) Option { return withGroup(groupPartner, reg) }

// WithAdminRoutes mounts admin endpoints under /api/admin.
func WithAdminRoutes(reg RouteRegistrar) Option { return withGroup(groupAdmin, reg) }

// WithInternalRoutes mounts service-to-service endpoints under /api/internal.
func WithInternalRoutes(reg RouteRegistrar) Option { return withGroup(groupInternal, reg) }

// WithInternalMiddlewares guards the /api/internal group, typically with OIDC.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.groupMiddlewares[groupInternal] = append(cfg.groupMiddlewares[groupInternal], mw...)
	}
}

func registerNotImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
	}
	r.HandleFunc("/*", handler)
	r.HandleFunc("/", handler)
	r.NotFound(handler)
	r.MethodNotAllowed(handler)
}
