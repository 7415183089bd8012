package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"musemarket/core"
	"musemarket/gateway/middleware"
)

// ScopeRead and ScopeWrite are the JWT scopes required by the gateway's
// query and mutation routes respectively.
const (
	ScopeRead  = "market.read"
	ScopeWrite = "market.write"
)

// Config assembles the gateway's middleware stack around the node.
type Config struct {
	Node          *core.Node
	Logger        *slog.Logger
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
}

// NewRouter builds the REST facade. Query routes are grouped under the
// "read" rate-limit key and mutation routes under "write".
func NewRouter(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{node: cfg.Node, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(read chi.Router) {
			if cfg.RateLimiter != nil {
				read.Use(cfg.RateLimiter.Middleware("read"))
			}
			if cfg.Authenticator != nil {
				read.Use(cfg.Authenticator.Middleware(ScopeRead))
			}
			read.Get("/listings/{owner}/{asset}", h.getListing)
			read.Get("/accounts/{address}", h.getAccount)
			read.Get("/assets/{asset}/holder", h.getAssetHolder)
			read.Get("/events", h.getEvents)
		})
		v1.Group(func(write chi.Router) {
			if cfg.RateLimiter != nil {
				write.Use(cfg.RateLimiter.Middleware("write"))
			}
			if cfg.Authenticator != nil {
				write.Use(cfg.Authenticator.Middleware(ScopeWrite))
			}
			write.Post("/listings", h.initialize)
			write.Post("/listings/{owner}/{asset}/list", h.list)
			write.Post("/listings/{owner}/{asset}/buy", h.buy)
		})
	})
	return r
}

// Serve runs the gateway on addr until the listener fails.
func Serve(addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server.ListenAndServe()
}
