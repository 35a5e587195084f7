package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

type chiRouter struct {
	mux chi.Router
}

var _ Router = (*chiRouter)(nil)

// NewChiRouter creates a Router backed by chi, with RealIP, CleanPath and
// StripSlashes installed.
func NewChiRouter() Router {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.CleanPath)
	r.Use(chimw.StripSlashes)
	return &chiRouter{mux: r}
}

func (r *chiRouter) GET(path string, h http.HandlerFunc, mws ...Middleware) {
	r.mux.Method(http.MethodGet, path, Chain(h, mws...))
}

func (r *chiRouter) POST(path string, h http.HandlerFunc, mws ...Middleware) {
	r.mux.Method(http.MethodPost, path, Chain(h, mws...))
}

func (r *chiRouter) PUT(path string, h http.HandlerFunc, mws ...Middleware) {
	r.mux.Method(http.MethodPut, path, Chain(h, mws...))
}

func (r *chiRouter) PATCH(path string, h http.HandlerFunc, mws ...Middleware) {
	r.mux.Method(http.MethodPatch, path, Chain(h, mws...))
}

func (r *chiRouter) DELETE(path string, h http.HandlerFunc, mws ...Middleware) {
	r.mux.Method(http.MethodDelete, path, Chain(h, mws...))
}

func (r *chiRouter) Group(prefix string, fn func(Router), mws ...Middleware) {
	r.mux.Route(prefix, func(cr chi.Router) {
		for _, mw := range mws {
			cr.Use(mw)
		}
		fn(&chiRouter{mux: cr})
	})
}

func (r *chiRouter) Use(mws ...Middleware) {
	for _, mw := range mws {
		r.mux.Use(mw)
	}
}

func (r *chiRouter) With(mws ...Middleware) Router {
	chiMws := make([]func(http.Handler) http.Handler, len(mws))
	for i, mw := range mws {
		chiMws[i] = mw
	}
	return &chiRouter{mux: r.mux.With(chiMws...)}
}

func (r *chiRouter) Handle(path string, h http.Handler) {
	r.mux.Handle(path, h)
}

func (r *chiRouter) Handler() http.Handler {
	return r.mux
}

func (r *chiRouter) Walk(fn func(method, path string) error) error {
	return chi.Walk(r.mux, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		if route == "/*" {
			return nil
		}
		return fn(method, route)
	})
}
