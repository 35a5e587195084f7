// Package http wires the API's router, middleware chain and HTTP server.
package http

import (
	"net/http"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Router registers routes. Handlers and route tables depend on this interface,
// never on chi directly.
type Router interface {
	// Route-specific middleware wraps in order: the first is outermost.
	GET(path string, handler http.HandlerFunc, middlewares ...Middleware)
	POST(path string, handler http.HandlerFunc, middlewares ...Middleware)
	PUT(path string, handler http.HandlerFunc, middlewares ...Middleware)
	PATCH(path string, handler http.HandlerFunc, middlewares ...Middleware)
	DELETE(path string, handler http.HandlerFunc, middlewares ...Middleware)

	// Group mounts routes under prefix with shared middleware.
	Group(prefix string, fn func(Router), middlewares ...Middleware)

	// Use adds middleware for every route registered afterwards.
	Use(middlewares ...Middleware)

	// With returns a Router whose routes all carry middlewares.
	With(middlewares ...Middleware) Router

	// Handle mounts a plain handler, e.g. promhttp.
	Handle(path string, handler http.Handler)

	Handler() http.Handler

	// Walk visits every registered route.
	Walk(fn func(method, path string) error) error
}

// Chain applies middlewares to a handler, first one outermost.
func Chain(handler http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}
