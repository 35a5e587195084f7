package http

import (
	"sort"

	"github.com/vexscan/api/pkg/logger"
)

// RouteInfo is one registered route.
type RouteInfo struct {
	Method string `json:"method" yaml:"method"`
	Path   string `json:"path" yaml:"path"`
}

// CollectRoutes lists the router's routes sorted by path then method.
func CollectRoutes(router Router) []RouteInfo {
	var routes []RouteInfo
	_ = router.Walk(func(method, path string) error {
		routes = append(routes, RouteInfo{Method: method, Path: path})
		return nil
	})
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path != routes[j].Path {
			return routes[i].Path < routes[j].Path
		}
		return routes[i].Method < routes[j].Method
	})
	return routes
}

// LogRoutes logs every route at debug level.
func LogRoutes(log *logger.Logger, router Router) {
	routes := CollectRoutes(router)
	for _, rt := range routes {
		log.Debug("route registered", "method", rt.Method, "path", rt.Path)
	}
	log.Info("routes registered", "count", len(routes))
}
