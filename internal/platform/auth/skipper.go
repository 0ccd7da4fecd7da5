package auth

import (
	"slices"

	"github.com/labstack/echo/v4"
)

// Public endpoints skip authentication and tenant resolution: liveness and
// readiness probes, the metrics scrape, and the FHIR capability statement,
// all of which must answer before any credentials exist.
var publicPaths = []string{
	"/health",
	"/health/db",
	"/metrics",
	"/fhir/metadata",
}

// IsPublicPath reports whether path is one of the public infrastructure
// endpoints.
func IsPublicPath(path string) bool {
	return slices.Contains(publicPaths, path)
}

// AuthSkipper adapts IsPublicPath to the Skipper signature shared by
// JWTConfig, DevAuthMiddleware and the tenant middleware.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Path())
}
