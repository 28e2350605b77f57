package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths lists routes that bypass bearer-token authentication. The proxy
// endpoint carries its own shared secret in the request body.
var publicPaths = map[string]bool{
	"/health":            true,
	"/health/db":         true,
	"/metrics":           true,
	"/api/v1/auth/login": true,
	"/api/proxy":         true,
}

// AuthSkipper returns true for requests whose route should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether the given path bypasses authentication.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
