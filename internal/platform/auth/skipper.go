package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication and organization resolution.
var publicPaths = map[string]bool{
	"/healthz": true,
	"/metrics": true,
}

// AuthSkipper returns true for requests whose path should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether path is a public infrastructure endpoint.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
