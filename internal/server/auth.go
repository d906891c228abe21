package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"llmgateway/internal/core"
)

// AuthMiddleware creates an Echo middleware that requires one of apiKeys as a
// bearer token. Requests to skipPaths pass through. Blank keys are ignored;
// with no usable key every other request is rejected.
func AuthMiddleware(apiKeys []string, skipPaths []string) echo.MiddlewareFunc {
	keys := make([][]byte, 0, len(apiKeys))
	for _, k := range apiKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, []byte(k))
		}
	}
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, ok := skip[c.Request().URL.Path]; ok {
				return next(c)
			}
			if len(keys) == 0 {
				return unauthorized(c, "no api keys configured")
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return unauthorized(c, "missing authorization header")
			}

			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				return unauthorized(c, "invalid authorization header format, expected 'Bearer <token>'")
			}

			token := []byte(strings.TrimPrefix(authHeader, prefix))
			if !validKey(keys, token) {
				return unauthorized(c, "invalid api key")
			}

			return next(c)
		}
	}
}

// validKey compares against every key so timing does not reveal which matched.
func validKey(keys [][]byte, token []byte) bool {
	match := 0
	for _, k := range keys {
		match |= subtle.ConstantTimeCompare(k, token)
	}
	return match == 1
}

func unauthorized(c echo.Context, message string) error {
	return c.JSON(http.StatusUnauthorized, core.NewAuthFailureError("", message, nil).ToJSON())
}
