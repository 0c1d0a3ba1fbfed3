package middleware

import (
	"github.com/labstack/echo/v4"
)

// hopByHopHeaders must not travel across a proxy hop.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// SecurityHeaders returns an Echo middleware that strips hop-by-hop headers
// from incoming requests and hardens responses. Headers are set before the
// handler runs: relayed upstream bodies are streamed, so the response is
// committed inside the handler and anything set afterwards is lost.
// Cache-Control is no-store throughout; relayed payloads carry access
// tokens and private repository data.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, h := range hopByHopHeaders {
				c.Request().Header.Del(h)
			}

			res := c.Response().Header()
			res.Set("Cache-Control", "no-store")
			res.Set("X-Content-Type-Options", "nosniff")
			res.Set("X-Frame-Options", "DENY")

			return next(c)
		}
	}
}
