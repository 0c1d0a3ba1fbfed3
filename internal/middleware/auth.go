package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HeaderBitbucketToken is the request header carrying the caller's Bitbucket
// access token.
const HeaderBitbucketToken = "X-Bitbucket-Token"

// TokenContextKey is the echo context key under which RequireToken stores the
// caller's token.
const TokenContextKey = "bitbucket_token"

// RequireToken returns an Echo middleware that rejects requests without an
// X-Bitbucket-Token header before the handler runs, so no upstream call is
// made. The token is stashed in the context as an opaque string; it is never
// parsed or logged.
func RequireToken() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := c.Request().Header.Get(HeaderBitbucketToken)
			if token == "" {
				return c.JSON(http.StatusBadRequest, map[string]string{
					"error": "missing X-Bitbucket-Token header",
				})
			}
			c.Set(TokenContextKey, token)
			return next(c)
		}
	}
}
