package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"

	"bitbucket-proxy-go/internal/middleware"
	"bitbucket-proxy-go/internal/model"
	"bitbucket-proxy-go/internal/service"
)

// BitbucketHandler serves the gateway's API routes.
type BitbucketHandler struct {
	service *service.BitbucketService
	logger  *slog.Logger
}

// NewBitbucketHandler creates a BitbucketHandler.
func NewBitbucketHandler(svc *service.BitbucketService, logger *slog.Logger) *BitbucketHandler {
	return &BitbucketHandler{
		service: svc,
		logger:  logger.With("component", "bitbucket_handler"),
	}
}

// ExchangeToken trades an OAuth authorization code for an access token and
// relays Bitbucket's token response verbatim.
func (h *BitbucketHandler) ExchangeToken(c echo.Context) error {
	var req model.TokenExchangeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}
	if req.Code == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "code is required",
		})
	}

	resp, err := h.service.ExchangeCode(c.Request().Context(), req.Code)
	if err != nil {
		return h.mapError(c, err)
	}
	return h.relay(c, resp, false)
}

// ListRepositories proxies the repository listing for the caller's token.
func (h *BitbucketHandler) ListRepositories(c echo.Context) error {
	page := intParam(c, "page", 1)
	perPage := intParam(c, "per_page", 10)

	resp, err := h.service.ListRepositories(c.Request().Context(), token(c), page, perPage)
	if err != nil {
		return h.mapError(c, err)
	}
	// Bitbucket's Link header carries the next-page cursor; it is the only
	// upstream header relayed beyond Content-Type.
	return h.relay(c, resp, true)
}

// GetUser proxies the authenticated-user lookup.
func (h *BitbucketHandler) GetUser(c echo.Context) error {
	resp, err := h.service.GetUser(c.Request().Context(), token(c))
	if err != nil {
		return h.mapError(c, err)
	}
	return h.relay(c, resp, false)
}

// SearchRepositories proxies a repository name search.
func (h *BitbucketHandler) SearchRepositories(c echo.Context) error {
	query := c.QueryParam("query")
	perPage := intParam(c, "per_page", 5)

	resp, err := h.service.SearchRepositories(c.Request().Context(), token(c), query, perPage)
	if err != nil {
		return h.mapError(c, err)
	}
	return h.relay(c, resp, false)
}

// token returns the caller token stashed by the RequireToken middleware.
func token(c echo.Context) string {
	t, _ := c.Get(middleware.TokenContextKey).(string)
	return t
}

// intParam parses an integer query parameter, falling back to def when the
// parameter is absent or not an integer.
func intParam(c echo.Context, name string, def int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// relay streams an upstream response back to the caller with the upstream
// status code. When copyLink is set, the upstream Link header is forwarded
// unchanged.
func (h *BitbucketHandler) relay(c echo.Context, resp *model.UpstreamResponse, copyLink bool) error {
	defer func() { _ = resp.Body.Close() }()

	if copyLink {
		if link := resp.Header.Get("Link"); link != "" {
			c.Response().Header().Set("Link", link)
		}
	}

	contentType := resp.Header.Get(echo.HeaderContentType)
	if contentType == "" {
		contentType = echo.MIMEApplicationJSON
	}
	c.Response().Header().Set(echo.HeaderContentType, contentType)
	c.Response().WriteHeader(resp.StatusCode)

	// Stream the upstream body directly to the client. If io.Copy fails
	// mid-stream (e.g. client disconnect, network error), the HTTP status
	// code has already been sent, so the client receives a truncated
	// response with the original status. We log the error for observability.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", c.Request().URL.Path,
		)
	}

	return nil
}

func (h *BitbucketHandler) mapError(c echo.Context, err error) error {
	// Upstream rejections pass through with their status code. The body is
	// surfaced to the caller but kept out of the logs.
	var ue *service.UpstreamError
	if errors.As(err, &ue) {
		h.logger.Warn("upstream error",
			"op", ue.Op,
			"status", ue.StatusCode,
			"path", c.Request().URL.Path,
		)
		return c.JSON(ue.StatusCode, map[string]string{
			"error": ue.Error(),
		})
	}

	h.logger.Error("gateway error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	if errors.Is(err, service.ErrMissingCredentials) {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "bitbucket client credentials not configured",
		})
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "upstream request timed out",
		})
	}

	if errors.Is(err, context.Canceled) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream host unreachable",
		})
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream connection failed",
		})
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "upstream request failed",
	})
}
