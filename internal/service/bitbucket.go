// Package service implements the gateway operations against the Bitbucket Cloud API.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"bitbucket-proxy-go/internal/client"
	"bitbucket-proxy-go/internal/config"
	"bitbucket-proxy-go/internal/model"
)

// ErrMissingCredentials is returned by ExchangeCode when no OAuth consumer
// credentials are available from config.
var ErrMissingCredentials = errors.New("bitbucket client credentials not configured: set bitbucket.client_id and bitbucket.client_secret in config")

// allowedUpstreamHosts restricts which hosts the gateway will call.
var allowedUpstreamHosts = map[string]bool{
	"api.bitbucket.org": true,
	"bitbucket.org":     true,
}

// callbackPath is appended to the configured app URL to form the OAuth
// redirect URI. It must match the redirect registered with the consumer.
const callbackPath = "/oauth/bitbucket/callback"

// maxErrorBodyBytes bounds how much of an upstream error body is read into
// an UpstreamError.
const maxErrorBodyBytes = 64 << 10

// UpstreamError is a non-2xx response from the Bitbucket API. The status
// code and body text are surfaced to the caller unchanged.
type UpstreamError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("error %s: %s", e.Op, e.Body)
}

// BitbucketService handles the gateway's calls to the Bitbucket Cloud API.
type BitbucketService struct {
	client  *client.BitbucketClient
	cfg     *config.Config
	logger  *slog.Logger
	apiBase *url.URL
}

// NewBitbucketService creates a BitbucketService.
func NewBitbucketService(c *client.BitbucketClient, cfg *config.Config, logger *slog.Logger) (*BitbucketService, error) {
	u, err := url.Parse(cfg.Upstream.APIBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream api_base_url: %w", err)
	}
	if !allowedUpstreamHosts[u.Hostname()] {
		return nil, fmt.Errorf("upstream host %q is not in the allowlist", u.Hostname())
	}

	tu, err := url.Parse(cfg.Upstream.TokenURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream token_url: %w", err)
	}
	if !allowedUpstreamHosts[tu.Hostname()] {
		return nil, fmt.Errorf("token host %q is not in the allowlist", tu.Hostname())
	}

	return &BitbucketService{
		client:  c,
		cfg:     cfg,
		logger:  logger.With("component", "bitbucket_service"),
		apiBase: u,
	}, nil
}

// NewBitbucketServiceForTest creates a BitbucketService without host allowlist
// validation. This is intended only for tests that use httptest servers on
// localhost.
func NewBitbucketServiceForTest(c *client.BitbucketClient, cfg *config.Config, logger *slog.Logger) (*BitbucketService, error) {
	u, err := url.Parse(cfg.Upstream.APIBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream api_base_url: %w", err)
	}

	return &BitbucketService{
		client:  c,
		cfg:     cfg,
		logger:  logger.With("component", "bitbucket_service"),
		apiBase: u,
	}, nil
}

// ListRepositories fetches a page of the caller's repositories. The page and
// perPage arguments map to Bitbucket's page/pagelen parameters. The caller is
// responsible for closing the response body.
func (s *BitbucketService) ListRepositories(ctx context.Context, token string, page, perPage int) (*model.UpstreamResponse, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("pagelen", strconv.Itoa(perPage))

	s.logger.Debug("listing repositories", "page", page, "pagelen", perPage)

	resp, err := s.client.Get(ctx, s.endpoint("repositories", q), authHeader(token))
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	return s.checkStatus(resp, "fetching repositories")
}

// GetUser fetches the profile of the token's owner. The caller is responsible
// for closing the response body.
func (s *BitbucketService) GetUser(ctx context.Context, token string) (*model.UpstreamResponse, error) {
	resp, err := s.client.Get(ctx, s.endpoint("user", nil), authHeader(token))
	if err != nil {
		return nil, fmt.Errorf("fetch user: %w", err)
	}
	return s.checkStatus(resp, "fetching user")
}

// SearchRepositories filters repositories by name substring using Bitbucket's
// query syntax. The caller is responsible for closing the response body.
func (s *BitbucketService) SearchRepositories(ctx context.Context, token, query string, perPage int) (*model.UpstreamResponse, error) {
	q := url.Values{}
	q.Set("q", `name ~ "`+query+`"`)
	q.Set("pagelen", strconv.Itoa(perPage))

	s.logger.Debug("searching repositories", "pagelen", perPage)

	resp, err := s.client.Get(ctx, s.endpoint("repositories", q), authHeader(token))
	if err != nil {
		return nil, fmt.Errorf("search repositories: %w", err)
	}
	return s.checkStatus(resp, "searching repositories")
}

// ExchangeCode trades an OAuth authorization code for an access token.
// It fails with ErrMissingCredentials before any network call when the
// consumer credentials are unset. The redirect URI must match the one used
// during the authorize step, so it is derived from the configured app URL.
func (s *BitbucketService) ExchangeCode(ctx context.Context, code string) (*model.UpstreamResponse, error) {
	clientID := s.cfg.Bitbucket.ClientID
	clientSecret := s.cfg.Bitbucket.ClientSecret
	if clientID == "" || clientSecret == "" {
		return nil, ErrMissingCredentials
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", strings.TrimSuffix(s.cfg.Bitbucket.AppURL, "/")+callbackPath)

	s.logger.Debug("exchanging authorization code")

	resp, err := s.client.PostForm(ctx, s.cfg.Upstream.TokenURL, form, clientID, clientSecret)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	return s.checkStatus(resp, "exchanging code for token")
}

// authHeader builds the outbound header set for a caller token: a bearer
// Authorization and a JSON Accept, nothing else. The token is opaque; it is
// never inspected, stored, or logged.
func authHeader(token string) http.Header {
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+token)
	h.Set("Accept", "application/json")
	return h
}

func (s *BitbucketService) endpoint(path string, q url.Values) string {
	u := s.apiBase.JoinPath(path)
	u.RawQuery = q.Encode()
	return u.String()
}

// checkStatus passes 2xx responses through with the body still open. Anything
// else is drained (bounded), closed, and returned as an UpstreamError carrying
// the upstream status code and body text.
func (s *BitbucketService) checkStatus(resp *model.UpstreamResponse, op string) (*model.UpstreamResponse, error) {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	_ = resp.Body.Close()

	return nil, &UpstreamError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
}
