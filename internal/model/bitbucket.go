// Package model defines shared types for the gateway.
package model

import (
	"io"
	"net/http"
)

// TokenExchangeRequest is the body of POST /api/bitbucket/token.
type TokenExchangeRequest struct {
	Code string `json:"code"`
}

// UpstreamResponse represents a raw Bitbucket response to be relayed back.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
