package clients

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"socialbackend/core"
)

const stateBytes = 32

// HTTPStatusError is returned when a provider API answers with a non-2xx status.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("status %d, body: %s", e.StatusCode, e.Body)
}

// IsAuthFailure reports whether a provider rejected the credentials (401/403).
func IsAuthFailure(err error) bool {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		return retrieveErr.Response.StatusCode == http.StatusUnauthorized ||
			retrieveErr.Response.StatusCode == http.StatusForbidden
	}
	return false
}

func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

const (
	// MaxMediaBytes caps media buffered in memory before it is re-uploaded.
	MaxMediaBytes int64 = 100 << 20
	// MediaTransferTimeout bounds one media download plus its upload.
	MediaTransferTimeout = 15 * time.Minute
)

// MediaHTTPClient copies httpClient without its overall timeout. Media
// transfers are bounded by the request context instead.
func MediaHTTPClient(httpClient *http.Client) *http.Client {
	mediaClient := *httpClient
	mediaClient.Timeout = 0
	return &mediaClient
}

// ReadMedia reads at most limit bytes from r and fails on anything larger.
func ReadMedia(r io.Reader, limit int64) ([]byte, error) {
	content, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(content)) > limit {
		return nil, fmt.Errorf("%w: media exceeds %d bytes", core.ErrInvalidPost, limit)
	}
	return content, nil
}

// NewState returns an unguessable OAuth state value
func NewState() (string, error) {
	return core.NewRandomToken(stateBytes)
}

// NewPKCE returns a verifier and its S256 challenge
func NewPKCE() (verifier, challenge string) {
	verifier = oauth2.GenerateVerifier()
	return verifier, oauth2.S256ChallengeFromVerifier(verifier)
}

// ChallengeMatchesVerifier checks a code_challenge against its verifier
func ChallengeMatchesVerifier(challenge, verifier string) bool {
	sum := sha256.Sum256([]byte(verifier))
	return challenge == base64.RawURLEncoding.EncodeToString(sum[:])
}

// WithHTTPClient makes golang.org/x/oauth2 use the given client for token requests
func WithHTTPClient(ctx context.Context, httpClient *http.Client) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, httpClient)
}

// ExpiresIn returns the token lifetime in seconds as reported by the provider.
func ExpiresIn(token *oauth2.Token) int64 {
	if token.ExpiresIn > 0 {
		return token.ExpiresIn
	}
	switch v := token.Extra("expires_in").(type) {
	case float64:
		return int64(v)
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	if !token.Expiry.IsZero() {
		return int64(time.Until(token.Expiry).Seconds())
	}
	return 0
}

// DoJSON sends req and decodes a 2xx JSON body into out (when out is non-nil).
func DoJSON(httpClient *http.Client, req *http.Request, out any) error {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPStatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// NewJSONRequest builds a request with a JSON body and bearer token
func NewJSONRequest(ctx context.Context, method, url, accessToken string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	return req, nil
}

// RedactToken keeps a short prefix of a secret for log lines
func RedactToken(token string) string {
	if len(token) <= 6 {
		return "***"
	}
	return token[:6] + "..."
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
