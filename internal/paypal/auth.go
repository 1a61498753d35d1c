package paypal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// tokenRefreshMargin is subtracted from expires_in so a token is never used
// in its last minute.
const tokenRefreshMargin = 60 * time.Second

// TokenSource fetches and caches OAuth2 client-credentials access tokens.
// Concurrent callers share a single in-flight token request.
type TokenSource struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	now          func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewTokenSource(baseURL, clientID, clientSecret string, httpClient *http.Client) (*TokenSource, error) {
	if clientID == "" || clientSecret == "" {
		return nil, ErrMissingCredentials
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TokenSource{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
		now:          time.Now,
	}, nil
}

// Token returns a cached access token, fetching a new one when the cached
// token is missing or about to expire.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	if ts.token != "" && ts.now().Before(ts.expires) {
		tok := ts.token
		ts.mu.Unlock()
		return tok, nil
	}
	ts.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	ch := ts.group.DoChan("token", func() (any, error) {
		return ts.fetch(detached)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	case <-ctx.Done():
		return "", &TransportError{Op: "token", Err: ctx.Err()}
	}
}

// Invalidate drops the cached token; the next call to Token fetches a fresh one.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	ts.token = ""
	ts.expires = time.Time{}
	ts.mu.Unlock()
}

func (ts *TokenSource) fetch(ctx context.Context) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", &TransportError{Op: "token", Err: err}
	}
	req.SetBasicAuth(ts.clientID, ts.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return "", &TransportError{Op: "token", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", &TransportError{Op: "token", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", &TransportError{Op: "token", Err: ErrUnauthorized}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", &TransportError{Op: "token", Err: fmt.Errorf("status=%d", resp.StatusCode)}
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", &TransportError{Op: "token", Err: fmt.Errorf("decode token response: %w", err)}
	}
	if payload.AccessToken == "" {
		return "", &TransportError{Op: "token", Err: fmt.Errorf("empty access_token")}
	}

	ttl := time.Duration(payload.ExpiresIn)*time.Second - tokenRefreshMargin
	if ttl < 0 {
		ttl = 0
	}

	ts.mu.Lock()
	ts.token = payload.AccessToken
	ts.expires = ts.now().Add(ttl)
	ts.mu.Unlock()

	return payload.AccessToken, nil
}
