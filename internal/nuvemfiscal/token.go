// Package nuvemfiscal is the client for the Nuvem Fiscal distribution API:
// OAuth client-credentials auth, NSU feed distribution, single-document
// fetch, and manifestation events.
package nuvemfiscal

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

	"github.com/rotisserie/eris"
	"golang.org/x/sync/singleflight"
)

// refreshSkew renews the token this long before its actual expiry so
// in-flight calls never race the expiration.
const refreshSkew = 60 * time.Second

// ErrNotConfigured is returned when client credentials are missing. This is
// a configuration error: it is never retried and propagates to the caller.
var ErrNotConfigured = eris.New("nuvemfiscal: client credentials not configured")

// AuthError indicates the token endpoint rejected the credential exchange.
// The failed exchange is not cached; the next call retries fresh.
type AuthError struct {
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("nuvemfiscal: token exchange failed with status %d: %s", e.StatusCode, e.Body)
}

// TokenProvider exchanges client credentials for bearer tokens and caches
// the result process-wide. Refresh is single-flight: concurrent callers
// share one in-flight exchange instead of each issuing their own.
type TokenProvider struct {
	authURL      string
	clientID     string
	clientSecret string
	scopes       string
	httpClient   *http.Client

	group singleflight.Group

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

// NewTokenProvider creates a TokenProvider for the given token endpoint.
func NewTokenProvider(authURL, clientID, clientSecret, scopes string) *TokenProvider {
	return &TokenProvider{
		authURL:      authURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		scopes:       scopes,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Token returns a valid bearer token, refreshing it when it is within
// refreshSkew of expiry or already expired.
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.accessToken != "" && time.Until(p.expiresAt) > refreshSkew {
		token := p.accessToken
		p.mu.Unlock()
		return token, nil
	}
	p.mu.Unlock()

	v, err, _ := p.group.Do("refresh", func() (any, error) {
		// A caller queued behind the refresh may arrive after it finished.
		p.mu.Lock()
		if p.accessToken != "" && time.Until(p.expiresAt) > refreshSkew {
			token := p.accessToken
			p.mu.Unlock()
			return token, nil
		}
		p.mu.Unlock()

		return p.exchange(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (p *TokenProvider) exchange(ctx context.Context) (string, error) {
	if p.clientID == "" || p.clientSecret == "" {
		return "", ErrNotConfigured
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {p.clientID},
		"client_secret": {p.clientSecret},
		"scope":         {p.scopes},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", eris.Wrap(err, "nuvemfiscal: build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "nuvemfiscal: token request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "nuvemfiscal: read token response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &AuthError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var tr struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", eris.Wrap(err, "nuvemfiscal: decode token response")
	}
	if tr.AccessToken == "" {
		return "", eris.New("nuvemfiscal: token response missing access_token")
	}

	p.mu.Lock()
	p.accessToken = tr.AccessToken
	p.expiresAt = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	p.mu.Unlock()

	return tr.AccessToken, nil
}
