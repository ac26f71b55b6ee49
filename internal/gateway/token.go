package gateway

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

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/polarityio/dataminr-pulse-limited/internal/model"
)

// tokenExpiryMargin forces a refresh slightly before the advertised expiry
// so an almost-dead token is never sent upstream.
const tokenExpiryMargin = time.Minute

const tokenCacheSize = 8

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// tokenCache resolves and caches bearer tokens per credential pair.
type tokenCache struct {
	client    HTTPClient
	baseURL   string
	onRefresh func()

	mu    sync.Mutex
	cache *lru.Cache[string, cachedToken]
}

func newTokenCache(client HTTPClient, baseURL string) *tokenCache {
	cache, _ := lru.New[string, cachedToken](tokenCacheSize)
	return &tokenCache{client: client, baseURL: baseURL, cache: cache}
}

// get returns a valid token for the credentials, fetching a fresh one when
// the cached entry is missing or about to expire.
func (t *tokenCache) get(ctx context.Context, clientID, clientSecret string) (string, error) {
	key := clientID + "\x00" + clientSecret

	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.cache.Get(key); ok && time.Now().Before(entry.expiresAt.Add(-tokenExpiryMargin)) {
		return entry.token, nil
	}

	entry, err := t.fetch(ctx, clientID, clientSecret)
	if err != nil {
		return "", err
	}
	t.cache.Add(key, entry)
	if t.onRefresh != nil {
		t.onRefresh()
	}
	return entry.token, nil
}

// invalidate drops the cached token after the vendor rejected it.
func (t *tokenCache) invalidate(clientID, clientSecret string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cache.Remove(clientID + "\x00" + clientSecret)
}

func (t *tokenCache) fetch(ctx context.Context, clientID, clientSecret string) (cachedToken, error) {
	form := url.Values{
		"grant_type":    {"api_key"},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/auth/v1/token", strings.NewReader(form.Encode()))
	if err != nil {
		return cachedToken{}, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return cachedToken{}, fmt.Errorf("token request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return cachedToken{}, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return cachedToken{}, &ConfigError{
			Reason: "token endpoint rejected the credentials",
			Err:    &APIError{Status: resp.StatusCode, Body: body},
		}
	}

	var tr model.TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return cachedToken{}, fmt.Errorf("decode token response: %w", err)
	}
	if tr.DmaToken == "" {
		return cachedToken{}, &ConfigError{Reason: "token endpoint returned an empty token"}
	}

	return cachedToken{token: tr.DmaToken, expiresAt: time.UnixMilli(tr.Expire)}, nil
}
