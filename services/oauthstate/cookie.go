package oauthstate

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/samber/mo"
)

// CookieStateStore keeps state in http-only cookies scoped to the integrations API.
// It lives for a single request.
type CookieStateStore struct {
	w      http.ResponseWriter
	r      *http.Request
	secure bool

	mu    sync.Mutex
	taken map[string]bool
}

func NewCookieStateStore(w http.ResponseWriter, r *http.Request, secure bool) *CookieStateStore {
	return &CookieStateStore{w: w, r: r, secure: secure, taken: make(map[string]bool)}
}

func (s *CookieStateStore) Put(_ context.Context, key, value string, ttl time.Duration) error {
	http.SetCookie(s.w, s.cookie(key, value, int(ttl.Seconds())))
	return nil
}

// TakeOnce reads the cookie and always instructs the browser to drop it
func (s *CookieStateStore) TakeOnce(_ context.Context, key string) (mo.Option[string], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.taken[key] {
		return mo.None[string](), nil
	}
	s.taken[key] = true

	http.SetCookie(s.w, s.cookie(key, "", -1))

	c, err := s.r.Cookie(key)
	if err != nil || c.Value == "" {
		return mo.None[string](), nil
	}
	return mo.Some(c.Value), nil
}

func (s *CookieStateStore) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/api/integrations",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// CookieStoreProvider creates a cookie store per request
type CookieStoreProvider struct {
	secure bool
}

func NewCookieStoreProvider(secure bool) *CookieStoreProvider {
	return &CookieStoreProvider{secure: secure}
}

func (p *CookieStoreProvider) ForRequest(w http.ResponseWriter, r *http.Request) StateStore {
	return NewCookieStateStore(w, r, p.secure)
}
