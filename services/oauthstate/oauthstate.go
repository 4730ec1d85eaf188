package oauthstate

import (
	"context"
	"net/http"
	"time"

	"github.com/samber/mo"
)

// TTL is how long a pending authorization may take before its state is discarded
const TTL = 10 * time.Minute

// StateStore keeps single-use values across the OAuth redirect round trip.
type StateStore interface {
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	// TakeOnce returns the value and removes it, so a second call yields None.
	TakeOnce(ctx context.Context, key string) (mo.Option[string], error)
}

// StoreProvider hands out the state store for one HTTP exchange.
type StoreProvider interface {
	ForRequest(w http.ResponseWriter, r *http.Request) StateStore
}

func StateKey(provider string) string {
	return provider + "_auth_state"
}

func VerifierKey(provider string) string {
	return provider + "_code_verifier"
}

// SharedStoreProvider serves the same backing store to every request
type SharedStoreProvider struct {
	store StateStore
}

func NewSharedStoreProvider(store StateStore) *SharedStoreProvider {
	return &SharedStoreProvider{store: store}
}

func (p *SharedStoreProvider) ForRequest(_ http.ResponseWriter, _ *http.Request) StateStore {
	return p.store
}
