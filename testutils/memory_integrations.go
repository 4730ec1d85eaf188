package testutils

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samber/mo"

	"socialbackend/core"
	"socialbackend/models"
)

// MemoryIntegrationsRepository is an in-memory credential store with the same
// semantics as db.PostgresIntegrationsRepository.
type MemoryIntegrationsRepository struct {
	mu     sync.Mutex
	byID   map[string]*models.Integration
	now    func() time.Time
	writes int
}

func NewMemoryIntegrationsRepository() *MemoryIntegrationsRepository {
	return &MemoryIntegrationsRepository{
		byID: make(map[string]*models.Integration),
		now:  time.Now,
	}
}

// WithClock overrides the time source used for timestamps
func (r *MemoryIntegrationsRepository) WithClock(now func() time.Time) *MemoryIntegrationsRepository {
	r.now = now
	return r
}

// Writes returns how many mutating calls succeeded
func (r *MemoryIntegrationsRepository) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

// Count returns the number of stored rows, deleted ones included
func (r *MemoryIntegrationsRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// Seed stores the integration as-is, filling in version and timestamps when unset
func (r *MemoryIntegrationsRepository) Seed(integration *models.Integration) *models.Integration {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := clone(integration)
	if stored.TokenVersion == 0 {
		stored.TokenVersion = 1
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.now()
	}
	stored.UpdatedAt = stored.CreatedAt
	r.byID[stored.ID] = stored
	return clone(stored)
}

func (r *MemoryIntegrationsRepository) UpsertIntegration(_ context.Context, integration *models.Integration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for _, existing := range r.byID {
		if existing.UserID != integration.UserID || existing.ProviderIdentifier != integration.ProviderIdentifier {
			continue
		}
		existing.InternalID = integration.InternalID
		existing.Name = integration.Name
		existing.Picture = integration.Picture
		existing.Profile = integration.Profile
		existing.Token = integration.Token
		existing.RefreshToken = integration.RefreshToken
		existing.TokenExpiration = integration.TokenExpiration
		existing.TokenVersion++
		existing.RefreshNeeded = false
		existing.Disabled = false
		existing.DeletedAt = nil
		existing.UpdatedAt = now
		*integration = *clone(existing)
		r.writes++
		return nil
	}

	stored := clone(integration)
	stored.TokenVersion = 1
	stored.RefreshNeeded = false
	stored.Disabled = false
	stored.DeletedAt = nil
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.byID[stored.ID] = stored
	*integration = *clone(stored)
	r.writes++
	return nil
}

func (r *MemoryIntegrationsRepository) GetIntegrationByID(
	_ context.Context,
	id string,
) (mo.Option[*models.Integration], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if integration, ok := r.byID[id]; ok {
		return mo.Some(clone(integration)), nil
	}
	return mo.None[*models.Integration](), nil
}

func (r *MemoryIntegrationsRepository) GetActiveIntegrationByProvider(
	_ context.Context,
	userID string,
	provider models.ProviderIdentifier,
) (mo.Option[*models.Integration], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, integration := range r.byID {
		if integration.UserID == userID && integration.ProviderIdentifier == provider && !integration.IsDeleted() {
			return mo.Some(clone(integration)), nil
		}
	}
	return mo.None[*models.Integration](), nil
}

func (r *MemoryIntegrationsRepository) GetActiveIntegrationByInternalID(
	_ context.Context,
	userID string,
	provider models.ProviderIdentifier,
	internalID string,
) (mo.Option[*models.Integration], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, integration := range r.byID {
		if integration.UserID == userID &&
			integration.ProviderIdentifier == provider &&
			integration.InternalID == internalID &&
			!integration.IsDeleted() {
			return mo.Some(clone(integration)), nil
		}
	}
	return mo.None[*models.Integration](), nil
}

func (r *MemoryIntegrationsRepository) ListActiveIntegrationsByUserID(
	_ context.Context,
	userID string,
) ([]*models.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	integrations := []*models.Integration{}
	for _, integration := range r.byID {
		if integration.UserID == userID && !integration.IsDeleted() {
			integrations = append(integrations, clone(integration))
		}
	}
	sort.Slice(integrations, func(i, j int) bool {
		return integrations[i].CreatedAt.Before(integrations[j].CreatedAt)
	})
	return integrations, nil
}

func (r *MemoryIntegrationsRepository) UpdateIntegrationTokens(
	_ context.Context,
	id string,
	expectedVersion int64,
	token string,
	refreshToken *string,
	tokenExpiration *time.Time,
) (*models.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	integration, ok := r.byID[id]
	if !ok || integration.IsDeleted() || integration.TokenVersion != expectedVersion {
		return nil, core.ErrConcurrentTokenUpdate
	}

	integration.Token = token
	integration.RefreshToken = refreshToken
	integration.TokenExpiration = tokenExpiration
	integration.TokenVersion++
	integration.RefreshNeeded = false
	integration.UpdatedAt = r.now()
	r.writes++
	return clone(integration), nil
}

func (r *MemoryIntegrationsRepository) MarkRefreshNeeded(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	integration, ok := r.byID[id]
	if !ok {
		return core.ErrNotFound
	}
	integration.RefreshNeeded = true
	integration.UpdatedAt = r.now()
	r.writes++
	return nil
}

func (r *MemoryIntegrationsRepository) SoftDeleteIntegration(_ context.Context, userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	integration, ok := r.byID[id]
	if !ok || integration.UserID != userID || integration.IsDeleted() {
		return core.ErrNotFound
	}
	now := r.now()
	integration.DeletedAt = &now
	integration.UpdatedAt = now
	r.writes++
	return nil
}

func (r *MemoryIntegrationsRepository) ListRefreshCandidates(
	_ context.Context,
	expiringBefore time.Time,
	provider mo.Option[models.ProviderIdentifier],
) ([]*models.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	integrations := []*models.Integration{}
	for _, integration := range r.byID {
		if integration.IsDeleted() || integration.Disabled || integration.RefreshNeeded {
			continue
		}
		if !integration.HasRefreshToken() || integration.TokenExpiration == nil {
			continue
		}
		if !integration.TokenExpiration.Before(expiringBefore) {
			continue
		}
		if p, ok := provider.Get(); ok && integration.ProviderIdentifier != p {
			continue
		}
		integrations = append(integrations, clone(integration))
	}
	sort.Slice(integrations, func(i, j int) bool {
		return integrations[i].TokenExpiration.Before(*integrations[j].TokenExpiration)
	})
	return integrations, nil
}

func clone(integration *models.Integration) *models.Integration {
	c := *integration
	return &c
}
