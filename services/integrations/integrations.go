package integrations

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/samber/mo"

	"socialbackend/clients"
	"socialbackend/core"
	"socialbackend/metrics"
	"socialbackend/models"
	"socialbackend/services"
	"socialbackend/utils/tokencipher"
)

// IntegrationsRepository is the credential store the service persists through.
// db.PostgresIntegrationsRepository is the production implementation.
type IntegrationsRepository interface {
	UpsertIntegration(ctx context.Context, integration *models.Integration) error
	GetIntegrationByID(ctx context.Context, id string) (mo.Option[*models.Integration], error)
	GetActiveIntegrationByProvider(
		ctx context.Context,
		userID string,
		provider models.ProviderIdentifier,
	) (mo.Option[*models.Integration], error)
	GetActiveIntegrationByInternalID(
		ctx context.Context,
		userID string,
		provider models.ProviderIdentifier,
		internalID string,
	) (mo.Option[*models.Integration], error)
	ListActiveIntegrationsByUserID(ctx context.Context, userID string) ([]*models.Integration, error)
	UpdateIntegrationTokens(
		ctx context.Context,
		id string,
		expectedVersion int64,
		token string,
		refreshToken *string,
		tokenExpiration *time.Time,
	) (*models.Integration, error)
	MarkRefreshNeeded(ctx context.Context, id string) error
	SoftDeleteIntegration(ctx context.Context, userID, id string) error
	ListRefreshCandidates(
		ctx context.Context,
		expiringBefore time.Time,
		provider mo.Option[models.ProviderIdentifier],
	) ([]*models.Integration, error)
}

// AdapterRegistry resolves provider identifiers to adapters
type AdapterRegistry interface {
	Get(identifier string) (clients.ProviderAdapter, error)
	Identifiers() []string
}

type IntegrationsService struct {
	integrationsRepo IntegrationsRepository
	registry         AdapterRegistry
	txManager        services.TransactionManager
	cipher           tokencipher.Cipher
	metrics          *metrics.Metrics
	now              func() time.Time
}

func NewIntegrationsService(
	repo IntegrationsRepository,
	registry AdapterRegistry,
	txManager services.TransactionManager,
	cipher tokencipher.Cipher,
	m *metrics.Metrics,
) *IntegrationsService {
	if cipher == nil {
		cipher = tokencipher.NoopCipher{}
	}
	if m == nil {
		m = metrics.NewMetrics()
	}
	return &IntegrationsService{
		integrationsRepo: repo,
		registry:         registry,
		txManager:        txManager,
		cipher:           cipher,
		metrics:          m,
		now:              time.Now,
	}
}

// WithClock overrides the time source used for token expirations
func (s *IntegrationsService) WithClock(now func() time.Time) *IntegrationsService {
	s.now = now
	return s
}

func (s *IntegrationsService) SupportsProvider(provider models.ProviderIdentifier) bool {
	_, err := s.registry.Get(provider.String())
	return err == nil
}

// Authenticate exchanges the code with the provider and upserts the integration for (user, provider).
// Nothing is written unless the exchange and the profile fetch both succeed.
func (s *IntegrationsService) Authenticate(
	ctx context.Context,
	provider models.ProviderIdentifier,
	code, userID, codeVerifier string,
) *models.AuthTokenDetails {
	log.Printf("📋 Starting to authenticate %s integration for user: %s", provider, userID)

	details, err := s.authenticate(ctx, provider, code, userID, codeVerifier)
	if err != nil {
		log.Printf("❌ Failed to authenticate %s integration for user %s: %v", provider, userID, err)
		s.metrics.ObserveAuthentication(provider.String(), metrics.OutcomeFailure)
		return models.NewAuthTokenError(err, core.ErrorCode(err))
	}

	s.metrics.ObserveAuthentication(provider.String(), metrics.OutcomeSuccess)
	log.Printf("📋 Completed successfully - authenticated %s account %s for user: %s", provider, details.ID, userID)
	return details
}

func (s *IntegrationsService) authenticate(
	ctx context.Context,
	provider models.ProviderIdentifier,
	code, userID, codeVerifier string,
) (*models.AuthTokenDetails, error) {
	if userID == "" {
		return nil, core.ErrAuthRequired
	}
	if code == "" {
		return nil, fmt.Errorf("%w: code is required", core.ErrMissingCallbackParameters)
	}

	adapter, err := s.registry.Get(provider.String())
	if err != nil {
		return nil, err
	}

	details, err := adapter.Authenticate(ctx, code, codeVerifier)
	if err != nil {
		return nil, err
	}
	if details.Failed() {
		return nil, errors.New(details.Error)
	}
	if details.ID == "" || details.AccessToken == "" {
		return nil, fmt.Errorf("%w: provider returned an incomplete account", core.ErrProfileFetchFailed)
	}

	sealedToken, err := s.cipher.Seal(details.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to seal access token: %w", err)
	}
	var sealedRefreshToken *string
	if details.RefreshToken != "" {
		sealed, err := s.cipher.Seal(details.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to seal refresh token: %w", err)
		}
		sealedRefreshToken = &sealed
	}

	integration := &models.Integration{
		ID:                 core.NewID("int"),
		UserID:             userID,
		ProviderIdentifier: provider,
		InternalID:         details.ID,
		Name:               nilIfEmpty(details.Name),
		Picture:            nilIfEmpty(details.Picture),
		Profile:            nilIfEmpty(details.Username),
		Token:              sealedToken,
		RefreshToken:       sealedRefreshToken,
		TokenExpiration:    s.expirationFor(details.ExpiresIn),
	}
	if err := s.integrationsRepo.UpsertIntegration(ctx, integration); err != nil {
		return nil, fmt.Errorf("failed to store integration: %w", err)
	}

	return details, nil
}

// RefreshToken refreshes the stored credentials of the user's account identified by internalID.
func (s *IntegrationsService) RefreshToken(
	ctx context.Context,
	provider models.ProviderIdentifier,
	userID, internalID string,
) (*models.OAuthTokens, error) {
	log.Printf("📋 Starting to refresh %s token for user: %s", provider, userID)

	adapter, err := s.registry.Get(provider.String())
	if err != nil {
		return nil, err
	}

	maybeIntegration, err := s.integrationsRepo.GetActiveIntegrationByInternalID(ctx, userID, provider, internalID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up integration: %w", err)
	}
	integration, ok := maybeIntegration.Get()
	if !ok {
		return nil, fmt.Errorf("%s integration %s: %w", provider, internalID, core.ErrNotFound)
	}

	_, tokens, err := s.refresh(ctx, adapter, integration)
	if err != nil {
		return nil, err
	}

	log.Printf("📋 Completed successfully - refreshed %s token for user: %s", provider, userID)
	return tokens, nil
}

// RefreshIntegration refreshes a stored integration and returns the updated record
func (s *IntegrationsService) RefreshIntegration(
	ctx context.Context,
	integration *models.Integration,
) (*models.Integration, error) {
	log.Printf("📋 Starting to refresh integration: %s", integration.ID)

	adapter, err := s.registry.Get(integration.ProviderIdentifier.String())
	if err != nil {
		s.metrics.ObserveRefresh(integration.ProviderIdentifier.String(), metrics.OutcomeSkipped)
		return nil, err
	}

	updated, _, err := s.refresh(ctx, adapter, integration)
	if err != nil {
		return nil, err
	}

	log.Printf("📋 Completed successfully - refreshed integration: %s", integration.ID)
	return updated, nil
}

func (s *IntegrationsService) refresh(
	ctx context.Context,
	adapter clients.ProviderAdapter,
	integration *models.Integration,
) (*models.Integration, *models.OAuthTokens, error) {
	provider := integration.ProviderIdentifier.String()

	if !integration.HasRefreshToken() {
		s.markRefreshNeeded(ctx, integration)
		s.metrics.ObserveRefresh(provider, metrics.OutcomeFailure)
		return nil, nil, fmt.Errorf("%s integration %s: %w", provider, integration.ID, core.ErrNoRefreshTokenOnRecord)
	}

	refreshToken, err := s.cipher.Open(*integration.RefreshToken)
	if err != nil {
		s.markRefreshNeeded(ctx, integration)
		s.metrics.ObserveRefresh(provider, metrics.OutcomeFailure)
		return nil, nil, fmt.Errorf("failed to open refresh token: %w", err)
	}

	tokens, err := adapter.RefreshToken(ctx, refreshToken)
	if err != nil {
		s.markRefreshNeeded(ctx, integration)
		s.metrics.ObserveRefresh(provider, metrics.OutcomeFailure)
		if !errors.Is(err, core.ErrTokenRefreshRejected) {
			err = fmt.Errorf("%w: %w", core.ErrTokenRefreshRejected, err)
		}
		return nil, nil, err
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}

	sealedToken, err := s.cipher.Seal(tokens.AccessToken)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to seal access token: %w", err)
	}
	sealedRefreshToken, err := s.cipher.Seal(tokens.RefreshToken)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to seal refresh token: %w", err)
	}

	updated, err := s.integrationsRepo.UpdateIntegrationTokens(
		ctx,
		integration.ID,
		integration.TokenVersion,
		sealedToken,
		&sealedRefreshToken,
		s.expirationFor(tokens.ExpiresIn),
	)
	if errors.Is(err, core.ErrConcurrentTokenUpdate) {
		return s.resolveConcurrentRefresh(ctx, integration, err)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to store refreshed tokens: %w", err)
	}

	s.metrics.ObserveRefresh(provider, metrics.OutcomeSuccess)
	return updated, tokens, nil
}

// resolveConcurrentRefresh hands back the tokens written by the refresh that won the race,
// provided that write left the record usable.
func (s *IntegrationsService) resolveConcurrentRefresh(
	ctx context.Context,
	stale *models.Integration,
	conflict error,
) (*models.Integration, *models.OAuthTokens, error) {
	log.Printf("⚠️ Concurrent token update detected for integration %s, re-reading", stale.ID)

	maybeCurrent, err := s.integrationsRepo.GetIntegrationByID(ctx, stale.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to re-read integration after conflict: %w", err)
	}
	current, ok := maybeCurrent.Get()
	if !ok || current.IsDeleted() || current.RefreshNeeded || current.TokenVersion <= stale.TokenVersion {
		return nil, nil, conflict
	}

	tokens, err := s.openTokens(current)
	if err != nil {
		return nil, nil, err
	}

	s.metrics.ObserveRefresh(current.ProviderIdentifier.String(), metrics.OutcomeSuccess)
	return current, tokens, nil
}

func (s *IntegrationsService) openTokens(integration *models.Integration) (*models.OAuthTokens, error) {
	accessToken, err := s.cipher.Open(integration.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to open access token: %w", err)
	}
	tokens := &models.OAuthTokens{AccessToken: accessToken}
	if integration.HasRefreshToken() {
		refreshToken, err := s.cipher.Open(*integration.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to open refresh token: %w", err)
		}
		tokens.RefreshToken = refreshToken
	}
	if integration.TokenExpiration != nil {
		tokens.ExpiresIn = int64(integration.TokenExpiration.Sub(s.now()).Seconds())
	}
	return tokens, nil
}

func (s *IntegrationsService) markRefreshNeeded(ctx context.Context, integration *models.Integration) {
	if err := s.integrationsRepo.MarkRefreshNeeded(ctx, integration.ID); err != nil {
		log.Printf("❌ Failed to mark integration %s for refresh: %v", integration.ID, err)
		return
	}
	integration.RefreshNeeded = true
}

// Post publishes with an explicit access token
func (s *IntegrationsService) Post(
	ctx context.Context,
	provider models.ProviderIdentifier,
	accessToken, internalID string,
	details *models.PostDetails,
) *models.PostResult {
	log.Printf("📋 Starting to publish %s post for account: %s", provider, internalID)

	adapter, err := s.registry.Get(provider.String())
	if err != nil {
		s.metrics.ObservePublish(provider.String(), metrics.OutcomeSkipped)
		return clients.PostFailure(err)
	}
	if details == nil {
		s.metrics.ObservePublish(provider.String(), metrics.OutcomeFailure)
		return clients.PostFailure(fmt.Errorf("%w: post details are required", core.ErrInvalidPost))
	}

	result := adapter.Post(ctx, accessToken, internalID, details)
	switch {
	case result == nil:
		result = clients.PostFailure(core.ErrPublishFailed)
		s.metrics.ObservePublish(provider.String(), metrics.OutcomeFailure)
	case result.Success:
		s.metrics.ObservePublish(provider.String(), metrics.OutcomeSuccess)
		log.Printf("📋 Completed successfully - published %s post: %s", provider, result.PostID)
	case result.NeedsReauth:
		s.metrics.ObservePublish(provider.String(), metrics.OutcomeNeedsReauth)
		log.Printf("⚠️ %s rejected the access token for account %s", provider, internalID)
	default:
		s.metrics.ObservePublish(provider.String(), metrics.OutcomeFailure)
		log.Printf("❌ Failed to publish %s post for account %s: %s", provider, internalID, result.Error)
	}
	return result
}

// PostWithIntegration publishes using the stored token and flags the record when the provider rejects it
func (s *IntegrationsService) PostWithIntegration(
	ctx context.Context,
	integration *models.Integration,
	details *models.PostDetails,
) *models.PostResult {
	accessToken, err := s.cipher.Open(integration.Token)
	if err != nil {
		return clients.PostFailure(fmt.Errorf("failed to open access token: %w", err))
	}

	result := s.Post(ctx, integration.ProviderIdentifier, accessToken, integration.InternalID, details)
	if result.NeedsReauth {
		s.markRefreshNeeded(ctx, integration)
	}
	return result
}

// DeleteIntegration soft deletes one of the user's integrations. The row stays readable by id.
func (s *IntegrationsService) DeleteIntegration(ctx context.Context, userID, id string) error {
	log.Printf("📋 Starting to delete integration %s for user: %s", id, userID)
	if userID == "" {
		return core.ErrAuthRequired
	}
	if id == "" {
		return fmt.Errorf("integration ID cannot be empty")
	}

	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		maybeIntegration, err := s.integrationsRepo.GetIntegrationByID(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to look up integration: %w", err)
		}
		integration, ok := maybeIntegration.Get()
		if !ok || integration.UserID != userID || integration.IsDeleted() {
			return fmt.Errorf("integration %s: %w", id, core.ErrNotFound)
		}
		return s.integrationsRepo.SoftDeleteIntegration(ctx, userID, id)
	})
	if err != nil {
		return err
	}

	log.Printf("📋 Completed successfully - deleted integration: %s", id)
	return nil
}

func (s *IntegrationsService) GetUserIntegrations(ctx context.Context, userID string) ([]*models.Integration, error) {
	log.Printf("📋 Starting to get integrations for user: %s", userID)
	if userID == "" {
		return nil, core.ErrAuthRequired
	}

	integrations, err := s.integrationsRepo.ListActiveIntegrationsByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get integrations for user: %w", err)
	}

	log.Printf("📋 Completed successfully - found %d integrations for user: %s", len(integrations), userID)
	return integrations, nil
}

func (s *IntegrationsService) GetIntegrationByID(
	ctx context.Context,
	id string,
) (mo.Option[*models.Integration], error) {
	if id == "" {
		return mo.None[*models.Integration](), fmt.Errorf("integration ID cannot be empty")
	}

	maybeIntegration, err := s.integrationsRepo.GetIntegrationByID(ctx, id)
	if err != nil {
		return mo.None[*models.Integration](), fmt.Errorf("failed to get integration: %w", err)
	}
	return maybeIntegration, nil
}

func (s *IntegrationsService) GetActiveIntegration(
	ctx context.Context,
	userID string,
	provider models.ProviderIdentifier,
) (mo.Option[*models.Integration], error) {
	if userID == "" {
		return mo.None[*models.Integration](), core.ErrAuthRequired
	}

	maybeIntegration, err := s.integrationsRepo.GetActiveIntegrationByProvider(ctx, userID, provider)
	if err != nil {
		return mo.None[*models.Integration](), fmt.Errorf("failed to get %s integration: %w", provider, err)
	}
	return maybeIntegration, nil
}

// GetIntegrationStatus reports whether the user can publish to the provider right now
func (s *IntegrationsService) GetIntegrationStatus(
	ctx context.Context,
	userID string,
	provider models.ProviderIdentifier,
) (*models.IntegrationStatus, error) {
	if !s.SupportsProvider(provider) {
		return nil, fmt.Errorf("%s: %w", provider, core.ErrUnsupportedProvider)
	}

	maybeIntegration, err := s.GetActiveIntegration(ctx, userID, provider)
	if err != nil {
		return nil, err
	}

	status := &models.IntegrationStatus{ProviderIdentifier: provider}
	if integration, ok := maybeIntegration.Get(); ok {
		status.Connected = true
		status.TokenExpiration = integration.TokenExpiration
		status.NeedsReconnect = integration.RefreshNeeded ||
			(integration.IsExpired(s.now()) && !integration.HasRefreshToken())
	}
	return status, nil
}

// ListRefreshCandidates returns integrations whose tokens expire within window
func (s *IntegrationsService) ListRefreshCandidates(
	ctx context.Context,
	window time.Duration,
	provider mo.Option[models.ProviderIdentifier],
) ([]*models.Integration, error) {
	integrations, err := s.integrationsRepo.ListRefreshCandidates(ctx, s.now().Add(window), provider)
	if err != nil {
		return nil, fmt.Errorf("failed to list refresh candidates: %w", err)
	}
	return integrations, nil
}

func (s *IntegrationsService) expirationFor(expiresIn int64) *time.Time {
	if expiresIn <= 0 {
		return nil
	}
	expiration := s.now().Add(time.Duration(expiresIn) * time.Second).UTC()
	return &expiration
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
