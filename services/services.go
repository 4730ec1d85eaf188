package services

import (
	"context"
	"time"

	"github.com/samber/mo"

	"socialbackend/models"
)

// UsersService defines the interface for user-related operations
type UsersService interface {
	GetOrCreateUser(ctx context.Context, authProvider, authProviderID, email string) (*models.User, error)
}

// IntegrationsService defines the persistence-aware integration lifecycle
type IntegrationsService interface {
	// Authenticate never returns a Go error; failures are reported through the Error field.
	Authenticate(
		ctx context.Context,
		provider models.ProviderIdentifier,
		code, userID, codeVerifier string,
	) *models.AuthTokenDetails
	RefreshToken(
		ctx context.Context,
		provider models.ProviderIdentifier,
		userID, internalID string,
	) (*models.OAuthTokens, error)
	RefreshIntegration(ctx context.Context, integration *models.Integration) (*models.Integration, error)
	Post(
		ctx context.Context,
		provider models.ProviderIdentifier,
		accessToken, internalID string,
		details *models.PostDetails,
	) *models.PostResult
	PostWithIntegration(
		ctx context.Context,
		integration *models.Integration,
		details *models.PostDetails,
	) *models.PostResult
	DeleteIntegration(ctx context.Context, userID, id string) error
	GetUserIntegrations(ctx context.Context, userID string) ([]*models.Integration, error)
	GetIntegrationByID(ctx context.Context, id string) (mo.Option[*models.Integration], error)
	GetActiveIntegration(
		ctx context.Context,
		userID string,
		provider models.ProviderIdentifier,
	) (mo.Option[*models.Integration], error)
	GetIntegrationStatus(
		ctx context.Context,
		userID string,
		provider models.ProviderIdentifier,
	) (*models.IntegrationStatus, error)
	ListRefreshCandidates(
		ctx context.Context,
		window time.Duration,
		provider mo.Option[models.ProviderIdentifier],
	) ([]*models.Integration, error)
	SupportsProvider(provider models.ProviderIdentifier) bool
}

// TransactionManager handles database transactions via context
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
