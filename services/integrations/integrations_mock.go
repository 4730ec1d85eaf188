package integrations

import (
	"context"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/mock"

	"socialbackend/models"
)

// MockIntegrationsService is a mock implementation of the IntegrationsService interface
type MockIntegrationsService struct {
	mock.Mock
}

func (m *MockIntegrationsService) Authenticate(
	ctx context.Context,
	provider models.ProviderIdentifier,
	code, userID, codeVerifier string,
) *models.AuthTokenDetails {
	args := m.Called(ctx, provider, code, userID, codeVerifier)
	return args.Get(0).(*models.AuthTokenDetails)
}

func (m *MockIntegrationsService) RefreshToken(
	ctx context.Context,
	provider models.ProviderIdentifier,
	userID, internalID string,
) (*models.OAuthTokens, error) {
	args := m.Called(ctx, provider, userID, internalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.OAuthTokens), args.Error(1)
}

func (m *MockIntegrationsService) RefreshIntegration(
	ctx context.Context,
	integration *models.Integration,
) (*models.Integration, error) {
	args := m.Called(ctx, integration)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Integration), args.Error(1)
}

func (m *MockIntegrationsService) Post(
	ctx context.Context,
	provider models.ProviderIdentifier,
	accessToken, internalID string,
	details *models.PostDetails,
) *models.PostResult {
	args := m.Called(ctx, provider, accessToken, internalID, details)
	return args.Get(0).(*models.PostResult)
}

func (m *MockIntegrationsService) PostWithIntegration(
	ctx context.Context,
	integration *models.Integration,
	details *models.PostDetails,
) *models.PostResult {
	args := m.Called(ctx, integration, details)
	return args.Get(0).(*models.PostResult)
}

func (m *MockIntegrationsService) DeleteIntegration(ctx context.Context, userID, id string) error {
	args := m.Called(ctx, userID, id)
	return args.Error(0)
}

func (m *MockIntegrationsService) GetUserIntegrations(
	ctx context.Context,
	userID string,
) ([]*models.Integration, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Integration), args.Error(1)
}

func (m *MockIntegrationsService) GetIntegrationByID(
	ctx context.Context,
	id string,
) (mo.Option[*models.Integration], error) {
	args := m.Called(ctx, id)
	return args.Get(0).(mo.Option[*models.Integration]), args.Error(1)
}

func (m *MockIntegrationsService) GetActiveIntegration(
	ctx context.Context,
	userID string,
	provider models.ProviderIdentifier,
) (mo.Option[*models.Integration], error) {
	args := m.Called(ctx, userID, provider)
	return args.Get(0).(mo.Option[*models.Integration]), args.Error(1)
}

func (m *MockIntegrationsService) GetIntegrationStatus(
	ctx context.Context,
	userID string,
	provider models.ProviderIdentifier,
) (*models.IntegrationStatus, error) {
	args := m.Called(ctx, userID, provider)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.IntegrationStatus), args.Error(1)
}

func (m *MockIntegrationsService) ListRefreshCandidates(
	ctx context.Context,
	window time.Duration,
	provider mo.Option[models.ProviderIdentifier],
) ([]*models.Integration, error) {
	args := m.Called(ctx, window, provider)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Integration), args.Error(1)
}

func (m *MockIntegrationsService) SupportsProvider(provider models.ProviderIdentifier) bool {
	args := m.Called(provider)
	return args.Bool(0)
}
