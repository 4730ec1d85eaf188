package clients

import (
	"context"

	"github.com/stretchr/testify/mock"

	"socialbackend/models"
)

// MockProviderAdapter is a mock implementation of ProviderAdapter
type MockProviderAdapter struct {
	mock.Mock
	identifier models.ProviderIdentifier
}

func NewMockProviderAdapter(identifier models.ProviderIdentifier) *MockProviderAdapter {
	return &MockProviderAdapter{identifier: identifier}
}

func (m *MockProviderAdapter) Identifier() models.ProviderIdentifier {
	return m.identifier
}

func (m *MockProviderAdapter) GenerateAuthURL() (*models.AuthURL, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AuthURL), args.Error(1)
}

func (m *MockProviderAdapter) Authenticate(
	ctx context.Context,
	code, codeVerifier string,
) (*models.AuthTokenDetails, error) {
	args := m.Called(ctx, code, codeVerifier)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AuthTokenDetails), args.Error(1)
}

func (m *MockProviderAdapter) RefreshToken(ctx context.Context, refreshToken string) (*models.OAuthTokens, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.OAuthTokens), args.Error(1)
}

func (m *MockProviderAdapter) Post(
	ctx context.Context,
	accessToken, internalID string,
	details *models.PostDetails,
) *models.PostResult {
	args := m.Called(ctx, accessToken, internalID, details)
	return args.Get(0).(*models.PostResult)
}

// WithAuthURL configures the mock to return a fixed authorization URL
func (m *MockProviderAdapter) WithAuthURL(authURL *models.AuthURL) *MockProviderAdapter {
	m.On("GenerateAuthURL").Return(authURL, nil)
	return m
}

// WithAuthenticateResponse configures the mock to return specific details on Authenticate
func (m *MockProviderAdapter) WithAuthenticateResponse(details *models.AuthTokenDetails) *MockProviderAdapter {
	m.On("Authenticate", mock.Anything, mock.Anything, mock.Anything).Return(details, nil)
	return m
}

// WithRefreshTokenResponse configures the mock to return specific tokens on RefreshToken
func (m *MockProviderAdapter) WithRefreshTokenResponse(tokens *models.OAuthTokens) *MockProviderAdapter {
	m.On("RefreshToken", mock.Anything, mock.Anything).Return(tokens, nil)
	return m
}

// WithPostResponse configures the mock to return a fixed publish result
func (m *MockProviderAdapter) WithPostResponse(result *models.PostResult) *MockProviderAdapter {
	m.On("Post", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(result)
	return m
}

// CreateTestAuthTokenDetails creates sample AuthTokenDetails for testing
func CreateTestAuthTokenDetails() *models.AuthTokenDetails {
	return &models.AuthTokenDetails{
		ID:           "x_42",
		Name:         "Alice",
		Picture:      "https://img/alice.png",
		Username:     "alice",
		AccessToken:  "tok",
		RefreshToken: "rtok",
		ExpiresIn:    7200,
	}
}
