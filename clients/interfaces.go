package clients

import (
	"context"

	"socialbackend/models"
)

// ProviderAdapter is the uniform OAuth + publish contract every social platform implements.
// Adapters only talk to the platform; persisting the outcome is the caller's job.
type ProviderAdapter interface {
	Identifier() models.ProviderIdentifier

	// GenerateAuthURL builds the consent URL with a fresh state (and PKCE verifier where supported).
	GenerateAuthURL() (*models.AuthURL, error)

	// Authenticate exchanges the authorization code and fetches the account profile.
	Authenticate(ctx context.Context, code, codeVerifier string) (*models.AuthTokenDetails, error)

	RefreshToken(ctx context.Context, refreshToken string) (*models.OAuthTokens, error)

	// Post never returns an error; failures are reported on the result.
	Post(ctx context.Context, accessToken, internalID string, details *models.PostDetails) *models.PostResult
}

// ProviderConfig is a provider app's credentials as handed over by the composition root
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}
