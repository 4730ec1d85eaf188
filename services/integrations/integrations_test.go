package integrations

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"socialbackend/clients"
	"socialbackend/clients/providers"
	"socialbackend/clients/twitter"
	"socialbackend/core"
	"socialbackend/metrics"
	"socialbackend/models"
	"socialbackend/testutils"
	"socialbackend/utils/tokencipher"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type serviceFixture struct {
	service *IntegrationsService
	repo    *testutils.MemoryIntegrationsRepository
	adapter *clients.MockProviderAdapter
	cipher  tokencipher.Cipher
	metrics *metrics.Metrics
}

func newFixture(t *testing.T) *serviceFixture {
	t.Helper()

	cipher, err := tokencipher.New(base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32)))
	require.NoError(t, err)

	repo := testutils.NewMemoryIntegrationsRepository().WithClock(func() time.Time { return fixedNow })
	adapter := clients.NewMockProviderAdapter(models.ProviderTwitter)
	m := metrics.NewMetrics()

	service := NewIntegrationsService(
		repo,
		providers.NewRegistry(adapter),
		testutils.PassthroughTransactionManager{},
		cipher,
		m,
	).WithClock(func() time.Time { return fixedNow })

	return &serviceFixture{service: service, repo: repo, adapter: adapter, cipher: cipher, metrics: m}
}

func (f *serviceFixture) seed(t *testing.T, userID string, refreshToken string) *models.Integration {
	t.Helper()

	sealedToken, err := f.cipher.Seal("old-token")
	require.NoError(t, err)

	integration := testutils.CreateTestIntegration(userID, models.ProviderTwitter)
	integration.InternalID = "x_42"
	integration.Token = sealedToken
	integration.RefreshToken = nil
	if refreshToken != "" {
		sealed, err := f.cipher.Seal(refreshToken)
		require.NoError(t, err)
		integration.RefreshToken = &sealed
	}
	expiration := fixedNow.Add(-time.Minute)
	integration.TokenExpiration = &expiration
	return f.repo.Seed(integration)
}

func TestIntegrationsService_Authenticate(t *testing.T) {
	t.Run("stores sealed tokens and profile", func(t *testing.T) {
		f := newFixture(t)
		f.adapter.WithAuthenticateResponse(clients.CreateTestAuthTokenDetails())

		details := f.service.Authenticate(context.Background(), models.ProviderTwitter, "code123", "u1", "verifier1")
		require.False(t, details.Failed(), details.Error)
		assert.Equal(t, "x_42", details.ID)

		integrations, err := f.service.GetUserIntegrations(context.Background(), "u1")
		require.NoError(t, err)
		require.Len(t, integrations, 1)

		stored := integrations[0]
		assert.Equal(t, models.ProviderTwitter, stored.ProviderIdentifier)
		assert.Equal(t, "x_42", stored.InternalID)
		require.NotNil(t, stored.Profile)
		assert.Equal(t, "alice", *stored.Profile)
		require.NotNil(t, stored.TokenExpiration)
		assert.Equal(t, fixedNow.Add(7200*time.Second), *stored.TokenExpiration)

		assert.NotEqual(t, "tok", stored.Token, "token must be sealed at rest")
		opened, err := f.cipher.Open(stored.Token)
		require.NoError(t, err)
		assert.Equal(t, "tok", opened)

		f.adapter.AssertCalled(t, "Authenticate", mock.Anything, "code123", "verifier1")
	})

	t.Run("adapter failure writes nothing", func(t *testing.T) {
		f := newFixture(t)
		f.adapter.On("Authenticate", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("%w: status 400", core.ErrTokenExchangeFailed))

		details := f.service.Authenticate(context.Background(), models.ProviderTwitter, "bad", "u1", "verifier1")
		assert.True(t, details.Failed())
		assert.NotEmpty(t, details.Error)
		assert.Equal(t, "token_exchange_failed", details.Code)
		assert.Equal(t, 0, f.repo.Writes())
	})

	t.Run("missing user never reaches the provider", func(t *testing.T) {
		f := newFixture(t)

		details := f.service.Authenticate(context.Background(), models.ProviderTwitter, "code123", "", "verifier1")
		assert.True(t, details.Failed())
		assert.Equal(t, core.ErrAuthRequired.Error(), details.Error)
		f.adapter.AssertNotCalled(t, "Authenticate", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unsupported provider", func(t *testing.T) {
		f := newFixture(t)

		details := f.service.Authenticate(context.Background(), "mastodon", "code123", "u1", "")
		assert.True(t, details.Failed())
		assert.Contains(t, details.Error, "unsupported provider")
	})

	t.Run("re-authorizing upserts the same row", func(t *testing.T) {
		f := newFixture(t)
		f.adapter.WithAuthenticateResponse(clients.CreateTestAuthTokenDetails())

		first := f.service.Authenticate(context.Background(), models.ProviderTwitter, "code123", "u1", "verifier1")
		second := f.service.Authenticate(context.Background(), models.ProviderTwitter, "code123", "u1", "verifier1")
		require.False(t, first.Failed())
		require.False(t, second.Failed())

		assert.Equal(t, 1, f.repo.Count())
		integrations, err := f.service.GetUserIntegrations(context.Background(), "u1")
		require.NoError(t, err)
		require.Len(t, integrations, 1)
		assert.Equal(t, int64(2), integrations[0].TokenVersion)
	})
}

func TestIntegrationsService_RefreshToken(t *testing.T) {
	t.Run("no refresh token on record", func(t *testing.T) {
		f := newFixture(t)
		seeded := f.seed(t, "u1", "")

		tokens, err := f.service.RefreshToken(context.Background(), models.ProviderTwitter, "u1", "x_42")
		require.Error(t, err)
		assert.Nil(t, tokens)
		assert.ErrorIs(t, err, core.ErrNoRefreshTokenOnRecord)
		f.adapter.AssertNotCalled(t, "RefreshToken", mock.Anything, mock.Anything)

		stored, err := f.repo.GetIntegrationByID(context.Background(), seeded.ID)
		require.NoError(t, err)
		assert.True(t, stored.MustGet().RefreshNeeded)
	})

	t.Run("rejected refresh leaves a breadcrumb and keeps the old token", func(t *testing.T) {
		f := newFixture(t)
		seeded := f.seed(t, "u1", "rtok")
		f.adapter.On("RefreshToken", mock.Anything, "rtok").Return(nil, errors.New("invalid_grant"))

		_, err := f.service.RefreshToken(context.Background(), models.ProviderTwitter, "u1", "x_42")
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrTokenRefreshRejected)

		stored := f.mustGet(t, seeded.ID)
		assert.True(t, stored.RefreshNeeded)
		assert.Equal(t, seeded.Token, stored.Token)
		assert.Equal(t, seeded.TokenExpiration, stored.TokenExpiration)
		assert.Equal(t, seeded.TokenVersion, stored.TokenVersion)
	})

	t.Run("success updates tokens and clears the flag", func(t *testing.T) {
		f := newFixture(t)
		seeded := f.seed(t, "u1", "rtok")
		f.adapter.WithRefreshTokenResponse(&models.OAuthTokens{AccessToken: "tok2", RefreshToken: "rtok2", ExpiresIn: 3600})

		tokens, err := f.service.RefreshToken(context.Background(), models.ProviderTwitter, "u1", "x_42")
		require.NoError(t, err)
		assert.Equal(t, "tok2", tokens.AccessToken)
		assert.Equal(t, "rtok2", tokens.RefreshToken)

		stored := f.mustGet(t, seeded.ID)
		assert.False(t, stored.RefreshNeeded)
		assert.Equal(t, seeded.TokenVersion+1, stored.TokenVersion)
		assert.Equal(t, fixedNow.Add(time.Hour), *stored.TokenExpiration)
		opened, err := f.cipher.Open(stored.Token)
		require.NoError(t, err)
		assert.Equal(t, "tok2", opened)
	})

	t.Run("keeps the old refresh token when the provider omits one", func(t *testing.T) {
		f := newFixture(t)
		seeded := f.seed(t, "u1", "rtok")
		f.adapter.WithRefreshTokenResponse(&models.OAuthTokens{AccessToken: "tok2", ExpiresIn: 3600})

		_, err := f.service.RefreshToken(context.Background(), models.ProviderTwitter, "u1", "x_42")
		require.NoError(t, err)

		stored := f.mustGet(t, seeded.ID)
		opened, err := f.cipher.Open(*stored.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, "rtok", opened)
	})

	t.Run("losing a concurrent refresh returns the winner's tokens", func(t *testing.T) {
		f := newFixture(t)
		seeded := f.seed(t, "u1", "rtok")

		winnerToken, err := f.cipher.Seal("winner-token")
		require.NoError(t, err)
		winnerRefresh, err := f.cipher.Seal("winner-refresh")
		require.NoError(t, err)
		winnerExpiration := fixedNow.Add(2 * time.Hour)

		f.adapter.On("RefreshToken", mock.Anything, "rtok").
			Run(func(args mock.Arguments) {
				_, err := f.repo.UpdateIntegrationTokens(
					context.Background(), seeded.ID, seeded.TokenVersion, winnerToken, &winnerRefresh, &winnerExpiration,
				)
				require.NoError(t, err)
			}).
			Return(&models.OAuthTokens{AccessToken: "loser-token", RefreshToken: "loser-refresh", ExpiresIn: 3600}, nil)

		tokens, err := f.service.RefreshToken(context.Background(), models.ProviderTwitter, "u1", "x_42")
		require.NoError(t, err)
		assert.Equal(t, "winner-token", tokens.AccessToken)
		assert.Equal(t, "winner-refresh", tokens.RefreshToken)

		stored := f.mustGet(t, seeded.ID)
		assert.Equal(t, winnerToken, stored.Token)
		assert.Equal(t, seeded.TokenVersion+1, stored.TokenVersion)
	})

	t.Run("unknown account", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.service.RefreshToken(context.Background(), models.ProviderTwitter, "u1", "x_missing")
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("unsupported provider", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.service.RefreshToken(context.Background(), "mastodon", "u1", "x_42")
		assert.ErrorIs(t, err, core.ErrUnsupportedProvider)
	})
}

func TestIntegrationsService_PostWithIntegration(t *testing.T) {
	details := &models.PostDetails{Text: "hello"}

	t.Run("publishes with the opened token", func(t *testing.T) {
		f := newFixture(t)
		seeded := f.seed(t, "u1", "rtok")
		f.adapter.On("Post", mock.Anything, "old-token", "x_42", details).
			Return(&models.PostResult{Success: true, PostID: "1001"})

		result := f.service.PostWithIntegration(context.Background(), seeded, details)
		assert.True(t, result.Success)
		assert.Equal(t, "1001", result.PostID)
		assert.False(t, f.mustGet(t, seeded.ID).RefreshNeeded)
	})

	t.Run("needs reauth flags the record", func(t *testing.T) {
		f := newFixture(t)
		seeded := f.seed(t, "u1", "rtok")
		f.adapter.WithPostResponse(&models.PostResult{Error: "unauthorized", NeedsReauth: true})

		result := f.service.PostWithIntegration(context.Background(), seeded, details)
		assert.False(t, result.Success)
		assert.True(t, result.NeedsReauth)
		assert.True(t, f.mustGet(t, seeded.ID).RefreshNeeded)
	})

	t.Run("unsupported provider", func(t *testing.T) {
		f := newFixture(t)

		result := f.service.Post(context.Background(), "mastodon", "tok", "id", details)
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "unsupported provider")
	})
}

func TestIntegrationsService_DeleteIntegration(t *testing.T) {
	f := newFixture(t)
	seeded := f.seed(t, "u1", "rtok")

	err := f.service.DeleteIntegration(context.Background(), "u2", seeded.ID)
	assert.ErrorIs(t, err, core.ErrNotFound, "other users cannot delete the integration")

	require.NoError(t, f.service.DeleteIntegration(context.Background(), "u1", seeded.ID))

	maybeIntegration, err := f.service.GetIntegrationByID(context.Background(), seeded.ID)
	require.NoError(t, err)
	require.True(t, maybeIntegration.IsPresent(), "deleted rows stay readable by id")
	assert.NotNil(t, maybeIntegration.MustGet().DeletedAt)

	integrations, err := f.service.GetUserIntegrations(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, integrations)

	err = f.service.DeleteIntegration(context.Background(), "u1", seeded.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestIntegrationsService_GetIntegrationStatus(t *testing.T) {
	tests := []struct {
		name           string
		refreshToken   string
		refreshNeeded  bool
		seed           bool
		wantConnected  bool
		wantReconnects bool
	}{
		{name: "not connected"},
		{name: "expired with refresh token", seed: true, refreshToken: "rtok", wantConnected: true},
		{name: "expired without refresh token", seed: true, wantConnected: true, wantReconnects: true},
		{name: "flagged", seed: true, refreshToken: "rtok", refreshNeeded: true, wantConnected: true, wantReconnects: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.seed {
				seeded := f.seed(t, "u1", tt.refreshToken)
				if tt.refreshNeeded {
					require.NoError(t, f.repo.MarkRefreshNeeded(context.Background(), seeded.ID))
				}
			}

			status, err := f.service.GetIntegrationStatus(context.Background(), "u1", models.ProviderTwitter)
			require.NoError(t, err)
			assert.Equal(t, tt.wantConnected, status.Connected)
			assert.Equal(t, tt.wantReconnects, status.NeedsReconnect)
		})
	}

	t.Run("unsupported provider", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.GetIntegrationStatus(context.Background(), "u1", models.ProviderTikTok)
		assert.ErrorIs(t, err, core.ErrUnsupportedProvider)
	})
}

func TestIntegrationsService_ListRefreshCandidates(t *testing.T) {
	f := newFixture(t)
	expiring := f.seed(t, "u1", "rtok")
	f.seed(t, "u2", "")

	candidates, err := f.service.ListRefreshCandidates(context.Background(), 10*time.Minute, mo.None[models.ProviderIdentifier]())
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, expiring.ID, candidates[0].ID)

	candidates, err = f.service.ListRefreshCandidates(context.Background(), 10*time.Minute, mo.Some(models.ProviderLinkedIn))
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestIntegrationsService_EndToEndTwitter(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/2/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "code123", r.PostForm.Get("code"))
		assert.Equal(t, "verifier1", r.PostForm.Get("code_verifier"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok","refresh_token":"rtok","expires_in":7200,"token_type":"bearer"}`))
	})
	mux.HandleFunc("/2/users/me", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(`{"data":{"id":"42","name":"Alice","username":"alice"}}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	adapter := twitter.NewTwitterAdapter(
		clients.ProviderConfig{ClientID: "client-id", ClientSecret: "client-secret", RedirectURI: "https://app/cb"},
		twitter.Endpoints{
			AuthURL:    server.URL + "/i/oauth2/authorize",
			TokenURL:   server.URL + "/2/oauth2/token",
			APIBaseURL: server.URL,
			WebBaseURL: "https://twitter.com",
		},
		server.Client(),
	)
	service := NewIntegrationsService(
		testutils.NewMemoryIntegrationsRepository(),
		providers.NewRegistry(adapter),
		testutils.PassthroughTransactionManager{},
		tokencipher.NoopCipher{},
		nil,
	)
	ctx := context.Background()

	integrations, err := service.GetUserIntegrations(ctx, "u1")
	require.NoError(t, err)
	assert.NotNil(t, integrations)
	assert.Empty(t, integrations)

	details := service.Authenticate(ctx, models.ProviderTwitter, "code123", "u1", "verifier1")
	require.False(t, details.Failed(), details.Error)

	integrations, err = service.GetUserIntegrations(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, integrations, 1)
	assert.Equal(t, models.ProviderTwitter, integrations[0].ProviderIdentifier)
	require.NotNil(t, integrations[0].Profile)
	assert.Equal(t, "alice", *integrations[0].Profile)
	assert.Equal(t, "x_42", integrations[0].InternalID)
}

func (f *serviceFixture) mustGet(t *testing.T, id string) *models.Integration {
	t.Helper()
	maybeIntegration, err := f.repo.GetIntegrationByID(context.Background(), id)
	require.NoError(t, err)
	require.True(t, maybeIntegration.IsPresent())
	return maybeIntegration.MustGet()
}
