package integrations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"socialbackend/appctx"
	"socialbackend/clients/providers"
	"socialbackend/core"
	"socialbackend/metrics"
	"socialbackend/models"
	"socialbackend/models/api"
	integrationssvc "socialbackend/services/integrations"
	"socialbackend/services/oauthstate"
	"socialbackend/testutils"
	"socialbackend/utils/tokencipher"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeAdapter records calls and fails the test when Authenticate is reached unexpectedly
type fakeAdapter struct {
	t                  *testing.T
	forbidAuthenticate bool

	authURL       *models.AuthURL
	details       *models.AuthTokenDetails
	authErr       error
	refreshTokens *models.OAuthTokens
	refreshErr    error
	postResult    *models.PostResult

	authenticateCalls int
	refreshCalls      int
	postedTokens      []string
}

func newFakeAdapter(t *testing.T) *fakeAdapter {
	return &fakeAdapter{
		t:       t,
		authURL: &models.AuthURL{URL: "https://x.example/authorize?state=state-1", State: "state-1", CodeVerifier: "verifier-1"},
		details: &models.AuthTokenDetails{
			ID:           "x_42",
			Name:         "Alice",
			Username:     "alice",
			AccessToken:  "tok",
			RefreshToken: "rtok",
			ExpiresIn:    7200,
		},
		refreshTokens: &models.OAuthTokens{AccessToken: "tok2", RefreshToken: "rtok2", ExpiresIn: 7200},
		postResult:    &models.PostResult{Success: true, PostID: "1001", ReleaseURL: "https://twitter.com/i/web/status/1001"},
	}
}

func (a *fakeAdapter) Identifier() models.ProviderIdentifier {
	return models.ProviderTwitter
}

func (a *fakeAdapter) GenerateAuthURL() (*models.AuthURL, error) {
	return a.authURL, nil
}

func (a *fakeAdapter) Authenticate(_ context.Context, code, codeVerifier string) (*models.AuthTokenDetails, error) {
	if a.forbidAuthenticate {
		a.t.Fatalf("Authenticate must not be called, got code=%q verifier=%q", code, codeVerifier)
	}
	a.authenticateCalls++
	if a.authErr != nil {
		return nil, a.authErr
	}
	return a.details, nil
}

func (a *fakeAdapter) RefreshToken(_ context.Context, _ string) (*models.OAuthTokens, error) {
	a.refreshCalls++
	if a.refreshErr != nil {
		return nil, a.refreshErr
	}
	tokens := *a.refreshTokens
	return &tokens, nil
}

func (a *fakeAdapter) Post(_ context.Context, accessToken, _ string, _ *models.PostDetails) *models.PostResult {
	a.postedTokens = append(a.postedTokens, accessToken)
	return a.postResult
}

type failingUpsertRepository struct {
	*testutils.MemoryIntegrationsRepository
	err error
}

func (r *failingUpsertRepository) UpsertIntegration(context.Context, *models.Integration) error {
	return r.err
}

type recordingNotifier struct {
	messages []string
}

func (n *recordingNotifier) Notify(userID, message string) {
	n.messages = append(n.messages, userID+": "+message)
}

type fixture struct {
	useCase *IntegrationsUseCase
	service *integrationssvc.IntegrationsService
	repo    *testutils.MemoryIntegrationsRepository
	adapter *fakeAdapter
	store   *oauthstate.MemoryStateStore
	ctx     context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	adapter := newFakeAdapter(t)
	registry := providers.NewRegistry(adapter)
	repo := testutils.NewMemoryIntegrationsRepository().WithClock(func() time.Time { return fixedNow })
	m := metrics.NewMetrics()
	service := integrationssvc.NewIntegrationsService(
		repo,
		registry,
		testutils.PassthroughTransactionManager{},
		tokencipher.NoopCipher{},
		m,
	).WithClock(func() time.Time { return fixedNow })

	return &fixture{
		useCase: NewIntegrationsUseCase(service, registry, m).WithClock(func() time.Time { return fixedNow }),
		service: service,
		repo:    repo,
		adapter: adapter,
		store:   oauthstate.NewMemoryStateStore().WithClock(func() time.Time { return fixedNow }),
		ctx:     appctx.SetUser(context.Background(), &models.User{ID: "u1"}),
	}
}

func (f *fixture) authorize(t *testing.T) {
	t.Helper()
	result := f.useCase.Authorize(f.ctx, "twitter", f.store)
	require.True(t, result.Success, result.Error)
}

func (f *fixture) activeIntegration(t *testing.T) *models.Integration {
	t.Helper()
	maybeIntegration, err := f.service.GetActiveIntegration(f.ctx, "u1", models.ProviderTwitter)
	require.NoError(t, err)
	integration, ok := maybeIntegration.Get()
	require.True(t, ok)
	return integration
}

func (f *fixture) assertStateCleared(t *testing.T) {
	t.Helper()
	state, err := f.store.TakeOnce(f.ctx, oauthstate.StateKey("twitter"))
	require.NoError(t, err)
	assert.True(t, state.IsAbsent(), "state must not survive the callback")
	verifier, err := f.store.TakeOnce(f.ctx, oauthstate.VerifierKey("twitter"))
	require.NoError(t, err)
	assert.True(t, verifier.IsAbsent(), "code verifier must not survive the callback")
}

func TestIntegrationsUseCase_Authorize(t *testing.T) {
	t.Run("requires a session", func(t *testing.T) {
		f := newFixture(t)

		result := f.useCase.Authorize(context.Background(), "twitter", f.store)
		assert.False(t, result.Success)
		assert.Equal(t, "auth_required", result.Code)
		assert.Equal(t, "/sign-in", result.RedirectTo)
	})

	t.Run("persists state and verifier", func(t *testing.T) {
		f := newFixture(t)

		result := f.useCase.Authorize(f.ctx, "twitter", f.store)
		require.True(t, result.Success)
		assert.Equal(t, "https://x.example/authorize?state=state-1", result.Data.URL)

		state, err := f.store.TakeOnce(f.ctx, "twitter_auth_state")
		require.NoError(t, err)
		assert.Equal(t, "state-1", state.OrEmpty())
		verifier, err := f.store.TakeOnce(f.ctx, "twitter_code_verifier")
		require.NoError(t, err)
		assert.Equal(t, "verifier-1", verifier.OrEmpty())
	})

	t.Run("unsupported provider", func(t *testing.T) {
		f := newFixture(t)

		result := f.useCase.Authorize(f.ctx, "mastodon", f.store)
		assert.False(t, result.Success)
		assert.Equal(t, "unsupported_provider", result.Code)
	})
}

func TestIntegrationsUseCase_Callback(t *testing.T) {
	t.Run("success connects the account", func(t *testing.T) {
		f := newFixture(t)
		f.authorize(t)

		result := f.useCase.Callback(f.ctx, "twitter", CallbackParams{Code: "code123", State: "state-1"}, f.store)
		require.True(t, result.Success, result.Error)
		assert.Equal(t, "/integrations?success=twitter", result.RedirectTo)
		f.assertStateCleared(t)

		integrations, err := f.service.GetUserIntegrations(f.ctx, "u1")
		require.NoError(t, err)
		require.Len(t, integrations, 1)
		assert.Equal(t, "x_42", integrations[0].InternalID)
	})

	t.Run("success notifies account activity", func(t *testing.T) {
		f := newFixture(t)
		notifier := &recordingNotifier{}
		f.useCase.WithNotifier(notifier)
		f.authorize(t)

		result := f.useCase.Callback(f.ctx, "twitter", CallbackParams{Code: "code123", State: "state-1"}, f.store)
		require.True(t, result.Success, result.Error)
		assert.Equal(t, []string{"u1: Connected twitter account `x_42`"}, notifier.messages)

		f.adapter.forbidAuthenticate = true
		f.useCase.Callback(f.ctx, "twitter", CallbackParams{Code: "code123", State: "state-1"}, f.store)
		assert.Len(t, notifier.messages, 1)
	})

	t.Run("state mismatch never exchanges the code", func(t *testing.T) {
		f := newFixture(t)
		f.authorize(t)
		f.adapter.forbidAuthenticate = true

		result := f.useCase.Callback(f.ctx, "twitter", CallbackParams{Code: "attacker-code", State: "forged"}, f.store)
		assert.False(t, result.Success)
		assert.Equal(t, "invalid_state", result.Code)
		assert.Equal(t, "/integrations?error=invalid_state", result.RedirectTo)
		f.assertStateCleared(t)
		assert.Equal(t, 0, f.repo.Writes())
	})

	t.Run("missing stored state is a mismatch", func(t *testing.T) {
		f := newFixture(t)
		f.adapter.forbidAuthenticate = true

		result := f.useCase.Callback(f.ctx, "twitter", CallbackParams{Code: "code123", State: "state-1"}, f.store)
		assert.Equal(t, "/integrations?error=invalid_state", result.RedirectTo)
	})

	t.Run("a replayed callback is rejected", func(t *testing.T) {
		f := newFixture(t)
		f.authorize(t)

		first := f.useCase.Callback(f.ctx, "twitter", CallbackParams{Code: "code123", State: "state-1"}, f.store)
		require.True(t, first.Success)

		f.adapter.forbidAuthenticate = true
		second := f.useCase.Callback(f.ctx, "twitter", CallbackParams{Code: "code123", State: "state-1"}, f.store)
		assert.Equal(t, "invalid_state", second.Code)
	})

	t.Run("provider denial", func(t *testing.T) {
		f := newFixture(t)
		f.authorize(t)
		f.adapter.forbidAuthenticate = true

		result := f.useCase.Callback(f.ctx, "twitter", CallbackParams{Error: "access_denied"}, f.store)
		assert.False(t, result.Success)
		assert.Equal(t, "/integrations?error=twitter_auth_denied", result.RedirectTo)
		f.assertStateCleared(t)
	})

	t.Run("missing parameters", func(t *testing.T) {
		f := newFixture(t)
		f.authorize(t)
		f.adapter.forbidAuthenticate = true

		result := f.useCase.Callback(f.ctx, "twitter", CallbackParams{State: "state-1"}, f.store)
		assert.Equal(t, "invalid_request", result.Code)
		assert.Equal(t, "/integrations?error=invalid_request", result.RedirectTo)
		f.assertStateCleared(t)
	})

	t.Run("exchange failure carries its code", func(t *testing.T) {
		f := newFixture(t)
		f.authorize(t)
		f.adapter.authErr = fmt.Errorf("%w: status 400, body: invalid_grant", core.ErrTokenExchangeFailed)

		result := f.useCase.Callback(f.ctx, "twitter", CallbackParams{Code: "code123", State: "state-1"}, f.store)
		assert.False(t, result.Success)
		assert.Equal(t, "token_exchange_failed", result.Code)
		assert.Equal(t, "/integrations?error=token_exchange_failed", result.RedirectTo)
		assert.Equal(t, 0, f.repo.Writes())
		f.assertStateCleared(t)
	})

	t.Run("unclassified adapter error is a server error", func(t *testing.T) {
		f := newFixture(t)
		f.authorize(t)
		f.adapter.authErr = errors.New("dial tcp 10.0.3.7:443: connection refused")

		result := f.useCase.Callback(f.ctx, "twitter", CallbackParams{Code: "code123", State: "state-1"}, f.store)
		assert.Equal(t, "server_error", result.Code)
		assert.Equal(t, "/integrations?error=server_error", result.RedirectTo)
		assert.Equal(t, "Internal server error", result.Error)
	})

	t.Run("storage failure text stays out of the redirect", func(t *testing.T) {
		f := newFixture(t)
		repo := &failingUpsertRepository{
			MemoryIntegrationsRepository: f.repo,
			err:                          errors.New(`pq: password authentication failed for user "socialadmin" host=10.0.3.7`),
		}
		registry := providers.NewRegistry(f.adapter)
		service := integrationssvc.NewIntegrationsService(
			repo,
			registry,
			testutils.PassthroughTransactionManager{},
			tokencipher.NoopCipher{},
			nil,
		)
		f.useCase = NewIntegrationsUseCase(service, registry, nil)
		f.authorize(t)

		result := f.useCase.Callback(f.ctx, "twitter", CallbackParams{Code: "code123", State: "state-1"}, f.store)
		assert.False(t, result.Success)
		assert.Equal(t, "server_error", result.Code)
		assert.Equal(t, "/integrations?error=server_error", result.RedirectTo)
		assert.Equal(t, "Internal server error", result.Error)
		assert.NotContains(t, result.RedirectTo, "pq")
		f.assertStateCleared(t)
	})

	t.Run("authorizing twice keeps one row", func(t *testing.T) {
		f := newFixture(t)
		for i := 0; i < 2; i++ {
			f.authorize(t)
			result := f.useCase.Callback(f.ctx, "twitter", CallbackParams{Code: "code123", State: "state-1"}, f.store)
			require.True(t, result.Success)
		}

		assert.Equal(t, 2, f.adapter.authenticateCalls)
		assert.Equal(t, 1, f.repo.Count())
	})

	t.Run("cookies are cleared without a session", func(t *testing.T) {
		f := newFixture(t)
		f.adapter.forbidAuthenticate = true

		req := httptest.NewRequest(http.MethodGet, "/api/integrations/twitter/callback", nil)
		req.AddCookie(&http.Cookie{Name: "twitter_auth_state", Value: "state-1"})
		req.AddCookie(&http.Cookie{Name: "twitter_code_verifier", Value: "verifier-1"})
		rec := httptest.NewRecorder()
		store := oauthstate.NewCookieStateStore(rec, req, false)

		result := f.useCase.Callback(context.Background(), "twitter", CallbackParams{Code: "code123", State: "state-1"}, store)
		assert.Equal(t, "auth_required", result.Code)
		assert.Equal(t, "/sign-in", result.RedirectTo)

		cleared := map[string]bool{}
		for _, c := range rec.Result().Cookies() {
			cleared[c.Name] = c.MaxAge < 0
		}
		assert.True(t, cleared["twitter_auth_state"])
		assert.True(t, cleared["twitter_code_verifier"])
	})
}

func TestIntegrationsUseCase_Refresh(t *testing.T) {
	t.Run("refreshes the connected account", func(t *testing.T) {
		f := newFixture(t)
		f.service.Authenticate(f.ctx, models.ProviderTwitter, "code123", "u1", "verifier-1")

		result := f.useCase.Refresh(f.ctx, "twitter", RefreshTarget{})
		require.True(t, result.Success, result.Error)
		assert.Equal(t, int64(7200), result.Data.ExpiresIn)
		assert.Equal(t, 1, f.adapter.refreshCalls)
	})

	t.Run("rejected refresh asks for reconnection", func(t *testing.T) {
		f := newFixture(t)
		f.service.Authenticate(f.ctx, models.ProviderTwitter, "code123", "u1", "verifier-1")
		f.adapter.refreshErr = errors.New("invalid_grant")

		result := f.useCase.Refresh(f.ctx, "twitter", RefreshTarget{InternalID: "x_42"})
		assert.False(t, result.Success)
		assert.Equal(t, "token_refresh_rejected", result.Code)
		assert.True(t, result.NeedsReauth)
		assert.Equal(t, "/integrations", result.RedirectTo)

		status := f.useCase.GetIntegrationStatus(f.ctx, "twitter")
		require.True(t, status.Success)
		assert.True(t, status.Data.NeedsReconnect)
	})

	t.Run("by integration id", func(t *testing.T) {
		f := newFixture(t)
		f.service.Authenticate(f.ctx, models.ProviderTwitter, "code123", "u1", "verifier-1")
		integration := f.activeIntegration(t)

		result := f.useCase.Refresh(f.ctx, "twitter", RefreshTarget{IntegrationID: integration.ID})
		require.True(t, result.Success, result.Error)
		assert.Equal(t, 1, f.adapter.refreshCalls)
	})

	t.Run("integration id of another user is not found", func(t *testing.T) {
		f := newFixture(t)
		f.service.Authenticate(f.ctx, models.ProviderTwitter, "code123", "u1", "verifier-1")
		integration := f.activeIntegration(t)
		otherUser := appctx.SetUser(context.Background(), &models.User{ID: "u2"})

		result := f.useCase.Refresh(otherUser, "twitter", RefreshTarget{IntegrationID: integration.ID})
		assert.False(t, result.Success)
		assert.Equal(t, "not_found", result.Code)
		assert.Zero(t, f.adapter.refreshCalls)
	})

	t.Run("integration id under the wrong provider is refused", func(t *testing.T) {
		f := newFixture(t)
		f.service.Authenticate(f.ctx, models.ProviderTwitter, "code123", "u1", "verifier-1")
		integration := f.activeIntegration(t)

		result := f.useCase.Refresh(f.ctx, "linkedin", RefreshTarget{IntegrationID: integration.ID})
		assert.False(t, result.Success)
		assert.Zero(t, f.adapter.refreshCalls)
	})

	t.Run("not connected", func(t *testing.T) {
		f := newFixture(t)

		result := f.useCase.Refresh(f.ctx, "twitter", RefreshTarget{})
		assert.Equal(t, "not_found", result.Code)
		assert.Equal(t, "/integrations", result.RedirectTo)
	})

	t.Run("unsupported provider", func(t *testing.T) {
		f := newFixture(t)

		result := f.useCase.Refresh(f.ctx, "mastodon", RefreshTarget{})
		assert.Equal(t, "unsupported_provider", result.Code)
		assert.Equal(t, "unsupported provider", core.ErrUnsupportedProvider.Error())
	})
}

func TestIntegrationsUseCase_Post(t *testing.T) {
	details := &models.PostDetails{Text: "hello"}

	t.Run("publishes with the stored token", func(t *testing.T) {
		f := newFixture(t)
		f.service.Authenticate(f.ctx, models.ProviderTwitter, "code123", "u1", "verifier-1")

		result := f.useCase.Post(f.ctx, "twitter", details)
		require.True(t, result.Success, result.Error)
		assert.Equal(t, "1001", result.Data.PostID)
		assert.Equal(t, []string{"tok"}, f.adapter.postedTokens)
		assert.Equal(t, 0, f.adapter.refreshCalls)
	})

	t.Run("refreshes an expired token first", func(t *testing.T) {
		f := newFixture(t)
		f.adapter.details.ExpiresIn = 1
		f.service.Authenticate(f.ctx, models.ProviderTwitter, "code123", "u1", "verifier-1")
		f.useCase.WithClock(func() time.Time { return fixedNow.Add(time.Hour) })

		result := f.useCase.Post(f.ctx, "twitter", details)
		require.True(t, result.Success, result.Error)
		assert.Equal(t, 1, f.adapter.refreshCalls)
		assert.Equal(t, []string{"tok2"}, f.adapter.postedTokens)
	})

	t.Run("rejected token flags the integration", func(t *testing.T) {
		f := newFixture(t)
		f.service.Authenticate(f.ctx, models.ProviderTwitter, "code123", "u1", "verifier-1")
		f.adapter.postResult = &models.PostResult{Error: "unauthorized", NeedsReauth: true}

		result := f.useCase.Post(f.ctx, "twitter", details)
		assert.False(t, result.Success)
		assert.True(t, result.NeedsReauth)
		assert.Equal(t, "needs_reauth", result.Code)
		assert.Equal(t, "/integrations", result.RedirectTo)

		integrations, err := f.service.GetUserIntegrations(f.ctx, "u1")
		require.NoError(t, err)
		require.Len(t, integrations, 1)
		assert.True(t, integrations[0].RefreshNeeded)
	})

	t.Run("provider failure", func(t *testing.T) {
		f := newFixture(t)
		f.service.Authenticate(f.ctx, models.ProviderTwitter, "code123", "u1", "verifier-1")
		f.adapter.postResult = &models.PostResult{Error: "duplicate content"}

		result := f.useCase.Post(f.ctx, "twitter", details)
		assert.False(t, result.Success)
		assert.False(t, result.NeedsReauth)
		assert.Equal(t, "publish_failed", result.Code)
		assert.Equal(t, "duplicate content", result.Error)
	})

	t.Run("not connected", func(t *testing.T) {
		f := newFixture(t)

		result := f.useCase.Post(f.ctx, "twitter", details)
		assert.False(t, result.Success)
		assert.Equal(t, "/integrations", result.RedirectTo)
		assert.Empty(t, f.adapter.postedTokens)
	})
}

func TestIntegrationsUseCase_DeleteAndList(t *testing.T) {
	f := newFixture(t)

	empty := f.useCase.GetUserIntegrations(f.ctx, "u1")
	require.True(t, empty.Success)
	body, err := json.Marshal(empty)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"data":[]}`, string(body))

	f.service.Authenticate(f.ctx, models.ProviderTwitter, "code123", "u1", "verifier-1")
	listed := f.useCase.GetUserIntegrations(f.ctx, "u1")
	require.True(t, listed.Success)
	require.Len(t, listed.Data, 1)
	assert.Equal(t, "twitter", listed.Data[0].ProviderIdentifier)
	assert.Equal(t, "alice", listed.Data[0].Profile)

	deleted := f.useCase.DeleteIntegration(f.ctx, listed.Data[0].ID)
	require.True(t, deleted.Success, deleted.Error)

	afterDelete := f.useCase.GetUserIntegrations(f.ctx, "u1")
	require.True(t, afterDelete.Success)
	assert.Empty(t, afterDelete.Data)

	missing := f.useCase.DeleteIntegration(f.ctx, listed.Data[0].ID)
	assert.False(t, missing.Success)
	assert.Equal(t, "not_found", missing.Code)
}

func TestIntegrationsUseCase_RecoversPanics(t *testing.T) {
	service := &integrationssvc.MockIntegrationsService{}
	service.On("GetUserIntegrations", mock.Anything, "u1").Run(func(mock.Arguments) {
		panic("boom")
	})

	useCase := NewIntegrationsUseCase(service, providers.NewRegistry(), nil)

	var result models.Result[[]*api.IntegrationModel]
	assert.NotPanics(t, func() {
		result = useCase.GetUserIntegrations(context.Background(), "u1")
	})
	assert.False(t, result.Success)
	assert.Equal(t, "server_error", result.Code)
}

func TestIntegrationsUseCase_UnexpectedErrorsAreMasked(t *testing.T) {
	service := &integrationssvc.MockIntegrationsService{}
	service.On("GetUserIntegrations", mock.Anything, "u1").Return(nil, errors.New("pq: connection refused"))

	result := NewIntegrationsUseCase(service, providers.NewRegistry(), nil).GetUserIntegrations(context.Background(), "u1")
	assert.False(t, result.Success)
	assert.Equal(t, "server_error", result.Code)
	assert.Equal(t, "Internal server error", result.Error)
}
