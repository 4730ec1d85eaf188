package integrations

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"net/url"
	"time"

	"socialbackend/appctx"
	"socialbackend/clients"
	"socialbackend/core"
	"socialbackend/metrics"
	"socialbackend/models"
	"socialbackend/models/api"
	"socialbackend/services"
	"socialbackend/services/oauthstate"
)

const (
	integrationsPagePath = "/integrations"
	signInPath           = "/sign-in"
)

// ProviderRegistry resolves the adapter that starts an authorization flow
type ProviderRegistry interface {
	Get(identifier string) (clients.ProviderAdapter, error)
}

// ActivityNotifier reports newly connected accounts
type ActivityNotifier interface {
	Notify(userID, message string)
}

// CallbackParams are the query parameters the provider redirects back with
type CallbackParams struct {
	Code  string
	State string
	Error string
}

// IntegrationsUseCase coordinates the authorize, callback, refresh and publish flows.
// Every operation returns a Result; provider and storage failures never escape as errors or panics.
type IntegrationsUseCase struct {
	integrationsService services.IntegrationsService
	registry            ProviderRegistry
	metrics             *metrics.Metrics
	notifier            ActivityNotifier
	now                 func() time.Time
}

func NewIntegrationsUseCase(
	integrationsService services.IntegrationsService,
	registry ProviderRegistry,
	m *metrics.Metrics,
) *IntegrationsUseCase {
	if m == nil {
		m = metrics.NewMetrics()
	}
	return &IntegrationsUseCase{
		integrationsService: integrationsService,
		registry:            registry,
		metrics:             m,
		now:                 time.Now,
	}
}

// WithClock overrides the time source used for expiry checks
func (u *IntegrationsUseCase) WithClock(now func() time.Time) *IntegrationsUseCase {
	u.now = now
	return u
}

func (u *IntegrationsUseCase) WithNotifier(notifier ActivityNotifier) *IntegrationsUseCase {
	u.notifier = notifier
	return u
}

// Authorize generates the provider consent URL and stores state (and the PKCE verifier) for the callback.
func (u *IntegrationsUseCase) Authorize(
	ctx context.Context,
	provider string,
	store oauthstate.StateStore,
) (result models.Result[*api.AuthorizeModel]) {
	defer recoverResult(&result, "authorize", "")

	user, ok := appctx.GetUser(ctx)
	if !ok || user == nil {
		return authRequired[*api.AuthorizeModel]()
	}
	log.Printf("📋 Starting %s authorization for user: %s", provider, user.ID)

	adapter, err := u.registry.Get(provider)
	if err != nil {
		return failure[*api.AuthorizeModel](err)
	}

	authURL, err := adapter.GenerateAuthURL()
	if err != nil {
		log.Printf("❌ Failed to generate %s auth URL: %v", provider, err)
		return failure[*api.AuthorizeModel](err)
	}

	if err := store.Put(ctx, oauthstate.StateKey(provider), authURL.State, oauthstate.TTL); err != nil {
		log.Printf("❌ Failed to persist %s auth state: %v", provider, err)
		return failure[*api.AuthorizeModel](err)
	}
	if authURL.CodeVerifier != "" {
		if err := store.Put(ctx, oauthstate.VerifierKey(provider), authURL.CodeVerifier, oauthstate.TTL); err != nil {
			log.Printf("❌ Failed to persist %s code verifier: %v", provider, err)
			return failure[*api.AuthorizeModel](err)
		}
	}

	log.Printf("📋 Completed successfully - generated %s auth URL for user: %s", provider, user.ID)
	return models.Ok(&api.AuthorizeModel{URL: authURL.URL})
}

// Callback validates the provider redirect and stores the connected account.
// The transient state is consumed before anything else so it never survives a callback.
func (u *IntegrationsUseCase) Callback(
	ctx context.Context,
	provider string,
	params CallbackParams,
	store oauthstate.StateStore,
) (result models.Result[*api.CallbackModel]) {
	defer recoverResult(&result, "callback", callbackErrorURL("server_error"))

	storedState, stateErr := store.TakeOnce(ctx, oauthstate.StateKey(provider))
	storedVerifier, verifierErr := store.TakeOnce(ctx, oauthstate.VerifierKey(provider))

	user, ok := appctx.GetUser(ctx)
	if !ok || user == nil {
		return authRequired[*api.CallbackModel]()
	}
	log.Printf("📋 Starting %s callback for user: %s", provider, user.ID)

	if params.Error != "" {
		log.Printf("⚠️ %s authorization denied for user %s: %s", provider, user.ID, params.Error)
		u.metrics.ObserveAuthentication(provider, metrics.OutcomeFailure)
		return callbackFailure[*api.CallbackModel](provider, provider+"_auth_denied", "Authorization was denied", "auth_denied")
	}
	if params.Code == "" || params.State == "" {
		return callbackFailure[*api.CallbackModel](provider, "invalid_request", core.ErrMissingCallbackParameters.Error(),
			core.ErrorCode(core.ErrMissingCallbackParameters))
	}
	if err := errors.Join(stateErr, verifierErr); err != nil {
		log.Printf("❌ Failed to read %s auth state: %v", provider, err)
		return callbackFailure[*api.CallbackModel](provider, "server_error", "Failed to read authorization state", "server_error")
	}

	expected, found := storedState.Get()
	if !found || subtle.ConstantTimeCompare([]byte(expected), []byte(params.State)) != 1 {
		log.Printf("❌ %s state mismatch for user: %s", provider, user.ID)
		u.metrics.ObserveStateMismatch(provider)
		return callbackFailure[*api.CallbackModel](provider, "invalid_state", core.ErrCsrfStateMismatch.Error(),
			core.ErrorCode(core.ErrCsrfStateMismatch))
	}

	if _, err := u.registry.Get(provider); err != nil {
		return callbackFailure[*api.CallbackModel](provider, core.ErrorCode(err), err.Error(), core.ErrorCode(err))
	}

	details := u.integrationsService.Authenticate(
		ctx,
		models.ProviderIdentifier(provider),
		params.Code,
		user.ID,
		storedVerifier.OrEmpty(),
	)
	if details.Failed() {
		return authenticationFailure[*api.CallbackModel](provider, details)
	}

	if u.notifier != nil {
		u.notifier.Notify(user.ID, fmt.Sprintf("Connected %s account `%s`", provider, details.ID))
	}

	redirectURL := integrationsPagePath + "?success=" + url.QueryEscape(provider)
	log.Printf("📋 Completed successfully - connected %s account %s for user: %s", provider, details.ID, user.ID)
	return models.Result[*api.CallbackModel]{
		Success:    true,
		Data:       &api.CallbackModel{ProviderIdentifier: provider, RedirectURL: redirectURL},
		RedirectTo: redirectURL,
	}
}

// RefreshTarget names the integration to refresh. IntegrationID wins over InternalID;
// with neither set the user's active integration for the provider is used.
type RefreshTarget struct {
	IntegrationID string
	InternalID    string
}

// Refresh refreshes the session user's credentials for a provider.
func (u *IntegrationsUseCase) Refresh(
	ctx context.Context,
	provider string,
	target RefreshTarget,
) (result models.Result[*api.RefreshResultModel]) {
	defer recoverResult(&result, "refresh", "")

	user, ok := appctx.GetUser(ctx)
	if !ok || user == nil {
		return authRequired[*api.RefreshResultModel]()
	}

	providerID := models.ProviderIdentifier(provider)
	if !u.integrationsService.SupportsProvider(providerID) {
		return failure[*api.RefreshResultModel](fmt.Errorf("%s: %w", provider, core.ErrUnsupportedProvider))
	}

	internalID := target.InternalID
	if target.IntegrationID != "" {
		maybeIntegration, err := u.integrationsService.GetIntegrationByID(ctx, target.IntegrationID)
		if err != nil {
			return failure[*api.RefreshResultModel](err)
		}
		integration, ok := maybeIntegration.Get()
		if !ok || integration.UserID != user.ID || integration.ProviderIdentifier != providerID || integration.IsDeleted() {
			return notConnected[*api.RefreshResultModel](provider)
		}
		internalID = integration.InternalID
	} else if internalID == "" {
		maybeIntegration, err := u.integrationsService.GetActiveIntegration(ctx, user.ID, providerID)
		if err != nil {
			return failure[*api.RefreshResultModel](err)
		}
		integration, ok := maybeIntegration.Get()
		if !ok {
			return notConnected[*api.RefreshResultModel](provider)
		}
		internalID = integration.InternalID
	}

	tokens, err := u.integrationsService.RefreshToken(ctx, providerID, user.ID, internalID)
	if err != nil {
		log.Printf("❌ Failed to refresh %s token for user %s: %v", provider, user.ID, err)
		result := failure[*api.RefreshResultModel](err)
		if errors.Is(err, core.ErrNoRefreshTokenOnRecord) || errors.Is(err, core.ErrTokenRefreshRejected) {
			result.NeedsReauth = true
			result.RedirectTo = integrationsPagePath
		}
		return result
	}

	return models.Ok(&api.RefreshResultModel{ProviderIdentifier: provider, ExpiresIn: tokens.ExpiresIn})
}

// Post publishes through the session user's connected account, refreshing an expired token first.
func (u *IntegrationsUseCase) Post(
	ctx context.Context,
	provider string,
	details *models.PostDetails,
) (result models.Result[*api.PostResultModel]) {
	defer recoverResult(&result, "post", "")

	user, ok := appctx.GetUser(ctx)
	if !ok || user == nil {
		return authRequired[*api.PostResultModel]()
	}

	providerID := models.ProviderIdentifier(provider)
	if !u.integrationsService.SupportsProvider(providerID) {
		return failure[*api.PostResultModel](fmt.Errorf("%s: %w", provider, core.ErrUnsupportedProvider))
	}
	if details == nil {
		return failure[*api.PostResultModel](fmt.Errorf("%w: post details are required", core.ErrInvalidPost))
	}

	maybeIntegration, err := u.integrationsService.GetActiveIntegration(ctx, user.ID, providerID)
	if err != nil {
		return failure[*api.PostResultModel](err)
	}
	integration, ok := maybeIntegration.Get()
	if !ok {
		return notConnected[*api.PostResultModel](provider)
	}

	if integration.IsExpired(u.now()) && integration.HasRefreshToken() {
		log.Printf("📋 Stored %s token for user %s is expired, refreshing before publishing", provider, user.ID)
		refreshed, err := u.integrationsService.RefreshIntegration(ctx, integration)
		if err != nil {
			log.Printf("❌ Failed to refresh %s token before publishing: %v", provider, err)
			result := failure[*api.PostResultModel](err)
			result.NeedsReauth = true
			result.RedirectTo = integrationsPagePath
			return result
		}
		integration = refreshed
	}

	postResult := u.integrationsService.PostWithIntegration(ctx, integration, details)
	data := &api.PostResultModel{PostID: postResult.PostID, ReleaseURL: postResult.ReleaseURL}
	if postResult.Success {
		return models.Ok(data)
	}

	if postResult.NeedsReauth {
		return models.Result[*api.PostResultModel]{
			Error:       postResult.Error,
			Code:        core.ErrorCode(core.ErrPublishNeedsReauth),
			Data:        data,
			NeedsReauth: true,
			RedirectTo:  integrationsPagePath,
		}
	}
	return models.Result[*api.PostResultModel]{
		Error: postResult.Error,
		Code:  core.ErrorCode(core.ErrPublishFailed),
		Data:  data,
	}
}

// DeleteIntegration soft deletes one of the session user's integrations
func (u *IntegrationsUseCase) DeleteIntegration(
	ctx context.Context,
	id string,
) (result models.Result[*api.DeleteIntegrationModel]) {
	defer recoverResult(&result, "delete integration", "")

	user, ok := appctx.GetUser(ctx)
	if !ok || user == nil {
		return authRequired[*api.DeleteIntegrationModel]()
	}

	if err := u.integrationsService.DeleteIntegration(ctx, user.ID, id); err != nil {
		log.Printf("❌ Failed to delete integration %s: %v", id, err)
		return failure[*api.DeleteIntegrationModel](err)
	}

	return models.Ok(&api.DeleteIntegrationModel{ID: id})
}

// GetUserIntegrations lists a user's active integrations, oldest first
func (u *IntegrationsUseCase) GetUserIntegrations(
	ctx context.Context,
	userID string,
) (result models.Result[[]*api.IntegrationModel]) {
	defer recoverResult(&result, "list integrations", "")

	if userID == "" {
		return authRequired[[]*api.IntegrationModel]()
	}

	integrations, err := u.integrationsService.GetUserIntegrations(ctx, userID)
	if err != nil {
		return failure[[]*api.IntegrationModel](err)
	}

	return models.Ok(api.DomainIntegrationsToAPIIntegrations(integrations))
}

// GetIntegrationStatus reports whether the session user is connected to a provider
func (u *IntegrationsUseCase) GetIntegrationStatus(
	ctx context.Context,
	provider string,
) (result models.Result[*api.IntegrationStatusModel]) {
	defer recoverResult(&result, "integration status", "")

	user, ok := appctx.GetUser(ctx)
	if !ok || user == nil {
		return authRequired[*api.IntegrationStatusModel]()
	}

	status, err := u.integrationsService.GetIntegrationStatus(ctx, user.ID, models.ProviderIdentifier(provider))
	if err != nil {
		return failure[*api.IntegrationStatusModel](err)
	}

	return models.Ok(api.DomainIntegrationStatusToAPI(status))
}
