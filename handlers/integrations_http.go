package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"socialbackend/appctx"
	"socialbackend/middleware"
	"socialbackend/models"
	"socialbackend/models/api"
	"socialbackend/services/oauthstate"
	"socialbackend/usecases/integrations"
)

const loginPath = "/login"

type IntegrationsHTTPHandler struct {
	useCase     *integrations.IntegrationsUseCase
	stateStores oauthstate.StoreProvider
	frontendURL string
}

// NewIntegrationsHTTPHandler builds the handler. Browser redirects are made relative to frontendURL.
func NewIntegrationsHTTPHandler(
	useCase *integrations.IntegrationsUseCase,
	stateStores oauthstate.StoreProvider,
	frontendURL string,
) *IntegrationsHTTPHandler {
	return &IntegrationsHTTPHandler{
		useCase:     useCase,
		stateStores: stateStores,
		frontendURL: strings.TrimRight(frontendURL, "/"),
	}
}

type refreshRequest struct {
	IntegrationID string `json:"integrationId"`
	InternalID    string `json:"internalId"`
}

// HandleAuthorize redirects the browser to the provider's consent screen
func (h *IntegrationsHTTPHandler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	log.Printf("🔗 Authorize %s request received from %s", provider, r.RemoteAddr)

	result := h.useCase.Authorize(r.Context(), provider, h.stateStores.ForRequest(w, r))
	if !result.Success {
		if result.Code == "auth_required" {
			h.redirect(w, r, loginPath)
			return
		}
		h.redirect(w, r, "/integrations?error="+result.Code)
		return
	}

	http.Redirect(w, r, result.Data.URL, http.StatusFound)
}

// HandleCallback completes the authorization and redirects to the integrations page
func (h *IntegrationsHTTPHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	log.Printf("🔗 Callback for %s received from %s", provider, r.RemoteAddr)

	query := r.URL.Query()
	params := integrations.CallbackParams{
		Code:  query.Get("code"),
		State: query.Get("state"),
		Error: query.Get("error"),
	}

	result := h.useCase.Callback(r.Context(), provider, params, h.stateStores.ForRequest(w, r))
	if result.Code == "auth_required" {
		h.redirect(w, r, loginPath)
		return
	}
	h.redirect(w, r, result.RedirectTo)
}

func (h *IntegrationsHTTPHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	log.Printf("🔄 Refresh %s token request received from %s", provider, r.RemoteAddr)

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		log.Printf("❌ Failed to parse request body: %v", err)
		writeResult(w, models.Fail[any]("invalid request body", "invalid_request"))
		return
	}

	writeResult(w, h.useCase.Refresh(r.Context(), provider, integrations.RefreshTarget{
		IntegrationID: req.IntegrationID,
		InternalID:    req.InternalID,
	}))
}

func (h *IntegrationsHTTPHandler) HandleCreatePost(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	log.Printf("📝 Create %s post request received from %s", provider, r.RemoteAddr)

	var req api.CreatePostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("❌ Failed to parse request body: %v", err)
		writeResult(w, models.Fail[any]("invalid request body", "invalid_request"))
		return
	}

	writeResult(w, h.useCase.Post(r.Context(), provider, api.CreatePostRequestToDomain(&req)))
}

func (h *IntegrationsHTTPHandler) HandleDeleteIntegration(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	log.Printf("🗑️ Delete integration %s request received from %s", id, r.RemoteAddr)

	writeResult(w, h.useCase.DeleteIntegration(r.Context(), id))
}

func (h *IntegrationsHTTPHandler) HandleListIntegrations(w http.ResponseWriter, r *http.Request) {
	log.Printf("📋 List integrations request received from %s", r.RemoteAddr)

	writeResult(w, h.useCase.GetUserIntegrations(r.Context(), appctx.UserID(r.Context(), "")))
}

func (h *IntegrationsHTTPHandler) HandleIntegrationStatus(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	writeResult(w, h.useCase.GetIntegrationStatus(r.Context(), provider))
}

func (h *IntegrationsHTTPHandler) SetupEndpoints(router *mux.Router, authMiddleware *middleware.ClerkAuthMiddleware) {
	log.Printf("🚀 Registering integrations API endpoints")

	router.HandleFunc("/api/integrations", authMiddleware.WithAuth(h.HandleListIntegrations)).Methods("GET")
	log.Printf("✅ GET /api/integrations endpoint registered")

	router.HandleFunc("/api/integrations/{id}", authMiddleware.WithAuth(h.HandleDeleteIntegration)).
		Methods("DELETE")
	log.Printf("✅ DELETE /api/integrations/{id} endpoint registered")

	router.HandleFunc("/api/integrations/{provider}/authorize", authMiddleware.WithOptionalAuth(h.HandleAuthorize)).
		Methods("GET")
	log.Printf("✅ GET /api/integrations/{provider}/authorize endpoint registered")

	router.HandleFunc("/api/integrations/{provider}/callback", authMiddleware.WithOptionalAuth(h.HandleCallback)).
		Methods("GET")
	log.Printf("✅ GET /api/integrations/{provider}/callback endpoint registered")

	router.HandleFunc("/api/integrations/{provider}/refresh", authMiddleware.WithAuth(h.HandleRefresh)).
		Methods("POST")
	log.Printf("✅ POST /api/integrations/{provider}/refresh endpoint registered")

	router.HandleFunc("/api/integrations/{provider}/posts", authMiddleware.WithAuth(h.HandleCreatePost)).
		Methods("POST")
	log.Printf("✅ POST /api/integrations/{provider}/posts endpoint registered")

	router.HandleFunc("/api/integrations/{provider}/status", authMiddleware.WithAuth(h.HandleIntegrationStatus)).
		Methods("GET")
	log.Printf("✅ GET /api/integrations/{provider}/status endpoint registered")
}

func (h *IntegrationsHTTPHandler) redirect(w http.ResponseWriter, r *http.Request, path string) {
	http.Redirect(w, r, h.frontendURL+path, http.StatusFound)
}

func writeResult[T any](w http.ResponseWriter, result models.Result[T]) {
	writeJSONResponse(w, statusForCode(result.Code), result)
}

// statusForCode maps a result code to the HTTP status it is served with
func statusForCode(code string) int {
	switch code {
	case "":
		return http.StatusOK
	case "auth_required":
		return http.StatusUnauthorized
	case "not_found", "unsupported_provider":
		return http.StatusNotFound
	case "invalid_request", "invalid_post":
		return http.StatusBadRequest
	case "concurrent_update", "no_refresh_token", "token_refresh_rejected", "needs_reauth":
		return http.StatusConflict
	case "server_error":
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

func writeJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("❌ Failed to encode JSON response: %v", err)
	}
}
