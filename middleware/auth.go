package middleware

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/clerk/clerk-sdk-go/v2"
	"github.com/clerk/clerk-sdk-go/v2/jwks"
	"github.com/clerk/clerk-sdk-go/v2/jwt"

	"socialbackend/appctx"
	"socialbackend/services"
)

// SessionCookieName is the cookie Clerk's frontend SDK stores the session token in
const SessionCookieName = "__session"

// SessionVerifier checks a session token and returns the auth provider's subject id
type SessionVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

type clerkVerifier struct {
	jwksClient *jwks.Client
}

func (v *clerkVerifier) Verify(ctx context.Context, token string) (string, error) {
	claims, err := jwt.Verify(ctx, &jwt.VerifyParams{
		Token:      token,
		JWKSClient: v.jwksClient,
	})
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// ClerkAuthMiddleware handles JWT authentication using Clerk SDK
type ClerkAuthMiddleware struct {
	usersService services.UsersService
	verifier     SessionVerifier
}

// NewClerkAuthMiddleware creates a new authentication middleware instance
func NewClerkAuthMiddleware(usersService services.UsersService, clerkSecretKey string) *ClerkAuthMiddleware {
	config := &clerk.ClientConfig{
		BackendConfig: clerk.BackendConfig{
			Key: clerk.String(clerkSecretKey),
		},
	}

	return NewAuthMiddleware(usersService, &clerkVerifier{jwksClient: jwks.NewClient(config)})
}

func NewAuthMiddleware(usersService services.UsersService, verifier SessionVerifier) *ClerkAuthMiddleware {
	return &ClerkAuthMiddleware{
		usersService: usersService,
		verifier:     verifier,
	}
}

// WithAuth rejects requests without a valid session
func (m *ClerkAuthMiddleware) WithAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Printf("🔐 Authentication middleware processing request from %s", r.RemoteAddr)

		token := sessionToken(r)
		if token == "" {
			log.Printf("❌ Missing session token")
			m.writeErrorResponse(w, "authentication required", http.StatusUnauthorized)
			return
		}

		ctx, status, message := m.authenticate(r.Context(), token)
		if status != http.StatusOK {
			m.writeErrorResponse(w, message, status)
			return
		}

		next(w, r.WithContext(ctx))
	}
}

// WithOptionalAuth attaches the session user when there is one and always calls next.
// Browser redirect routes use it so they can respond with a redirect instead of a JSON error.
func (m *ClerkAuthMiddleware) WithOptionalAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			next(w, r)
			return
		}

		ctx, status, _ := m.authenticate(r.Context(), token)
		if status != http.StatusOK {
			next(w, r)
			return
		}
		next(w, r.WithContext(ctx))
	}
}

func (m *ClerkAuthMiddleware) authenticate(ctx context.Context, token string) (context.Context, int, string) {
	subject, err := m.verifier.Verify(ctx, token)
	if err != nil {
		log.Printf("❌ JWT verification failed: %v", err)
		return ctx, http.StatusUnauthorized, "invalid token"
	}

	log.Printf("✅ JWT token verified successfully for user: %s", subject)
	user, err := m.usersService.GetOrCreateUser(ctx, "clerk", subject, "")
	if err != nil {
		log.Printf("❌ Failed to get or create user: %v", err)
		return ctx, http.StatusInternalServerError, "internal server error"
	}

	log.Printf("✅ User authenticated successfully: %s", user.ID)
	return appctx.SetUser(ctx, user), http.StatusOK, ""
}

// sessionToken reads the bearer token, falling back to the session cookie
func sessionToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return ""
		}
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// writeErrorResponse writes a standardized error response
func (m *ClerkAuthMiddleware) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := map[string]any{"success": false, "error": message}
	if statusCode == http.StatusUnauthorized {
		errorResponse["code"] = "auth_required"
		errorResponse["redirectTo"] = "/sign-in"
	}
	if err := json.NewEncoder(w).Encode(errorResponse); err != nil {
		log.Printf("❌ Failed to encode error response: %v", err)
	}
}
