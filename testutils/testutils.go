package testutils

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"

	"socialbackend/appctx"
	"socialbackend/config"
	"socialbackend/core"
	"socialbackend/db"
	"socialbackend/models"
)

// LoadTestConfig loads configuration for tests from environment variables
func LoadTestConfig() (*config.AppConfig, error) {
	// Try to load environment variables from various possible locations
	_ = godotenv.Load("../.env.test") // From services/ directory
	_ = godotenv.Load(".env.test")    // From root directory
	_ = godotenv.Load()               // Default .env file

	databaseURL := os.Getenv("DB_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("DB_URL is not set")
	}

	databaseSchema := os.Getenv("DB_SCHEMA")
	if databaseSchema == "" {
		return nil, fmt.Errorf("DB_SCHEMA is not set")
	}

	return &config.AppConfig{
		DatabaseURL:    databaseURL,
		DatabaseSchema: databaseSchema,
		ClerkConfig: config.ClerkConfig{
			SecretKey: os.Getenv("CLERK_SECRET_KEY"),
		},
	}, nil
}

// RequireTestConfig skips the test when no test database is configured
func RequireTestConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg, err := LoadTestConfig()
	if err != nil {
		t.Skipf("skipping database test: %v", err)
	}
	return cfg
}

// CreateTestUser creates a test user with a unique ID to avoid constraint violations
func CreateTestUser(t *testing.T, usersRepo *db.PostgresUsersRepository) *models.User {
	return CreateTestUserWithProvider(t, usersRepo, "test")
}

// CreateTestUserWithProvider creates a test user with a specific auth provider
func CreateTestUserWithProvider(t *testing.T, usersRepo *db.PostgresUsersRepository, authProvider string) *models.User {
	testUserID := uuid.New().String()
	testUser, err := usersRepo.GetOrCreateUser(context.Background(), authProvider, testUserID, testUserID+"@example.com")
	require.NoError(t, err, "Failed to create test user with provider %s", authProvider)
	return testUser
}

// CreateTestContext creates a context with the given user set for testing
func CreateTestContext(user *models.User) context.Context {
	ctx := context.Background()
	return appctx.SetUser(ctx, user)
}

// CreateTestIntegration builds an unsaved integration with plausible token fields
func CreateTestIntegration(userID string, provider models.ProviderIdentifier) *models.Integration {
	name := "Test Account"
	profile := "test_account"
	refreshToken := "refresh-" + uuid.New().String()
	expiration := time.Now().Add(time.Hour).UTC()

	return &models.Integration{
		ID:                 core.NewID("int"),
		UserID:             userID,
		ProviderIdentifier: provider,
		InternalID:         "internal-" + uuid.New().String(),
		Name:               &name,
		Profile:            &profile,
		Token:              "access-" + uuid.New().String(),
		RefreshToken:       &refreshToken,
		TokenExpiration:    &expiration,
	}
}
