package txmanager

import (
	"context"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialbackend/db"
	dbtx "socialbackend/db/tx"
	"socialbackend/models"
	"socialbackend/services"
	"socialbackend/testutils"
)

func setupTransactionTest(
	t *testing.T,
) (services.TransactionManager, *db.PostgresIntegrationsRepository, *models.User, func()) {
	cfg := testutils.RequireTestConfig(t)

	dbConn, err := db.NewConnection(cfg.DatabaseURL)
	require.NoError(t, err, "Failed to create database connection")

	txManager := NewTransactionManager(dbConn)
	integrationsRepo := db.NewPostgresIntegrationsRepository(dbConn, cfg.DatabaseSchema)
	usersRepo := db.NewPostgresUsersRepository(dbConn, cfg.DatabaseSchema)

	testUser := testutils.CreateTestUser(t, usersRepo)

	cleanup := func() {
		_, _ = dbConn.Exec("DELETE FROM "+cfg.DatabaseSchema+".integrations WHERE user_id = $1", testUser.ID)
		_, _ = dbConn.Exec("DELETE FROM "+cfg.DatabaseSchema+".users WHERE id = $1", testUser.ID)
		dbConn.Close()
	}

	return txManager, integrationsRepo, testUser, cleanup
}

func TestTransactionManager_WithTransaction_Success(t *testing.T) {
	txManager, repo, testUser, cleanup := setupTransactionTest(t)
	defer cleanup()

	ctx := context.Background()
	integration := testutils.CreateTestIntegration(testUser.ID, models.ProviderTwitter)

	err := txManager.WithTransaction(ctx, func(ctx context.Context) error {
		return repo.UpsertIntegration(ctx, integration)
	})
	require.NoError(t, err)

	maybeIntegration, err := repo.GetIntegrationByID(ctx, integration.ID)
	require.NoError(t, err)
	require.True(t, maybeIntegration.IsPresent(), "integration should exist after commit")
	assert.Equal(t, integration.InternalID, maybeIntegration.MustGet().InternalID)
}

func TestTransactionManager_WithTransaction_Rollback_OnError(t *testing.T) {
	txManager, repo, testUser, cleanup := setupTransactionTest(t)
	defer cleanup()

	ctx := context.Background()
	integration := testutils.CreateTestIntegration(testUser.ID, models.ProviderLinkedIn)

	err := txManager.WithTransaction(ctx, func(ctx context.Context) error {
		if err := repo.UpsertIntegration(ctx, integration); err != nil {
			return err
		}
		return errors.New("intentional error to trigger rollback")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "intentional error to trigger rollback")

	maybeIntegration, err := repo.GetIntegrationByID(ctx, integration.ID)
	require.NoError(t, err)
	assert.True(t, maybeIntegration.IsAbsent(), "integration should not exist after rollback")
}

func TestTransactionManager_WithTransaction_Rollback_OnPanic(t *testing.T) {
	txManager, repo, testUser, cleanup := setupTransactionTest(t)
	defer cleanup()

	ctx := context.Background()
	integration := testutils.CreateTestIntegration(testUser.ID, models.ProviderYouTube)

	assert.Panics(t, func() {
		_ = txManager.WithTransaction(ctx, func(ctx context.Context) error {
			if err := repo.UpsertIntegration(ctx, integration); err != nil {
				return err
			}
			panic("intentional panic")
		})
	})

	maybeIntegration, err := repo.GetIntegrationByID(ctx, integration.ID)
	require.NoError(t, err)
	assert.True(t, maybeIntegration.IsAbsent(), "integration should not exist after panic rollback")
}

func TestTransactionManager_NestedTransactions(t *testing.T) {
	txManager, repo, testUser, cleanup := setupTransactionTest(t)
	defer cleanup()

	ctx := context.Background()
	integration := testutils.CreateTestIntegration(testUser.ID, models.ProviderTikTok)

	err := txManager.WithTransaction(ctx, func(outer context.Context) error {
		outerTx, ok := dbtx.FromContext(outer)
		require.True(t, ok)

		return txManager.WithTransaction(outer, func(inner context.Context) error {
			innerTx, ok := dbtx.FromContext(inner)
			require.True(t, ok)
			assert.Same(t, outerTx, innerTx, "nested call should reuse the outer transaction")
			return repo.UpsertIntegration(inner, integration)
		})
	})
	require.NoError(t, err)

	maybeIntegration, err := repo.GetIntegrationByID(ctx, integration.ID)
	require.NoError(t, err)
	assert.True(t, maybeIntegration.IsPresent())
}

func TestTransactionManager_JoinsExistingTransaction(t *testing.T) {
	tm := NewTransactionManager(nil)
	existing := &sqlx.Tx{}
	ctx := dbtx.WithTx(context.Background(), existing)

	called := false
	err := tm.WithTransaction(ctx, func(inner context.Context) error {
		called = true
		tx, ok := dbtx.FromContext(inner)
		require.True(t, ok)
		assert.Same(t, existing, tx)
		return errors.New("inner failure")
	})

	assert.True(t, called)
	require.EqualError(t, err, "inner failure")
}

func TestConn(t *testing.T) {
	_, ok := dbtx.FromContext(context.Background())
	assert.False(t, ok)

	var nilTx *sqlx.Tx
	_, ok = dbtx.FromContext(dbtx.WithTx(context.Background(), nilTx))
	assert.False(t, ok, "a nil transaction is not an open transaction")

	existing := &sqlx.Tx{}
	assert.Same(t, existing, dbtx.Conn(dbtx.WithTx(context.Background(), existing), nil))
}
