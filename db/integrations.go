package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/samber/mo"

	// necessary import to wire up the postgres driver
	_ "github.com/lib/pq"

	"socialbackend/core"
	dbtx "socialbackend/db/tx"
	"socialbackend/models"
)

type PostgresIntegrationsRepository struct {
	db     *sqlx.DB
	schema string
}

// Column names for integrations table
var integrationsColumns = []string{
	"id",
	"user_id",
	"provider_identifier",
	"internal_id",
	"name",
	"picture",
	"profile",
	"token",
	"refresh_token",
	"token_expiration",
	"token_version",
	"refresh_needed",
	"disabled",
	"deleted_at",
	"created_at",
	"updated_at",
}

func NewPostgresIntegrationsRepository(db *sqlx.DB, schema string) *PostgresIntegrationsRepository {
	return &PostgresIntegrationsRepository{db: db, schema: schema}
}

// UpsertIntegration inserts a new integration or overwrites the one for the same (user, provider).
// Re-connecting revives a soft-deleted row and clears its failure flags.
func (r *PostgresIntegrationsRepository) UpsertIntegration(ctx context.Context, integration *models.Integration) error {
	db := dbtx.Conn(ctx, r.db)

	insertColumns := []string{
		"id",
		"user_id",
		"provider_identifier",
		"internal_id",
		"name",
		"picture",
		"profile",
		"token",
		"refresh_token",
		"token_expiration",
		"token_version",
		"refresh_needed",
		"disabled",
		"deleted_at",
		"created_at",
		"updated_at",
	}
	columnsStr := strings.Join(insertColumns, ", ")
	returningStr := strings.Join(integrationsColumns, ", ")

	query := fmt.Sprintf(`
		INSERT INTO %[1]s.integrations (%[2]s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, FALSE, FALSE, NULL, NOW(), NOW())
		ON CONFLICT (user_id, provider_identifier) DO UPDATE SET
			internal_id = EXCLUDED.internal_id,
			name = EXCLUDED.name,
			picture = EXCLUDED.picture,
			profile = EXCLUDED.profile,
			token = EXCLUDED.token,
			refresh_token = EXCLUDED.refresh_token,
			token_expiration = EXCLUDED.token_expiration,
			token_version = %[1]s.integrations.token_version + 1,
			refresh_needed = FALSE,
			disabled = FALSE,
			deleted_at = NULL,
			updated_at = NOW()
		RETURNING %[3]s`, r.schema, columnsStr, returningStr)

	err := db.QueryRowxContext(
		ctx,
		query,
		integration.ID,
		integration.UserID,
		integration.ProviderIdentifier,
		integration.InternalID,
		integration.Name,
		integration.Picture,
		integration.Profile,
		integration.Token,
		integration.RefreshToken,
		integration.TokenExpiration,
	).StructScan(integration)
	if err != nil {
		return fmt.Errorf("failed to upsert integration: %w", err)
	}

	return nil
}

// GetIntegrationByID looks up an integration by id, including soft-deleted ones.
func (r *PostgresIntegrationsRepository) GetIntegrationByID(
	ctx context.Context,
	id string,
) (mo.Option[*models.Integration], error) {
	db := dbtx.Conn(ctx, r.db)

	columnsStr := strings.Join(integrationsColumns, ", ")
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.integrations
		WHERE id = $1`, columnsStr, r.schema)

	var integration models.Integration
	err := db.GetContext(ctx, &integration, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return mo.None[*models.Integration](), nil
		}
		return mo.None[*models.Integration](), fmt.Errorf("failed to get integration by id: %w", err)
	}

	return mo.Some(&integration), nil
}

func (r *PostgresIntegrationsRepository) GetActiveIntegrationByProvider(
	ctx context.Context,
	userID string,
	provider models.ProviderIdentifier,
) (mo.Option[*models.Integration], error) {
	db := dbtx.Conn(ctx, r.db)

	columnsStr := strings.Join(integrationsColumns, ", ")
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.integrations
		WHERE user_id = $1 AND provider_identifier = $2 AND deleted_at IS NULL`, columnsStr, r.schema)

	var integration models.Integration
	err := db.GetContext(ctx, &integration, query, userID, provider)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return mo.None[*models.Integration](), nil
		}
		return mo.None[*models.Integration](), fmt.Errorf("failed to get integration by provider: %w", err)
	}

	return mo.Some(&integration), nil
}

func (r *PostgresIntegrationsRepository) GetActiveIntegrationByInternalID(
	ctx context.Context,
	userID string,
	provider models.ProviderIdentifier,
	internalID string,
) (mo.Option[*models.Integration], error) {
	db := dbtx.Conn(ctx, r.db)

	columnsStr := strings.Join(integrationsColumns, ", ")
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.integrations
		WHERE user_id = $1 AND provider_identifier = $2 AND internal_id = $3 AND deleted_at IS NULL`,
		columnsStr, r.schema)

	var integration models.Integration
	err := db.GetContext(ctx, &integration, query, userID, provider, internalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return mo.None[*models.Integration](), nil
		}
		return mo.None[*models.Integration](), fmt.Errorf("failed to get integration by internal id: %w", err)
	}

	return mo.Some(&integration), nil
}

// ListActiveIntegrationsByUserID returns the user's non-deleted integrations, oldest first.
func (r *PostgresIntegrationsRepository) ListActiveIntegrationsByUserID(
	ctx context.Context,
	userID string,
) ([]*models.Integration, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID cannot be empty")
	}
	db := dbtx.Conn(ctx, r.db)

	columnsStr := strings.Join(integrationsColumns, ", ")
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.integrations
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY created_at ASC`, columnsStr, r.schema)

	integrations := []*models.Integration{}
	if err := db.SelectContext(ctx, &integrations, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}

	return integrations, nil
}

// UpdateIntegrationTokens writes refreshed tokens only if nobody else has written since expectedVersion.
func (r *PostgresIntegrationsRepository) UpdateIntegrationTokens(
	ctx context.Context,
	id string,
	expectedVersion int64,
	token string,
	refreshToken *string,
	tokenExpiration *time.Time,
) (*models.Integration, error) {
	db := dbtx.Conn(ctx, r.db)

	returningStr := strings.Join(integrationsColumns, ", ")
	query := fmt.Sprintf(`
		UPDATE %s.integrations
		SET token = $3,
			refresh_token = $4,
			token_expiration = $5,
			token_version = token_version + 1,
			refresh_needed = FALSE,
			updated_at = NOW()
		WHERE id = $1 AND token_version = $2 AND deleted_at IS NULL
		RETURNING %s`, r.schema, returningStr)

	integration := &models.Integration{}
	err := db.QueryRowxContext(ctx, query, id, expectedVersion, token, refreshToken, tokenExpiration).
		StructScan(integration)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrConcurrentTokenUpdate
		}
		return nil, fmt.Errorf("failed to update integration tokens: %w", err)
	}

	return integration, nil
}

// MarkRefreshNeeded flags an integration for reconnection. Token fields are left as they are.
func (r *PostgresIntegrationsRepository) MarkRefreshNeeded(ctx context.Context, id string) error {
	db := dbtx.Conn(ctx, r.db)

	query := fmt.Sprintf(`
		UPDATE %s.integrations
		SET refresh_needed = TRUE, updated_at = NOW()
		WHERE id = $1`, r.schema)

	result, err := db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark integration refresh needed: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return core.ErrNotFound
	}

	return nil
}

func (r *PostgresIntegrationsRepository) SoftDeleteIntegration(ctx context.Context, userID, id string) error {
	if userID == "" {
		return fmt.Errorf("user ID cannot be empty")
	}
	if id == "" {
		return fmt.Errorf("integration ID cannot be empty")
	}
	db := dbtx.Conn(ctx, r.db)

	query := fmt.Sprintf(`
		UPDATE %s.integrations
		SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`, r.schema)

	result, err := db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete integration: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return core.ErrNotFound
	}

	return nil
}

// ListRefreshCandidates returns active integrations with a refresh token whose access token
// expires before the given time. Records already flagged for reconnection are left alone.
func (r *PostgresIntegrationsRepository) ListRefreshCandidates(
	ctx context.Context,
	expiringBefore time.Time,
	provider mo.Option[models.ProviderIdentifier],
) ([]*models.Integration, error) {
	db := dbtx.Conn(ctx, r.db)

	columnsStr := strings.Join(integrationsColumns, ", ")
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.integrations
		WHERE deleted_at IS NULL
			AND disabled = FALSE
			AND refresh_needed = FALSE
			AND refresh_token IS NOT NULL AND refresh_token <> ''
			AND token_expiration IS NOT NULL AND token_expiration < $1
			AND ($2::text = '' OR provider_identifier = $2::text)
		ORDER BY token_expiration ASC`, columnsStr, r.schema)

	integrations := []*models.Integration{}
	if err := db.SelectContext(ctx, &integrations, query, expiringBefore, provider.OrElse("")); err != nil {
		return nil, fmt.Errorf("failed to list refresh candidates: %w", err)
	}

	return integrations, nil
}
