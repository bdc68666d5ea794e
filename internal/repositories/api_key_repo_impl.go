package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/hms-sentinel/internal/database"
	"github.com/BradenHooton/hms-sentinel/internal/models"
	"github.com/jackc/pgx/v5"
)

const apiKeyColumns = `id, name, organization_id, key_hash, expires_at, last_used_at, created_at, updated_at`

// APIKeyRepositoryImpl implements APIKeyRepository on PostgreSQL.
// Each query runs under the database's query timeout.
type APIKeyRepositoryImpl struct {
	db *database.DB
}

// NewAPIKeyRepository creates a new API key repository
func NewAPIKeyRepository(db *database.DB) *APIKeyRepositoryImpl {
	return &APIKeyRepositoryImpl{db: db}
}

// scanAPIKeyRow populates an APIKey from a row selected with apiKeyColumns
func scanAPIKeyRow(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.APIKey, error) {
	var apiKey models.APIKey

	err := scanner.Scan(
		&apiKey.ID,
		&apiKey.Name,
		&apiKey.OrganizationID,
		&apiKey.KeyHash,
		&apiKey.ExpiresAt,
		&apiKey.LastUsedAt,
		&apiKey.CreatedAt,
		&apiKey.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &apiKey, nil
}

// scanAPIKeyRows iterates through rows and scans each into APIKey models
func scanAPIKeyRows(rows pgx.Rows) ([]*models.APIKey, error) {
	defer rows.Close()

	apiKeys := make([]*models.APIKey, 0)

	for rows.Next() {
		apiKey, err := scanAPIKeyRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		apiKeys = append(apiKeys, apiKey)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return apiKeys, nil
}

func (r *APIKeyRepositoryImpl) Create(ctx context.Context, apiKey *models.APIKey) error {
	query := `
		INSERT INTO api_keys (id, name, organization_id, key_hash, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	ctx, cancel := r.db.QueryContext(ctx)
	defer cancel()

	_, err := r.db.Pool.Exec(ctx, query,
		apiKey.ID,
		apiKey.Name,
		apiKey.OrganizationID,
		apiKey.KeyHash,
		apiKey.ExpiresAt,
		apiKey.CreatedAt,
		apiKey.UpdatedAt,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

func (r *APIKeyRepositoryImpl) GetByHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_hash = $1 LIMIT 1`

	ctx, cancel := r.db.QueryContext(ctx)
	defer cancel()

	return scanAPIKeyRow(r.db.Pool.QueryRow(ctx, query, keyHash))
}

func (r *APIKeyRepositoryImpl) ListByOrganization(ctx context.Context, organizationID string) ([]*models.APIKey, error) {
	query := `
		SELECT ` + apiKeyColumns + `
		FROM api_keys
		WHERE organization_id = $1
		ORDER BY created_at DESC, id DESC
	`

	ctx, cancel := r.db.QueryContext(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query api keys: %w", err)
	}

	return scanAPIKeyRows(rows)
}

func (r *APIKeyRepositoryImpl) UpdateLastUsed(ctx context.Context, id string, usedAt time.Time) error {
	query := `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`

	ctx, cancel := r.db.QueryContext(ctx)
	defer cancel()

	if _, err := r.db.Pool.Exec(ctx, query, usedAt, id); err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

func (r *APIKeyRepositoryImpl) Delete(ctx context.Context, organizationID, id string) (bool, error) {
	query := `DELETE FROM api_keys WHERE id = $1 AND organization_id = $2`

	ctx, cancel := r.db.QueryContext(ctx)
	defer cancel()

	result, err := r.db.Pool.Exec(ctx, query, id, organizationID)
	if err != nil {
		return false, database.MapPostgresError(err)
	}

	return result.RowsAffected() > 0, nil
}

func (r *APIKeyRepositoryImpl) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM api_keys WHERE expires_at IS NOT NULL AND expires_at < $1`

	ctx, cancel := r.db.QueryContext(ctx)
	defer cancel()

	result, err := r.db.Pool.Exec(ctx, query, before)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}
