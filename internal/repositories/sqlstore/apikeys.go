package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	domain "github.com/style-suite/api/internal/domain"
	"github.com/style-suite/api/internal/repositories"
)

const apiKeyColumns = `id, api_key, name, description, is_active, last_used_at, created_at, updated_at`

// APIKeyRepository stores partner API keys.
type APIKeyRepository struct {
	store *Store
}

var _ repositories.APIKeyRepository = (*APIKeyRepository)(nil)

func (r *APIKeyRepository) Insert(ctx context.Context, key domain.APIKey) error {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	_, err := r.store.db.ExecContext(ctx, r.store.rebind(`INSERT INTO api_keys (`+apiKeyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		key.ID, key.Key, key.Name, key.Description, key.Active, nullTime(key.LastUsedAt), key.CreatedAt.UTC(), key.UpdatedAt.UTC())
	return wrapError("api_keys.insert", err)
}

func (r *APIKeyRepository) FindByKey(ctx context.Context, key string) (domain.APIKey, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	record, err := scanAPIKey(r.store.db.QueryRowContext(ctx, r.store.rebind(`SELECT `+apiKeyColumns+` FROM api_keys WHERE api_key = ?`), key))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.APIKey{}, notFound("api_keys.find", "api key not found")
	}
	if err != nil {
		return domain.APIKey{}, wrapError("api_keys.find", err)
	}
	return record, nil
}

func (r *APIKeyRepository) List(ctx context.Context) ([]domain.APIKey, error) {
	const op = "api_keys.list"
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	rows, err := r.store.db.QueryContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, wrapError(op, err)
	}
	defer rows.Close()

	keys := make([]domain.APIKey, 0)
	for rows.Next() {
		record, err := scanAPIKey(rows)
		if err != nil {
			return nil, wrapError(op, err)
		}
		keys = append(keys, record)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(op, err)
	}
	return keys, nil
}

func (r *APIKeyRepository) Delete(ctx context.Context, keyID string) error {
	const op = "api_keys.delete"
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	res, err := r.store.db.ExecContext(ctx, r.store.rebind(`DELETE FROM api_keys WHERE id = ?`), keyID)
	if err != nil {
		return wrapError(op, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return notFound(op, "api key %s not found", keyID)
	}
	return nil
}

func (r *APIKeyRepository) SetActive(ctx context.Context, keyID string, active bool, updatedAt time.Time) (domain.APIKey, error) {
	const op = "api_keys.set_active"
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	res, err := r.store.db.ExecContext(ctx, r.store.rebind(`UPDATE api_keys SET is_active = ?, updated_at = ? WHERE id = ?`),
		active, updatedAt.UTC(), keyID)
	if err != nil {
		return domain.APIKey{}, wrapError(op, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return domain.APIKey{}, notFound(op, "api key %s not found", keyID)
	}

	record, err := scanAPIKey(r.store.db.QueryRowContext(ctx, r.store.rebind(`SELECT `+apiKeyColumns+` FROM api_keys WHERE id = ?`), keyID))
	if err != nil {
		return domain.APIKey{}, wrapError(op, err)
	}
	return record, nil
}

func (r *APIKeyRepository) TouchLastUsed(ctx context.Context, keyID string, usedAt time.Time) error {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	_, err := r.store.db.ExecContext(ctx, r.store.rebind(`UPDATE api_keys SET last_used_at = ? WHERE id = ?`), usedAt.UTC(), keyID)
	return wrapError("api_keys.touch", err)
}

func scanAPIKey(row rowScanner) (domain.APIKey, error) {
	var (
		key      domain.APIKey
		lastUsed sql.NullTime
	)
	if err := row.Scan(&key.ID, &key.Key, &key.Name, &key.Description, &key.Active, &lastUsed, &key.CreatedAt, &key.UpdatedAt); err != nil {
		return domain.APIKey{}, err
	}
	if lastUsed.Valid {
		used := lastUsed.Time.UTC()
		key.LastUsedAt = &used
	}
	key.CreatedAt = key.CreatedAt.UTC()
	key.UpdatedAt = key.UpdatedAt.UTC()
	return key, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
