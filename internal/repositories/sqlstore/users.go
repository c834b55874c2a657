package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	domain "github.com/style-suite/api/internal/domain"
	"github.com/style-suite/api/internal/repositories"
)

const userColumns = `id, email, name, phone, role, is_guest, created_at`

// UserRepository resolves user rows.
type UserRepository struct {
	store *Store
}

var _ repositories.UserRepository = (*UserRepository)(nil)

func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	user, err := scanUser(r.store.db.QueryRowContext(ctx, r.store.rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), userID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, notFound("users.find", "user %s not found", userID)
	}
	return user, wrapError("users.find", err)
}

// UpsertGuest relies on the unique e-mail index: concurrent calls for one address converge on a single row.
func (r *UserRepository) UpsertGuest(ctx context.Context, user domain.User) (domain.User, error) {
	const op = "users.upsert_guest"
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	if _, err := r.store.db.ExecContext(ctx, r.store.rebind(`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (email) DO NOTHING`),
		user.ID, user.Email, user.Name, user.Phone, user.Role, user.Guest, user.CreatedAt.UTC()); err != nil {
		return domain.User{}, wrapError(op, err)
	}

	stored, err := scanUser(r.store.db.QueryRowContext(ctx, r.store.rebind(`SELECT `+userColumns+` FROM users WHERE email = ?`), user.Email))
	if err != nil {
		return domain.User{}, wrapError(op, err)
	}
	return stored, nil
}

func scanUser(row rowScanner) (domain.User, error) {
	var user domain.User
	if err := row.Scan(&user.ID, &user.Email, &user.Name, &user.Phone, &user.Role, &user.Guest, &user.CreatedAt); err != nil {
		return domain.User{}, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return user, nil
}
