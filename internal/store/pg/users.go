package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"warden.dev/internal/auth"
	"warden.dev/internal/ids"
)

var _ auth.DirectoryStore = (*Store)(nil)

const userColumns = `id, first_name, last_name, email, password_hash, created_at`

func (s *Store) FindUserByEmail(ctx context.Context, email string) (auth.User, error) {
	return s.findUser(ctx, `where email = $1`, email)
}

func (s *Store) FindUserByID(ctx context.Context, id string) (auth.User, error) {
	return s.findUser(ctx, `where id = $1`, id)
}

func (s *Store) findUser(ctx context.Context, where string, arg string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	var user auth.User
	err := s.db.QueryRowContext(ctx, `select `+userColumns+` from users `+where, arg).
		Scan(&user.ID, &user.FirstName, &user.LastName, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
	roles, err := s.rolesForUsers(ctx, user.ID)
	if err != nil {
		return auth.User{}, err
	}
	user.Roles = roles[user.ID]
	return user, nil
}

func (s *Store) CreateUser(ctx context.Context, u auth.NewUser) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.User{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var user auth.User
	row := tx.QueryRowContext(ctx, `
		insert into users (id, first_name, last_name, email, password_hash)
		values ($1, $2, $3, $4, $5)
		returning `+userColumns,
		ids.New(), u.FirstName, u.LastName, u.Email, u.PasswordHash)
	if err := row.Scan(&user.ID, &user.FirstName, &user.LastName, &user.Email, &user.PasswordHash, &user.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.User{}, auth.ErrConflict
		}
		return auth.User{}, err
	}
	for _, roleID := range u.RoleIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into user_roles (user_id, role_id)
			values ($1, $2)
			on conflict do nothing
		`, user.ID, roleID); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return auth.User{}, auth.ErrNotFound
			}
			return auth.User{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return auth.User{}, err
	}
	if len(u.RoleIDs) == 0 {
		user.Roles = []auth.Role{}
		return user, nil
	}
	return s.FindUserByID(ctx, user.ID)
}

func (s *Store) ListUsers(ctx context.Context) ([]auth.User, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+userColumns+` from users order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []auth.User{}
	for rows.Next() {
		var user auth.User
		if err := rows.Scan(&user.ID, &user.FirstName, &user.LastName, &user.Email, &user.PasswordHash, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return users, nil
	}
	userIDs := make([]string, len(users))
	for i, u := range users {
		userIDs[i] = u.ID
	}
	roles, err := s.rolesForUsers(ctx, userIDs...)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].Roles = roles[users[i].ID]
	}
	return users, nil
}

func (s *Store) AssignRole(ctx context.Context, userID, roleID string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into user_roles (user_id, role_id)
		values ($1, $2)
		on conflict do nothing
	`, userID, roleID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.User{}, auth.ErrNotFound
		}
		return auth.User{}, err
	}
	return s.FindUserByID(ctx, userID)
}

func (s *Store) DeleteUser(ctx context.Context, id string) (auth.User, error) {
	user, err := s.FindUserByID(ctx, id)
	if err != nil {
		return auth.User{}, err
	}
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return auth.User{}, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return auth.User{}, err
	}
	if aff == 0 {
		return auth.User{}, auth.ErrNotFound
	}
	return user, nil
}

// rolesForUsers loads role assignments keyed by user id, in assignment order.
func (s *Store) rolesForUsers(ctx context.Context, userIDs ...string) (map[string][]auth.Role, error) {
	placeholders := make([]string, len(userIDs))
	args := make([]any, len(userIDs))
	for i, id := range userIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `
		select ur.user_id, r.id, r.name, r.permissions, r.created_at
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id in (`+strings.Join(placeholders, ", ")+`)
		order by ur.user_id, ur.position
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]auth.Role, len(userIDs))
	for _, id := range userIDs {
		result[id] = []auth.Role{}
	}
	for rows.Next() {
		var (
			userID   string
			role     auth.Role
			rawPerms []byte
		)
		if err := rows.Scan(&userID, &role.ID, &role.Name, &rawPerms, &role.CreatedAt); err != nil {
			return nil, err
		}
		if role.Permissions, err = decodePermissions(rawPerms); err != nil {
			return nil, err
		}
		result[userID] = append(result[userID], role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func decodePermissions(raw []byte) ([]string, error) {
	perms := []string{}
	if len(raw) == 0 {
		return perms, nil
	}
	if err := json.Unmarshal(raw, &perms); err != nil {
		return nil, fmt.Errorf("decode permissions: %w", err)
	}
	return perms, nil
}
