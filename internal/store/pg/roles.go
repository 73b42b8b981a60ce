package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"warden.dev/internal/auth"
	"warden.dev/internal/ids"
)

const roleColumns = `id, name, permissions, created_at`

func (s *Store) CreateRole(ctx context.Context, name string, permissions []string) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	if permissions == nil {
		permissions = []string{}
	}
	permsJSON, err := json.Marshal(permissions)
	if err != nil {
		return auth.Role{}, fmt.Errorf("marshal permissions: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		insert into roles (id, name, permissions)
		values ($1, $2, $3)
		returning `+roleColumns,
		ids.New(), name, permsJSON)
	role, err := scanRole(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.Role{}, auth.ErrConflict
		}
		return auth.Role{}, err
	}
	return role, nil
}

func (s *Store) FindRoleByID(ctx context.Context, id string) (auth.Role, error) {
	return s.findRole(ctx, `where id = $1`, id)
}

func (s *Store) FindRoleByName(ctx context.Context, name string) (auth.Role, error) {
	return s.findRole(ctx, `where name = $1`, name)
}

func (s *Store) findRole(ctx context.Context, where, arg string) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	role, err := scanRole(s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Role{}, auth.ErrNotFound
	}
	return role, err
}

func (s *Store) FindRolesByNames(ctx context.Context, names []string) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	if len(names) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(names))
	args := make([]any, len(names))
	for i, n := range names {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = n
	}
	roles, err := s.queryRoles(ctx, `
		select `+roleColumns+`
		from roles
		where name in (`+strings.Join(placeholders, ", ")+`)
	`, args...)
	if err != nil {
		return nil, err
	}
	// Same order as the memory store: the order the names were asked for.
	pos := make(map[string]int, len(names))
	for i, n := range names {
		if _, seen := pos[n]; !seen {
			pos[n] = i
		}
	}
	sort.SliceStable(roles, func(i, j int) bool { return pos[roles[i].Name] < pos[roles[j].Name] })
	return roles, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	return s.queryRoles(ctx, `select `+roleColumns+` from roles order by name`)
}

func (s *Store) queryRoles(ctx context.Context, query string, args ...any) ([]auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := []auth.Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRole(row scanner) (auth.Role, error) {
	var (
		role     auth.Role
		rawPerms []byte
	)
	if err := row.Scan(&role.ID, &role.Name, &rawPerms, &role.CreatedAt); err != nil {
		return auth.Role{}, err
	}
	perms, err := decodePermissions(rawPerms)
	if err != nil {
		return auth.Role{}, err
	}
	role.Permissions = perms
	return role, nil
}
