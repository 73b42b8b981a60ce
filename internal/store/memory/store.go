// Package memory is a process-local identity store used in development mode
// and tests. All reads return copies.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"warden.dev/internal/auth"
	"warden.dev/internal/ids"
)

type userRow struct {
	user    auth.User
	roleIDs []string
}

type Store struct {
	mu         sync.RWMutex
	users      map[string]*userRow
	emailIndex map[string]string
	roles      map[string]auth.Role
	roleByName map[string]string
	now        func() time.Time
}

var _ auth.DirectoryStore = (*Store)(nil)

func New() *Store {
	return &Store{
		users:      make(map[string]*userRow),
		emailIndex: make(map[string]string),
		roles:      make(map[string]auth.Role),
		roleByName: make(map[string]string),
		now:        time.Now,
	}
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emailIndex[email]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return s.materialize(s.users[id]), nil
}

func (s *Store) FindUserByID(_ context.Context, id string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.users[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return s.materialize(row), nil
}

func (s *Store) FindRolesByNames(_ context.Context, names []string) ([]auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []auth.Role
	for _, name := range names {
		if id, ok := s.roleByName[name]; ok {
			out = append(out, copyRole(s.roles[id]))
		}
	}
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, u auth.NewUser) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.emailIndex[u.Email]; exists {
		return auth.User{}, auth.ErrConflict
	}
	for _, rid := range u.RoleIDs {
		if _, ok := s.roles[rid]; !ok {
			return auth.User{}, auth.ErrNotFound
		}
	}
	row := &userRow{
		user: auth.User{
			ID:           ids.New(),
			FirstName:    u.FirstName,
			LastName:     u.LastName,
			Email:        u.Email,
			PasswordHash: u.PasswordHash,
			CreatedAt:    s.now().UTC(),
		},
		roleIDs: appendUnique(nil, u.RoleIDs...),
	}
	s.users[row.user.ID] = row
	s.emailIndex[u.Email] = row.user.ID
	return s.materialize(row), nil
}

func (s *Store) ListUsers(_ context.Context) ([]auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.User, 0, len(s.users))
	for _, row := range s.users {
		out = append(out, s.materialize(row))
	}
	// ULIDs sort by creation time
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AssignRole(_ context.Context, userID, roleID string) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.users[userID]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	if _, ok := s.roles[roleID]; !ok {
		return auth.User{}, auth.ErrNotFound
	}
	row.roleIDs = appendUnique(row.roleIDs, roleID)
	return s.materialize(row), nil
}

func (s *Store) DeleteUser(_ context.Context, id string) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.users[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	user := s.materialize(row)
	delete(s.users, id)
	delete(s.emailIndex, row.user.Email)
	return user, nil
}

func (s *Store) CreateRole(_ context.Context, name string, permissions []string) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.roleByName[name]; exists {
		return auth.Role{}, auth.ErrConflict
	}
	role := auth.Role{
		ID:          ids.New(),
		Name:        name,
		Permissions: append([]string{}, permissions...),
		CreatedAt:   s.now().UTC(),
	}
	s.roles[role.ID] = role
	s.roleByName[name] = role.ID
	return copyRole(role), nil
}

func (s *Store) FindRoleByID(_ context.Context, id string) (auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[id]
	if !ok {
		return auth.Role{}, auth.ErrNotFound
	}
	return copyRole(role), nil
}

func (s *Store) FindRoleByName(_ context.Context, name string) (auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.roleByName[name]
	if !ok {
		return auth.Role{}, auth.ErrNotFound
	}
	return copyRole(s.roles[id]), nil
}

func (s *Store) ListRoles(_ context.Context) ([]auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, copyRole(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Ping satisfies readiness probes.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) materialize(row *userRow) auth.User {
	u := row.user
	u.Roles = make([]auth.Role, 0, len(row.roleIDs))
	for _, rid := range row.roleIDs {
		if r, ok := s.roles[rid]; ok {
			u.Roles = append(u.Roles, copyRole(r))
		}
	}
	return u
}

func copyRole(r auth.Role) auth.Role {
	r.Permissions = append([]string{}, r.Permissions...)
	return r
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, have := range dst {
			if have == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}
