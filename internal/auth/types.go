package auth

import "time"

// User is the stored identity record. PasswordHash never leaves the auth package
// boundary; use Identity for anything returned to callers.
type User struct {
	ID           string
	FirstName    string
	LastName     string
	Email        string
	PasswordHash string
	Roles        []Role
	CreatedAt    time.Time
}

// Identity is a user with secret material stripped.
type Identity struct {
	ID        string    `json:"id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Email     string    `json:"email"`
	Roles     []Role    `json:"roles"`
	CreatedAt time.Time `json:"createdAt"`
}

// RoleNames returns role names in assignment order.
func (i Identity) RoleNames() []string {
	return roleNames(i.Roles)
}

// Sanitize drops the password hash.
func (u User) Sanitize() Identity {
	roles := make([]Role, len(u.Roles))
	copy(roles, u.Roles)
	return Identity{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		Roles:     roles,
		CreatedAt: u.CreatedAt,
	}
}

// Role is a named permission group. Permissions are advisory labels and are
// not evaluated by the authorization engine.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewUser carries the fields needed to persist a freshly registered user.
type NewUser struct {
	FirstName    string
	LastName     string
	Email        string
	PasswordHash string
	RoleIDs      []string
}

// VerifiedIdentity is the outcome of a successful bearer token check.
// Roles are the ones held at verification time.
type VerifiedIdentity struct {
	Subject string   `json:"id"`
	Email   string   `json:"email"`
	Roles   []string `json:"roles"`
}

// Token is a signed access token together with its expiry.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func roleNames(roles []Role) []string {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return names
}
