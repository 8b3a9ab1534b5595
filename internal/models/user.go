package models

import "time"

// Built-in roles issued by the Users collaborator.
const (
	RoleAdmin     = "admin"
	RoleOrganizer = "organizer"
	RoleStudent   = "student"
)

// User is the row owned by the Users collaborator in the users table.
type User struct {
	ID           int64      `db:"id"`
	Email        string     `db:"email"`
	PasswordHash string     `db:"password_hash"`
	DisplayName  string     `db:"display_name"`
	Roles        []string   `db:"-"`
	Active       bool       `db:"active"`
	LastLogoutAt *time.Time `db:"last_logout_at"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// UserIdentity is an immutable snapshot of a user as seen by the session subsystem.
type UserIdentity struct {
	ID           int64
	Email        string
	DisplayName  string
	Roles        []string
	LastLogoutAt *time.Time
}

// Identity projects the user row into a snapshot.
func (u *User) Identity() *UserIdentity {
	roles := make([]string, len(u.Roles))
	copy(roles, u.Roles)
	var lastLogout *time.Time
	if u.LastLogoutAt != nil {
		ts := *u.LastLogoutAt
		lastLogout = &ts
	}
	return &UserIdentity{
		ID:           u.ID,
		Email:        u.Email,
		DisplayName:  u.DisplayName,
		Roles:        roles,
		LastLogoutAt: lastLogout,
	}
}

// HasRole reports whether the identity carries role.
func (i *UserIdentity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Info returns the public projection of the identity.
func (i *UserIdentity) Info() UserInfo {
	roles := i.Roles
	if roles == nil {
		roles = []string{}
	}
	return UserInfo{
		ID:          i.ID,
		Email:       i.Email,
		DisplayName: i.DisplayName,
		Roles:       roles,
	}
}
