package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Account represents a registered user account.
type Account struct {
	ID             uuid.UUID
	Email          string
	FirstName      string
	LastName       string
	PasswordHash   string
	ProfilePicture *string
	IsActive       bool
	IsStaff        bool
	IsSuperuser    bool
	LastLogin      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// FullName returns the first and last name joined by a space.
func (a *Account) FullName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// CanAuthenticate reports whether the account may log in or use auth tokens.
// Inactive accounts never authenticate.
func (a *Account) CanAuthenticate() bool {
	return a.IsActive
}

// CanManage reports whether the account may modify or delete target.
func (a *Account) CanManage(target uuid.UUID) bool {
	return a.ID == target || a.IsSuperuser
}

// AccountUpdate holds optional profile changes. Nil fields are left untouched.
type AccountUpdate struct {
	FirstName *string
	LastName  *string
	Email     *string
}

// Page is a window into an ordered listing.
type Page struct {
	Limit  int
	Offset int
}
