package accounts

import (
	"time"

	"github.com/cashflow/platform/internal/contracts"
	"github.com/cashflow/platform/internal/platform/auth"
	"github.com/cashflow/platform/internal/store"
)

const (
	RoleIDUser      = 1
	RoleIDModerator = 2
	RoleIDAdmin     = 3
)

// User is owned by this service. PasswordHash never leaves it.
type User struct {
	Email        string `json:"email"`
	UserName     string `json:"user_name"`
	Firstname    string `json:"firstname"`
	Lastname     string `json:"lastname"`
	Gender       string `json:"gender"`
	RoleID       int    `json:"role_id"`
	IsActive     bool   `json:"is_active"`
	IsBanned     bool   `json:"is_banned"`
	PasswordHash string `json:"password_hash"`
}

// EmailClaim reserves a normalized email for one user. Its public id is the
// email itself, which makes registration unique without a secondary index.
type EmailClaim struct {
	UserID string `json:"user_id"`
}

func roleName(roleID int) string {
	switch roleID {
	case RoleIDModerator:
		return auth.RoleModerator
	case RoleIDAdmin:
		return auth.RoleAdmin
	default:
		return auth.RoleUser
	}
}

func userEvent(rec store.Record[User]) contracts.UserEvent {
	u := rec.State
	return contracts.UserEvent{
		Header:    contracts.NewHeader(rec.Meta),
		Email:     u.Email,
		UserName:  u.UserName,
		Firstname: u.Firstname,
		Lastname:  u.Lastname,
		Gender:    u.Gender,
		RoleID:    u.RoleID,
		IsActive:  u.IsActive,
		IsBanned:  u.IsBanned,
	}
}

type UserView struct {
	PublicID      string     `json:"public_id"`
	Version       int64      `json:"version"`
	Email         string     `json:"email"`
	UserName      string     `json:"user_name"`
	Firstname     string     `json:"firstname"`
	Lastname      string     `json:"lastname"`
	Gender        string     `json:"gender"`
	Role          string     `json:"role"`
	IsActive      bool       `json:"is_active"`
	IsBanned      bool       `json:"is_banned"`
	CreatedAt     time.Time  `json:"created_at"`
	LastUpdatedAt *time.Time `json:"last_updated_at,omitempty"`
}

func viewOf(rec store.Record[User]) UserView {
	u := rec.State
	return UserView{
		PublicID:      rec.Meta.PublicID,
		Version:       rec.Meta.Version,
		Email:         u.Email,
		UserName:      u.UserName,
		Firstname:     u.Firstname,
		Lastname:      u.Lastname,
		Gender:        u.Gender,
		Role:          roleName(u.RoleID),
		IsActive:      u.IsActive,
		IsBanned:      u.IsBanned,
		CreatedAt:     rec.Meta.CreatedAt,
		LastUpdatedAt: rec.Meta.LastUpdatedAt,
	}
}
