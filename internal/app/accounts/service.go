package accounts

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/cashflow/platform/internal/contracts"
	"github.com/cashflow/platform/internal/entity"
	"github.com/cashflow/platform/internal/platform/auth"
	"github.com/cashflow/platform/internal/replication"
	"github.com/cashflow/platform/internal/store"
	"github.com/nats-io/nuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const ServiceName = "accounts"

var (
	ErrInvalidEmail       = errors.New("a valid email is required")
	ErrInvalidUserName    = errors.New("user_name is required")
	ErrInvalidPassword    = errors.New("password must be at least 8 characters")
	ErrEmailTaken         = errors.New("email is already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserBanned         = errors.New("user is banned")
	ErrUserInactive       = errors.New("user is deactivated")
	ErrForbidden          = errors.New("insufficient permissions for this action")
	ErrNotFound           = errors.New("user not found")
)

type Deps struct {
	Users  store.Backend[User]
	Emails store.Backend[EmailClaim]
	Bus    replication.Bus
	Tokens auth.Manager
	Policy replication.Policy
	Log    *log.Entry
}

type Service struct {
	Users     *store.Repository[User, entity.Owned]
	Emails    *store.Repository[EmailClaim, entity.Owned]
	Publisher *replication.Publisher[User, contracts.UserEvent]
	Tokens    auth.Manager
	Policy    replication.Policy
	Log       *log.Entry
	NewID     func() string
	Hash      func(password string) (string, error)
	Compare   func(hash, password string) error
}

func NewService(deps Deps) *Service {
	return &Service{
		Users:  store.NewRepository[User, entity.Owned](deps.Users),
		Emails: store.NewRepository[EmailClaim, entity.Owned](deps.Emails),
		Publisher: &replication.Publisher[User, contracts.UserEvent]{
			Emitter: replication.Emitter{Bus: deps.Bus, Log: deps.Log},
			Created: contracts.UserCreated,
			Updated: contracts.UserUpdated,
			Project: userEvent,
		},
		Tokens: deps.Tokens,
		Policy: deps.Policy,
		Log:    deps.Log,
		NewID:  nuid.Next,
		Hash: func(password string) (string, error) {
			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			return string(hash), err
		},
		Compare: func(hash, password string) error {
			return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
		},
	}
}

type RegisterRequest struct {
	Email     string `json:"email"`
	UserName  string `json:"user_name"`
	Password  string `json:"password"`
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
	Gender    string `json:"gender"`
}

type AuthResponse struct {
	Token string   `json:"token"`
	User  UserView `json:"user"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r RegisterRequest) validate() error {
	if _, err := mail.ParseAddress(normalizeEmail(r.Email)); err != nil {
		return ErrInvalidEmail
	}
	if strings.TrimSpace(r.UserName) == "" {
		return ErrInvalidUserName
	}
	if len(strings.TrimSpace(r.Password)) < 8 {
		return ErrInvalidPassword
	}
	return nil
}

// Register creates the user, then claims the email and publishes
// user.created. A user whose claim fails is removed again; one left behind
// by a crash is never published and cannot log in.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (AuthResponse, error) {
	if err := req.validate(); err != nil {
		return AuthResponse{}, err
	}
	hash, err := s.Hash(req.Password)
	if err != nil {
		return AuthResponse{}, err
	}

	id := s.NewID()
	actor := entity.Actor{UserID: id}
	email := normalizeEmail(req.Email)
	rec, err := s.Users.Create(ctx, actor, store.Record[User]{
		Meta: entity.Meta{PublicID: id},
		State: User{
			Email:        email,
			UserName:     strings.TrimSpace(req.UserName),
			Firstname:    strings.TrimSpace(req.Firstname),
			Lastname:     strings.TrimSpace(req.Lastname),
			Gender:       strings.TrimSpace(req.Gender),
			RoleID:       RoleIDUser,
			IsActive:     true,
			PasswordHash: hash,
		},
	})
	if err != nil {
		return AuthResponse{}, err
	}

	if _, err := s.Emails.Create(ctx, actor, store.Record[EmailClaim]{
		Meta:  entity.Meta{PublicID: email},
		State: EmailClaim{UserID: id},
	}); err != nil {
		if delErr := s.Users.Delete(ctx, rec); delErr != nil {
			s.Log.WithError(delErr).WithField("user_id", id).Warn("failed to remove unclaimed user")
		}
		if errors.Is(err, store.ErrConflict) {
			return AuthResponse{}, ErrEmailTaken
		}
		return AuthResponse{}, err
	}

	s.Publisher.Publish(ctx, rec)
	return s.session(rec)
}

func (s *Service) Login(ctx context.Context, email, password string) (AuthResponse, error) {
	email = normalizeEmail(email)
	if email == "" || strings.TrimSpace(password) == "" {
		return AuthResponse{}, ErrInvalidCredentials
	}
	claim, err := s.Emails.Find(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return AuthResponse{}, ErrInvalidCredentials
		}
		return AuthResponse{}, err
	}
	rec, err := s.Users.Find(ctx, claim.State.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return AuthResponse{}, ErrInvalidCredentials
		}
		return AuthResponse{}, err
	}
	if err := s.Compare(rec.State.PasswordHash, password); err != nil {
		return AuthResponse{}, ErrInvalidCredentials
	}
	switch {
	case rec.State.IsBanned:
		return AuthResponse{}, ErrUserBanned
	case !rec.State.IsActive:
		return AuthResponse{}, ErrUserInactive
	}
	return s.session(rec)
}

func (s *Service) session(rec store.Record[User]) (AuthResponse, error) {
	token, err := s.Tokens.Sign(rec.Meta.PublicID, rec.State.UserName, roleName(rec.State.RoleID))
	if err != nil {
		return AuthResponse{}, err
	}
	return AuthResponse{Token: token, User: viewOf(rec)}, nil
}

func (s *Service) Get(ctx context.Context, id string) (store.Record[User], error) {
	rec, err := s.Users.Find(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Record[User]{}, ErrNotFound
	}
	return rec, err
}

type ProfileUpdate struct {
	UserName  *string `json:"user_name"`
	Firstname *string `json:"firstname"`
	Lastname  *string `json:"lastname"`
	Gender    *string `json:"gender"`
}

// UpdateProfile lets a user edit their own profile.
func (s *Service) UpdateProfile(ctx context.Context, actor entity.Actor, id string, upd ProfileUpdate) (store.Record[User], error) {
	if actor.UserID != id {
		return store.Record[User]{}, ErrForbidden
	}
	return s.update(ctx, actor, id, func(u *User) error {
		if upd.UserName != nil {
			name := strings.TrimSpace(*upd.UserName)
			if name == "" {
				return ErrInvalidUserName
			}
			u.UserName = name
		}
		if upd.Firstname != nil {
			u.Firstname = strings.TrimSpace(*upd.Firstname)
		}
		if upd.Lastname != nil {
			u.Lastname = strings.TrimSpace(*upd.Lastname)
		}
		if upd.Gender != nil {
			u.Gender = strings.TrimSpace(*upd.Gender)
		}
		return nil
	})
}

// SetActive soft-deactivates or reactivates a user.
func (s *Service) SetActive(ctx context.Context, actor entity.Actor, id string, active bool) (store.Record[User], error) {
	return s.update(ctx, actor, id, func(u *User) error {
		u.IsActive = active
		return nil
	})
}

// SetRole promotes or demotes a user.
func (s *Service) SetRole(ctx context.Context, actor entity.Actor, id string, roleID int) (store.Record[User], error) {
	if roleID < RoleIDUser || roleID > RoleIDAdmin {
		return store.Record[User]{}, ErrForbidden
	}
	return s.update(ctx, actor, id, func(u *User) error {
		u.RoleID = roleID
		return nil
	})
}

func (s *Service) update(ctx context.Context, actor entity.Actor, id string, fn func(*User) error) (store.Record[User], error) {
	rec, err := s.Users.Update(ctx, actor, id, func(rec *store.Record[User]) error {
		return fn(&rec.State)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Record[User]{}, ErrNotFound
		}
		return store.Record[User]{}, err
	}
	s.Publisher.Publish(ctx, rec)
	return rec, nil
}
