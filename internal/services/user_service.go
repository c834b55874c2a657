package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/style-suite/api/internal/platform/textutil"
	"github.com/style-suite/api/internal/repositories"
)

const (
	userIDPrefix     = "usr_"
	defaultGuestName = "Guest"
	guestRole        = "USER"
	maxNameLength    = 120
)

// UserServiceDeps bundles collaborators for guest resolution.
type UserServiceDeps struct {
	Users       repositories.UserRepository
	Clock       func() time.Time
	IDGenerator func() string
}

type userService struct {
	users repositories.UserRepository
	clock func() time.Time
	newID func() string
}

var _ UserService = (*userService)(nil)

// NewUserService constructs the guest resolver used by partner ingestion.
func NewUserService(deps UserServiceDeps) (UserService, error) {
	if deps.Users == nil {
		return nil, errors.New("user service: user repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &userService{
		users: deps.Users,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID: idGen,
	}, nil
}

// ResolveGuest returns the account registered under the e-mail, creating a guest if none exists.
func (s *userService) ResolveGuest(ctx context.Context, cmd ResolveGuestCommand) (User, error) {
	email := textutil.NormalizeEmail(cmd.Email)
	if email == "" {
		return User{}, validationError("customer email is required")
	}
	if !textutil.LooksLikeEmail(email) {
		return User{}, validationError("customer email is invalid")
	}
	name := textutil.CleanText(cmd.Name, maxNameLength)
	if name == "" {
		name = defaultGuestName
	}

	user, err := s.users.UpsertGuest(ctx, User{
		ID:        userIDPrefix + s.newID(),
		Email:     email,
		Name:      name,
		Phone:     strings.TrimSpace(cmd.Phone),
		Role:      guestRole,
		Guest:     true,
		CreatedAt: s.clock(),
	})
	if err != nil {
		return User{}, mapRepositoryError("users.resolve_guest", err)
	}
	return user, nil
}
