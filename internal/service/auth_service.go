package service

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"anon/internal/core"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSetupCompleted     = errors.New("setup already completed")
)

type AuthService struct {
	userRepo core.UserRepository
	cost     int
}

func NewAuthService(userRepo core.UserRepository) *AuthService {
	return &AuthService{
		userRepo: userRepo,
		cost:     bcrypt.DefaultCost,
	}
}

// SetCost overrides the bcrypt cost used for new hashes.
func (s *AuthService) SetCost(cost int) {
	s.cost = cost
}

// SetupAdmin creates the first admin user, only allowed if no users exist
func (s *AuthService) SetupAdmin(ctx context.Context, username, password string) (*core.User, error) {
	count, err := s.userRepo.CountUsers(ctx)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrSetupCompleted
	}
	return s.CreateUser(ctx, username, password, "", "admin")
}

// CreateUser hashes password and stores a new user.
func (s *AuthService) CreateUser(ctx context.Context, username, password, email, group string) (*core.User, error) {
	if username == "" || password == "" {
		return nil, core.InvalidArgument("username and password are required")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	u := &core.User{Name: username, PasswordHash: string(hashedPassword), Email: email, Group: group}
	if err := s.userRepo.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Authenticate checks credentials and returns user if valid
func (s *AuthService) Authenticate(ctx context.Context, username, password string) (*core.User, error) {
	user, err := s.userRepo.GetUserByName(ctx, username)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, ErrInvalidCredentials // Don't leak if user exists
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// HasUsers checks if system is set up
func (s *AuthService) HasUsers(ctx context.Context) (bool, error) {
	count, err := s.userRepo.CountUsers(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ResetPassword resets a user's password by username
func (s *AuthService) ResetPassword(ctx context.Context, username, newPassword string) error {
	if newPassword == "" {
		return core.InvalidArgument("password must not be empty")
	}
	user, err := s.userRepo.GetUserByName(ctx, username)
	if err != nil {
		return fmt.Errorf("user not found: %s: %w", username, err)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	return s.userRepo.UpdatePassword(ctx, user.UID, string(hashedPassword))
}
