package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"anon/internal/core"
)

// fakeUserRepo is an in-memory core.UserRepository.
type fakeUserRepo struct {
	users  []*core.User
	err    error
	nextID int64
}

func (r *fakeUserRepo) CreateUser(_ context.Context, u *core.User) error {
	if r.err != nil {
		return r.err
	}
	for _, existing := range r.users {
		if existing.Name == u.Name {
			return core.ErrDuplicate
		}
	}
	r.nextID++
	u.UID = r.nextID
	cp := *u
	r.users = append(r.users, &cp)
	return nil
}

func (r *fakeUserRepo) GetUserByName(_ context.Context, name string) (*core.User, error) {
	if r.err != nil {
		return nil, r.err
	}
	for _, u := range r.users {
		if u.Name == name {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("user %q: %w", name, core.ErrNotFound)
}

func (r *fakeUserRepo) GetByID(_ context.Context, uid int64) (*core.User, error) {
	for _, u := range r.users {
		if u.UID == uid {
			cp := *u
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (r *fakeUserRepo) List(context.Context, int, interface{}) (*core.CursorPage, error) {
	return &core.CursorPage{}, nil
}

func (r *fakeUserRepo) UpdatePassword(_ context.Context, uid int64, hash string) error {
	for _, u := range r.users {
		if u.UID == uid {
			u.PasswordHash = hash
			return nil
		}
	}
	return core.ErrNotFound
}

func (r *fakeUserRepo) CountUsers(context.Context) (int64, error) {
	if r.err != nil {
		return 0, r.err
	}
	return int64(len(r.users)), nil
}

func newAuth(repo core.UserRepository) *AuthService {
	s := NewAuthService(repo)
	s.cost = bcrypt.MinCost
	return s
}

func TestSetupAdminOnlyOnce(t *testing.T) {
	ctx := context.Background()
	repo := &fakeUserRepo{}
	s := newAuth(repo)

	has, err := s.HasUsers(ctx)
	require.NoError(t, err)
	assert.False(t, has)

	admin, err := s.SetupAdmin(ctx, "root", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "admin", admin.Group)
	assert.NotEqual(t, "s3cret", admin.PasswordHash)

	has, err = s.HasUsers(ctx)
	require.NoError(t, err)
	assert.True(t, has)

	_, err = s.SetupAdmin(ctx, "other", "pw")
	assert.ErrorIs(t, err, ErrSetupCompleted)
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	s := newAuth(&fakeUserRepo{})
	_, err := s.CreateUser(ctx, "alice", "correct horse", "a@example.com", "user")
	require.NoError(t, err)

	u, err := s.Authenticate(ctx, "alice", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", u.Email)

	_, err = s.Authenticate(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Authenticate(ctx, "nobody", "x")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	boom := errors.New("db down")
	_, err = newAuth(&fakeUserRepo{err: boom}).Authenticate(ctx, "alice", "x")
	assert.ErrorIs(t, err, boom)
}

func TestCreateUserValidation(t *testing.T) {
	ctx := context.Background()
	s := newAuth(&fakeUserRepo{})
	_, err := s.CreateUser(ctx, "", "pw", "", "")
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
	_, err = s.CreateUser(ctx, "bob", "", "", "")
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	_, err = s.CreateUser(ctx, "bob", "pw", "", "")
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, "bob", "pw", "", "")
	assert.ErrorIs(t, err, core.ErrDuplicate)
}

func TestResetPassword(t *testing.T) {
	ctx := context.Background()
	s := newAuth(&fakeUserRepo{})
	_, err := s.CreateUser(ctx, "alice", "old", "", "")
	require.NoError(t, err)

	require.NoError(t, s.ResetPassword(ctx, "alice", "new"))
	_, err = s.Authenticate(ctx, "alice", "new")
	assert.NoError(t, err)
	_, err = s.Authenticate(ctx, "alice", "old")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	assert.ErrorIs(t, s.ResetPassword(ctx, "ghost", "x"), core.ErrNotFound)
	assert.ErrorIs(t, s.ResetPassword(ctx, "alice", ""), core.ErrInvalidArgument)
}

func TestSecretBox(t *testing.T) {
	box, err := NewSecretBox(testServerKey)
	require.NoError(t, err)

	sealed, err := box.Seal("db-password")
	require.NoError(t, err)
	assert.True(t, len(sealed) > len(SealedPrefix))
	assert.NotContains(t, sealed, "db-password")

	plain, err := box.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "db-password", plain)

	plain, err = box.Open("not sealed")
	require.NoError(t, err)
	assert.Equal(t, "not sealed", plain)

	other, err := NewSecretBox(testServerKey + "!")
	require.NoError(t, err)
	_, err = other.Open(sealed)
	assert.Error(t, err)

	_, err = box.Open(SealedPrefix + "AAAA")
	assert.Error(t, err)

	_, err = NewSecretBox("short")
	assert.Error(t, err)
}
