package data

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"anon/internal/core"
	"anon/internal/query"
)

var userListColumns = []string{"uid", "name", "email", "group", "created_at"}

// UserRepo persists users through the query builder.
type UserRepo struct {
	exec *query.Executor
}

func NewUserRepo(exec *query.Executor) *UserRepo {
	return &UserRepo{exec: exec}
}

// CreateUser inserts u and fills in its UID.
func (r *UserRepo) CreateUser(ctx context.Context, u *core.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	if u.Group == "" {
		u.Group = "user"
	}

	row := map[string]interface{}{
		"name":       u.Name,
		"password":   u.PasswordHash,
		"email":      nil,
		"group":      u.Group,
		"created_at": u.CreatedAt,
	}
	if u.Email != "" {
		row["email"] = u.Email
	}

	id, err := r.exec.Table(usersTable).Insert(ctx, row)
	if err != nil {
		if IsDuplicate(err) {
			return fmt.Errorf("user %q: %w", u.Name, core.ErrDuplicate)
		}
		return err
	}
	u.UID = id
	// A lookup may have cached the miss for this uid.
	return r.exec.Forget(ctx, userCacheKey(id))
}

// GetUserByName retrieves a user by login name
func (r *UserRepo) GetUserByName(ctx context.Context, name string) (*core.User, error) {
	row, err := r.exec.Table(usersTable).Where("name", name).First(ctx)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("user %q: %w", name, core.ErrNotFound)
	}
	return userFromRow(row)
}

func userCacheKey(uid int64) string {
	return "user:" + strconv.FormatInt(uid, 10)
}

// GetByID is served from the executor's result cache when one is configured.
// The password hash is never loaded, so it never reaches the cache.
func (r *UserRepo) GetByID(ctx context.Context, uid int64) (*core.User, error) {
	row, err := r.exec.Table(usersTable).Select(userListColumns...).Where("uid", uid).
		Cache(0, userCacheKey(uid)).First(ctx)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("user %d: %w", uid, core.ErrNotFound)
	}
	return userFromRow(row)
}

// List returns one page of users ordered by uid, without password hashes.
func (r *UserRepo) List(ctx context.Context, limit int, cursor interface{}) (*core.CursorPage, error) {
	return r.exec.Table(usersTable).Select(userListColumns...).CursorPaginate(ctx, limit, cursor, "uid")
}

func (r *UserRepo) UpdatePassword(ctx context.Context, uid int64, passwordHash string) error {
	n, err := r.exec.Table(usersTable).Where("uid", uid).Update(ctx, map[string]interface{}{"password": passwordHash})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("user %d: %w", uid, core.ErrNotFound)
	}
	return r.exec.Forget(ctx, userCacheKey(uid))
}

// CountUsers returns total number of users (useful for setup check)
func (r *UserRepo) CountUsers(ctx context.Context) (int64, error) {
	return r.exec.Table(usersTable).Count(ctx)
}

func userFromRow(row core.Row) (*core.User, error) {
	uid, err := asInt64(row["uid"])
	if err != nil {
		return nil, fmt.Errorf("uid: %w", err)
	}
	created, err := asTime(row["created_at"])
	if err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	return &core.User{
		UID:          uid,
		Name:         asString(row["name"]),
		PasswordHash: asString(row["password"]),
		Email:        asString(row["email"]),
		Group:        asString(row["group"]),
		CreatedAt:    created,
	}, nil
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	}
	return fmt.Sprint(v)
}

func asInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	}
	return 0, fmt.Errorf("unexpected type %T", v)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func asTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t, nil
	case int64:
		return time.Unix(t, 0).UTC(), nil
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognised time %q", t)
	}
	return time.Time{}, fmt.Errorf("unexpected type %T", v)
}
