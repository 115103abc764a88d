// Package member resolves provider member accounts to platform users.
package member

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no user carries the requested user name.
var ErrNotFound = errors.New("member not found")

// User is the read-only view of a platform user needed for settlement.
type User struct {
	ID        int64
	UserName  string
	CreatedAt time.Time
}

// Directory looks users up by their provider-facing account name.
type Directory interface {
	FindByUserName(ctx context.Context, userName string) (User, error)
}

// PostgresDirectory reads the users table.
type PostgresDirectory struct {
	db *pgxpool.Pool
}

// NewPostgresDirectory builds a Postgres-backed member directory.
func NewPostgresDirectory(db *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// FindByUserName fetches a user by exact user name.
func (d *PostgresDirectory) FindByUserName(ctx context.Context, userName string) (User, error) {
	row := d.db.QueryRow(ctx, `SELECT id, user_name, created_at FROM users WHERE user_name = $1`, userName)
	var user User
	if err := row.Scan(&user.ID, &user.UserName, &user.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, fmt.Errorf("%q: %w", userName, ErrNotFound)
		}
		return User{}, fmt.Errorf("find member %q: %w", userName, err)
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return user, nil
}

// MemoryDirectory is an in-memory Directory for tests and local runs.
type MemoryDirectory struct {
	mu     sync.RWMutex
	nextID int64
	users  map[string]User
}

// NewMemoryDirectory builds an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{users: make(map[string]User)}
}

// Add registers a user with the given id. A zero id is assigned.
func (d *MemoryDirectory) Add(user User) User {
	d.mu.Lock()
	defer d.mu.Unlock()
	if user.ID == 0 {
		d.nextID++
		user.ID = d.nextID
	} else if user.ID > d.nextID {
		d.nextID = user.ID
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	d.users[user.UserName] = user
	return user
}

func (d *MemoryDirectory) FindByUserName(_ context.Context, userName string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	user, ok := d.users[userName]
	if !ok {
		return User{}, fmt.Errorf("%q: %w", userName, ErrNotFound)
	}
	return user, nil
}
