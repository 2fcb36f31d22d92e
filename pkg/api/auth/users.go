package auth

import (
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Common errors for user table operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrDuplicateUser      = errors.New("user already exists")
	ErrMissingUsername    = errors.New("username is required")
	ErrMissingPassword    = errors.New("password hash is required")
)

// User is one static API user loaded from configuration.
type User struct {
	Username     string
	PasswordHash string
	Admin        bool
}

// ID returns the stable identifier stamped on sessions and jobs. The
// static table has no generated ids, so the username is the identity.
func (u *User) ID() string {
	return u.Username
}

// Role returns the role claim value for the user.
func (u *User) Role() string {
	if u.Admin {
		return "admin"
	}
	return "user"
}

// Users is the read-only user table checked at login. Loaded from
// configuration at startup; all methods are safe for concurrent use.
type Users struct {
	mu    sync.RWMutex
	users map[string]*User
}

// NewUsers indexes the configured users by username.
func NewUsers(users []User) (*Users, error) {
	table := &Users{users: make(map[string]*User, len(users))}
	for i := range users {
		u := users[i]
		if u.Username == "" {
			return nil, ErrMissingUsername
		}
		if u.PasswordHash == "" {
			return nil, ErrMissingPassword
		}
		if _, exists := table.users[u.Username]; exists {
			return nil, ErrDuplicateUser
		}
		table.users[u.Username] = &u
	}
	return table, nil
}

// Get returns a user by username.
// Returns ErrUserNotFound if the user doesn't exist.
func (t *Users) Get(username string) (*User, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	user, ok := t.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// ValidateCredentials verifies username/password credentials.
// Returns ErrInvalidCredentials if the credentials are invalid. Unknown
// usernames burn a bcrypt comparison anyway so login timing does not
// reveal which usernames exist.
func (t *Users) ValidateCredentials(username, password string) (*User, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	user, ok := t.users[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

// Count returns the number of configured users.
func (t *Users) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.users)
}

// dummyHash is a valid bcrypt hash of an unguessable string, compared
// against when the username is unknown.
var dummyHash = func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("gatefs-no-such-user"), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return h
}()

// HashPassword creates a bcrypt hash of the given password. Used by the
// `gatefs hash` command to prepare config entries.
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", errors.New("password must be at least 8 characters")
	}
	if len(password) > 72 {
		return "", errors.New("password must be at most 72 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
