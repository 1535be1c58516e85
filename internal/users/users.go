package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"everestmart-backend/internal/auth"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid email or password")

type Conf struct {
	db *sql.DB
}

func NewConf(db *sql.DB) (*Conf, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	return &Conf{db: db}, nil
}

func (c *Conf) InsertUser(ctx context.Context, nu NewUser) (User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(nu.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hashing password: %w", err)
	}

	query := `
		INSERT INTO users (id, name, email, phone, password_hash, roles, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING id, name, email, phone, roles, created_at, updated_at
	`
	var u User
	var roles string
	err = c.db.QueryRowContext(ctx, query, uuid.NewString(), nu.Name, nu.Email, nu.Phone,
		string(hash), auth.RoleUser).
		Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &roles, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return User{}, fmt.Errorf("failed to insert user: %w", err)
	}
	u.Roles = splitRoles(roles)
	return u, nil
}

// Roles are persisted as a comma-separated list; the set is tiny and the
// database/sql driver has no native string-slice scan.
func splitRoles(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// Authenticate verifies credentials and returns the stored user.
func (c *Conf) Authenticate(ctx context.Context, email, password string) (User, error) {
	query := `
		SELECT id, name, email, phone, password_hash, roles, created_at, updated_at
		FROM users
		WHERE email = $1
	`
	var u User
	var hash, roles string
	err := c.db.QueryRowContext(ctx, query, email).
		Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &hash, &roles, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, fmt.Errorf("failed to query user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	u.Roles = splitRoles(roles)
	return u, nil
}

// GetByID returns one user.
func (c *Conf) GetByID(ctx context.Context, id string) (User, error) {
	query := `
		SELECT id, name, email, phone, roles, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	var u User
	var roles string
	err := c.db.QueryRowContext(ctx, query, id).
		Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &roles, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	u.Roles = splitRoles(roles)
	return u, nil
}
