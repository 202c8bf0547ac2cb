package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"socwatch/internal/db"
)

type Store struct {
	db      *sql.DB
	dialect db.Dialect
}

func NewStore(conn *sql.DB, dialect db.Dialect) *Store {
	return &Store{db: conn, dialect: dialect}
}

var ErrUserNotFound = errors.New("user not found")

func (s *Store) GetByUsername(ctx context.Context, username string) (*User, error) {
	q := s.dialect.Rebind(`SELECT id, username, password_hash, role, created_at FROM users WHERE username = ?`)
	row := s.db.QueryRowContext(ctx, q, username)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

func (s *Store) Create(ctx context.Context, username, password string, role Role) (*User, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("user %s: unknown role %q", username, role)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	q := s.dialect.Rebind(`
		INSERT INTO users (username, password_hash, role, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id, username, password_hash, role, created_at
	`)
	row := s.db.QueryRowContext(ctx, q, username, string(hash), string(role), time.Now().UTC().UnixNano())
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	u := &User{}
	var role string
	var created int64
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &role, &created); err != nil {
		return nil, err
	}
	u.Role = Role(role)
	u.CreatedAt = time.Unix(0, created).UTC()
	return u, nil
}

type usersFile struct {
	Users []struct {
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Role     Role   `yaml:"role"`
	} `yaml:"users"`
}

// SeedFromFile creates the users listed in a YAML file that do not exist yet.
// An empty path seeds nothing.
func (s *Store) SeedFromFile(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read users file: %w", err)
	}
	var uf usersFile
	if err := yaml.Unmarshal(data, &uf); err != nil {
		return fmt.Errorf("parse users file %s: %w", path, err)
	}
	for _, u := range uf.Users {
		if u.Username == "" || u.Password == "" {
			continue
		}
		if _, err := s.GetByUsername(ctx, u.Username); err == nil {
			continue
		} else if !errors.Is(err, ErrUserNotFound) {
			return err
		}
		role := u.Role
		if role == "" {
			role = RoleAnalyst
		}
		if _, err := s.Create(ctx, u.Username, u.Password, role); err != nil {
			return fmt.Errorf("seed user %s: %w", u.Username, err)
		}
	}
	return nil
}
