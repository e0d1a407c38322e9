package core

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

type (
	User struct {
		ID           string    `json:"id"`
		Subject      string    `json:"subject"`
		Login        string    `json:"login"`
		Email        string    `json:"email,omitempty"`
		AvatarURL    string    `json:"avatarUrl,omitempty"`
		Name         string    `json:"name"`
		PasswordHash []byte    `json:"-"`
		CreatedAt    time.Time `json:"createdAt"`
		UpdatedAt    time.Time `json:"updatedAt"`
	}

	// UserStore persists local accounts. OAuth identities are not stored;
	// their JWT is minted directly from the provider profile.
	UserStore interface {
		// CreateUser stores a new account. Returns ErrUserExists if the
		// login is already taken.
		CreateUser(ctx context.Context, user *User) error

		// FindUserByLogin returns the account for a login, or ErrUserNotFound.
		FindUserByLogin(ctx context.Context, login string) (*User, error)
	}
)
