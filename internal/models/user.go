package models

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// FanProfile is a registered fan. Chat and moderation code only reads the
// nickname for display.
type FanProfile struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	Nickname     string    `json:"nickname" db:"nickname"`
	AvatarURL    *string   `json:"avatar_url,omitempty" db:"avatar_url"`
	Level        int       `json:"level" db:"level"`
	PasswordHash string    `json:"-" db:"password_hash"`
	JoinDate     time.Time `json:"join_date" db:"join_date"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Validate checks basic profile fields
func (u *FanProfile) Validate() error {
	if u.Email == "" {
		return fmt.Errorf("email is required")
	}
	if !strings.Contains(u.Email, "@") {
		return fmt.Errorf("invalid email")
	}
	if u.Nickname == "" {
		return fmt.Errorf("nickname is required")
	}
	if n := utf8.RuneCountInString(u.Nickname); n < 2 || n > 50 {
		return fmt.Errorf("nickname length invalid")
	}
	return nil
}

type CreateUserRequest struct {
	Email     string  `json:"email" binding:"required,email"`
	Password  string  `json:"password" binding:"required,min=8"`
	Nickname  string  `json:"nickname" binding:"required"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token string     `json:"token"`
	User  FanProfile `json:"user"`
}
