package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// UserProfile carries the attributes the broker hands to the user directory
// when a registration completes. The directory owns everything else about
// the user.
type UserProfile struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
}

// UserDirectory is the external user domain the broker authenticates
// against. The broker never creates or mutates users on its own; it asks the
// directory through this interface.
type UserDirectory interface {
	UserExists(ctx context.Context, id uuid.UUID) (bool, error)
	CreateUser(ctx context.Context, profile UserProfile, isAdmin bool) (uuid.UUID, error)
	FindUserByUsername(ctx context.Context, username string) (uuid.UUID, error)
	IsAdmin(ctx context.Context, id uuid.UUID) (bool, error)
}

// DefaultLogger returns the stdout fallback logger.
func DefaultLogger() Logger {
	return defLogger{}
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] IDENTITY "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] IDENTITY "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] IDENTITY "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] IDENTITY "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
