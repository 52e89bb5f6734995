package auth

import "github.com/FACorreiaa/go-user-identity/internal/types"

// SignupRequest represents the signup request body. Roles are deliberately
// absent: they are never client-settable.
type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name,omitempty"`
}

// SigninRequest represents the signin request body.
type SigninRequest struct {
	UsernameOrEmail string `json:"usernameOrEmail"`
	Password        string `json:"password"`
}

// UserResponse is the sanitized user record returned after authentication.
type UserResponse struct {
	User types.User `json:"user"`
}

// Generic response for simple success/error messages
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
