package password

// ForgotRequest starts the reset flow for a local account.
type ForgotRequest struct {
	UsernameOrEmail string `json:"usernameOrEmail"`
}

// ResetRequest completes the reset flow with a token from the emailed link.
type ResetRequest struct {
	NewPassword    string `json:"newPassword"`
	VerifyPassword string `json:"verifyPassword"`
}

// ChangeRequest lets a signed-in local user rotate their password.
type ChangeRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	VerifyPassword  string `json:"verifyPassword"`
}

// Response is the generic status envelope for password endpoints.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
