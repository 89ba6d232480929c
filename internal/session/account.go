package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"unicode"

	"github.com/Skotchmaster/foodie/internal/gateway"
	"github.com/Skotchmaster/foodie/internal/models"
	"github.com/Skotchmaster/foodie/pkg/logging"
)

const passwordSpecials = `!@#$%^&*(),.?":{}|<>`

var ErrVerificationFailed = errors.New("verification failed")

type Registration struct {
	Name     string      `json:"name"`
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Role     models.Role `json:"role"`
}

type verifyRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type resetRequest struct {
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"newPassword"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type ackResponse struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

// Register creates an account. The server follows up with an OTP by email.
func (m *Manager) Register(ctx context.Context, r Registration) error {
	l := logging.For(ctx, "session.register")

	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.TrimSpace(r.Email)
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if err := validateCredentials(r.Email, r.Password); err != nil {
		return err
	}
	if r.Role == "" {
		r.Role = models.RoleUser
	}
	role, ok := models.ParseRole(string(r.Role))
	if !ok {
		return fmt.Errorf("%w: unknown role %q", ErrValidation, r.Role)
	}
	r.Role = role

	if err := m.api.Do(ctx, gateway.Request{Method: http.MethodPost, Path: "/auth/register", Body: r}); err != nil {
		l.Warn("register_failed", "status", gateway.StatusOf(err), "error", err)
		return err
	}
	l.Info("register_successful", "email", r.Email, "role", r.Role)
	return nil
}

func (m *Manager) VerifyEmail(ctx context.Context, email, otp string) error {
	email, otp = strings.TrimSpace(email), strings.TrimSpace(otp)
	if err := validateEmail(email); err != nil {
		return err
	}
	if otp == "" {
		return fmt.Errorf("%w: otp is required", ErrValidation)
	}
	_, err := m.ack(ctx, "/auth/verify-email", verifyRequest{Email: email, OTP: otp})
	return err
}

func (m *Manager) ResendOTP(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if err := validateEmail(email); err != nil {
		return err
	}
	_, err := m.ack(ctx, "/auth/resend-otp", emailRequest{Email: email})
	return err
}

// ForgotPassword asks the server to mail a reset OTP and returns its message.
func (m *Manager) ForgotPassword(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	if err := validateEmail(email); err != nil {
		return "", err
	}
	return m.ack(ctx, "/auth/forgot-password", emailRequest{Email: email})
}

func (m *Manager) ResetPassword(ctx context.Context, email, otp, newPassword string) (string, error) {
	email, otp = strings.TrimSpace(email), strings.TrimSpace(otp)
	if err := validateEmail(email); err != nil {
		return "", err
	}
	if otp == "" {
		return "", fmt.Errorf("%w: otp is required", ErrValidation)
	}
	if err := ValidatePasswordStrength(newPassword); err != nil {
		return "", err
	}
	return m.ack(ctx, "/auth/reset-password", resetRequest{Email: email, OTP: otp, NewPassword: newPassword})
}

// ack posts an account request whose response is {success, message}. An
// explicit success=false is a failure even on a 2xx.
func (m *Manager) ack(ctx context.Context, path string, body any) (string, error) {
	l := logging.For(ctx, "session.account", "path", path)

	var resp ackResponse
	if err := m.api.Do(ctx, gateway.Request{Method: http.MethodPost, Path: path, Body: body, Out: &resp}); err != nil {
		l.Warn("account_request_failed", "status", gateway.StatusOf(err), "error", err)
		return "", err
	}
	if resp.Success != nil && !*resp.Success {
		msg := resp.Message
		if msg == "" {
			msg = "request was not accepted"
		}
		return "", fmt.Errorf("%w: %s", ErrVerificationFailed, msg)
	}
	return resp.Message, nil
}

// ValidatePasswordStrength requires 8 to 15 characters with at least one
// uppercase letter, one digit and one special character.
func ValidatePasswordStrength(pw string) error {
	n := len([]rune(pw))
	if n < 8 || n > 15 {
		return fmt.Errorf("%w: password must be 8 to 15 characters", ErrValidation)
	}
	var upper, digit, special bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		}
	}
	if !upper || !digit || !special {
		return fmt.Errorf("%w: password needs an uppercase letter, a digit and a special character", ErrValidation)
	}
	return nil
}

func validateCredentials(email, password string) error {
	if email == "" || password == "" {
		return fmt.Errorf("%w: email and password are required", ErrValidation)
	}
	return validateEmail(email)
}

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: invalid email address", ErrValidation)
	}
	return nil
}
