package session

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/foodie/internal/gateway"
)

func TestValidatePasswordStrength(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pw string
		ok bool
	}{
		{pw: "Secret1!", ok: true},
		{pw: "Abcdefghijk12#", ok: true},
		{pw: "Sh0rt!", ok: false},
		{pw: "WayTooLongPassword1!", ok: false},
		{pw: "nouppercase1!", ok: false},
		{pw: "NoDigits!!", ok: false},
		{pw: "NoSpecial12", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.pw, func(t *testing.T) {
			err := ValidatePasswordStrength(tt.pw)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestRegister_DefaultsToUserRole(t *testing.T) {
	t.Parallel()
	b, srv := newBackend(t)
	b.handle("/auth/register", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]string{"message": "OTP sent"})
	})
	h := newHarness(t, srv, true)

	err := h.mgr.Register(context.Background(), Registration{Name: " Ann ", Email: "ann@x.io", Password: "Secret1!"})

	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"name":     "Ann",
		"email":    "ann@x.io",
		"password": "Secret1!",
		"role":     "User",
	}, b.body("/auth/register"))
}

func TestRegister_Rejections(t *testing.T) {
	t.Parallel()
	b, srv := newBackend(t)
	b.handle("/auth/register", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]string{"message": "Email already registered"})
	})
	h := newHarness(t, srv, true)

	err := h.mgr.Register(context.Background(), Registration{Email: "ann@x.io", Password: "Secret1!"})
	assert.ErrorIs(t, err, ErrValidation)

	err = h.mgr.Register(context.Background(), Registration{Name: "Ann", Email: "ann@x.io", Password: "Secret1!", Role: "Chef"})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 0, b.count("/auth/register"))

	err = h.mgr.Register(context.Background(), Registration{Name: "Ann", Email: "ann@x.io", Password: "Secret1!", Role: "admin"})
	assert.Equal(t, http.StatusConflict, gateway.StatusOf(err))
	assert.Equal(t, "Email already registered", gateway.MessageOf(err, ""))
	assert.Equal(t, "Admin", b.body("/auth/register")["role"])
}

func TestVerifyEmail(t *testing.T) {
	t.Parallel()
	b, srv := newBackend(t)
	b.handle("/auth/verify-email", func(w http.ResponseWriter, r *http.Request) {
		ok := b.body("/auth/verify-email")["otp"] == "123456"
		writeJSON(w, http.StatusOK, map[string]any{"success": ok, "message": "Invalid OTP"})
	})
	h := newHarness(t, srv, true)

	require.NoError(t, h.mgr.VerifyEmail(context.Background(), "ann@x.io", "123456"))

	err := h.mgr.VerifyEmail(context.Background(), "ann@x.io", "000000")
	assert.ErrorIs(t, err, ErrVerificationFailed)
	assert.Contains(t, err.Error(), "Invalid OTP")

	assert.ErrorIs(t, h.mgr.VerifyEmail(context.Background(), "ann@x.io", " "), ErrValidation)
}

func TestPasswordReset(t *testing.T) {
	t.Parallel()
	b, srv := newBackend(t)
	b.handle("/auth/forgot-password", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "OTP sent to your email"})
	})
	b.handle("/auth/reset-password", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Password reset"})
	})
	b.handle("/auth/resend-otp", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := newHarness(t, srv, true)
	ctx := context.Background()

	msg, err := h.mgr.ForgotPassword(ctx, "ann@x.io")
	require.NoError(t, err)
	assert.Equal(t, "OTP sent to your email", msg)

	require.NoError(t, h.mgr.ResendOTP(ctx, "ann@x.io"))
	assert.Equal(t, map[string]any{"email": "ann@x.io"}, b.body("/auth/resend-otp"))

	_, err = h.mgr.ResetPassword(ctx, "ann@x.io", "123456", "weak")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 0, b.count("/auth/reset-password"))

	msg, err = h.mgr.ResetPassword(ctx, "ann@x.io", "123456", "Secret1!")
	require.NoError(t, err)
	assert.Equal(t, "Password reset", msg)
	assert.Equal(t, map[string]any{"email": "ann@x.io", "otp": "123456", "newPassword": "Secret1!"}, b.body("/auth/reset-password"))
}
