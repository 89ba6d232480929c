package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/foodie/internal/guard"
	"github.com/Skotchmaster/foodie/internal/models"
	"github.com/Skotchmaster/foodie/internal/session"
	"github.com/Skotchmaster/foodie/pkg/logging"
)

type SessionHTTP struct {
	Sessions *session.Manager
	Guard    *guard.Guard
}

type sessionView struct {
	Authenticated bool        `json:"authenticated"`
	Email         string      `json:"email,omitempty"`
	Role          models.Role `json:"role,omitempty"`
}

func (h *SessionHTTP) Current(c echo.Context) error {
	s := h.Sessions.Current()
	if s == nil {
		return c.JSON(http.StatusOK, sessionView{})
	}
	return c.JSON(http.StatusOK, sessionView{Authenticated: true, Email: s.Email, Role: s.Role})
}

func (h *SessionHTTP) Login(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "login")

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Next     string `json:"next"`
	}
	if err := c.Bind(&req); err != nil {
		l.Warn("login_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	res := h.Sessions.Login(ctx, req.Email, req.Password)
	if !res.Success {
		status := res.Status
		if status == 0 {
			status = httpError(res.Err).Code
			if status == http.StatusInternalServerError {
				status = http.StatusBadRequest
			}
		}
		return c.JSON(status, res)
	}

	return c.JSON(http.StatusOK, struct {
		session.LoginResult
		Redirect string `json:"redirect"`
	}{res, h.Guard.Landing(h.Sessions.Current(), req.Next)})
}

func (h *SessionHTTP) Logout(c echo.Context) error {
	h.Sessions.Logout(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}

func (h *SessionHTTP) Register(c echo.Context) error {
	var req session.Registration
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := h.Sessions.Register(c.Request().Context(), req); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"message": "OTP sent to your email"})
}

type accountRequest struct {
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"newPassword"`
}

func (h *SessionHTTP) VerifyEmail(c echo.Context) error {
	var req accountRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := h.Sessions.VerifyEmail(c.Request().Context(), req.Email, req.OTP); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

func (h *SessionHTTP) ResendOTP(c echo.Context) error {
	var req accountRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := h.Sessions.ResendOTP(c.Request().Context(), req.Email); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *SessionHTTP) ForgotPassword(c echo.Context) error {
	var req accountRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	msg, err := h.Sessions.ForgotPassword(c.Request().Context(), req.Email)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": msg})
}

func (h *SessionHTTP) ResetPassword(c echo.Context) error {
	var req accountRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	msg, err := h.Sessions.ResetPassword(c.Request().Context(), req.Email, req.OTP, req.NewPassword)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": msg})
}

// Navigate answers the guard question for one destination, waiting for the
// session restore if it has not finished yet.
func (h *SessionHTTP) Navigate(c echo.Context) error {
	d, err := h.Guard.Await(c.Request().Context(), c.QueryParam("path"))
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "session is being restored")
	}
	return c.JSON(http.StatusOK, d)
}

func (h *SessionHTTP) Links(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Guard.Links(h.Sessions.Current()))
}
