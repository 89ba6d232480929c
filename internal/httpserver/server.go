package httpserver

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Skotchmaster/foodie/internal/cart"
	"github.com/Skotchmaster/foodie/internal/gateway"
	"github.com/Skotchmaster/foodie/internal/guard"
	"github.com/Skotchmaster/foodie/internal/orders"
	"github.com/Skotchmaster/foodie/internal/session"
)

type Deps struct {
	Sessions *session.Manager
	Cart     *cart.Reconciler
	Orders   *orders.Service
	Guard    *guard.Guard
	Gatherer prometheus.Gatherer
}

// Register mounts the storefront API the UI talks to.
func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error {
		if !d.Sessions.Restored() {
			return c.NoContent(http.StatusServiceUnavailable)
		}
		return c.NoContent(http.StatusOK)
	})
	if d.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	auth := &SessionHTTP{Sessions: d.Sessions, Guard: d.Guard}
	shop := &CartHTTP{Cart: d.Cart, Orders: d.Orders}

	api := e.Group("/api")
	api.GET("/session", auth.Current)
	api.POST("/login", auth.Login)
	api.POST("/logout", auth.Logout)
	api.POST("/register", auth.Register)
	api.POST("/verify-email", auth.VerifyEmail)
	api.POST("/resend-otp", auth.ResendOTP)
	api.POST("/forgot-password", auth.ForgotPassword)
	api.POST("/reset-password", auth.ResetPassword)
	api.GET("/navigate", auth.Navigate)
	api.GET("/links", auth.Links)

	api.GET("/cart", shop.GetCart)
	api.POST("/cart/items", shop.AddToCart)
	api.DELETE("/cart/items/:id", shop.RemoveFromCart)
	api.POST("/cart/items/:id/decrement", shop.RemoveOneFromCart)

	api.POST("/orders", shop.PlaceOrder, d.Guard.Protect("/payment"))
	api.GET("/orders", shop.ListOrders, d.Guard.Protect("/my-orders"))
}

// httpError maps core errors onto HTTP responses. Backend failures keep the
// backend's status and message.
func httpError(err error) *echo.HTTPError {
	var apiErr *gateway.APIError
	switch {
	case errors.As(err, &apiErr):
		return echo.NewHTTPError(apiErr.Status, apiErr.Message)
	case errors.Is(err, session.ErrValidation), errors.Is(err, cart.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, orders.ErrEmptyCart):
		return echo.NewHTTPError(http.StatusBadRequest, "cart is empty")
	case errors.Is(err, session.ErrVerificationFailed):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, cart.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "item not found")
	case errors.Is(err, gateway.ErrSessionEnded):
		return echo.NewHTTPError(http.StatusUnauthorized, "session ended, please log in again")
	case errors.Is(err, gateway.ErrUnreachable):
		return echo.NewHTTPError(http.StatusBadGateway, "server unreachable")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}
