package guard

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const CtxDecision = "guard_decision"

// Protect gates an API endpoint behind the destination it serves. Requests
// arriving before the session is restored get 503; denied ones get 401 with
// the login redirect, whatever the reason for the denial.
func (g *Guard) Protect(dest string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			d := g.Check(dest)
			switch d.State {
			case Loading:
				return echo.NewHTTPError(http.StatusServiceUnavailable, "session is being restored")
			case Unauthorized:
				return c.JSON(http.StatusUnauthorized, d)
			}
			c.Set(CtxDecision, d)
			return next(c)
		}
	}
}
