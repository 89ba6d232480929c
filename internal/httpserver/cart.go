package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/foodie/internal/cart"
	"github.com/Skotchmaster/foodie/internal/models"
	"github.com/Skotchmaster/foodie/internal/orders"
	"github.com/Skotchmaster/foodie/pkg/logging"
)

type CartHTTP struct {
	Cart   *cart.Reconciler
	Orders *orders.Service
}

type cartView struct {
	Items  []models.CartItem `json:"items"`
	Totals models.Totals     `json:"totals"`
}

func (h *CartHTTP) view(c echo.Context, status int, cc models.Cart) error {
	totals, err := h.Cart.Totals(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(status, cartView{Items: cc.Items, Totals: totals})
}

func (h *CartHTTP) GetCart(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "get.cart")

	cc, err := h.Cart.Items(ctx)
	if err != nil {
		l.Error("get_cart_error", "status", 500, "error", err)
		return httpError(err)
	}
	return h.view(c, http.StatusOK, cc)
}

func (h *CartHTTP) AddToCart(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "add.cart")

	var req struct {
		Item     models.CartItem `json:"item"`
		Quantity int             `json:"quantity"`
	}
	if err := c.Bind(&req); err != nil {
		l.Warn("add_to_cart_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	cc, err := h.Cart.Add(ctx, req.Item, req.Quantity)
	if err != nil {
		l.Warn("add_to_cart_error", "error", err)
		return httpError(err)
	}
	return h.view(c, http.StatusCreated, cc)
}

func (h *CartHTTP) RemoveFromCart(c echo.Context) error {
	return h.removal(c, "delete.from.cart", h.Cart.Remove)
}

func (h *CartHTTP) RemoveOneFromCart(c echo.Context) error {
	return h.removal(c, "delete.one.from.cart", h.Cart.RemoveOne)
}

func (h *CartHTTP) removal(c echo.Context, name string, fn func(ctx context.Context, id int64) (models.Cart, error)) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", name)

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid item id")
	}
	cc, err := fn(ctx, id)
	if err != nil {
		if errors.Is(err, cart.ErrNotFound) {
			l.Warn("remove_from_cart_not_found", "status", 404, "item_id", id)
		} else {
			l.Error("remove_from_cart_error", "error", err)
		}
		return httpError(err)
	}
	return h.view(c, http.StatusOK, cc)
}

func (h *CartHTTP) PlaceOrder(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "place.order")

	order, err := h.Orders.PlaceOrder(ctx)
	if err != nil {
		if order != nil {
			l.Error("place_order_partial", "order_id", order.ID, "error", err)
			return c.JSON(http.StatusCreated, order)
		}
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, order)
}

func (h *CartHTTP) ListOrders(c echo.Context) error {
	out, err := h.Orders.ListMine(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}
