package orders

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Skotchmaster/foodie/internal/gateway"
	"github.com/Skotchmaster/foodie/internal/models"
	"github.com/Skotchmaster/foodie/pkg/logging"
)

var ErrEmptyCart = errors.New("cart is empty")

type API interface {
	Do(ctx context.Context, r gateway.Request) error
}

// Cart is the part of the reconciler an order consumes.
type Cart interface {
	Items(ctx context.Context) (models.Cart, error)
	Clear(ctx context.Context) error
}

type Order struct {
	ID          int64           `json:"id"`
	Status      string          `json:"status"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	OrderDate   time.Time       `json:"orderDate,omitzero"`
	Items       []OrderLine     `json:"items"`
}

type OrderLine struct {
	MenuItem struct {
		ID   int64  `json:"id,omitempty"`
		Name string `json:"name"`
	} `json:"menuItem"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

type createOrderItem struct {
	MenuItemID int64 `json:"menuItemId"`
	Quantity   int   `json:"quantity"`
}

type createOrderRequest struct {
	Items []createOrderItem `json:"items"`
}

type Service struct {
	api  API
	cart Cart
}

func NewService(api API, cart Cart) *Service {
	return &Service{api: api, cart: cart}
}

// PlaceOrder submits the authenticated cart and clears it once the server
// has accepted the order.
func (s *Service) PlaceOrder(ctx context.Context) (*Order, error) {
	l := logging.For(ctx, "orders.place")

	c, err := s.cart.Items(ctx)
	if err != nil {
		return nil, err
	}
	if c.Empty() {
		return nil, ErrEmptyCart
	}

	req := createOrderRequest{Items: make([]createOrderItem, 0, len(c.Items))}
	for _, it := range c.Items {
		req.Items = append(req.Items, createOrderItem{MenuItemID: it.ItemID, Quantity: it.Quantity})
	}

	var order Order
	if err := s.api.Do(ctx, gateway.Request{Method: http.MethodPost, Path: "/orders", Body: req, Out: &order}); err != nil {
		l.Warn("place_order_failed", "status", gateway.StatusOf(err), "error", err)
		return nil, err
	}

	if err := s.cart.Clear(context.WithoutCancel(ctx)); err != nil {
		l.Error("cart_clear_failed", "order_id", order.ID, "error", err)
		return &order, fmt.Errorf("order %d placed but cart not cleared: %w", order.ID, err)
	}

	l.Info("order_placed", "order_id", order.ID, "lines", len(req.Items))
	return &order, nil
}

func (s *Service) ListMine(ctx context.Context) ([]Order, error) {
	var out []Order
	if err := s.api.Do(ctx, gateway.Request{Method: http.MethodGet, Path: "/orders/my", Out: &out}); err != nil {
		return nil, err
	}
	if out == nil {
		out = []Order{}
	}
	return out, nil
}
