package orders

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/foodie/internal/cart"
	"github.com/Skotchmaster/foodie/internal/gateway"
	"github.com/Skotchmaster/foodie/internal/models"
	"github.com/Skotchmaster/foodie/internal/store"
)

type signedIn struct{}

func (signedIn) Current() *models.Session {
	return &models.Session{Email: "a@x.io", Role: models.RoleUser, AccessToken: "T"}
}

type fakeAPI struct {
	reqs  []gateway.Request
	reply string
	err   error
}

func (f *fakeAPI) Do(_ context.Context, r gateway.Request) error {
	f.reqs = append(f.reqs, r)
	if f.err != nil {
		return f.err
	}
	if r.Out != nil && f.reply != "" {
		return json.Unmarshal([]byte(f.reply), r.Out)
	}
	return nil
}

func newService(t *testing.T, api *fakeAPI) (*Service, *cart.Reconciler, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	rc := cart.New(st, signedIn{}, cart.Options{DeliveryFee: decimal.NewFromInt(40)})
	return NewService(api, rc), rc, st
}

func TestPlaceOrder(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{reply: `{"id":12,"status":"Pending","totalAmount":280,"items":[]}`}
	svc, rc, st := newService(t, api)
	ctx := context.Background()
	_, err := rc.Add(ctx, models.CartItem{ItemID: 7, Name: "Thali", UnitPrice: decimal.NewFromInt(120)}, 2)
	require.NoError(t, err)
	_, err = rc.Add(ctx, models.CartItem{ItemID: 9, Name: "Lassi", UnitPrice: decimal.NewFromInt(40)}, 1)
	require.NoError(t, err)

	order, err := svc.PlaceOrder(ctx)

	require.NoError(t, err)
	assert.Equal(t, int64(12), order.ID)
	assert.Equal(t, "280", order.TotalAmount.String())
	require.Len(t, api.reqs, 1)
	assert.Equal(t, http.MethodPost, api.reqs[0].Method)
	assert.Equal(t, "/orders", api.reqs[0].Path)
	body, err := json.Marshal(api.reqs[0].Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[{"menuItemId":7,"quantity":2},{"menuItemId":9,"quantity":1}]}`, string(body))
	assert.Empty(t, st.Keys())
}

func TestPlaceOrder_EmptyCart(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	svc, _, _ := newService(t, api)

	_, err := svc.PlaceOrder(context.Background())

	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Empty(t, api.reqs)
}

func TestPlaceOrder_FailureKeepsCart(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{err: &gateway.APIError{Status: http.StatusConflict, Message: "Item unavailable"}}
	svc, rc, st := newService(t, api)
	ctx := context.Background()
	_, err := rc.Add(ctx, models.CartItem{ItemID: 7, UnitPrice: decimal.NewFromInt(120)}, 1)
	require.NoError(t, err)

	_, err = svc.PlaceOrder(ctx)

	var apiErr *gateway.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Item unavailable", apiErr.Message)
	assert.Equal(t, []string{store.KeyCart}, st.Keys())
}

func TestListMine(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{reply: `[{"id":1,"status":"Delivered","totalAmount":"160.50","orderDate":"2026-01-02T10:00:00Z",
		"items":[{"menuItem":{"name":"Dosa"},"quantity":2,"price":60.25}]}]`}
	svc, _, _ := newService(t, api)

	out, err := svc.ListMine(context.Background())

	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Delivered", out[0].Status)
	assert.Equal(t, "Dosa", out[0].Items[0].MenuItem.Name)
	assert.Equal(t, "60.25", out[0].Items[0].Price.String())
	assert.Equal(t, "/orders/my", api.reqs[0].Path)

	empty, err := NewService(&fakeAPI{}, nil).ListMine(context.Background())
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.NotNil(t, empty)
}
