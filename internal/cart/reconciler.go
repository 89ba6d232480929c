package cart

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Skotchmaster/foodie/internal/events"
	"github.com/Skotchmaster/foodie/internal/models"
	"github.com/Skotchmaster/foodie/internal/store"
	"github.com/Skotchmaster/foodie/pkg/logging"
)

var (
	ErrValidation = errors.New("validation")
	ErrNotFound   = errors.New("not found")
)

// Sessions tells the reconciler whether a user is signed in.
type Sessions interface {
	Current() *models.Session
}

type Options struct {
	DeliveryFee decimal.Decimal
	Events      events.Publisher
}

// Reconciler owns the pending and authenticated carts. Every read-modify-write
// of a cart key happens under mu.
type Reconciler struct {
	store    store.Store
	sessions Sessions
	fee      decimal.Decimal
	events   events.Publisher

	mu sync.Mutex
}

func New(st store.Store, sessions Sessions, opts Options) *Reconciler {
	pub := opts.Events
	if pub == nil {
		pub = events.Nop{}
	}
	return &Reconciler{
		store:    st,
		sessions: sessions,
		fee:      opts.DeliveryFee,
		events:   pub,
	}
}

// activeKey is the cart the current caller works on: the authenticated cart
// when a session exists, the pending cart otherwise.
func (r *Reconciler) activeKey() string {
	if r.sessions != nil && r.sessions.Current() != nil {
		return store.KeyCart
	}
	return store.KeyPendingCart
}

func (r *Reconciler) load(ctx context.Context, key string) (models.Cart, error) {
	c, _, err := store.Load[models.Cart](ctx, r.store, key)
	if err != nil {
		return models.Cart{}, fmt.Errorf("load %s: %w", key, err)
	}
	if c.Items == nil {
		c.Items = []models.CartItem{}
	}
	return c, nil
}

func (r *Reconciler) save(ctx context.Context, key string, c models.Cart) error {
	if err := store.Save(ctx, r.store, key, c); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Add puts quantity units of item into the active cart. An existing entry
// with the same id is incremented, never duplicated.
func (r *Reconciler) Add(ctx context.Context, item models.CartItem, quantity int) (models.Cart, error) {
	if item.ItemID == 0 {
		return models.Cart{}, fmt.Errorf("item id must be set: %w", ErrValidation)
	}
	if quantity < 1 {
		return models.Cart{}, fmt.Errorf("quantity must be more than zero: %w", ErrValidation)
	}
	if item.UnitPrice.IsNegative() {
		return models.Cart{}, fmt.Errorf("price must not be negative: %w", ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := r.activeKey()
	c, err := r.load(ctx, key)
	if err != nil {
		return models.Cart{}, err
	}
	if i := c.Index(item.ItemID); i >= 0 {
		c.Items[i].Quantity += quantity
	} else {
		item.Quantity = quantity
		c.Items = append(c.Items, item)
	}
	if err := r.save(ctx, key, c); err != nil {
		return models.Cart{}, err
	}

	logging.For(ctx, "cart").Debug("cart_item_added", "cart", key, "item_id", item.ItemID, "quantity", quantity)
	return c, nil
}

// Remove deletes the entry for itemID from the active cart.
func (r *Reconciler) Remove(ctx context.Context, itemID int64) (models.Cart, error) {
	return r.update(ctx, itemID, func(c *models.Cart, i int) {
		c.Items = slices.Delete(c.Items, i, i+1)
	})
}

// RemoveOne takes one unit off itemID; the last unit removes the entry.
func (r *Reconciler) RemoveOne(ctx context.Context, itemID int64) (models.Cart, error) {
	return r.update(ctx, itemID, func(c *models.Cart, i int) {
		if c.Items[i].Quantity > 1 {
			c.Items[i].Quantity--
			return
		}
		c.Items = slices.Delete(c.Items, i, i+1)
	})
}

func (r *Reconciler) update(ctx context.Context, itemID int64, fn func(c *models.Cart, i int)) (models.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := r.activeKey()
	c, err := r.load(ctx, key)
	if err != nil {
		return models.Cart{}, err
	}
	i := c.Index(itemID)
	if i < 0 {
		return c, fmt.Errorf("item %d not in cart: %w", itemID, ErrNotFound)
	}
	fn(&c, i)
	if err := r.save(ctx, key, c); err != nil {
		return models.Cart{}, err
	}
	return c, nil
}

// Items returns the active cart.
func (r *Reconciler) Items(ctx context.Context) (models.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(ctx, r.activeKey())
}

// MergePending folds the pending cart into the authenticated cart, summing
// quantities of shared ids, then deletes the pending cart. Without a pending
// cart it changes nothing.
func (r *Reconciler) MergePending(ctx context.Context) (models.Cart, error) {
	ctx = context.WithoutCancel(ctx)
	l := logging.For(ctx, "cart.merge")

	r.mu.Lock()
	defer r.mu.Unlock()

	pending, found, err := store.Load[models.Cart](ctx, r.store, store.KeyPendingCart)
	if err != nil {
		return models.Cart{}, fmt.Errorf("load %s: %w", store.KeyPendingCart, err)
	}
	if !found {
		return r.load(ctx, store.KeyCart)
	}

	c, err := r.load(ctx, store.KeyCart)
	if err != nil {
		return models.Cart{}, err
	}
	if len(pending.Items) > 0 {
		c = merge(c, pending)
		if err := r.save(ctx, store.KeyCart, c); err != nil {
			return models.Cart{}, err
		}
	}
	if err := r.store.Delete(ctx, store.KeyPendingCart); err != nil {
		return models.Cart{}, fmt.Errorf("delete %s: %w", store.KeyPendingCart, err)
	}

	l.Info("pending_cart_merged", "entries", len(pending.Items), "cart_entries", len(c.Items))
	r.publish(ctx, "cart_merged", map[string]any{"entries": len(pending.Items)})
	return c, nil
}

func merge(dst, src models.Cart) models.Cart {
	out := models.Cart{Items: slices.Clone(dst.Items)}
	for _, it := range src.Items {
		if it.Quantity < 1 {
			continue
		}
		if i := out.Index(it.ItemID); i >= 0 {
			out.Items[i].Quantity += it.Quantity
			continue
		}
		out.Items = append(out.Items, it)
	}
	return out
}

// Clear deletes the authenticated cart, typically after an order is placed.
func (r *Reconciler) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Delete(ctx, store.KeyCart); err != nil {
		return fmt.Errorf("delete %s: %w", store.KeyCart, err)
	}
	r.publish(ctx, "cart_cleared", nil)
	return nil
}

// Totals computes the active cart's totals without changing it.
func (r *Reconciler) Totals(ctx context.Context) (models.Totals, error) {
	c, err := r.Items(ctx)
	if err != nil {
		return models.Totals{}, err
	}
	return ComputeTotals(c, r.fee), nil
}

// ComputeTotals applies fee only to a non-empty cart.
func ComputeTotals(c models.Cart, fee decimal.Decimal) models.Totals {
	subtotal := decimal.Zero
	for _, it := range c.Items {
		subtotal = subtotal.Add(it.LineTotal())
	}
	if c.Empty() {
		fee = decimal.Zero
	}
	return models.Totals{
		Subtotal:    subtotal,
		DeliveryFee: fee,
		Total:       subtotal.Add(fee),
	}
}

// HandleLogin is registered as the session manager's login hook.
func (r *Reconciler) HandleLogin(ctx context.Context, _ models.Session) error {
	_, err := r.MergePending(ctx)
	return err
}

// HandleSessionEnd drops the authenticated cart so nothing of the ended
// session stays in the store.
func (r *Reconciler) HandleSessionEnd(ctx context.Context, s models.Session, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Delete(ctx, store.KeyCart); err != nil {
		logging.For(ctx, "cart").Error("cart_delete_failed", "email", s.Email, "error", err)
	}
}

func (r *Reconciler) publish(ctx context.Context, kind string, data map[string]any) {
	email := ""
	if r.sessions != nil {
		if s := r.sessions.Current(); s != nil {
			email = s.Email
		}
	}
	if err := r.events.Publish(ctx, events.TopicCart, email, events.Event{
		Type:  kind,
		Email: email,
		At:    time.Now().UTC(),
		Data:  data,
	}); err != nil {
		logging.For(ctx, "cart").Warn("event_publish_failed", "type", kind, "error", err)
	}
}
