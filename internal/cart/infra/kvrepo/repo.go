package kvrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dwikikusuma/marketplace-cart/internal/cart/app"
	"github.com/dwikikusuma/marketplace-cart/internal/cart/domain"
	"github.com/dwikikusuma/marketplace-cart/internal/platform/kv"
)

// DefaultKey is the one key every cart read and write goes through.
const DefaultKey = "gotMarketplace:cart"

// CartRepo stores the cart as a JSON array of items under a single key.
type CartRepo struct {
	store kv.Store
	key   string
}

func NewCartRepo(store kv.Store, key string) *CartRepo {
	if key == "" {
		key = DefaultKey
	}
	return &CartRepo{store: store, key: key}
}

func (r *CartRepo) Key() string { return r.key }

func (r *CartRepo) Load(ctx context.Context) (domain.Cart, error) {
	raw, err := r.store.Get(ctx, r.key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, app.ErrNotFound
		}
		return nil, fmt.Errorf("read cart record: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(raw, &cart); err != nil {
		return nil, fmt.Errorf("%w: %v", app.ErrMalformed, err)
	}
	if err := cart.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", app.ErrMalformed, err)
	}
	if cart == nil {
		cart = domain.Cart{}
	}
	return cart, nil
}

func (r *CartRepo) Save(ctx context.Context, cart domain.Cart) error {
	if cart == nil {
		cart = domain.Cart{}
	}
	raw, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("encode cart record: %w", err)
	}
	if err := r.store.Set(ctx, r.key, raw); err != nil {
		return fmt.Errorf("write cart record: %w", err)
	}
	return nil
}

