package app

import (
	"context"

	"github.com/dwikikusuma/marketplace-cart/internal/cart/domain"
)

// CartRepo persists the whole cart as one record.
//
// Load returns ErrNotFound when nothing has been saved yet and an error
// wrapping ErrMalformed when the stored record cannot be decoded.
type CartRepo interface {
	Load(ctx context.Context) (domain.Cart, error)
	Save(ctx context.Context, cart domain.Cart) error
}
