package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrBlankID       = errors.New("product id is blank")
	ErrNegativePrice = errors.New("price is negative")
)

// Product is a cart line as the storefront offers it, before it has a quantity.
type Product struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	ImageURL string          `json:"image_url"`
	Price    decimal.Decimal `json:"price"`
}

// MarshalJSON writes the price as a JSON number. Decoding accepts a number or a
// numeric string.
func (p Product) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID       string      `json:"id"`
		Title    string      `json:"title"`
		ImageURL string      `json:"image_url"`
		Price    json.Number `json:"price"`
	}{p.ID, p.Title, p.ImageURL, json.Number(p.Price.String())})
}

func (p Product) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return ErrBlankID
	}
	if p.Price.IsNegative() {
		return ErrNegativePrice
	}
	return nil
}

type CartItem struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	ImageURL string          `json:"image_url"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// MarshalJSON writes the price as a JSON number, the shape the persisted record
// has always had.
func (it CartItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID       string      `json:"id"`
		Title    string      `json:"title"`
		ImageURL string      `json:"image_url"`
		Price    json.Number `json:"price"`
		Quantity int         `json:"quantity"`
	}{it.ID, it.Title, it.ImageURL, json.Number(it.Price.String()), it.Quantity})
}

func (it CartItem) Product() Product {
	return Product{ID: it.ID, Title: it.Title, ImageURL: it.ImageURL, Price: it.Price}
}

// LineTotal is price times quantity.
func (it CartItem) LineTotal() decimal.Decimal {
	return it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// Cart is an ordered list of items with at most one item per ID.
//
// Every method returns a fresh slice and leaves the receiver untouched, so a
// Cart handed out as a snapshot can never be changed by a later mutation.
type Cart []CartItem

func (c Cart) Len() int { return len(c) }

func (c Cart) Clone() Cart {
	if c == nil {
		return Cart{}
	}
	out := make(Cart, len(c))
	copy(out, c)
	return out
}

func (c Cart) Find(id string) (CartItem, bool) {
	for _, it := range c {
		if it.ID == id {
			return it, true
		}
	}
	return CartItem{}, false
}

// Add merges p into the cart. A known ID takes every field from p and gains one
// unit in place; an unknown ID is appended with quantity 1.
func (c Cart) Add(p Product) Cart {
	out := c.Clone()
	for i, it := range out {
		if it.ID == p.ID {
			out[i] = CartItem{
				ID:       p.ID,
				Title:    p.Title,
				ImageURL: p.ImageURL,
				Price:    p.Price,
				Quantity: it.Quantity + 1,
			}
			return out
		}
	}
	return append(out, CartItem{
		ID:       p.ID,
		Title:    p.Title,
		ImageURL: p.ImageURL,
		Price:    p.Price,
		Quantity: 1,
	})
}

// Increment adds one unit to the item with the given id. Unknown ids are a no-op.
func (c Cart) Increment(id string) Cart {
	out := c.Clone()
	for i := range out {
		if out[i].ID == id {
			out[i].Quantity++
		}
	}
	return out
}

// Decrement removes one unit from the item with the given id, stopping at zero.
// The item stays in the cart when it reaches zero.
func (c Cart) Decrement(id string) Cart {
	out := c.Clone()
	for i := range out {
		if out[i].ID == id && out[i].Quantity >= 1 {
			out[i].Quantity--
		}
	}
	return out
}

// Prune drops items whose quantity is zero.
func (c Cart) Prune() Cart {
	out := make(Cart, 0, len(c))
	for _, it := range c {
		if it.Quantity > 0 {
			out = append(out, it)
		}
	}
	return out
}

func (c Cart) TotalQuantity() int {
	n := 0
	for _, it := range c {
		n += it.Quantity
	}
	return n
}

func (c Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range c {
		total = total.Add(it.LineTotal())
	}
	return total
}

// Validate reports the first structural problem found in c: a blank or
// repeated id, or a negative quantity.
func (c Cart) Validate() error {
	seen := make(map[string]struct{}, len(c))
	for i, it := range c {
		if strings.TrimSpace(it.ID) == "" {
			return fmt.Errorf("item %d: %w", i, ErrBlankID)
		}
		if _, dup := seen[it.ID]; dup {
			return fmt.Errorf("item %d: duplicate id %q", i, it.ID)
		}
		seen[it.ID] = struct{}{}
		if it.Quantity < 0 {
			return fmt.Errorf("item %d (%s): negative quantity %d", i, it.ID, it.Quantity)
		}
	}
	return nil
}
