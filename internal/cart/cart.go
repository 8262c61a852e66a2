package cart

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/bitsmart-orderflow/internal/pricing"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrOutOfStock      = errors.New("item is out of stock")
	ErrLineNotFound    = errors.New("cart line not found")
)

// Item is what a buyer picks from a seller's offer.
type Item struct {
	SellerID     string  `json:"seller_id"`
	SellerName   string  `json:"seller_name"`
	Category     string  `json:"category"`
	DisplayName  string  `json:"display_name,omitempty"`
	UnitPrice    float64 `json:"unit_price"`
	AvailableQty int     `json:"available_qty"`
}

// Line is one (seller, category) entry of a cart.
type Line struct {
	Key string `json:"key"`
	Item
	Quantity int `json:"quantity"`
}

// Cart is a buyer's staged purchase. Every line keeps 1 <= Quantity <= AvailableQty.
type Cart struct {
	Lines []Line `json:"items"`
}

// LineKey builds the composite key of a (seller, category) pair.
func LineKey(sellerID, category string) string {
	return sellerID + "-" + category
}

func (c *Cart) find(key string) int {
	for i := range c.Lines {
		if c.Lines[i].Key == key {
			return i
		}
	}
	return -1
}

// Add merges item into the cart. Quantities are clamped to the item's
// availability; repeated adds of the same key sum up to that cap.
func (c *Cart) Add(item Item, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	if item.AvailableQty < 1 {
		return ErrOutOfStock
	}
	clamped := min(quantity, item.AvailableQty)
	key := LineKey(item.SellerID, item.Category)

	if i := c.find(key); i >= 0 {
		line := &c.Lines[i]
		next := min(line.Quantity+clamped, item.AvailableQty)
		line.Item = item
		line.Quantity = next
		return nil
	}
	c.Lines = append(c.Lines, Line{Key: key, Item: item, Quantity: clamped})
	return nil
}

// UpdateQuantity sets a line to quantity clamped into [1, AvailableQty].
// It never removes the line.
func (c *Cart) UpdateQuantity(key string, quantity int) error {
	i := c.find(key)
	if i < 0 {
		return ErrLineNotFound
	}
	line := &c.Lines[i]
	line.Quantity = max(1, min(quantity, line.AvailableQty))
	return nil
}

// Remove deletes the line unconditionally; a missing key is not an error.
func (c *Cart) Remove(key string) {
	if i := c.find(key); i >= 0 {
		c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
	}
}

func (c *Cart) Clear() {
	c.Lines = nil
}

// TotalItems sums quantities over every line.
func (c *Cart) TotalItems() int {
	total := 0
	for _, l := range c.Lines {
		total += l.Quantity
	}
	return total
}

// Total is Σ quantity x unit price.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Lines {
		total = total.Add(pricing.LineTotal(l.Quantity, l.UnitPrice))
	}
	return total
}

// Empty reports whether the cart has no lines.
func (c *Cart) Empty() bool {
	return c == nil || len(c.Lines) == 0
}

// Group is the lines of a single seller, in first-seen order.
type Group struct {
	SellerID   string
	SellerName string
	Lines      []Line
}

// BySeller groups lines per seller preserving cart order.
func (c *Cart) BySeller() []Group {
	var groups []Group
	index := map[string]int{}
	for _, l := range c.Lines {
		i, ok := index[l.SellerID]
		if !ok {
			i = len(groups)
			index[l.SellerID] = i
			groups = append(groups, Group{SellerID: l.SellerID, SellerName: l.SellerName})
		}
		groups[i].Lines = append(groups[i].Lines, l)
	}
	return groups
}
