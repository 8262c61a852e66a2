package cart

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/imrishuroy/bitsmart-orderflow/internal/catalog"
	"github.com/imrishuroy/bitsmart-orderflow/internal/logger"
)

// OfferSource resolves live availability and price for a buyer.
type OfferSource interface {
	Offer(ctx context.Context, buyerRole catalog.Role, sellerID, category string) (*catalog.Offer, error)
}

// Manager loads, mutates and persists buyer carts.
type Manager struct {
	store  Storage
	offers OfferSource
	log    *logger.Logger
}

func NewManager(store Storage, offers OfferSource, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{store: store, offers: offers, log: log}
}

// Load returns the buyer's cart. Missing or unreadable state yields an empty cart.
func (m *Manager) Load(ctx context.Context, buyerID string) (*Cart, error) {
	raw, found, err := m.store.Load(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	c := &Cart{}
	if !found || raw == "" {
		return c, nil
	}
	if err := json.Unmarshal([]byte(raw), c); err != nil {
		m.log.Warn(m.log.WithFields(ctx, map[string]any{
			"buyer_id": buyerID,
			"error":    err.Error(),
		}), "failed to parse cart from storage")
		return &Cart{}, nil
	}
	c.sanitize()
	return c, nil
}

// sanitize drops lines that could not have been produced by the reducer.
func (c *Cart) sanitize() {
	kept := c.Lines[:0]
	for _, l := range c.Lines {
		if l.SellerID == "" || l.Category == "" || l.AvailableQty < 1 || l.Quantity < 1 {
			continue
		}
		l.Key = LineKey(l.SellerID, l.Category)
		l.Quantity = min(l.Quantity, l.AvailableQty)
		kept = append(kept, l)
	}
	c.Lines = kept
}

func (m *Manager) save(ctx context.Context, buyerID string, c *Cart) error {
	if c.Empty() {
		if err := m.store.Delete(ctx, buyerID); err != nil {
			return fmt.Errorf("save cart: %w", err)
		}
		return nil
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	if err := m.store.Save(ctx, buyerID, string(raw)); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

func (m *Manager) mutate(ctx context.Context, buyerID string, fn func(*Cart) error) (*Cart, error) {
	c, err := m.Load(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	if err := fn(c); err != nil {
		return nil, err
	}
	if err := m.save(ctx, buyerID, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (m *Manager) Add(ctx context.Context, buyerID string, item Item, quantity int) (*Cart, error) {
	return m.mutate(ctx, buyerID, func(c *Cart) error { return c.Add(item, quantity) })
}

// AddFromCatalog adds a seller's category using server-side availability and price.
func (m *Manager) AddFromCatalog(ctx context.Context, buyerID string, buyerRole catalog.Role, sellerID, category string, quantity int) (*Cart, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	offer, err := m.offers.Offer(ctx, buyerRole, sellerID, category)
	if err != nil {
		return nil, err
	}
	if !offer.Priced {
		return nil, catalog.ErrUnpriced
	}
	return m.Add(ctx, buyerID, Item{
		SellerID:     offer.SellerID,
		SellerName:   offer.SellerName,
		Category:     offer.Category,
		DisplayName:  offer.DisplayName,
		UnitPrice:    offer.UnitPrice,
		AvailableQty: offer.AvailableQty,
	}, quantity)
}

func (m *Manager) UpdateQuantity(ctx context.Context, buyerID, key string, quantity int) (*Cart, error) {
	return m.mutate(ctx, buyerID, func(c *Cart) error { return c.UpdateQuantity(key, quantity) })
}

func (m *Manager) Remove(ctx context.Context, buyerID, key string) (*Cart, error) {
	return m.mutate(ctx, buyerID, func(c *Cart) error {
		c.Remove(key)
		return nil
	})
}

func (m *Manager) Clear(ctx context.Context, buyerID string) error {
	if err := m.store.Delete(ctx, buyerID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}
