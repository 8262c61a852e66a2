package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/bitsmart-orderflow/internal/geo"
	"github.com/imrishuroy/bitsmart-orderflow/internal/logger"
	"github.com/imrishuroy/bitsmart-orderflow/internal/pricing"
)

// Service combines profiles, stock and pricing into buyer-facing views.
type Service struct {
	sellers   *SellerStore
	stocks    *StockStore
	customer  pricing.Resolver
	wholesale pricing.Resolver
	log       *logger.Logger
	nowFunc   func() time.Time
}

func NewService(sellers *SellerStore, stocks *StockStore, markup decimal.Decimal, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		sellers:   sellers,
		stocks:    stocks,
		customer:  pricing.NewCustomerResolver(markup),
		wholesale: pricing.NewWholesaleResolver(),
		log:       log,
		nowFunc:   time.Now,
	}
}

// Stocks exposes the underlying stock store to the checkout workflow.
func (s *Service) Stocks() *StockStore { return s.stocks }

// SaveProfile stores a profile and, for sellers, makes sure a stock record exists.
func (s *Service) SaveProfile(ctx context.Context, p SellerProfile) (*SellerProfile, error) {
	if strings.TrimSpace(p.SellerID) == "" {
		return nil, fmt.Errorf("save profile: seller id is required")
	}
	saved, err := s.sellers.Put(ctx, p)
	if err != nil {
		return nil, err
	}
	if saved.Role.IsSeller() {
		if err := s.stocks.EnsureExists(ctx, saved.SellerID); err != nil {
			return nil, err
		}
	}
	s.log.Info(s.log.WithFields(ctx, map[string]any{
		"seller_id": saved.SellerID,
		"role":      string(saved.Role),
	}), "profile saved")
	return saved, nil
}

func (s *Service) Profile(ctx context.Context, id string) (*SellerProfile, error) {
	p, err := s.sellers.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrSellerNotFound
	}
	return p, nil
}

// ResolverFor returns the price resolver used when buying from a seller role.
func (s *Service) ResolverFor(sellerRole Role) pricing.Resolver {
	if sellerRole == RoleWholesaler {
		return s.wholesale
	}
	return s.customer
}

// Quote prices one category of a seller's stock for its buyers.
func (s *Service) Quote(seller *SellerProfile, stock *StockRecord, category string) pricing.Quote {
	src := pricing.Source{Explicit: seller.Prices, Legacy: seller.LegacyPrices}
	if stock != nil {
		src.Stock = stock.Prices
	}
	return s.ResolverFor(seller.Role).Resolve(src, category)
}

// Offer is a purchasable (seller, category) snapshot.
type Offer struct {
	SellerID     string  `json:"seller_id"`
	SellerName   string  `json:"seller_name"`
	Category     string  `json:"category"`
	DisplayName  string  `json:"display_name"`
	Image        string  `json:"image,omitempty"`
	AvailableQty int     `json:"available_qty"`
	UnitPrice    float64 `json:"unit_price"`
	Priced       bool    `json:"priced"`
}

// Offer resolves availability and price of one category for a buyer role.
func (s *Service) Offer(ctx context.Context, buyerRole Role, sellerID, category string) (*Offer, error) {
	seller, err := s.Profile(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if up, ok := buyerRole.Upstream(); !ok || up != seller.Role {
		return nil, ErrRoleMismatch
	}
	stock, err := s.stocks.View(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	return s.offerFrom(seller, stock, category), nil
}

// Offers prices every stocked category of one seller for a buyer role.
func (s *Service) Offers(ctx context.Context, buyerRole Role, sellerID string) ([]Offer, error) {
	seller, err := s.Profile(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if up, ok := buyerRole.Upstream(); !ok || up != seller.Role {
		return nil, ErrRoleMismatch
	}
	stock, err := s.stocks.View(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	offers := []Offer{}
	for _, cat := range stockedCategories(stock) {
		offers = append(offers, *s.offerFrom(seller, stock, cat))
	}
	return offers, nil
}

func (s *Service) offerFrom(seller *SellerProfile, stock *StockRecord, category string) *Offer {
	q := s.Quote(seller, stock, category)
	return &Offer{
		SellerID:     seller.SellerID,
		SellerName:   seller.Name,
		Category:     category,
		DisplayName:  stock.DisplayName(category),
		Image:        stock.Images[category],
		AvailableQty: stock.Available(category),
		UnitPrice:    q.Price,
		Priced:       q.Priced,
	}
}

// Listing is one seller as seen by a browsing buyer.
type Listing struct {
	Seller            SellerProfile `json:"seller"`
	DistanceKm        *float64      `json:"distance_km"`
	EstimatedDelivery time.Time     `json:"estimated_delivery"`
	Offers            []Offer       `json:"offers"`
}

// BrowseRequest selects the sellers a buyer may purchase from.
type BrowseRequest struct {
	BuyerRole Role
	Origin    geo.Point
	RadiusKm  float64
}

// Browse ranks the buyer's upstream sellers by distance, filters them by
// radius and prices every stocked category.
func (s *Service) Browse(ctx context.Context, req BrowseRequest) ([]Listing, error) {
	up, ok := req.BuyerRole.Upstream()
	if !ok {
		return nil, ErrRoleMismatch
	}
	profiles, err := s.sellers.ListByRole(ctx, up)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]SellerProfile, len(profiles))
	candidates := make([]geo.Candidate, 0, len(profiles))
	for _, p := range profiles {
		byID[p.SellerID] = p
		candidates = append(candidates, geo.Candidate{ID: p.SellerID, Location: p.Location})
	}
	origin := req.Origin
	ranked := geo.WithinRadius(geo.Rank(&origin, candidates), req.RadiusKm)

	now := s.nowFunc()
	listings := make([]Listing, 0, len(ranked))
	for _, r := range ranked {
		seller := byID[r.ID]
		stock, err := s.stocks.View(ctx, seller.SellerID)
		if err != nil {
			return nil, err
		}
		l := Listing{
			Seller:            seller,
			EstimatedDelivery: geo.EstimateDelivery(r.DistanceKm, r.Known, now),
		}
		if r.Known {
			km := r.DistanceKm
			l.DistanceKm = &km
		}
		for _, cat := range stockedCategories(stock) {
			l.Offers = append(l.Offers, *s.offerFrom(&seller, stock, cat))
		}
		listings = append(listings, l)
	}
	return listings, nil
}

// stockedCategories returns categories with quantity on hand, known ones first.
func stockedCategories(stock *StockRecord) []string {
	seen := map[string]bool{}
	var out []string
	for _, cat := range pricing.Categories {
		if stock.Available(cat) > 0 {
			out = append(out, cat)
			seen[cat] = true
		}
	}
	var extra []string
	for cat := range stock.Quantities {
		if !seen[cat] && stock.Available(cat) > 0 {
			extra = append(extra, cat)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

// InventoryLine is a seller's view of its own stock.
type InventoryLine struct {
	Category    string  `json:"category"`
	DisplayName string  `json:"display_name"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
	ResalePrice float64 `json:"resale_price,omitempty"`
	Image       string  `json:"image,omitempty"`
}

// Inventory lists a seller's own stock. Retailers also see the customer price
// derived from what they paid.
func (s *Service) Inventory(ctx context.Context, seller *SellerProfile) ([]InventoryLine, *StockRecord, error) {
	stock, err := s.stocks.View(ctx, seller.SellerID)
	if err != nil {
		return nil, nil, err
	}
	cats := make([]string, 0, len(stock.Quantities))
	for cat := range stock.Quantities {
		cats = append(cats, cat)
	}
	sort.Strings(cats)

	lines := make([]InventoryLine, 0, len(cats))
	for _, cat := range cats {
		line := InventoryLine{
			Category:    cat,
			DisplayName: stock.DisplayName(cat),
			Quantity:    stock.Available(cat),
			Price:       stock.Prices[cat],
			Image:       stock.Images[cat],
		}
		if seller.Role == RoleRetailer {
			line.ResalePrice = s.Quote(seller, stock, cat).Price
		}
		lines = append(lines, line)
	}
	return lines, stock, nil
}
