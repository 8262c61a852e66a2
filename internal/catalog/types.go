package catalog

import (
	"errors"
	"strings"
	"time"

	"github.com/imrishuroy/bitsmart-orderflow/internal/geo"
)

// Role is a marketplace participant type.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleRetailer   Role = "retailer"
	RoleWholesaler Role = "wholesaler"
)

func ParseRole(v string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(v))); r {
	case RoleCustomer, RoleRetailer, RoleWholesaler:
		return r, true
	default:
		return "", false
	}
}

// IsSeller reports whether the role owns a stock record.
func (r Role) IsSeller() bool {
	return r == RoleRetailer || r == RoleWholesaler
}

// Resells reports whether stock bought by this role lands in its own inventory.
func (r Role) Resells() bool {
	return r == RoleRetailer
}

// Upstream returns the role a buyer purchases from.
func (r Role) Upstream() (Role, bool) {
	switch r {
	case RoleCustomer:
		return RoleRetailer, true
	case RoleRetailer:
		return RoleWholesaler, true
	default:
		return "", false
	}
}

var (
	ErrSellerNotFound   = errors.New("seller not found")
	ErrVersionConflict  = errors.New("stock record changed concurrently")
	ErrNegativeQuantity = errors.New("quantity must not be negative")
	ErrNegativePrice    = errors.New("price must not be negative")
	ErrRoleMismatch     = errors.New("seller role does not serve this buyer")
	ErrUnpriced         = errors.New("category has no price")
)

// StockRecord is one seller's inventory document.
type StockRecord struct {
	SellerID     string             `dynamodbav:"seller_id" json:"seller_id"`
	Quantities   map[string]int     `dynamodbav:"quantities,omitempty" json:"quantities"`
	Prices       map[string]float64 `dynamodbav:"prices,omitempty" json:"prices,omitempty"`
	DisplayNames map[string]string  `dynamodbav:"display_names,omitempty" json:"display_names,omitempty"`
	Images       map[string]string  `dynamodbav:"images,omitempty" json:"images,omitempty"`
	Version      int64              `dynamodbav:"version" json:"version"`
	UpdatedAt    time.Time          `dynamodbav:"updated_at" json:"updated_at"`
	// AppliedOps holds the ids of the most recent mutations written.
	AppliedOps []string `dynamodbav:"applied_ops,omitempty" json:"-"`
}

// NewStockRecord returns an empty record for sellerID.
func NewStockRecord(sellerID string) *StockRecord {
	r := &StockRecord{SellerID: sellerID}
	r.normalize()
	return r
}

func (r *StockRecord) normalize() {
	if r.Quantities == nil {
		r.Quantities = map[string]int{}
	}
	if r.Prices == nil {
		r.Prices = map[string]float64{}
	}
	if r.DisplayNames == nil {
		r.DisplayNames = map[string]string{}
	}
	if r.Images == nil {
		r.Images = map[string]string{}
	}
	for cat, q := range r.Quantities {
		if q < 0 {
			r.Quantities[cat] = 0
		}
	}
}

func (r *StockRecord) clone() *StockRecord {
	out := *r
	out.Quantities = make(map[string]int, len(r.Quantities))
	for k, v := range r.Quantities {
		out.Quantities[k] = v
	}
	out.Prices = make(map[string]float64, len(r.Prices))
	for k, v := range r.Prices {
		out.Prices[k] = v
	}
	out.DisplayNames = make(map[string]string, len(r.DisplayNames))
	for k, v := range r.DisplayNames {
		out.DisplayNames[k] = v
	}
	out.Images = make(map[string]string, len(r.Images))
	for k, v := range r.Images {
		out.Images[k] = v
	}
	out.AppliedOps = append([]string(nil), r.AppliedOps...)
	return &out
}

func (r *StockRecord) applied(opID string) bool {
	for _, id := range r.AppliedOps {
		if id == opID {
			return true
		}
	}
	return false
}

// Available returns the on-hand quantity of category, never negative.
func (r *StockRecord) Available(category string) int {
	if r == nil {
		return 0
	}
	if q := r.Quantities[category]; q > 0 {
		return q
	}
	return 0
}

// DisplayName falls back to the category itself.
func (r *StockRecord) DisplayName(category string) string {
	if r != nil {
		if n := strings.TrimSpace(r.DisplayNames[category]); n != "" {
			return n
		}
	}
	return category
}

// SellerProfile is the public profile of any participant.
type SellerProfile struct {
	SellerID     string             `dynamodbav:"seller_id" json:"seller_id"`
	Role         Role               `dynamodbav:"role" json:"role"`
	Name         string             `dynamodbav:"name" json:"name"`
	Email        string             `dynamodbav:"email,omitempty" json:"email,omitempty"`
	Location     *geo.Point         `dynamodbav:"location,omitempty" json:"location,omitempty"`
	Prices       map[string]float64 `dynamodbav:"prices,omitempty" json:"prices,omitempty"`
	LegacyPrices map[string]float64 `dynamodbav:"legacy_prices,omitempty" json:"legacy_prices,omitempty"`
	UpdatedAt    time.Time          `dynamodbav:"updated_at" json:"updated_at"`
}

// Item is a (category, quantity) movement. Price is the unit price paid and
// is carried into the buyer's stock on increment.
type Item struct {
	Category string
	Quantity int
	Price    float64
}

// DecrementResult reports what a decrement actually removed.
type DecrementResult struct {
	Requested map[string]int
	Applied   map[string]int
	// Clamped lists categories where less than requested was on hand.
	Clamped []string
	Record  *StockRecord
}

// StockEdit is a seller's direct change to its own stock. Nil maps are left alone;
// present keys overwrite.
type StockEdit struct {
	Quantities   map[string]int
	Prices       map[string]float64
	DisplayNames map[string]string
	Images       map[string]string
}

func (e StockEdit) validate() error {
	for _, q := range e.Quantities {
		if q < 0 {
			return ErrNegativeQuantity
		}
	}
	for _, p := range e.Prices {
		if p < 0 {
			return ErrNegativePrice
		}
	}
	return nil
}
