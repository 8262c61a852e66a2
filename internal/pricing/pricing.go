package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// CustomerMarkup is the factor applied to a retailer's base price for customers.
var CustomerMarkup = decimal.RequireFromString("1.05")

// DefaultCustomerPrices are display prices used when a retailer has not priced a category.
var DefaultCustomerPrices = map[string]float64{
	"Shirts":      1299,
	"Trousers":    1499,
	"Jackets":     2799,
	"Shoes":       2199,
	"Accessories": 799,
	"Ethnic Wear": 3299,
}

// DefaultWholesalePrices are used when a wholesaler has not priced a category.
var DefaultWholesalePrices = map[string]float64{
	"Shirts":      500,
	"Trousers":    700,
	"Jackets":     1500,
	"Shoes":       1200,
	"Accessories": 300,
	"Ethnic Wear": 2000,
}

// Categories lists the catalog categories in display order.
var Categories = []string{"Shirts", "Trousers", "Jackets", "Shoes", "Accessories", "Ethnic Wear"}

// ApplyMarkup multiplies base by factor and rounds up to a whole currency unit.
func ApplyMarkup(base float64, factor decimal.Decimal) float64 {
	if base <= 0 {
		return 0
	}
	return decimal.NewFromFloat(base).Mul(factor).Ceil().InexactFloat64()
}

// Source is what a seller exposes for price lookup.
type Source struct {
	// Explicit is the seller profile's per-category price map.
	Explicit map[string]float64
	// Stock is the price map embedded in the seller's stock record.
	Stock map[string]float64
	// Legacy holds flat "<category>Price" keys from older profiles.
	Legacy map[string]float64
}

// Origin names the step of the fallback chain that produced a price.
type Origin string

const (
	OriginExplicit   Origin = "explicit"
	OriginStock      Origin = "stock"
	OriginNormalized Origin = "normalized_key"
	OriginLowercase  Origin = "lowercase_key"
	OriginDefault    Origin = "default"
	OriginNone       Origin = "none"
)

// Quote is a resolved price. Priced is false when nothing resolved, which
// callers must tell apart from a real zero price.
type Quote struct {
	Category string  `json:"category"`
	Base     float64 `json:"base"`
	Price    float64 `json:"price"`
	Origin   Origin  `json:"origin"`
	Priced   bool    `json:"priced"`
}

// Resolver maps (seller, category) to a price. Seller-sourced prices get the
// markup; the default table already holds final prices.
type Resolver struct {
	Defaults map[string]float64
	Markup   decimal.Decimal
}

// NewCustomerResolver prices retailer stock for customers.
func NewCustomerResolver(markup decimal.Decimal) Resolver {
	return Resolver{Defaults: DefaultCustomerPrices, Markup: markup}
}

// NewWholesaleResolver prices wholesaler stock for retailers.
func NewWholesaleResolver() Resolver {
	return Resolver{Defaults: DefaultWholesalePrices, Markup: decimal.NewFromInt(1)}
}

func (r Resolver) Resolve(src Source, category string) Quote {
	q := Quote{Category: category, Origin: OriginNone}

	steps := []struct {
		origin Origin
		value  float64
	}{
		{OriginExplicit, src.Explicit[category]},
		{OriginStock, src.Stock[category]},
		{OriginNormalized, src.Legacy[NormalizedKey(category)]},
		{OriginLowercase, src.Legacy[strings.ToLower(category)+"Price"]},
	}
	for _, s := range steps {
		if s.value > 0 {
			q.Base = s.value
			q.Price = ApplyMarkup(s.value, r.markup())
			q.Origin = s.origin
			q.Priced = true
			return q
		}
	}
	if v := r.Defaults[category]; v > 0 {
		q.Base = v
		q.Price = v
		q.Origin = OriginDefault
		q.Priced = true
	}
	return q
}

func (r Resolver) markup() decimal.Decimal {
	if r.Markup.IsZero() {
		return decimal.NewFromInt(1)
	}
	return r.Markup
}

// NormalizedKey turns "Ethnic Wear" into "ethnicwearPrice".
func NormalizedKey(category string) string {
	return strings.Join(strings.Fields(strings.ToLower(category)), "") + "Price"
}

// LineTotal is quantity x unit price, computed in decimal.
func LineTotal(quantity int, unitPrice float64) decimal.Decimal {
	return decimal.NewFromFloat(unitPrice).Mul(decimal.NewFromInt(int64(quantity)))
}

// MinorUnits converts an amount to the smallest currency unit (paise, cents).
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
