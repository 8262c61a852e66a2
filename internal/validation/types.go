package validation

// Location is a (lat, lng) pair; both or neither must be present.
type Location struct {
	Lat *float64 `json:"lat" validate:"omitempty,gte=-90,lte=90"`
	Lng *float64 `json:"lng" validate:"omitempty,gte=-180,lte=180"`
}

// SaveProfileRequest is the payload for PUT /sellers/me
type SaveProfileRequest struct {
	Role     string             `json:"role" validate:"required,oneof=customer retailer wholesaler"`
	Name     string             `json:"name" validate:"required,max=120"`
	Email    string             `json:"email,omitempty" validate:"omitempty,email"`
	Location *Location          `json:"location,omitempty"`
	Prices   map[string]float64 `json:"prices,omitempty" validate:"omitempty,dive,keys,required,endkeys,gte=0"`
}

// StockEditRequest is the payload for PUT /stock/me. At least one map must be set.
type StockEditRequest struct {
	Quantities   map[string]int     `json:"quantities,omitempty" validate:"omitempty,dive,keys,required,endkeys,gte=0"`
	Prices       map[string]float64 `json:"prices,omitempty" validate:"omitempty,dive,keys,required,endkeys,gte=0"`
	DisplayNames map[string]string  `json:"display_names,omitempty" validate:"omitempty,dive,keys,required,endkeys,max=120"`
	Images       map[string]string  `json:"images,omitempty" validate:"omitempty,dive,keys,required,endkeys,omitempty,url"`
}

// AddCartItemRequest is the payload for POST /cart/items
type AddCartItemRequest struct {
	SellerID string `json:"seller_id" validate:"required"`
	Category string `json:"category" validate:"required"`
	Quantity int    `json:"quantity" validate:"required,min=1"`
}

// UpdateCartItemRequest is the payload for PATCH /cart/items/:key.
// Out-of-range quantities are clamped by the cart, not rejected.
type UpdateCartItemRequest struct {
	Quantity *int `json:"quantity" validate:"required"`
}

// CheckoutRequest is the payload for POST /checkout. An empty source id means
// the buyer closed the payment sheet.
type CheckoutRequest struct {
	PaymentSourceID string `json:"payment_source_id,omitempty" validate:"omitempty,max=255"`
}

// DeliveryInfoRequest is the payload for PUT /orders/:id/delivery
type DeliveryInfoRequest struct {
	ExpectedDate string  `json:"expected_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Carrier      string  `json:"carrier,omitempty" validate:"omitempty,max=100"`
	Cost         float64 `json:"cost" validate:"gte=0"`
	Notes        string  `json:"notes,omitempty" validate:"omitempty,max=500"`
}

// ReconcilePaymentRequest is the payload for POST /orders/:id/payment
type ReconcilePaymentRequest struct {
	Reference string `json:"reference" validate:"required,max=200"`
}

// ListOrdersQuery is the query string of GET /orders
type ListOrdersQuery struct {
	Role   string `form:"role" validate:"omitempty,oneof=buyer seller"`
	Cursor string `form:"cursor"`
	Limit  int32  `form:"limit" validate:"omitempty,min=1,max=100"`
}

// BrowseQuery is the query string of GET /sellers
type BrowseQuery struct {
	Lat      *float64 `form:"lat" validate:"omitempty,gte=-90,lte=90"`
	Lng      *float64 `form:"lng" validate:"omitempty,gte=-180,lte=180"`
	RadiusKm *float64 `form:"radius_km" validate:"omitempty,gte=0"`
}
