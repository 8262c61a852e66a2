package orders

import (
	"errors"
	"time"
)

// Fulfillment statuses, in flow order.
const (
	StatusPlaced         = "Placed"
	StatusConfirmed      = "Confirmed"
	StatusPacked         = "Packed"
	StatusOutForDelivery = "Out for Delivery"
	StatusDelivered      = "Delivered"
)

// Payment statuses
const (
	PaymentPaid    = "paid"
	PaymentPending = "pending"
)

// Order flows. Both have the same shape.
const (
	FlowCustomerRetail  = "customer_retail"
	FlowRetailWholesale = "retail_wholesale"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrForbidden         = errors.New("actor is not a party to this order")
	ErrNotSeller         = errors.New("only the fulfilling seller may do this")
	ErrInvalidCost       = errors.New("delivery cost must not be negative")
	ErrPaymentNotPending = errors.New("payment is not pending")
	ErrInvalidSide       = errors.New("side must be buyer or seller")
)

// Item is one ordered category at its creation-time price.
type Item struct {
	Category    string  `dynamodbav:"category" json:"category"`
	DisplayName string  `dynamodbav:"display_name,omitempty" json:"display_name,omitempty"`
	Quantity    int     `dynamodbav:"quantity" json:"quantity"`
	Price       float64 `dynamodbav:"price" json:"price"`
}

// HistoryEntry is one fulfillment transition.
type HistoryEntry struct {
	Status    string    `dynamodbav:"status" json:"status"`
	Timestamp time.Time `dynamodbav:"timestamp" json:"timestamp"`
	Note      string    `dynamodbav:"note,omitempty" json:"note,omitempty"`
	ActorID   string    `dynamodbav:"actor_id,omitempty" json:"actor_id,omitempty"`
}

// DeliveryInfo is seller-owned logistics metadata; each write replaces it whole.
type DeliveryInfo struct {
	ExpectedDate  string    `dynamodbav:"expected_date,omitempty" json:"expected_date,omitempty"`
	Carrier       string    `dynamodbav:"carrier,omitempty" json:"carrier,omitempty"`
	Cost          float64   `dynamodbav:"cost" json:"cost"`
	Notes         string    `dynamodbav:"notes,omitempty" json:"notes,omitempty"`
	UpdatedBy     string    `dynamodbav:"updated_by" json:"updated_by"`
	UpdatedByName string    `dynamodbav:"updated_by_name,omitempty" json:"updated_by_name,omitempty"`
	UpdatedAt     time.Time `dynamodbav:"updated_at" json:"updated_at"`
}

// Order represents the item stored in the Orders DynamoDB table.
// TotalAmount is a snapshot taken at creation and never recomputed.
// Status always equals the last entry of StatusHistory.
type Order struct {
	OrderID          string         `dynamodbav:"order_id" json:"order_id"` // PK
	CheckoutID       string         `dynamodbav:"checkout_id,omitempty" json:"checkout_id,omitempty"`
	Flow             string         `dynamodbav:"flow" json:"flow"`
	BuyerID          string         `dynamodbav:"buyer_id" json:"buyer_id"` // GSI buyer_index
	BuyerName        string         `dynamodbav:"buyer_name,omitempty" json:"buyer_name,omitempty"`
	SellerID         string         `dynamodbav:"seller_id" json:"seller_id"` // GSI seller_index
	SellerName       string         `dynamodbav:"seller_name,omitempty" json:"seller_name,omitempty"`
	Items            []Item         `dynamodbav:"items" json:"items"`
	TotalAmount      float64        `dynamodbav:"total_amount" json:"total_amount"`
	Status           string         `dynamodbav:"status" json:"status"`
	StatusHistory    []HistoryEntry `dynamodbav:"status_history" json:"status_history"`
	PaymentStatus    string         `dynamodbav:"payment_status" json:"payment_status"`
	PaymentReference string         `dynamodbav:"payment_reference,omitempty" json:"payment_reference,omitempty"`
	PaymentError     string         `dynamodbav:"payment_error,omitempty" json:"payment_error,omitempty"`
	Delivery         *DeliveryInfo  `dynamodbav:"delivery,omitempty" json:"delivery,omitempty"`
	CreatedAt        time.Time      `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `dynamodbav:"updated_at" json:"updated_at"`
}

// IsParty reports whether userID is the buyer or the seller.
func (o *Order) IsParty(userID string) bool {
	return userID != "" && (o.BuyerID == userID || o.SellerID == userID)
}

// Actor identifies who performs an operation.
type Actor struct {
	ID   string
	Name string
}

// Label is the name used in history notes.
func (a Actor) Label() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}
