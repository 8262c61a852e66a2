package idempotency

import "time"

// Status values for idempotency entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// Record is the shape persisted in the idempotency DynamoDB table.
type Record struct {
	IdempotencyKey string    `dynamodbav:"idempotency_key"` // PK
	Status         string    `dynamodbav:"status"`
	Owner          string    `dynamodbav:"owner,omitempty"`
	OrderIDs       []string  `dynamodbav:"order_ids,omitempty"`
	ResponseBody   string    `dynamodbav:"response_body,omitempty"` // small responses only
	ResponseStatus int       `dynamodbav:"response_status,omitempty"`
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at"` // TTL epoch seconds
	Note           string    `dynamodbav:"note,omitempty"`
}

// Outcome is the result of Begin.
type Outcome int

const (
	// Claimed means the caller owns the key and must finish with MarkDone or MarkFailed.
	Claimed Outcome = iota
	// Replay means an earlier request completed; Record holds its response.
	Replay
)
