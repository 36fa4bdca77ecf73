package orders

import "time"

// Order statuses
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Order represents the item stored in the Orders DynamoDB table.
type Order struct {
	OrderID    string                   `dynamodbav:"order_id" json:"order_id"` // PK
	CustomerID string                   `dynamodbav:"customer_id,omitempty" json:"customer_id,omitempty"`
	Status     string                   `dynamodbav:"status" json:"status"` // PENDING | PROCESSING | COMPLETED | FAILED
	Amount     float64                  `dynamodbav:"amount" json:"amount"`
	Currency   string                   `dynamodbav:"currency,omitempty" json:"currency,omitempty"`
	Items      []map[string]interface{} `dynamodbav:"items,omitempty" json:"items,omitempty"`
	Metadata   map[string]interface{}   `dynamodbav:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt  time.Time                `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt  time.Time                `dynamodbav:"updated_at" json:"updated_at"`
	Attempts   int                      `dynamodbav:"attempts,omitempty" json:"attempts,omitempty"`
}
