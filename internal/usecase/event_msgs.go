package usecase

import "time"

// Published on RabbitMQ when an order is placed.
type OrderCreatedMsg struct {
	OrderID     string    `json:"orderId"`
	UserID      string    `json:"userId"`
	TotalAmount string    `json:"totalAmount"`
	ItemCount   int       `json:"itemCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Published on RabbitMQ for every administrative status change.
type OrderStatusChangedMsg struct {
	OrderID       string    `json:"orderId"`
	UserID        string    `json:"userId"`
	Field         string    `json:"field"` // "status" | "payment_status"
	From          string    `json:"from"`
	To            string    `json:"to"`
	StockRestored bool      `json:"stockRestored,omitempty"`
	ChangedAt     time.Time `json:"changedAt"`
}

// Sent by the payment processor on Kafka
type PaymentStatusMsg struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"` // e.g. "SUCCESS", "REFUNDED"
}
