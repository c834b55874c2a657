package domain

import "time"

// OrderTracking is the one-to-one fulfillment record of an order.
type OrderTracking struct {
	ID                string
	OrderID           string
	Status            OrderStatus
	CurrentStep       int
	EstimatedDelivery time.Time
	Steps             []TrackingStep
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TrackingStep is one append-only milestone.
type TrackingStep struct {
	ID          string
	Title       string
	Description string
	Completed   bool
	Timestamp   time.Time
}
