package domain

import "time"

// OrderStatus enumerates the fulfillment states shared by orders and their tracking records.
type OrderStatus string

const (
	OrderStatusCreated    OrderStatus = "CREATED"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// PaymentStatus records whether the order has been paid.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPaid    PaymentStatus = "PAID"
)

// PaymentMethodCOD is the cash-on-delivery method applied when none is supplied.
const PaymentMethodCOD = "COD"

// OrderSource identifies the gateway an order arrived through.
type OrderSource string

const (
	OrderSourceSession OrderSource = "session"
	OrderSourcePartner OrderSource = "partner"
)

// Address is the shipping address snapshot stored with an order.
type Address struct {
	Street  string
	City    string
	State   string
	ZipCode string
	Country string
}

// CustomerContact is the contact snapshot stored with an order.
type CustomerContact struct {
	Name  string
	Email string
	Phone string
}

// OrderLineRequest is a requested line before reservation. It is never persisted as-is.
type OrderLineRequest struct {
	ProductID string
	Quantity  int
	Size      string
	Color     string
}

// OrderItem is a persisted order line. UnitPrice is copied from the catalog at reservation time.
type OrderItem struct {
	ID        string
	OrderID   string
	ProductID string
	Quantity  int
	UnitPrice int64
	Size      string
	Color     string
	Product   *Product
}

// LineTotal returns UnitPrice * Quantity.
func (i OrderItem) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// Order is the order aggregate. Totals are computed once at creation.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          string
	Items           []OrderItem
	Subtotal        int64
	Shipping        int64
	Tax             int64
	Total           int64
	Status          OrderStatus
	PaymentMethod   string
	PaymentStatus   PaymentStatus
	Contact         CustomerContact
	ShippingAddress Address
	Notes           string
	Source          OrderSource
	APIKeyID        string
	Tracking        *OrderTracking
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PaymentStatusFor derives the initial payment status for a payment method.
func PaymentStatusFor(method string) PaymentStatus {
	if method == PaymentMethodCOD {
		return PaymentStatusPending
	}
	return PaymentStatusPaid
}
