package handlers

import (
	"strings"
	"time"

	"github.com/style-suite/api/internal/services"
)

type addressPayload struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
	Country string `json:"country"`
}

func (p *addressPayload) toAddress() services.Address {
	if p == nil {
		return services.Address{}
	}
	return services.Address{
		Street:  p.Street,
		City:    p.City,
		State:   p.State,
		ZipCode: p.ZipCode,
		Country: p.Country,
	}
}

type orderLinePayload struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Size      string `json:"size"`
	Color     string `json:"color"`
}

// createOrderRequest is the body shared by both ingestion gateways. UserID is read only on the
// partner gateway.
type createOrderRequest struct {
	UserID          string             `json:"userId"`
	Items           []orderLinePayload `json:"items"`
	ShippingAddress *addressPayload    `json:"shippingAddress"`
	PaymentMethod   string             `json:"paymentMethod"`
	CustomerName    string             `json:"customerName"`
	CustomerEmail   string             `json:"customerEmail"`
	CustomerPhone   string             `json:"customerPhone"`
	Notes           string             `json:"notes"`
}

func (req createOrderRequest) command(caller services.Caller) services.CreateOrderCommand {
	lines := make([]services.OrderLineRequest, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, services.OrderLineRequest{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
			Size:      strings.TrimSpace(item.Size),
			Color:     strings.TrimSpace(item.Color),
		})
	}
	return services.CreateOrderCommand{
		Caller:          caller,
		Items:           lines,
		ShippingAddress: req.ShippingAddress.toAddress(),
		Contact: services.CustomerContact{
			Name:  req.CustomerName,
			Email: req.CustomerEmail,
			Phone: req.CustomerPhone,
		},
		PaymentMethod: req.PaymentMethod,
		Notes:         req.Notes,
	}
}

type productSnapshot struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Category string   `json:"category,omitempty"`
	Image    string   `json:"image,omitempty"`
	Images   []string `json:"images"`
	Sizes    []string `json:"sizes"`
	Colors   []string `json:"colors"`
	Price    int64    `json:"price"`
}

type orderItemResponse struct {
	ID        string           `json:"id"`
	ProductID string           `json:"productId"`
	Quantity  int              `json:"quantity"`
	Price     int64            `json:"price"`
	Size      string           `json:"size,omitempty"`
	Color     string           `json:"color,omitempty"`
	Product   *productSnapshot `json:"product,omitempty"`
}

type trackingStepResponse struct {
	ID          string `json:"id"`
	Step        string `json:"step"`
	Description string `json:"description"`
	IsCompleted bool   `json:"isCompleted"`
	Timestamp   string `json:"timestamp"`
}

type trackingResponse struct {
	ID                string                 `json:"id"`
	Status            string                 `json:"status"`
	CurrentStep       int                    `json:"currentStep"`
	EstimatedDelivery string                 `json:"estimatedDelivery,omitempty"`
	TrackingSteps     []trackingStepResponse `json:"trackingSteps"`
	UpdatedAt         string                 `json:"updatedAt"`
}

type orderResponse struct {
	ID              string              `json:"id"`
	OrderNumber     string              `json:"orderNumber"`
	UserID          string              `json:"userId"`
	Items           []orderItemResponse `json:"items"`
	Subtotal        int64               `json:"subtotal"`
	Shipping        int64               `json:"shipping"`
	Tax             int64               `json:"tax"`
	Total           int64               `json:"total"`
	Status          string              `json:"status"`
	PaymentMethod   string              `json:"paymentMethod"`
	PaymentStatus   string              `json:"paymentStatus"`
	CustomerName    string              `json:"customerName,omitempty"`
	CustomerEmail   string              `json:"customerEmail,omitempty"`
	CustomerPhone   string              `json:"customerPhone,omitempty"`
	ShippingAddress addressPayload      `json:"shippingAddress"`
	Notes           string              `json:"notes,omitempty"`
	Source          string              `json:"source"`
	Tracking        *trackingResponse   `json:"tracking,omitempty"`
	CreatedAt       string              `json:"createdAt"`
	UpdatedAt       string              `json:"updatedAt"`
}

// partnerOrderResponse is the reduced projection returned to partners.
type partnerOrderResponse struct {
	ID            string              `json:"id"`
	OrderNumber   string              `json:"orderNumber"`
	Total         int64               `json:"total"`
	Status        string              `json:"status"`
	PaymentStatus string              `json:"paymentStatus"`
	CreatedAt     string              `json:"createdAt"`
	Items         []orderItemResponse `json:"items"`
}

func buildOrderResponse(order services.Order) orderResponse {
	resp := orderResponse{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		Items:         buildOrderItems(order.Items),
		Subtotal:      order.Subtotal,
		Shipping:      order.Shipping,
		Tax:           order.Tax,
		Total:         order.Total,
		Status:        string(order.Status),
		PaymentMethod: order.PaymentMethod,
		PaymentStatus: string(order.PaymentStatus),
		CustomerName:  order.Contact.Name,
		CustomerEmail: order.Contact.Email,
		CustomerPhone: order.Contact.Phone,
		ShippingAddress: addressPayload{
			Street:  order.ShippingAddress.Street,
			City:    order.ShippingAddress.City,
			State:   order.ShippingAddress.State,
			ZipCode: order.ShippingAddress.ZipCode,
			Country: order.ShippingAddress.Country,
		},
		Notes:     order.Notes,
		Source:    string(order.Source),
		CreatedAt: formatTime(order.CreatedAt),
		UpdatedAt: formatTime(order.UpdatedAt),
	}
	if order.Tracking != nil {
		tracking := buildTrackingResponse(*order.Tracking)
		resp.Tracking = &tracking
	}
	return resp
}

func buildPartnerOrderResponse(order services.Order) partnerOrderResponse {
	return partnerOrderResponse{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		Total:         order.Total,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		CreatedAt:     formatTime(order.CreatedAt),
		Items:         buildOrderItems(order.Items),
	}
}

func buildOrderItems(items []services.OrderItem) []orderItemResponse {
	result := make([]orderItemResponse, 0, len(items))
	for _, item := range items {
		entry := orderItemResponse{
			ID:        item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.UnitPrice,
			Size:      item.Size,
			Color:     item.Color,
		}
		if item.Product != nil {
			entry.Product = &productSnapshot{
				ID:       item.Product.ID,
				Name:     item.Product.Name,
				Category: item.Product.Category,
				Image:    item.Product.Image,
				Images:   nonNilStrings(item.Product.Images),
				Sizes:    nonNilStrings(item.Product.Sizes),
				Colors:   nonNilStrings(item.Product.Colors),
				Price:    item.Product.Price,
			}
		}
		result = append(result, entry)
	}
	return result
}

func buildTrackingResponse(tracking services.OrderTracking) trackingResponse {
	steps := make([]trackingStepResponse, 0, len(tracking.Steps))
	for _, step := range tracking.Steps {
		steps = append(steps, trackingStepResponse{
			ID:          step.ID,
			Step:        step.Title,
			Description: step.Description,
			IsCompleted: step.Completed,
			Timestamp:   formatTime(step.Timestamp),
		})
	}
	return trackingResponse{
		ID:                tracking.ID,
		Status:            string(tracking.Status),
		CurrentStep:       tracking.CurrentStep,
		EstimatedDelivery: formatTime(tracking.EstimatedDelivery),
		TrackingSteps:     steps,
		UpdatedAt:         formatTime(tracking.UpdatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
