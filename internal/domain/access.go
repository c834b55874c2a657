package domain

import "time"

// APIKey authorises a partner integration. LastUsedAt is refreshed on every accepted call.
type APIKey struct {
	ID          string
	Key         string
	Name        string
	Description string
	Active      bool
	LastUsedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// User is the minimal account record owned by this service: guests created for partner orders.
type User struct {
	ID        string
	Email     string
	Name      string
	Phone     string
	Role      string
	Guest     bool
	CreatedAt time.Time
}

// CallerKind tags the trust domain a request came from.
type CallerKind string

const (
	CallerSession CallerKind = "session"
	CallerPartner CallerKind = "partner"
)

// Caller identifies who is placing an order: a session user or a partner API key.
type Caller struct {
	Kind     CallerKind
	UserID   string
	APIKeyID string
}

// SessionCaller returns a caller authenticated by a user session.
func SessionCaller(userID string) Caller {
	return Caller{Kind: CallerSession, UserID: userID}
}

// PartnerCaller returns a caller authenticated by a partner API key.
func PartnerCaller(apiKeyID string) Caller {
	return Caller{Kind: CallerPartner, APIKeyID: apiKeyID}
}
