package domain

import "time"

// Product is the catalog entry referenced by order lines. Stock is mutated only by inventory
// reservation and by catalog administration.
type Product struct {
	ID          string
	Name        string
	Description string
	Category    string
	Image       string
	Images      []string
	Sizes       []string
	Colors      []string
	Price       int64
	Stock       int
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
