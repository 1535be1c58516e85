package products

import "time"

// Product represents a catalog entry. Price is in the smallest currency
// unit and is independent of the pack-size metadata (Unit/UnitQuantity).
type Product struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Category     string    `json:"category"`
	Image        string    `json:"image"`
	Price        int64     `json:"price"`
	Stock        int       `json:"stock"`
	Unit         string    `json:"unit"`
	UnitQuantity int       `json:"unit_quantity"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewProduct is the creation payload.
type NewProduct struct {
	Name         string `json:"name" validate:"required"`
	Description  string `json:"description" validate:"required"`
	Category     string `json:"category" validate:"required"`
	Image        string `json:"image"`
	Price        int64  `json:"price" validate:"required,min=0"`
	Stock        int    `json:"stock" validate:"min=0"`
	Unit         string `json:"unit"`
	UnitQuantity int    `json:"unit_quantity"`
}
