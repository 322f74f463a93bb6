package domain

import "time"

// Variant is a sellable SKU of a drop product. Price is in minor currency
// units (paise). InventoryCount is the physical on-hand quantity; ReservedCount
// is the portion of it currently held by active checkout reservations.
type Variant struct {
	ID             string    `json:"id"`
	ProductID      string    `json:"product_id"`
	MerchantID     string    `json:"merchant_id"`
	ProductName    string    `json:"product_name"`
	Name           string    `json:"name"`
	Price          int64     `json:"price"`
	InventoryCount int       `json:"inventory_count"`
	ReservedCount  int       `json:"reserved_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Available returns the quantity that can still be reserved.
func (v *Variant) Available() int {
	return v.InventoryCount - v.ReservedCount
}

// InStock reports whether at least quantity units are available.
func (v *Variant) InStock(quantity int) bool {
	return v.Available() >= quantity
}
