// Package inventory implements the pharmacy stock domain.
package inventory

import (
	"fmt"
	"time"
)

// Status represents medicine stock status.
type Status string

const (
	StatusInStock    Status = "in_stock"
	StatusLowStock   Status = "low_stock"
	StatusOutOfStock Status = "out_of_stock"
)

// Medicine is a stock-keeping unit. Quantity never goes negative; the
// status flips to out-of-stock when quantity reaches exactly zero. Within
// the fulfillment engine only the inventory-billing bridge writes to it.
type Medicine struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Quantity  int       `json:"quantity"`
	UnitPrice float64   `json:"unit_price"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InsufficientStockError is returned when a requested deduction exceeds the
// on-hand quantity. It carries enough detail for an actionable UI message.
type InsufficientStockError struct {
	MedicineID string
	Name       string
	Available  int
	Required   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for medicine %s: available %d, required %d",
		e.MedicineID, e.Available, e.Required)
}

// CanDeduct reports whether qty units are on hand, returning the typed
// error when they are not. It performs no mutation so callers can validate
// every line of a consumption request before committing any of it.
func (m *Medicine) CanDeduct(qty int) error {
	if qty <= 0 {
		return fmt.Errorf("deduction quantity must be positive, got %d", qty)
	}
	if m.Quantity < qty {
		return &InsufficientStockError{
			MedicineID: m.ID,
			Name:       m.Name,
			Available:  m.Quantity,
			Required:   qty,
		}
	}
	return nil
}

// Deduct removes qty units from stock, flipping the status to out-of-stock
// at exactly zero.
func (m *Medicine) Deduct(qty int, at time.Time) error {
	if err := m.CanDeduct(qty); err != nil {
		return err
	}
	m.Quantity -= qty
	if m.Quantity == 0 {
		m.Status = StatusOutOfStock
	}
	m.UpdatedAt = at
	return nil
}
