// Package billing implements invoices, billing items, and the immutable
// pharmacy transaction ledger.
package billing

import (
	"time"

	"github.com/google/uuid"
)

// InvoiceStatus tracks payment independently of the fulfillment engine;
// payment collection is external.
type InvoiceStatus string

const (
	InvoicePending InvoiceStatus = "pending"
	InvoicePaid    InvoiceStatus = "paid"
	InvoiceVoid    InvoiceStatus = "void"
)

// TransactionType classifies a stock movement in the pharmacy ledger.
type TransactionType string

const (
	TransactionDispense TransactionType = "dispense"
	TransactionRestock  TransactionType = "restock"
)

// BillingItem is one charged line of an invoice, one per distinct medicine.
type BillingItem struct {
	ID          string  `json:"id"`
	InvoiceID   string  `json:"invoice_id"`
	MedicineID  string  `json:"medicine_id"`
	Description string  `json:"description"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Amount      float64 `json:"amount"`
}

// Invoice is a patient-facing charge record aggregating one or more
// billing items.
type Invoice struct {
	ID          string        `json:"id"`
	Number      string        `json:"number"`
	PatientID   string        `json:"patient_id"`
	TotalAmount float64       `json:"total_amount"`
	Status      InvoiceStatus `json:"status"`
	IssuedAt    time.Time     `json:"issued_at"`
	Items       []BillingItem `json:"items"`
}

// PharmacyTransaction is a write-once ledger row recording one stock
// movement. It is never updated or deleted.
type PharmacyTransaction struct {
	ID          string          `json:"id"`
	Type        TransactionType `json:"type"`
	MedicineID  string          `json:"medicine_id"`
	Quantity    int             `json:"quantity"`
	UnitPrice   float64         `json:"unit_price"`
	TotalAmount float64         `json:"total_amount"`
	PatientID   string          `json:"patient_id"`
	CaregiverID string          `json:"caregiver_id"`
	WorkItemID  string          `json:"work_item_id"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ChargeLine is one priced consumption line feeding invoice construction.
type ChargeLine struct {
	MedicineID   string
	MedicineName string
	Quantity     int
	UnitPrice    float64
}

// BuildInvoice aggregates charge lines into an invoice with one billing
// item per distinct medicine. It returns nil when the billable total is
// zero or there are no lines: free consumables produce no invoice.
func BuildInvoice(patientID string, lines []ChargeLine, at time.Time) *Invoice {
	if len(lines) == 0 {
		return nil
	}

	inv := &Invoice{
		ID:        uuid.New().String(),
		PatientID: patientID,
		Status:    InvoicePending,
		IssuedAt:  at,
	}

	for _, line := range lines {
		amount := float64(line.Quantity) * line.UnitPrice
		inv.Items = append(inv.Items, BillingItem{
			ID:          uuid.New().String(),
			InvoiceID:   inv.ID,
			MedicineID:  line.MedicineID,
			Description: line.MedicineName,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Amount:      amount,
		})
		inv.TotalAmount += amount
	}

	if inv.TotalAmount == 0 {
		return nil
	}
	return inv
}
