package postgres

import (
	"context"
	"fmt"

	"github.com/caretrack/fulfillment/internal/domain/billing"
)

// BillingStore persists invoices, billing items, and the pharmacy ledger.
type BillingStore struct {
	q querier
}

// NextInvoiceSequence allocates the next sequence number for the year. The
// upsert runs inside the completion transaction, so concurrent completions
// serialize on the year row and never observe the same value.
func (s *BillingStore) NextInvoiceSequence(ctx context.Context, year int) (int64, error) {
	query := `
		INSERT INTO invoice_sequences (year, counter)
		VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE SET counter = invoice_sequences.counter + 1
		RETURNING counter
	`
	var counter int64
	if err := s.q.QueryRow(ctx, query, year).Scan(&counter); err != nil {
		return 0, fmt.Errorf("allocate invoice sequence: %w", err)
	}
	return counter, nil
}

// CreateInvoice inserts an invoice with its billing items.
func (s *BillingStore) CreateInvoice(ctx context.Context, inv *billing.Invoice) error {
	query := `
		INSERT INTO invoices (id, number, patient_id, total_amount, status, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.q.Exec(ctx, query,
		inv.ID, inv.Number, inv.PatientID, inv.TotalAmount, inv.Status, inv.IssuedAt,
	)
	if err != nil {
		return fmt.Errorf("insert invoice %s: %w", inv.Number, err)
	}

	itemQuery := `
		INSERT INTO billing_items (id, invoice_id, medicine_id, description, quantity, unit_price, amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for _, item := range inv.Items {
		_, err := s.q.Exec(ctx, itemQuery,
			item.ID, item.InvoiceID, item.MedicineID, item.Description,
			item.Quantity, item.UnitPrice, item.Amount,
		)
		if err != nil {
			return fmt.Errorf("insert billing item: %w", err)
		}
	}
	return nil
}

// AppendTransactions appends write-once rows to the pharmacy ledger.
func (s *BillingStore) AppendTransactions(ctx context.Context, txns []billing.PharmacyTransaction) error {
	query := `
		INSERT INTO pharmacy_transactions
		(id, type, medicine_id, quantity, unit_price, total_amount, patient_id, caregiver_id, work_item_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	for _, t := range txns {
		_, err := s.q.Exec(ctx, query,
			t.ID, t.Type, t.MedicineID, t.Quantity, t.UnitPrice, t.TotalAmount,
			t.PatientID, t.CaregiverID, t.WorkItemID, t.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert pharmacy transaction: %w", err)
		}
	}
	return nil
}
