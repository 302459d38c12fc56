package fulfillment

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caretrack/fulfillment/internal/domain/billing"
	"github.com/caretrack/fulfillment/internal/domain/inventory"
	"github.com/caretrack/fulfillment/internal/domain/treatment"
)

// consumption is one dose's worth of stock consumption to translate into
// decrements, ledger rows, and an invoice.
type consumption struct {
	patientID   string
	caregiverID string
	workItemID  string
	lines       []treatment.ConsumedMedicine
	at          time.Time
}

// medicineDemand aggregates the requested lines for one medicine. A dose
// list may reference the same medicine more than once; lines are summed
// before the sufficiency check so the check sees the true total.
type medicineDemand struct {
	quantity  int
	unitPrice float64 // first explicit caller price, 0 when none given
}

// consumeStock is the inventory-billing bridge. It validates every
// requested medicine before mutating any of them, then decrements stock,
// appends one pharmacy transaction per medicine, and creates a single
// invoice with one billing item per distinct medicine. A zero billable
// total produces no invoice. Returns the invoice (possibly nil) and the
// medicines that reached zero quantity.
func (e *Engine) consumeStock(ctx context.Context, s Stores, c consumption) (*billing.Invoice, []*inventory.Medicine, error) {
	if len(c.lines) == 0 {
		return nil, nil, nil
	}

	demand := make(map[string]medicineDemand, len(c.lines))
	for _, line := range c.lines {
		d := demand[line.MedicineID]
		d.quantity += line.Quantity
		if d.unitPrice == 0 {
			d.unitPrice = line.UnitPrice
		}
		demand[line.MedicineID] = d
	}

	// Deterministic id order keeps row lock acquisition consistent across
	// concurrent completions.
	ids := make([]string, 0, len(demand))
	for id := range demand {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	meds, err := s.Inventory.GetMedicines(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[string]*inventory.Medicine, len(meds))
	for _, m := range meds {
		byID[m.ID] = m
	}

	// Validate all lines before mutating any: no partial decrement,
	// transaction, or invoice may survive a failed line.
	for _, id := range ids {
		m, ok := byID[id]
		if !ok {
			return nil, nil, fmt.Errorf("medicine %s: %w", id, treatment.ErrNotFound)
		}
		if err := m.CanDeduct(demand[id].quantity); err != nil {
			return nil, nil, err
		}
	}

	var (
		depleted []*inventory.Medicine
		txns     []billing.PharmacyTransaction
		charges  []billing.ChargeLine
	)
	for _, id := range ids {
		m := byID[id]
		d := demand[id]

		price := d.unitPrice
		if price == 0 {
			price = m.UnitPrice
		}

		if err := m.Deduct(d.quantity, c.at); err != nil {
			return nil, nil, err
		}
		if err := s.Inventory.SaveMedicine(ctx, m); err != nil {
			return nil, nil, err
		}
		if m.Quantity == 0 {
			depleted = append(depleted, m)
			e.logger.Warn("medicine out of stock",
				zap.String("medicine_id", m.ID),
				zap.String("name", m.Name))
		}

		txns = append(txns, billing.PharmacyTransaction{
			ID:          uuid.New().String(),
			Type:        billing.TransactionDispense,
			MedicineID:  m.ID,
			Quantity:    d.quantity,
			UnitPrice:   price,
			TotalAmount: float64(d.quantity) * price,
			PatientID:   c.patientID,
			CaregiverID: c.caregiverID,
			WorkItemID:  c.workItemID,
			CreatedAt:   c.at,
		})
		charges = append(charges, billing.ChargeLine{
			MedicineID:   m.ID,
			MedicineName: m.Name,
			Quantity:     d.quantity,
			UnitPrice:    price,
		})
	}

	if err := s.Billing.AppendTransactions(ctx, txns); err != nil {
		return nil, nil, err
	}

	inv := billing.BuildInvoice(c.patientID, charges, c.at)
	if inv == nil {
		return nil, depleted, nil
	}

	year := c.at.Year()
	seq, err := s.Billing.NextInvoiceSequence(ctx, year)
	if err != nil {
		return nil, nil, err
	}
	inv.Number = billing.FormatInvoiceNumber(year, seq)

	if err := s.Billing.CreateInvoice(ctx, inv); err != nil {
		return nil, nil, err
	}

	if e.metrics != nil {
		e.metrics.InvoicesIssued.Inc()
		e.metrics.InvoicedAmount.Add(inv.TotalAmount)
	}

	return inv, depleted, nil
}
