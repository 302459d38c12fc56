package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildInvoiceAggregatesLines(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	lines := []ChargeLine{
		{MedicineID: "med-1", MedicineName: "Amoxicillin", Quantity: 2, UnitPrice: 1.5},
		{MedicineID: "med-2", MedicineName: "Ibuprofen", Quantity: 1, UnitPrice: 0.75},
	}

	inv := BuildInvoice("pat-1", lines, at)
	require.NotNil(t, inv)

	assert.Equal(t, "pat-1", inv.PatientID)
	assert.Equal(t, InvoicePending, inv.Status)
	assert.Equal(t, at, inv.IssuedAt)
	require.Len(t, inv.Items, 2)
	assert.Equal(t, 3.0, inv.Items[0].Amount)
	assert.Equal(t, 0.75, inv.Items[1].Amount)
	assert.Equal(t, 3.75, inv.TotalAmount)
	for _, item := range inv.Items {
		assert.Equal(t, inv.ID, item.InvoiceID)
	}
}

func TestBuildInvoiceSkipsZeroTotal(t *testing.T) {
	lines := []ChargeLine{
		{MedicineID: "med-1", MedicineName: "Saline", Quantity: 2, UnitPrice: 0},
	}
	assert.Nil(t, BuildInvoice("pat-1", lines, time.Now()))
}

func TestBuildInvoiceSkipsEmpty(t *testing.T) {
	assert.Nil(t, BuildInvoice("pat-1", nil, time.Now()))
}

func TestFormatInvoiceNumber(t *testing.T) {
	assert.Equal(t, "INV-2026-000042", FormatInvoiceNumber(2026, 42))
	assert.Equal(t, "INV-2026-000001", FormatInvoiceNumber(2026, 1))
	assert.Equal(t, "INV-2027-1000000", FormatInvoiceNumber(2027, 1000000))
}
