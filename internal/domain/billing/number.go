package billing

import "fmt"

// FormatInvoiceNumber renders a year-scoped invoice number such as
// INV-2026-000042. Sequence allocation itself happens in the store inside
// the same transaction as the invoice insert, so concurrent completions
// never observe the same sequence value.
func FormatInvoiceNumber(year int, seq int64) string {
	return fmt.Sprintf("INV-%d-%06d", year, seq)
}
