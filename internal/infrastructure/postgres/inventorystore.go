package postgres

import (
	"context"
	"fmt"

	"github.com/caretrack/fulfillment/internal/domain/inventory"
)

// InventoryStore persists medicine stock. Inside a transaction the
// medicines are locked in the id order given, which the bridge keeps
// sorted so concurrent completions acquire locks in the same order.
type InventoryStore struct {
	q       querier
	locking bool
}

// GetMedicines loads the requested medicines ordered by id.
func (s *InventoryStore) GetMedicines(ctx context.Context, ids []string) ([]*inventory.Medicine, error) {
	query := `
		SELECT id, name, quantity, unit_price, status, updated_at
		FROM medicines
		WHERE id = ANY($1)
		ORDER BY id
	`
	if s.locking {
		query += " FOR UPDATE"
	}

	rows, err := s.q.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("load medicines: %w", err)
	}
	defer rows.Close()

	var meds []*inventory.Medicine
	for rows.Next() {
		var m inventory.Medicine
		if err := rows.Scan(&m.ID, &m.Name, &m.Quantity, &m.UnitPrice, &m.Status, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan medicine: %w", err)
		}
		meds = append(meds, &m)
	}
	return meds, rows.Err()
}

// SaveMedicine persists a stock mutation. The quantity check constraint in
// the schema backstops the domain invariant that stock never goes
// negative.
func (s *InventoryStore) SaveMedicine(ctx context.Context, m *inventory.Medicine) error {
	query := `
		UPDATE medicines
		SET quantity = $2, status = $3, updated_at = $4
		WHERE id = $1
	`
	_, err := s.q.Exec(ctx, query, m.ID, m.Quantity, m.Status, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update medicine %s: %w", m.ID, err)
	}
	return nil
}
