package inventory

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanDeductDoesNotMutate(t *testing.T) {
	m := &Medicine{ID: "med-1", Name: "Amoxicillin", Quantity: 5, Status: StatusInStock}

	require.NoError(t, m.CanDeduct(5))
	assert.Equal(t, 5, m.Quantity)
	assert.Equal(t, StatusInStock, m.Status)
}

func TestCanDeductInsufficient(t *testing.T) {
	m := &Medicine{ID: "med-1", Name: "Amoxicillin", Quantity: 3}

	err := m.CanDeduct(4)
	require.Error(t, err)

	var stockErr *InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, "med-1", stockErr.MedicineID)
	assert.Equal(t, 3, stockErr.Available)
	assert.Equal(t, 4, stockErr.Required)
}

func TestCanDeductRejectsNonPositive(t *testing.T) {
	m := &Medicine{ID: "med-1", Quantity: 3}
	assert.Error(t, m.CanDeduct(0))
	assert.Error(t, m.CanDeduct(-1))
}

func TestDeductFlipsOutOfStockAtZero(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m := &Medicine{ID: "med-1", Quantity: 2, Status: StatusInStock}

	require.NoError(t, m.Deduct(1, at))
	assert.Equal(t, 1, m.Quantity)
	assert.Equal(t, StatusInStock, m.Status)

	require.NoError(t, m.Deduct(1, at))
	assert.Equal(t, 0, m.Quantity)
	assert.Equal(t, StatusOutOfStock, m.Status)
	assert.Equal(t, at, m.UpdatedAt)
}

func TestDeductInsufficientLeavesStock(t *testing.T) {
	m := &Medicine{ID: "med-1", Quantity: 2, Status: StatusInStock}

	err := m.Deduct(3, time.Now())
	require.Error(t, err)
	assert.Equal(t, 2, m.Quantity)
	assert.Equal(t, StatusInStock, m.Status)
}
