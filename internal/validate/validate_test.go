package validate

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cafepos/internal/domain"
	"cafepos/internal/store"
)

func TestProductInput(t *testing.T) {
	valid := domain.ProductInput{Name: "Coffee", Price: decimal.NewFromInt(1500), Stock: 10}
	require.NoError(t, Struct(valid))

	free := domain.ProductInput{Name: "Water", Price: decimal.Zero, Stock: 0}
	require.NoError(t, Struct(free))

	tests := []struct {
		name  string
		input domain.ProductInput
		field string
	}{
		{"blank name", domain.ProductInput{Name: "   ", Price: decimal.NewFromInt(1)}, "Name"},
		{"negative price", domain.ProductInput{Name: "Tea", Price: decimal.RequireFromString("-0.50")}, "Price"},
		{"negative stock", domain.ProductInput{Name: "Tea", Price: decimal.NewFromInt(1), Stock: -1}, "Stock"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, store.ErrValidation)

			failures := ValidateStruct(tt.input)
			require.Len(t, failures, 1)
			assert.Equal(t, "ProductInput."+tt.field, failures[0].FailedField)
		})
	}
}

func TestStockAdjustRejectsZeroDelta(t *testing.T) {
	assert.ErrorIs(t, Struct(domain.StockAdjustRequest{}), store.ErrValidation)
	assert.NoError(t, Struct(domain.StockAdjustRequest{Delta: -2}))
}

func TestSettleRequestNeedsCustomer(t *testing.T) {
	err := Struct(domain.SettleRequest{Customer: " ", PaymentMethod: "cash"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "customer failed notblank")
}
