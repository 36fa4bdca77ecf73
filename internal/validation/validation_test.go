package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() CreateOrderRequest {
	return CreateOrderRequest{
		CustomerID: "cust-123",
		Currency:   "USD",
		Items: []Item{
			{SKU: "sku-1", Quantity: 2, Price: 10.0},
			{SKU: "sku-2", Quantity: 1, Price: 5.5},
		},
		Amount:   25.5, // 2*10 + 1*5.5
		Metadata: map[string]interface{}{"note": "test"},
	}
}

func TestCreateOrderRequest_Valid(t *testing.T) {
	v := New()

	require.NoError(t, v.Struct(validRequest()))
}

func TestCreateOrderRequest_Invalid(t *testing.T) {
	v := New()

	tests := []struct {
		name   string
		mutate func(*CreateOrderRequest)
	}{
		{"amount mismatch", func(r *CreateOrderRequest) { r.Amount = 9.99 }},
		{"missing customer", func(r *CreateOrderRequest) { r.CustomerID = "" }},
		{"missing currency", func(r *CreateOrderRequest) { r.Currency = "" }},
		{"bogus currency", func(r *CreateOrderRequest) { r.Currency = "DOLLARS" }},
		{"no items", func(r *CreateOrderRequest) { r.Items = nil; r.Amount = 1 }},
		{"zero quantity", func(r *CreateOrderRequest) { r.Items[0].Quantity = 0 }},
		{"quantity over cap", func(r *CreateOrderRequest) { r.Items[0].Quantity = 1000 }},
		{"negative price", func(r *CreateOrderRequest) { r.Items[0].Price = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			assert.Error(t, v.Struct(req))
		})
	}
}

func TestValidateIdempotencyKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{"uuid", "550e8400-e29b-41d4-a716-446655440000", nil},
		{"alphanumeric with separators", "abc123-def456_ghi789", nil},
		{"exactly max length", strings.Repeat("a", MaxKeyLength), nil},
		{"empty", "", ErrKeyRequired},
		{"too long", strings.Repeat("a", MaxKeyLength+1), ErrKeyTooLong},
		{"embedded space", "abc 123", ErrKeyInvalid},
		{"special characters", "abc@123", ErrKeyInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdempotencyKey(tt.key)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "abc", NormalizeKey("  abc\t"))
	assert.NoError(t, ValidateIdempotencyKey(NormalizeKey(" order-1 ")))
}
