package coupon

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply(t *testing.T) {
	tests := []struct {
		name     string
		coupon   Coupon
		subtotal string
		want     string
		wantShip bool
		wantErr  bool
	}{
		{name: "percentage rounds to cents", coupon: Coupon{Type: TypePercentage, Value: decimal.NewFromInt(15)}, subtotal: "33.33", want: "5"},
		{name: "percentage over 100 capped", coupon: Coupon{Type: TypePercentage, Value: decimal.NewFromInt(150)}, subtotal: "20", want: "20"},
		{name: "fixed below subtotal", coupon: Coupon{Type: TypeFixed, Value: decimal.RequireFromString("7.50")}, subtotal: "20", want: "7.5"},
		{name: "fixed above subtotal", coupon: Coupon{Type: TypeFixed, Value: decimal.NewFromInt(30)}, subtotal: "20", want: "20"},
		{name: "negative fixed floored", coupon: Coupon{Type: TypeFixed, Value: decimal.NewFromInt(-3)}, subtotal: "20", want: "0"},
		{name: "free shipping", coupon: Coupon{Type: TypeFreeShipping}, subtotal: "20", want: "0", wantShip: true},
		{name: "unknown type", coupon: Coupon{Type: "bogo"}, subtotal: "20", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(&tt.coupon, decimal.RequireFromString(tt.subtotal))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got.Amount),
				"expected %s, got %s", tt.want, got.Amount)
			assert.Equal(t, tt.wantShip, got.ZeroShipping)
		})
	}
}

func TestApplicable(t *testing.T) {
	items := []Item{{Category: "books"}, {Category: "toys"}}

	assert.True(t, Applicable(&Coupon{}, items))
	assert.True(t, Applicable(&Coupon{ApplicableCategories: []string{"toys"}}, items))
	assert.False(t, Applicable(&Coupon{ApplicableCategories: []string{"garden"}}, items))
	assert.False(t, Applicable(&Coupon{ApplicableCategories: []string{"toys"}}, nil))
}

func TestSubtotal(t *testing.T) {
	items := []Item{
		{Price: decimal.RequireFromString("19.99"), Quantity: 2},
		{Price: decimal.RequireFromString("5.02"), Quantity: 1},
	}
	assert.True(t, decimal.RequireFromString("45.00").Equal(Subtotal(items)))
	assert.True(t, decimal.Zero.Equal(Subtotal(nil)))
}
