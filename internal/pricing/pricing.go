package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tabletopforge/storefront-backend/pkg/config"
)

// Totals are integer minor-currency amounts.
type Totals struct {
	SubtotalCents int
	ShippingCents int
	TaxCents      int
	TotalCents    int
}

// Calculator derives shipping and tax from the subtotal only, so clients
// cannot supply their own amounts.
type Calculator struct {
	shippingFlatCents   int
	freeShippingAtCents int
	taxRate             decimal.Decimal
}

func NewCalculator(cfg config.PricingConfig) (*Calculator, error) {
	rate, err := cfg.Rate()
	if err != nil {
		return nil, err
	}
	if cfg.ShippingFlatCents < 0 || cfg.FreeShippingThresholdCents < 0 {
		return nil, fmt.Errorf("shipping amounts must not be negative")
	}
	return &Calculator{
		shippingFlatCents:   cfg.ShippingFlatCents,
		freeShippingAtCents: cfg.FreeShippingThresholdCents,
		taxRate:             rate,
	}, nil
}

// Compute prices a subtotal. Shipping is waived at or above the threshold;
// tax is the rate applied to subtotal+shipping, rounded half away from zero.
func (c *Calculator) Compute(subtotalCents int) Totals {
	shipping := c.shippingFlatCents
	if subtotalCents >= c.freeShippingAtCents {
		shipping = 0
	}
	taxable := decimal.NewFromInt(int64(subtotalCents + shipping))
	tax := int(taxable.Mul(c.taxRate).Round(0).IntPart())

	return Totals{
		SubtotalCents: subtotalCents,
		ShippingCents: shipping,
		TaxCents:      tax,
		TotalCents:    subtotalCents + shipping + tax,
	}
}

// LineTotal multiplies a unit price snapshot by quantity.
func LineTotal(unitPriceCents, qty int) int {
	return unitPriceCents * qty
}
