package services

import (
	"fmt"
	"math"
)

// ErrPricingInvalidInput signals lines that cannot be priced: negative prices, non-positive quantities
// or totals that overflow.
var ErrPricingInvalidInput = fmt.Errorf("%w: pricing", ErrValidation)

const (
	DefaultFreeShippingThreshold int64 = 500
	DefaultFlatShippingFee       int64 = 50
	DefaultTaxRateBasisPoints    int64 = 1800

	basisPointsDenominator int64 = 10000
)

// DefaultPricingPolicy returns the standard shipping and tax rules.
func DefaultPricingPolicy() PricingPolicy {
	return PricingPolicy{
		FreeShippingThreshold: DefaultFreeShippingThreshold,
		FlatShippingFee:       DefaultFlatShippingFee,
		TaxRateBasisPoints:    DefaultTaxRateBasisPoints,
	}
}

// PricingEngine is a pure calculator over integer currency units.
type PricingEngine struct {
	policy PricingPolicy
}

var _ Pricer = (*PricingEngine)(nil)

// NewPricingEngine validates the policy. A zero policy selects DefaultPricingPolicy.
func NewPricingEngine(policy PricingPolicy) (*PricingEngine, error) {
	if policy == (PricingPolicy{}) {
		policy = DefaultPricingPolicy()
	}
	if policy.FreeShippingThreshold < 0 || policy.FlatShippingFee < 0 {
		return nil, fmt.Errorf("pricing engine: shipping amounts must be non-negative")
	}
	if policy.TaxRateBasisPoints < 0 || policy.TaxRateBasisPoints > basisPointsDenominator {
		return nil, fmt.Errorf("pricing engine: tax rate must be between 0 and %d basis points", basisPointsDenominator)
	}
	return &PricingEngine{policy: policy}, nil
}

// Policy returns the rules in effect.
func (e *PricingEngine) Policy() PricingPolicy {
	return e.policy
}

// Price sums the lines and applies shipping and tax. Tax is rounded half-up to the nearest unit.
func (e *PricingEngine) Price(items []OrderItem) (PricingBreakdown, error) {
	if len(items) == 0 {
		return PricingBreakdown{}, fmt.Errorf("%w: no items", ErrPricingInvalidInput)
	}

	var subtotal int64
	for _, item := range items {
		if item.UnitPrice < 0 {
			return PricingBreakdown{}, fmt.Errorf("%w: product %s has negative price", ErrPricingInvalidInput, item.ProductID)
		}
		if item.Quantity <= 0 {
			return PricingBreakdown{}, fmt.Errorf("%w: product %s quantity must be positive", ErrPricingInvalidInput, item.ProductID)
		}
		qty := int64(item.Quantity)
		if item.UnitPrice > math.MaxInt64/qty {
			return PricingBreakdown{}, fmt.Errorf("%w: line total overflow for product %s", ErrPricingInvalidInput, item.ProductID)
		}
		line := item.UnitPrice * qty
		if subtotal > math.MaxInt64-line {
			return PricingBreakdown{}, fmt.Errorf("%w: subtotal overflow", ErrPricingInvalidInput)
		}
		subtotal += line
	}

	shipping := e.policy.FlatShippingFee
	if subtotal >= e.policy.FreeShippingThreshold {
		shipping = 0
	}

	tax, err := e.tax(subtotal)
	if err != nil {
		return PricingBreakdown{}, err
	}

	if subtotal > math.MaxInt64-shipping-tax {
		return PricingBreakdown{}, fmt.Errorf("%w: total overflow", ErrPricingInvalidInput)
	}

	return PricingBreakdown{
		Subtotal: subtotal,
		Shipping: shipping,
		Tax:      tax,
		Total:    subtotal + shipping + tax,
	}, nil
}

func (e *PricingEngine) tax(subtotal int64) (int64, error) {
	rate := e.policy.TaxRateBasisPoints
	if rate == 0 || subtotal == 0 {
		return 0, nil
	}
	half := basisPointsDenominator / 2
	if subtotal > (math.MaxInt64-half)/rate {
		return 0, fmt.Errorf("%w: tax overflow", ErrPricingInvalidInput)
	}
	return (subtotal*rate + half) / basisPointsDenominator, nil
}
