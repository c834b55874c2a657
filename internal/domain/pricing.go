package domain

// PricingBreakdown captures the monetary results of pricing an order's lines.
// Amounts are integer currency units; Total always equals Subtotal + Shipping + Tax.
type PricingBreakdown struct {
	Subtotal int64
	Shipping int64
	Tax      int64
	Total    int64
}

// PricingPolicy holds the fixed shipping and tax rules applied by the pricing engine.
type PricingPolicy struct {
	FreeShippingThreshold int64
	FlatShippingFee       int64
	// TaxRateBasisPoints is the tax rate in hundredths of a percent (1800 = 18%).
	TaxRateBasisPoints int64
}
