package tariff

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidateBands checks that bands are ordered, start at zero, are contiguous and
// end with exactly one unbounded band. Only the first band may carry a fixed charge.
func ValidateBands(bands []Band) error {
	if len(bands) == 0 {
		return fmt.Errorf("%w: at least one band required", ErrInvalidBands)
	}
	for i, b := range bands {
		if i == 0 {
			if !b.FromKwh.IsZero() {
				return fmt.Errorf("%w: first band must start at 0 kWh", ErrInvalidBands)
			}
		} else {
			prev := bands[i-1]
			if b.Order <= prev.Order {
				return fmt.Errorf("%w: band order %d not ascending", ErrInvalidBands, b.Order)
			}
			if prev.ToKwh == nil {
				return fmt.Errorf("%w: unbounded band must be last", ErrInvalidBands)
			}
			if !b.FromKwh.Equal(*prev.ToKwh) {
				return fmt.Errorf("%w: band %d starts at %s, expected %s", ErrInvalidBands, b.Order, b.FromKwh, prev.ToKwh)
			}
		}
		if b.FromKwh.IsNegative() {
			return fmt.Errorf("%w: band %d starts below zero", ErrInvalidBands, b.Order)
		}
		if b.ToKwh != nil && !b.ToKwh.GreaterThan(b.FromKwh) {
			return fmt.Errorf("%w: band %d upper bound must exceed lower bound", ErrInvalidBands, b.Order)
		}
		if !b.RatePerKwh.IsPositive() {
			return fmt.Errorf("%w: band %d rate must be positive", ErrInvalidBands, b.Order)
		}
		if b.FixedCharge.IsNegative() {
			return fmt.Errorf("%w: band %d fixed charge must not be negative", ErrInvalidBands, b.Order)
		}
		if i > 0 && !b.FixedCharge.IsZero() {
			return fmt.Errorf("%w: band %d carries a fixed charge, only the first band may", ErrInvalidBands, b.Order)
		}
	}
	if bands[len(bands)-1].ToKwh != nil {
		return fmt.Errorf("%w: last band must be unbounded", ErrInvalidBands)
	}
	return nil
}

// ComputeCharge splits consumption across bands and adds the category fixed charge once.
// The fixed charge is carried by the lowest-order band. Breakdown amounts are exact;
// Amount is rounded half-up to cents.
func ComputeCharge(consumption decimal.Decimal, bands []Band) (Charge, error) {
	if consumption.IsNegative() {
		return Charge{}, fmt.Errorf("%w: consumption %s is negative", ErrInvalidInput, consumption)
	}
	if err := ValidateBands(bands); err != nil {
		return Charge{}, err
	}

	remaining := consumption
	energy := decimal.Zero
	breakdown := make([]BandCharge, 0, len(bands))
	for _, b := range bands {
		if !remaining.IsPositive() {
			break
		}
		upper := consumption
		if b.ToKwh != nil {
			upper = *b.ToKwh
		}
		usage := decimal.Min(upper.Sub(b.FromKwh), remaining)
		if !usage.IsPositive() {
			continue
		}
		amount := usage.Mul(b.RatePerKwh)
		energy = energy.Add(amount)
		remaining = remaining.Sub(usage)
		breakdown = append(breakdown, BandCharge{
			Order:      b.Order,
			FromKwh:    b.FromKwh,
			ToKwh:      b.ToKwh,
			RatePerKwh: b.RatePerKwh,
			UsageKwh:   usage,
			Amount:     amount,
		})
	}

	fixed := bands[0].FixedCharge
	return Charge{
		ConsumptionKwh: consumption,
		EnergyAmount:   energy,
		FixedCharge:    fixed,
		Amount:         energy.Add(fixed).Round(2),
		Breakdown:      breakdown,
	}, nil
}

// TotalUsage sums the per-band usage of a charge.
func (c Charge) TotalUsage() decimal.Decimal {
	total := decimal.Zero
	for _, line := range c.Breakdown {
		total = total.Add(line.UsageKwh)
	}
	return total
}
