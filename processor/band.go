package processor

import (
	"p2pflow/models"
)

// Band is the inclusive price acceptance window derived from a side's
// reference price. Listings priced outside it are treated as stale,
// mis-priced or scam quotes and dropped.
type Band struct {
	Min float64
	Max float64
}

// NewBand derives a symmetric band around the reference price. The tolerance
// fraction comes from configuration and is the same for both sides.
func NewBand(reference, tolerance float64) Band {
	return Band{
		Min: reference * (1 - tolerance),
		Max: reference * (1 + tolerance),
	}
}

// Contains reports whether the price falls inside the band. Both bounds are
// inclusive.
func (b Band) Contains(price float64) bool {
	return price >= b.Min && price <= b.Max
}

// ReferencePrice extracts the anchor price for a side from its first page:
// the price of the first listing. It returns false when the page is empty or
// the first listing's price is zero or unparsable, in which case the caller
// must skip the side for this cycle rather than substitute a default.
func ReferencePrice(firstPage []models.RawListing, dec ShapeDecoder) (float64, bool) {
	if len(firstPage) == 0 {
		return 0, false
	}
	price, err := dec.Price(firstPage[0].Data)
	if err != nil || price == 0 {
		return 0, false
	}
	return price, true
}
