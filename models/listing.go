package models

import (
	"encoding/json"
	"time"
)

// Side is the trade direction of a listing as recorded downstream.
// SideDemand aggregates upstream SELL listings, SideSupply upstream BUY
// listings. This follows the long-running scraper labelling; the mapping is
// fixed here and nowhere else.
type Side string

const (
	SideDemand Side = "Demanda"
	SideSupply Side = "Oferta"
)

// Sides lists both directions in the order a cycle walks them.
var Sides = []Side{SideDemand, SideSupply}

// TradeType returns the upstream search vocabulary for the side.
func (s Side) TradeType() string {
	if s == SideDemand {
		return "SELL"
	}
	return "BUY"
}

// Label returns the value persisted in the Tipo column.
func (s Side) Label() string {
	return string(s)
}

// RawListing is one undecoded listing object as returned by the upstream
// search endpoint. The payload shape varies by source integration, so the
// body is kept opaque until a shape decoder extracts fields from it.
type RawListing struct {
	Source string
	Data   json.RawMessage
}

// Record is the canonical persisted form of one accepted listing. Records
// are immutable after creation; corrections only ever happen through new
// records at a later timestamp.
type Record struct {
	Timestamp      time.Time `json:"timestamp"`
	Side           Side      `json:"side"`
	Price          float64   `json:"price"`
	Volume         float64   `json:"volume"`
	VolumeMin      *float64  `json:"volume_min,omitempty"`
	VolumeMax      *float64  `json:"volume_max,omitempty"`
	PaymentMethods string    `json:"payment_methods"`
	SourceName     string    `json:"source_name"`
}

// SideBatch is the accepted record set for one side of one cycle, plus the
// filter counters accumulated while producing it.
type SideBatch struct {
	Side      Side
	Timestamp time.Time
	Records   []Record

	Pages      int
	OutOfBand  int
	Malformed  int
	Skipped    bool
	SkipReason string
}

// CycleResult summarises one full pipeline invocation over both sides.
type CycleResult struct {
	BatchID  string
	Started  time.Time
	Sides    []SideBatch
	Appended int
}

// Records concatenates the accepted records of both sides in side order.
func (c *CycleResult) Records() []Record {
	var out []Record
	for _, sb := range c.Sides {
		out = append(out, sb.Records...)
	}
	return out
}
