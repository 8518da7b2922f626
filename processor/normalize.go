package processor

import (
	"strings"
	"time"

	"p2pflow/models"
)

// RejectReason classifies why a listing was not normalized into a record.
type RejectReason int

const (
	RejectNone RejectReason = iota
	// RejectOutOfBand marks a price outside the acceptance band. Frequent
	// and routine; counted, never surfaced as an error.
	RejectOutOfBand
	// RejectMalformed marks a listing with an unparsable required field.
	RejectMalformed
)

func (r RejectReason) String() string {
	switch r {
	case RejectOutOfBand:
		return "out_of_band"
	case RejectMalformed:
		return "malformed"
	default:
		return "none"
	}
}

// Normalize maps one raw listing into the canonical record, or rejects it.
// The decision is a pure function of the inputs: the same listing, band and
// timestamp always produce the same outcome. The batch timestamp and the
// caller's side are stamped as-is; any side field inside the payload is
// ignored.
func Normalize(raw models.RawListing, ts time.Time, side models.Side, band Band, dec ShapeDecoder) (models.Record, RejectReason) {
	price, err := dec.Price(raw.Data)
	if err != nil {
		return models.Record{}, RejectMalformed
	}

	if !band.Contains(price) {
		return models.Record{}, RejectOutOfBand
	}

	fields, err := dec.Extract(raw.Data)
	if err != nil {
		return models.Record{}, RejectMalformed
	}

	return models.Record{
		Timestamp:      ts,
		Side:           side,
		Price:          fields.Price,
		Volume:         fields.Volume,
		VolumeMin:      fields.VolumeMin,
		VolumeMax:      fields.VolumeMax,
		PaymentMethods: strings.Join(fields.PaymentMethods, ", "),
		SourceName:     raw.Source,
	}, RejectNone
}
