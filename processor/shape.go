package processor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ListingFields is the uniform field set every shape decoder extracts from a
// raw listing, independent of how the upstream payload nests them.
type ListingFields struct {
	Price          float64
	Volume         float64
	VolumeMin      *float64
	VolumeMax      *float64
	PaymentMethods []string
}

// ShapeDecoder decodes one known upstream payload shape. Decoders are
// selected per source integration; the normalizer itself never inspects the
// raw payload.
type ShapeDecoder interface {
	Name() string
	// Price extracts only the listing price, used for reference estimation
	// and band filtering before the rest of the listing is decoded.
	Price(raw json.RawMessage) (float64, error)
	// Extract decodes the full field set. Any unparsable required field
	// returns an error; the caller rejects that listing alone.
	Extract(raw json.RawMessage) (ListingFields, error)
}

// DecoderFor returns the decoder registered for the given shape name.
func DecoderFor(shape string) (ShapeDecoder, error) {
	switch shape {
	case "adv":
		return advDecoder{}, nil
	case "flat":
		return flatDecoder{}, nil
	default:
		return nil, fmt.Errorf("unknown listing shape '%s'", shape)
	}
}

// numeric tolerates upstream numbers arriving either as JSON strings or as
// bare numbers, deferring the parse to extraction time.
type numeric string

func (n *numeric) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		*n = ""
		return nil
	}
	s := strings.Trim(string(b), `"`)
	*n = numeric(strings.TrimSpace(s))
	return nil
}

func (n numeric) empty() bool {
	return string(n) == ""
}

// float parses the value, treating an empty field as zero the way the
// upstream's own clients do for missing amounts.
func (n numeric) float() (float64, error) {
	if n.empty() {
		return 0, nil
	}
	return strconv.ParseFloat(string(n), 64)
}

// floatPtr parses an optional value. Missing fields map to nil; present but
// unparsable fields are an error.
func (n numeric) floatPtr() (*float64, error) {
	if n.empty() {
		return nil, nil
	}
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// requiredFloat parses a value that must be present and parsable.
func (n numeric) requiredFloat() (float64, error) {
	if n.empty() {
		return 0, fmt.Errorf("missing numeric field")
	}
	return strconv.ParseFloat(string(n), 64)
}

type payMethod struct {
	PayType string `json:"payType"`
}

func payTypes(methods []payMethod) []string {
	out := make([]string, 0, len(methods))
	for _, m := range methods {
		if m.PayType != "" {
			out = append(out, m.PayType)
		}
	}
	return out
}

// advDecoder handles the primary search payload shape: listing fields nested
// under "adv", payment methods under adv.tradeMethods with a secondary list
// under collector.payMethodList that must be consulted when the primary one
// is empty.
type advDecoder struct{}

type advListing struct {
	Adv struct {
		Price                numeric     `json:"price"`
		TradableQuantity     numeric     `json:"tradableQuantity"`
		MinSingleTransAmount numeric     `json:"minSingleTransAmount"`
		MaxSingleTransAmount numeric     `json:"maxSingleTransAmount"`
		TradeMethods         []payMethod `json:"tradeMethods"`
	} `json:"adv"`
	Collector struct {
		PayMethodList []payMethod `json:"payMethodList"`
	} `json:"collector"`
}

func (advDecoder) Name() string { return "adv" }

func (advDecoder) Price(raw json.RawMessage) (float64, error) {
	var l advListing
	if err := json.Unmarshal(raw, &l); err != nil {
		return 0, fmt.Errorf("decode adv listing: %w", err)
	}
	return l.Adv.Price.requiredFloat()
}

func (advDecoder) Extract(raw json.RawMessage) (ListingFields, error) {
	var l advListing
	if err := json.Unmarshal(raw, &l); err != nil {
		return ListingFields{}, fmt.Errorf("decode adv listing: %w", err)
	}

	price, err := l.Adv.Price.requiredFloat()
	if err != nil {
		return ListingFields{}, fmt.Errorf("price: %w", err)
	}
	volume, err := l.Adv.TradableQuantity.float()
	if err != nil {
		return ListingFields{}, fmt.Errorf("volume: %w", err)
	}
	volMin, err := l.Adv.MinSingleTransAmount.floatPtr()
	if err != nil {
		return ListingFields{}, fmt.Errorf("volume_min: %w", err)
	}
	volMax, err := l.Adv.MaxSingleTransAmount.floatPtr()
	if err != nil {
		return ListingFields{}, fmt.Errorf("volume_max: %w", err)
	}

	methods := payTypes(l.Adv.TradeMethods)
	if len(methods) == 0 {
		methods = payTypes(l.Collector.PayMethodList)
	}

	return ListingFields{
		Price:          price,
		Volume:         volume,
		VolumeMin:      volMin,
		VolumeMax:      volMax,
		PaymentMethods: methods,
	}, nil
}

// flatDecoder handles the mirror-endpoint variant that returns the same
// fields at the top level of each listing object.
type flatDecoder struct{}

type flatListing struct {
	Price                numeric     `json:"price"`
	TradableQuantity     numeric     `json:"tradableQuantity"`
	MinSingleTransAmount numeric     `json:"minSingleTransAmount"`
	MaxSingleTransAmount numeric     `json:"maxSingleTransAmount"`
	TradeMethods         []payMethod `json:"tradeMethods"`
	PayMethodList        []payMethod `json:"payMethodList"`
}

func (flatDecoder) Name() string { return "flat" }

func (flatDecoder) Price(raw json.RawMessage) (float64, error) {
	var l flatListing
	if err := json.Unmarshal(raw, &l); err != nil {
		return 0, fmt.Errorf("decode flat listing: %w", err)
	}
	return l.Price.requiredFloat()
}

func (flatDecoder) Extract(raw json.RawMessage) (ListingFields, error) {
	var l flatListing
	if err := json.Unmarshal(raw, &l); err != nil {
		return ListingFields{}, fmt.Errorf("decode flat listing: %w", err)
	}

	price, err := l.Price.requiredFloat()
	if err != nil {
		return ListingFields{}, fmt.Errorf("price: %w", err)
	}
	volume, err := l.TradableQuantity.float()
	if err != nil {
		return ListingFields{}, fmt.Errorf("volume: %w", err)
	}
	volMin, err := l.MinSingleTransAmount.floatPtr()
	if err != nil {
		return ListingFields{}, fmt.Errorf("volume_min: %w", err)
	}
	volMax, err := l.MaxSingleTransAmount.floatPtr()
	if err != nil {
		return ListingFields{}, fmt.Errorf("volume_max: %w", err)
	}

	methods := payTypes(l.TradeMethods)
	if len(methods) == 0 {
		methods = payTypes(l.PayMethodList)
	}

	return ListingFields{
		Price:          price,
		Volume:         volume,
		VolumeMin:      volMin,
		VolumeMax:      volMax,
		PaymentMethods: methods,
	}, nil
}
