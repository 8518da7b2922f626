package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	appconfig "p2pflow/config"
	"p2pflow/models"
)

// fakeSource serves canned pages keyed by side and page number.
type fakeSource struct {
	pages map[models.Side]map[int][]models.RawListing
	calls []string
}

func (f *fakeSource) FetchPage(ctx context.Context, page int, side models.Side) []models.RawListing {
	f.calls = append(f.calls, fmt.Sprintf("%s:%d", side.TradeType(), page))
	return f.pages[side][page]
}

func (f *fakeSource) Source() string { return "test" }
func (f *fakeSource) Shape() string  { return "adv" }

type fakeSink struct {
	appended []models.Record
	err      error
}

func (f *fakeSink) Append(ctx context.Context, records []models.Record) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.appended = append(f.appended, records...)
	return len(records), nil
}

func pipelineConfig(pages int) *appconfig.Config {
	cfg := &appconfig.Config{}
	cfg.Source.Binance.Pages = pages
	cfg.Filter.PriceTolerance = 0.10
	return cfg
}

func listing(price string) models.RawListing {
	body := `{"adv":{"price":"` + price + `","tradableQuantity":"10","tradeMethods":[{"payType":"Zelle"}]}}`
	return models.RawListing{Source: "test", Data: json.RawMessage(body)}
}

func newTestPipeline(t *testing.T, cfg *appconfig.Config, source ListingSource, sink Sink) *Pipeline {
	t.Helper()
	p, err := NewPipeline(cfg, source, sink)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p
}

func TestRunCycleBothSides(t *testing.T) {
	source := &fakeSource{pages: map[models.Side]map[int][]models.RawListing{
		models.SideDemand: {
			1: {listing("36.50"), listing("36.40")},
			2: {listing("36.60")},
		},
		models.SideSupply: {
			1: {listing("37.00")},
		},
	}}
	sink := &fakeSink{}
	p := newTestPipeline(t, pipelineConfig(2), source, sink)

	result, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if result.Appended != 4 {
		t.Errorf("expected 4 records appended, got %d", result.Appended)
	}
	if len(sink.appended) != 4 {
		t.Errorf("sink received %d records", len(sink.appended))
	}
	if len(result.Sides) != 2 {
		t.Fatalf("expected 2 side batches, got %d", len(result.Sides))
	}

	demand := result.Sides[0]
	if demand.Side != models.SideDemand || len(demand.Records) != 3 {
		t.Errorf("unexpected demand batch: %+v", demand)
	}
	for _, r := range demand.Records {
		if !r.Timestamp.Equal(demand.Timestamp) {
			t.Errorf("record timestamp differs from side batch timestamp")
		}
	}
}

func TestRunCycleSkipOnEmptyFirstPage(t *testing.T) {
	source := &fakeSource{pages: map[models.Side]map[int][]models.RawListing{
		models.SideDemand: {},
		models.SideSupply: {1: {listing("37.00")}},
	}}
	sink := &fakeSink{}
	p := newTestPipeline(t, pipelineConfig(3), source, sink)

	result, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	demand := result.Sides[0]
	if !demand.Skipped || len(demand.Records) != 0 {
		t.Errorf("demand side should be skipped: %+v", demand)
	}
	// A skipped side never walks further pages.
	for _, call := range source.calls {
		if call == "SELL:2" || call == "SELL:3" {
			t.Errorf("skipped side fetched extra pages: %v", source.calls)
		}
	}
	// The other side is unaffected.
	supply := result.Sides[1]
	if supply.Skipped || len(supply.Records) != 1 {
		t.Errorf("supply side should be unaffected: %+v", supply)
	}
}

func TestRunCycleSkipOnZeroReference(t *testing.T) {
	source := &fakeSource{pages: map[models.Side]map[int][]models.RawListing{
		models.SideDemand: {1: {listing("0")}},
		models.SideSupply: {},
	}}
	sink := &fakeSink{}
	p := newTestPipeline(t, pipelineConfig(2), source, sink)

	result, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if result.Appended != 0 {
		t.Errorf("expected no records, got %d", result.Appended)
	}
	if !result.Sides[0].Skipped {
		t.Errorf("demand side should be skipped on zero reference")
	}
}

func TestRunCycleWalksFullPageRange(t *testing.T) {
	// Page 2 is empty but page 3 still gets fetched: the range is walked to
	// completion, never terminated early.
	source := &fakeSource{pages: map[models.Side]map[int][]models.RawListing{
		models.SideDemand: {
			1: {listing("36.50")},
			3: {listing("36.60")},
		},
		models.SideSupply: {},
	}}
	sink := &fakeSink{}
	p := newTestPipeline(t, pipelineConfig(3), source, sink)

	result, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	demand := result.Sides[0]
	if len(demand.Records) != 2 {
		t.Errorf("expected records from pages 1 and 3, got %d", len(demand.Records))
	}

	fetched := map[string]bool{}
	for _, c := range source.calls {
		fetched[c] = true
	}
	for _, want := range []string{"SELL:1", "SELL:2", "SELL:3"} {
		if !fetched[want] {
			t.Errorf("page %s not fetched: %v", want, source.calls)
		}
	}
}

func TestRunCyclePerListingIsolation(t *testing.T) {
	malformed := models.RawListing{Source: "test", Data: json.RawMessage(`{"adv":{"price":"36.40","tradableQuantity":"lots"}}`)}
	source := &fakeSource{pages: map[models.Side]map[int][]models.RawListing{
		models.SideDemand: {
			1: {listing("36.50"), malformed, listing("36.40"), listing("36.60")},
		},
		models.SideSupply: {},
	}}
	sink := &fakeSink{}
	p := newTestPipeline(t, pipelineConfig(1), source, sink)

	result, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	demand := result.Sides[0]
	if len(demand.Records) != 3 {
		t.Errorf("expected 3 accepted records, got %d", len(demand.Records))
	}
	if demand.Malformed != 1 {
		t.Errorf("expected 1 malformed rejection, got %d", demand.Malformed)
	}
}

func TestRunCycleSinkFailurePropagates(t *testing.T) {
	source := &fakeSource{pages: map[models.Side]map[int][]models.RawListing{
		models.SideDemand: {1: {listing("36.50")}},
		models.SideSupply: {},
	}}
	sink := &fakeSink{err: errors.New("connection refused")}
	p := newTestPipeline(t, pipelineConfig(1), source, sink)

	if _, err := p.RunCycle(context.Background()); err == nil {
		t.Fatalf("expected sink failure to propagate")
	}
	if len(sink.appended) != 0 {
		t.Errorf("no records should be visible after a failed append")
	}
}

func TestRunCycleRecordOrderPreserved(t *testing.T) {
	source := &fakeSource{pages: map[models.Side]map[int][]models.RawListing{
		models.SideDemand: {
			1: {listing("36.50"), listing("36.40")},
			2: {listing("36.60")},
		},
		models.SideSupply: {},
	}}
	sink := &fakeSink{}
	p := newTestPipeline(t, pipelineConfig(2), source, sink)

	result, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	want := []float64{36.50, 36.40, 36.60}
	records := result.Sides[0].Records
	if len(records) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(records))
	}
	for i, w := range want {
		if records[i].Price != w {
			t.Errorf("record %d: got %f, want %f", i, records[i].Price, w)
		}
	}
}
