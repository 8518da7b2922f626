package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	appconfig "p2pflow/config"
	"p2pflow/logger"
	"p2pflow/models"
)

// ListingSource is the upstream client contract the pipeline drives. A
// failed fetch surfaces as an empty page, never as an error.
type ListingSource interface {
	FetchPage(ctx context.Context, page int, side models.Side) []models.RawListing
	Source() string
	Shape() string
}

// Sink receives the cycle's accepted records as one append. A sink error is
// the only failure that propagates out of a cycle.
type Sink interface {
	Append(ctx context.Context, records []models.Record) (int, error)
}

// Pipeline orchestrates one ingestion cycle: for each side, fetch page one,
// estimate a reference price, derive the acceptance band, then normalize and
// filter every configured page. Sides are walked sequentially and are
// independent; a skipped side never affects the other.
type Pipeline struct {
	config  *appconfig.Config
	source  ListingSource
	sink    Sink
	decoder ShapeDecoder
	log     *logger.Log
}

func NewPipeline(cfg *appconfig.Config, source ListingSource, sink Sink) (*Pipeline, error) {
	decoder, err := DecoderFor(source.Shape())
	if err != nil {
		return nil, fmt.Errorf("select shape decoder: %w", err)
	}
	return &Pipeline{
		config:  cfg,
		source:  source,
		sink:    sink,
		decoder: decoder,
		log:     logger.GetLogger(),
	}, nil
}

// RunCycle executes one full cycle over both sides and hands the combined
// batch to the sink. The returned error is non-nil only for a storage
// failure; everything upstream of the write degrades to skipped sides or
// dropped listings.
func (p *Pipeline) RunCycle(ctx context.Context) (*models.CycleResult, error) {
	result := &models.CycleResult{
		BatchID: uuid.NewString(),
		Started: time.Now().UTC(),
	}

	log := p.log.WithComponent("pipeline").WithFields(logger.Fields{
		"batch_id": result.BatchID,
		"source":   p.source.Source(),
	})
	log.Info("starting ingestion cycle")

	for _, side := range models.Sides {
		batch := p.runSide(ctx, side)
		result.Sides = append(result.Sides, batch)
	}

	records := result.Records()
	appended, err := p.sink.Append(ctx, records)
	if err != nil {
		logger.IncrementAppendFailure()
		log.WithError(err).Error("cycle append failed")
		return result, fmt.Errorf("append cycle batch: %w", err)
	}
	result.Appended = appended
	logger.IncrementAppended(appended)

	log.WithFields(logger.Fields{
		"records_appended": appended,
		"duration_ms":      time.Since(result.Started).Milliseconds(),
	}).Info("ingestion cycle complete")

	return result, nil
}

// runSide walks the fixed page range for one side. The fetch time is stamped
// once, before page one, and shared by every record the side produces.
func (p *Pipeline) runSide(ctx context.Context, side models.Side) models.SideBatch {
	ts := time.Now().UTC().Truncate(time.Second)
	batch := models.SideBatch{Side: side, Timestamp: ts}

	log := p.log.WithComponent("pipeline").WithFields(logger.Fields{
		"side":       side.Label(),
		"trade_type": side.TradeType(),
	})

	firstPage := p.source.FetchPage(ctx, 1, side)
	if len(firstPage) == 0 {
		log.Warn("empty first page, skipping side this cycle")
		logger.IncrementSideSkipped()
		batch.Skipped = true
		batch.SkipReason = "empty first page"
		return batch
	}
	batch.Pages++

	reference, ok := ReferencePrice(firstPage, p.decoder)
	if !ok {
		log.Warn("no reliable reference price, skipping side this cycle")
		logger.IncrementSideSkipped()
		batch.Skipped = true
		batch.SkipReason = "no reference price"
		return batch
	}

	band := NewBand(reference, p.config.Filter.PriceTolerance)
	log.WithFields(logger.Fields{
		"reference_price": reference,
		"price_min":       band.Min,
		"price_max":       band.Max,
	}).Info("acceptance band computed")

	p.normalizePage(firstPage, &batch, band)

	// The page range is always walked to completion; an empty page is
	// skipped, not a stop signal.
	for page := 2; page <= p.config.Source.Binance.Pages; page++ {
		listings := p.source.FetchPage(ctx, page, side)
		if len(listings) == 0 {
			continue
		}
		batch.Pages++
		p.normalizePage(listings, &batch, band)
	}

	logger.IncrementAccepted(len(batch.Records))
	logger.IncrementRejectedOutOfBand(batch.OutOfBand)
	logger.IncrementRejectedMalformed(batch.Malformed)

	log.WithFields(logger.Fields{
		"accepted":    len(batch.Records),
		"out_of_band": batch.OutOfBand,
		"malformed":   batch.Malformed,
		"pages":       batch.Pages,
	}).Info("side collected")

	return batch
}

// normalizePage runs the normalizer over every listing of one page. A
// rejected listing is counted and dropped; it never aborts the page.
func (p *Pipeline) normalizePage(listings []models.RawListing, batch *models.SideBatch, band Band) {
	for _, raw := range listings {
		record, reason := Normalize(raw, batch.Timestamp, batch.Side, band, p.decoder)
		switch reason {
		case RejectNone:
			batch.Records = append(batch.Records, record)
		case RejectOutOfBand:
			batch.OutOfBand++
		case RejectMalformed:
			batch.Malformed++
		}
	}
}
