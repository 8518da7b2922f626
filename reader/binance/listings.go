package binance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"p2pflow/config"
	"p2pflow/logger"
	"p2pflow/models"
)

// SourceName identifies this integration in persisted records.
const SourceName = "Binance P2P"

// searchRequest is the paged search payload accepted by the C2C adv
// endpoint.
type searchRequest struct {
	Page      int      `json:"page"`
	Rows      int      `json:"rows"`
	PayTypes  []string `json:"payTypes"`
	Asset     string   `json:"asset"`
	Fiat      string   `json:"fiat"`
	TradeType string   `json:"tradeType"`
}

// searchResponse is the envelope around the listing rows. The rows are kept
// undecoded; the processor's shape decoders own their layout.
type searchResponse struct {
	Code    string            `json:"code"`
	Message *string           `json:"message"`
	Data    []json.RawMessage `json:"data"`
	Success bool              `json:"success"`
}

// Reader fetches paged P2P listing search results from Binance. It is
// stateless across calls; a failed fetch is reported as an empty page, never
// as an error to the caller.
type Reader struct {
	config *config.Config
	client *http.Client
	limit  *rate.Limiter
	log    *logger.Log
}

// NewReader creates a Reader with a pooled transport and the configured
// per-request timeout.
func NewReader(cfg *config.Config) *Reader {
	log := logger.GetLogger()

	pool := cfg.Source.Binance.ConnectionPool
	transport := &http.Transport{
		MaxIdleConns:        pool.MaxIdleConns,
		MaxIdleConnsPerHost: pool.MaxIdleConns,
		MaxConnsPerHost:     pool.MaxConnsPerHost,
		IdleConnTimeout:     pool.IdleConnTimeout,
		DisableCompression:  false,
	}

	httpClient := &http.Client{
		Transport: transport,
		Timeout:   cfg.Reader.Timeout,
	}

	rps := cfg.Reader.RateLimit.RequestsPerSecond
	burst := cfg.Reader.RateLimit.BurstSize
	limiter := rate.NewLimiter(rate.Inf, 0)
	if rps > 0 {
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}

	reader := &Reader{
		config: cfg,
		client: httpClient,
		limit:  limiter,
		log:    log,
	}

	log.WithComponent("binance_reader").WithFields(logger.Fields{
		"url":     cfg.Source.Binance.URL,
		"asset":   cfg.Source.Binance.Asset,
		"fiat":    cfg.Source.Binance.Fiat,
		"timeout": cfg.Reader.Timeout,
	}).Info("binance p2p reader initialized")

	return reader
}

// Source returns the integration name stamped on records produced from this
// reader's pages.
func (r *Reader) Source() string {
	return SourceName
}

// Shape returns the configured payload shape for this integration.
func (r *Reader) Shape() string {
	return r.config.Source.Binance.Shape
}

// FetchPage requests one page of listings for the given side. Any failure
// (network, timeout, non-2xx status, undecodable body) is logged and
// reported as an empty page so the pipeline treats it as "no data this
// page".
func (r *Reader) FetchPage(ctx context.Context, page int, side models.Side) []models.RawListing {
	log := r.log.WithComponent("binance_reader").WithFields(logger.Fields{
		"page":       page,
		"trade_type": side.TradeType(),
		"operation":  "fetch_page",
	})

	if page < 1 {
		log.Warn("invalid page number")
		return nil
	}

	if err := r.limit.Wait(ctx); err != nil {
		return nil
	}

	src := r.config.Source.Binance
	payTypes := src.PayTypes
	if payTypes == nil {
		payTypes = []string{}
	}
	body, err := json.Marshal(searchRequest{
		Page:      page,
		Rows:      src.Rows,
		PayTypes:  payTypes,
		Asset:     src.Asset,
		Fiat:      src.Fiat,
		TradeType: side.TradeType(),
	})
	if err != nil {
		log.WithError(err).Warn("failed to marshal search request")
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, src.URL, bytes.NewReader(body))
	if err != nil {
		log.WithError(err).Warn("failed to build request")
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("clientType", "web")

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		log.WithError(err).Warn("failed to fetch listings page")
		logger.IncrementFetchFailure()
		return nil
	}
	defer resp.Body.Close()
	duration := time.Since(start)

	logger.LogPerformanceEntry(log, "binance_reader", "api_request", duration, logger.Fields{
		"page": page,
	})

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.WithFields(logger.Fields{"status": resp.StatusCode}).Warn("unexpected status from listings endpoint")
		logger.IncrementFetchFailure()
		return nil
	}

	var envelope searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		log.WithError(err).Warn("failed to decode listings response")
		logger.IncrementFetchFailure()
		return nil
	}

	if !envelope.Success && envelope.Code != "000000" {
		msg := ""
		if envelope.Message != nil {
			msg = *envelope.Message
		}
		log.WithFields(logger.Fields{"code": envelope.Code, "message": msg}).Warn("listings endpoint returned error code")
		logger.IncrementFetchFailure()
		return nil
	}

	listings := make([]models.RawListing, 0, len(envelope.Data))
	size := 0
	for _, row := range envelope.Data {
		size += len(row)
		listings = append(listings, models.RawListing{Source: SourceName, Data: row})
	}

	logger.IncrementPageFetch(SourceName, size)
	logger.LogDataFlowEntry(log, "binance_api", "pipeline", len(listings), "listings")

	return listings
}

// String implements fmt.Stringer for log friendliness.
func (r *Reader) String() string {
	return fmt.Sprintf("binance_p2p(%s/%s)", r.config.Source.Binance.Asset, r.config.Source.Binance.Fiat)
}
