package api

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/opensqt/perpcore/internal/config"
	"github.com/opensqt/perpcore/internal/core"
)

// candleRingSize bounds how much history the read API can serve per
// coin/interval; older bars are dropped once the ring fills.
const candleRingSize = 500

// CandleCache buffers recent candles per coin/interval by independently
// subscribing to ExchangeClient.StreamCandles, since ExchangeClient has no
// REST historical-candle method of its own — StrategyRunner.warmup fills
// its own bars the same way, by accumulating off the live stream.
type CandleCache struct {
	client core.ExchangeClient
	logger core.ILogger

	mu   sync.RWMutex
	bars map[string][]core.Candle // keyed by "coin|interval"
}

func newCandleCache(client core.ExchangeClient, logger core.ILogger) *CandleCache {
	return &CandleCache{
		client: client,
		logger: logger.WithField("component", "candle_cache"),
		bars:   make(map[string][]core.Candle),
	}
}

func candleKey(coin, interval string) string { return coin + "|" + interval }

// Start subscribes to every distinct coin/interval pair used by any
// strategy assignment in instruments, one goroutine per pair.
func (c *CandleCache) Start(ctx context.Context, instruments map[string]config.InstrumentConfig) {
	seen := make(map[string]bool)
	for coin, inst := range instruments {
		for _, assignment := range inst.Strategies {
			key := candleKey(coin, assignment.Interval)
			if seen[key] {
				continue
			}
			seen[key] = true
			go c.subscribe(ctx, coin, assignment.Interval)
		}
	}
}

func (c *CandleCache) subscribe(ctx context.Context, coin, interval string) {
	err := c.client.StreamCandles(ctx, coin, interval, func(candle core.Candle) {
		if !candle.Closed {
			return
		}
		key := candleKey(coin, interval)
		c.mu.Lock()
		bars := append(c.bars[key], candle)
		if len(bars) > candleRingSize {
			bars = bars[len(bars)-candleRingSize:]
		}
		c.bars[key] = bars
		c.mu.Unlock()
	})
	if err != nil && ctx.Err() == nil {
		c.logger.Error("candle stream ended", "coin", coin, "interval", interval, "error", err)
	}
}

// Recent returns up to limit candles strictly before the before cutoff
// (zero means no cutoff), most recent last.
func (c *CandleCache) Recent(coin, interval string, before time.Time, limit int) []core.Candle {
	c.mu.RLock()
	defer c.mu.RUnlock()

	bars := c.bars[candleKey(coin, interval)]
	var filtered []core.Candle
	for _, b := range bars {
		if !before.IsZero() && !b.T.Before(before) {
			continue
		}
		filtered = append(filtered, b)
	}
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered
}

// handleCandles serves GET /candles?coin&before&limit&interval.
func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	coin := q.Get("coin")
	interval := q.Get("interval")
	if coin == "" || interval == "" {
		writeError(w, http.StatusBadRequest, "coin and interval are required")
		return
	}

	var before time.Time
	if raw := q.Get("before"); raw != "" {
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "before must be epoch seconds")
			return
		}
		before = time.Unix(ts, 0)
	}

	limit := 200
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	writeJSON(w, http.StatusOK, s.candles.Recent(coin, interval, before, limit))
}
