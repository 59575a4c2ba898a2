// Package hyperliquid provides the live ExchangeClient for Hyperliquid's
// perpetuals venue, modeled on a Binance/Bybit-style adapter
// structure: a base.Adapter plus exchange-specific signing, error
// classification and order-status mapping.
package hyperliquid

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensqt/perpcore/internal/config"
	"github.com/opensqt/perpcore/internal/core"
	"github.com/opensqt/perpcore/internal/exchange"
	"github.com/opensqt/perpcore/internal/exchange/base"
	apperrors "github.com/opensqt/perpcore/pkg/errors"
	"github.com/opensqt/perpcore/pkg/retry"
	"github.com/opensqt/perpcore/pkg/tradingutils"
)

const (
	defaultAPIURL = "https://api.hyperliquid.xyz"
	defaultWSURL  = "wss://api.hyperliquid.xyz/ws"
	testnetAPIURL = "https://api.hyperliquid-testnet.xyz"
	testnetWSURL  = "wss://api.hyperliquid-testnet.xyz/ws"
)

// Exchange implements core.ExchangeClient against Hyperliquid's info/exchange
// REST endpoints and its candle WebSocket feed.
//
// Hyperliquid's production API authenticates orders with an EIP-712 wallet
// signature; the retrieval pack carries no secp256k1/EIP-712 signing
// library, so this adapter signs requests with an HMAC
// (HMAC-SHA256 over the request body, keyed by the configured
// private key) and treats config.ExchangeConfig.PrivateKey as that HMAC
// key. A real deployment swaps SignRequest for wallet signing; the exchange
// boundary (ExchangeClient) does not change.
type Exchange struct {
	*base.Adapter

	mu            sync.RWMutex
	szDecimalsC   map[string]int
	priceDecimalC map[string]int
}

// New creates a Hyperliquid ExchangeClient.
func New(cfg config.ExchangeConfig, logger core.ILogger) *Exchange {
	a := base.NewAdapter("hyperliquid", cfg, logger)
	e := &Exchange{
		Adapter:       a,
		szDecimalsC:   make(map[string]int),
		priceDecimalC: make(map[string]int),
	}

	a.SetSignRequest(e.signRequest)
	a.SetParseError(e.parseError)
	a.SetMapOrderStatus(e.mapOrderStatus)

	return e
}

func (e *Exchange) signRequest(req *http.Request, body []byte) error {
	mac := hmac.New(sha256.New, []byte(string(e.Config.PrivateKey)))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("HL-Signature", sig)
	req.Header.Set("HL-Timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	return nil
}

func (e *Exchange) parseError(statusCode int, body []byte) error {
	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		switch {
		case statusCode == http.StatusTooManyRequests:
			return core.NewKindError(core.KindRateLimited, errResp.Error, apperrors.ErrRateLimitExceeded)
		case statusCode >= 500:
			return core.NewKindError(core.KindTransientNetwork, errResp.Error, apperrors.ErrNetwork)
		default:
			return core.NewKindError(core.KindInvalidRequest, errResp.Error, classifyClientError(errResp.Error))
		}
	}
	return nil
}

// classifyClientError matches a 4xx venue message against the standard
// sentinel set so callers can errors.Is against a stable cause instead of
// string-matching the venue's own wording.
func classifyClientError(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "insufficient"):
		return apperrors.ErrInsufficientFunds
	case strings.Contains(lower, "reject"):
		return apperrors.ErrOrderRejected
	case strings.Contains(lower, "not found"):
		return apperrors.ErrOrderNotFound
	case strings.Contains(lower, "duplicate"):
		return apperrors.ErrDuplicateOrder
	case strings.Contains(lower, "auth"):
		return apperrors.ErrAuthenticationFailed
	case strings.Contains(lower, "symbol") || strings.Contains(lower, "coin"):
		return apperrors.ErrInvalidSymbol
	case strings.Contains(lower, "timestamp"):
		return apperrors.ErrTimestampOutOfBounds
	case strings.Contains(lower, "maintenance"):
		return apperrors.ErrExchangeMaintenance
	default:
		return apperrors.ErrInvalidOrderParameter
	}
}

func (e *Exchange) mapOrderStatus(rawStatus string) core.OrderStatus {
	switch rawStatus {
	case "open", "resting":
		return core.OrderPending
	case "filled":
		return core.OrderFilled
	case "canceled", "cancelled":
		return core.OrderCancelled
	case "rejected":
		return core.OrderRejected
	default:
		return core.OrderPending
	}
}

func (e *Exchange) baseURL() string {
	if e.Config.BaseURL != "" {
		return e.Config.BaseURL
	}
	return defaultAPIURL
}

func (e *Exchange) wsURL() string {
	if e.Config.WSURL != "" {
		return e.Config.WSURL
	}
	return defaultWSURL
}

func (e *Exchange) Connect(ctx context.Context) error {
	return retry.Do(ctx, retry.DefaultPolicy, isTransientConnectErr, func() error {
		_, err := e.Adapter.ExecuteRequest(ctx, "POST", e.baseURL()+"/info", []byte(`{"type":"meta"}`))
		return err
	})
}

// isTransientConnectErr decides whether a Connect failure is worth retrying
// with backoff: a classified Kind defers to its own Retryable verdict, an
// unclassified error (dial failure, timeout) is assumed transient since
// Connect only ever talks to the one venue host.
func isTransientConnectErr(err error) bool {
	if kind, ok := core.AsKind(err); ok {
		return kind.Retryable()
	}
	return true
}

// GetSzDecimals returns the cached per-coin size precision, defaulting to 5
// when metadata has not loaded (matches the exchange boundary contract).
func (e *Exchange) GetSzDecimals(ctx context.Context, coin string) (int, error) {
	e.mu.RLock()
	d, ok := e.szDecimalsC[coin]
	e.mu.RUnlock()
	if ok {
		return d, nil
	}

	if err := e.loadMeta(ctx); err != nil {
		return 5, nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if d, ok := e.szDecimalsC[coin]; ok {
		return d, nil
	}
	return 5, nil
}

func (e *Exchange) GetPriceDecimals(ctx context.Context, coin string) (int, error) {
	e.mu.RLock()
	d, ok := e.priceDecimalC[coin]
	e.mu.RUnlock()
	if ok {
		return d, nil
	}
	if err := e.loadMeta(ctx); err != nil {
		return 2, nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if d, ok := e.priceDecimalC[coin]; ok {
		return d, nil
	}
	return 2, nil
}

func (e *Exchange) loadMeta(ctx context.Context) error {
	body, err := e.Adapter.ExecuteRequest(ctx, "POST", e.baseURL()+"/info", []byte(`{"type":"meta"}`))
	if err != nil {
		return err
	}

	var meta struct {
		Universe []struct {
			Name       string `json:"name"`
			SzDecimals int    `json:"szDecimals"`
		} `json:"universe"`
	}
	if err := json.Unmarshal(body, &meta); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, u := range meta.Universe {
		e.szDecimalsC[u.Name] = u.SzDecimals
		// Hyperliquid perp prices carry up to 6 significant figures with a
		// 5-szDecimals budget; price precision is MAX_DECIMALS(6) - szDecimals.
		pd := 6 - u.SzDecimals
		if pd < 0 {
			pd = 0
		}
		e.priceDecimalC[u.Name] = pd
	}
	return nil
}

func (e *Exchange) SetLeverage(ctx context.Context, coin string, leverage int, isCross bool) error {
	marginMode := "isolated"
	if isCross {
		marginMode = "cross"
	}
	payload, err := json.Marshal(map[string]interface{}{
		"type": "updateLeverage",
		"asset": coin,
		"isCross": isCross,
		"leverage": leverage,
		"marginMode": marginMode,
	})
	if err != nil {
		return err
	}
	_, err = e.Adapter.ExecuteRequest(ctx, "POST", e.baseURL()+"/exchange", payload)
	return err
}

// PlaceEntryOrder places a limit-IOC order at a slippage-adjusted,
// truncated price and reports the venue's fill; it never leaves a resting
// order per the ExchangeClient contract.
func (e *Exchange) PlaceEntryOrder(ctx context.Context, coin string, isBuy bool, size, referencePrice decimal.Decimal, slippageBps int) (core.EntryFill, error) {
	priceDecimals, _ := e.GetPriceDecimals(ctx, coin)
	szDecimals, _ := e.GetSzDecimals(ctx, coin)

	limitPrice := tradingutils.TruncatePrice(tradingutils.SlippagePrice(referencePrice, isBuy, slippageBps), priceDecimals)
	truncSize := tradingutils.TruncateQuantity(size, szDecimals)
	clientOrderID := exchange.NewClientOrderID(coin, isBuy)

	payload, err := json.Marshal(map[string]interface{}{
		"type":   "order",
		"coin":   coin,
		"isBuy":  isBuy,
		"sz":     truncSize.String(),
		"limitPx": limitPrice.String(),
		"orderType": map[string]interface{}{"limit": map[string]string{"tif": "Ioc"}},
		"reduceOnly": false,
		"cloid":      clientOrderID,
	})
	if err != nil {
		return core.EntryFill{}, err
	}

	body, err := e.Adapter.ExecuteRequest(ctx, "POST", e.baseURL()+"/exchange", payload)
	if err != nil {
		return core.EntryFill{}, err
	}

	var resp struct {
		Status   string `json:"status"`
		Response struct {
			Data struct {
				Statuses []struct {
					Filled *struct {
						TotalSz string `json:"totalSz"`
						AvgPx   string `json:"avgPx"`
						Oid     int64  `json:"oid"`
					} `json:"filled"`
					Error string `json:"error"`
				} `json:"statuses"`
			} `json:"data"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.EntryFill{}, err
	}
	if len(resp.Response.Data.Statuses) == 0 {
		return core.EntryFill{}, core.NewKindError(core.KindEntryNotFilled, "no order status returned", nil)
	}
	st := resp.Response.Data.Statuses[0]
	if st.Filled == nil {
		reason := st.Error
		if reason == "" {
			reason = "order did not fill (IOC)"
		}
		return core.EntryFill{}, core.NewKindError(core.KindEntryNotFilled, reason, nil)
	}

	return core.EntryFill{
		OrderID:    strconv.FormatInt(st.Filled.Oid, 10),
		FilledSize: e.Adapter.ParseDecimal(st.Filled.TotalSz),
		AvgPrice:   e.Adapter.ParseDecimal(st.Filled.AvgPx),
	}, nil
}

func (e *Exchange) placeTrigger(ctx context.Context, coin string, isBuy bool, size, triggerPrice decimal.Decimal, reduceOnly bool, tpsl string) (string, error) {
	priceDecimals, _ := e.GetPriceDecimals(ctx, coin)
	szDecimals, _ := e.GetSzDecimals(ctx, coin)
	px := tradingutils.TruncatePrice(triggerPrice, priceDecimals)
	sz := tradingutils.TruncateQuantity(size, szDecimals)

	payload, err := json.Marshal(map[string]interface{}{
		"type":  "order",
		"coin":  coin,
		"isBuy": isBuy,
		"sz":    sz.String(),
		"limitPx": px.String(),
		"orderType": map[string]interface{}{
			"trigger": map[string]interface{}{
				"triggerPx": px.String(),
				"isMarket":  true,
				"tpsl":      tpsl,
			},
		},
		"reduceOnly": reduceOnly,
	})
	if err != nil {
		return "", err
	}

	body, err := e.Adapter.ExecuteRequest(ctx, "POST", e.baseURL()+"/exchange", payload)
	if err != nil {
		return "", err
	}

	var resp struct {
		Response struct {
			Data struct {
				Statuses []struct {
					Resting *struct {
						Oid int64 `json:"oid"`
					} `json:"resting"`
				} `json:"statuses"`
			} `json:"data"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	if len(resp.Response.Data.Statuses) == 0 || resp.Response.Data.Statuses[0].Resting == nil {
		return "", core.NewKindError(core.KindCriticalProtectionFailure, "trigger order not resting", nil)
	}
	return strconv.FormatInt(resp.Response.Data.Statuses[0].Resting.Oid, 10), nil
}

func (e *Exchange) PlaceStopOrder(ctx context.Context, coin string, isBuy bool, size, triggerPrice decimal.Decimal, reduceOnly bool) (string, error) {
	return e.placeTrigger(ctx, coin, isBuy, size, triggerPrice, reduceOnly, "sl")
}

func (e *Exchange) PlaceLimitOrder(ctx context.Context, coin string, isBuy bool, size, price decimal.Decimal, reduceOnly bool) (string, error) {
	priceDecimals, _ := e.GetPriceDecimals(ctx, coin)
	szDecimals, _ := e.GetSzDecimals(ctx, coin)
	px := tradingutils.TruncatePrice(price, priceDecimals)
	sz := tradingutils.TruncateQuantity(size, szDecimals)

	payload, err := json.Marshal(map[string]interface{}{
		"type":      "order",
		"coin":      coin,
		"isBuy":     isBuy,
		"sz":        sz.String(),
		"limitPx":   px.String(),
		"orderType": map[string]interface{}{"limit": map[string]string{"tif": "Gtc"}},
		"reduceOnly": reduceOnly,
	})
	if err != nil {
		return "", err
	}
	body, err := e.Adapter.ExecuteRequest(ctx, "POST", e.baseURL()+"/exchange", payload)
	if err != nil {
		return "", err
	}
	return e.extractRestingOrder(body)
}

func (e *Exchange) PlaceMarketOrder(ctx context.Context, coin string, isBuy bool, size decimal.Decimal, reduceOnly bool) (string, error) {
	mid, err := e.GetMidPrice(ctx, coin)
	if err != nil {
		return "", err
	}
	fill, err := e.PlaceEntryOrder(ctx, coin, isBuy, size, mid, 50)
	if err != nil {
		return "", err
	}
	return fill.OrderID, nil
}

func (e *Exchange) extractRestingOrder(body []byte) (string, error) {
	var resp struct {
		Response struct {
			Data struct {
				Statuses []struct {
					Resting *struct {
						Oid int64 `json:"oid"`
					} `json:"resting"`
					Filled *struct {
						Oid int64 `json:"oid"`
					} `json:"filled"`
				} `json:"statuses"`
			} `json:"data"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	if len(resp.Response.Data.Statuses) == 0 {
		return "", core.NewKindError(core.KindInvalidRequest, "no order status returned", nil)
	}
	st := resp.Response.Data.Statuses[0]
	if st.Resting != nil {
		return strconv.FormatInt(st.Resting.Oid, 10), nil
	}
	if st.Filled != nil {
		return strconv.FormatInt(st.Filled.Oid, 10), nil
	}
	return "", core.NewKindError(core.KindInvalidRequest, "order neither resting nor filled", nil)
}

func (e *Exchange) CancelOrder(ctx context.Context, coin string, orderID string) error {
	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return core.NewKindError(core.KindInvalidRequest, "malformed order id", err)
	}
	payload, err := json.Marshal(map[string]interface{}{
		"type": "cancel",
		"cancels": []map[string]interface{}{
			{"coin": coin, "oid": oid},
		},
	})
	if err != nil {
		return err
	}
	_, err = e.Adapter.ExecuteRequest(ctx, "POST", e.baseURL()+"/exchange", payload)
	return err
}

func (e *Exchange) GetPositions(ctx context.Context) ([]core.VenuePosition, error) {
	state, err := e.clearinghouseState(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]core.VenuePosition, 0, len(state.AssetPositions))
	for _, ap := range state.AssetPositions {
		szn := e.Adapter.ParseDecimal(ap.Position.Szi)
		if szn.IsZero() {
			continue
		}
		dir := core.Long
		if szn.IsNegative() {
			dir = core.Short
			szn = szn.Abs()
		}
		out = append(out, core.VenuePosition{
			Coin:          ap.Position.Coin,
			Direction:     dir,
			Size:          szn,
			EntryPrice:    e.Adapter.ParseDecimal(ap.Position.EntryPx),
			UnrealizedPnl: e.Adapter.ParseDecimal(ap.Position.UnrealizedPnl),
			LiquidationPx: e.Adapter.ParseDecimal(ap.Position.LiquidationPx),
			Leverage:      ap.Position.Leverage.Value,
		})
	}
	return out, nil
}

type clearinghouseStateResp struct {
	AssetPositions []struct {
		Position struct {
			Coin          string `json:"coin"`
			Szi           string `json:"szi"`
			EntryPx       string `json:"entryPx"`
			UnrealizedPnl string `json:"unrealizedPnl"`
			LiquidationPx string `json:"liquidationPx"`
			Leverage      struct {
				Value int `json:"value"`
			} `json:"leverage"`
		} `json:"position"`
	} `json:"assetPositions"`
	MarginSummary struct {
		AccountValue string `json:"accountValue"`
	} `json:"marginSummary"`
	Withdrawable string `json:"withdrawable"`
}

func (e *Exchange) clearinghouseState(ctx context.Context) (*clearinghouseStateResp, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"type": "clearinghouseState",
		"user": string(e.Config.APIKey),
	})
	if err != nil {
		return nil, err
	}
	body, err := e.Adapter.ExecuteRequest(ctx, "POST", e.baseURL()+"/info", payload)
	if err != nil {
		return nil, err
	}
	var resp clearinghouseStateResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (e *Exchange) GetOpenOrders(ctx context.Context) ([]core.VenueOrder, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"type": "openOrders",
		"user": string(e.Config.APIKey),
	})
	if err != nil {
		return nil, err
	}
	body, err := e.Adapter.ExecuteRequest(ctx, "POST", e.baseURL()+"/info", payload)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Coin     string `json:"coin"`
		Oid      int64  `json:"oid"`
		Side     string `json:"side"`
		Sz       string `json:"sz"`
		LimitPx  string `json:"limitPx"`
		ReduceOnly bool `json:"reduceOnly"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	out := make([]core.VenueOrder, 0, len(raw))
	for _, o := range raw {
		side := core.Buy
		if o.Side == "A" {
			side = core.Sell
		}
		out = append(out, core.VenueOrder{
			OrderID:    strconv.FormatInt(o.Oid, 10),
			Coin:       o.Coin,
			Side:       side,
			Size:       e.Adapter.ParseDecimal(o.Sz),
			Price:      e.Adapter.ParseDecimal(o.LimitPx),
			Status:     "open",
			ReduceOnly: o.ReduceOnly,
		})
	}
	return out, nil
}

func (e *Exchange) GetHistoricalOrders(ctx context.Context, limit int) ([]core.VenueOrder, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"type": "historicalOrders",
		"user": string(e.Config.APIKey),
	})
	if err != nil {
		return nil, err
	}
	body, err := e.Adapter.ExecuteRequest(ctx, "POST", e.baseURL()+"/info", payload)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Order struct {
			Coin    string `json:"coin"`
			Oid     int64  `json:"oid"`
			Side    string `json:"side"`
			Sz      string `json:"sz"`
			LimitPx string `json:"limitPx"`
		} `json:"order"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	if limit > 0 && limit < len(raw) {
		raw = raw[:limit]
	}

	out := make([]core.VenueOrder, 0, len(raw))
	for _, o := range raw {
		side := core.Buy
		if o.Order.Side == "A" {
			side = core.Sell
		}
		out = append(out, core.VenueOrder{
			OrderID: strconv.FormatInt(o.Order.Oid, 10),
			Coin:    o.Order.Coin,
			Side:    side,
			Size:    e.Adapter.ParseDecimal(o.Order.Sz),
			Price:   e.Adapter.ParseDecimal(o.Order.LimitPx),
			Status:  string(e.Adapter.SafeMapOrderStatus(o.Status)),
		})
	}
	return out, nil
}

func (e *Exchange) GetOrderStatus(ctx context.Context, orderID string) (core.VenueOrder, error) {
	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return core.VenueOrder{}, core.NewKindError(core.KindInvalidRequest, "malformed order id", err)
	}
	payload, err := json.Marshal(map[string]interface{}{
		"type": "orderStatus",
		"user": string(e.Config.APIKey),
		"oid":  oid,
	})
	if err != nil {
		return core.VenueOrder{}, err
	}
	body, err := e.Adapter.ExecuteRequest(ctx, "POST", e.baseURL()+"/info", payload)
	if err != nil {
		return core.VenueOrder{}, err
	}

	var resp struct {
		Order struct {
			Order struct {
				Coin    string `json:"coin"`
				Oid     int64  `json:"oid"`
				Side    string `json:"side"`
				Sz      string `json:"sz"`
				LimitPx string `json:"limitPx"`
			} `json:"order"`
			Status string `json:"status"`
		} `json:"order"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.VenueOrder{}, err
	}

	side := core.Buy
	if resp.Order.Order.Side == "A" {
		side = core.Sell
	}
	return core.VenueOrder{
		OrderID: strconv.FormatInt(resp.Order.Order.Oid, 10),
		Coin:    resp.Order.Order.Coin,
		Side:    side,
		Size:    e.Adapter.ParseDecimal(resp.Order.Order.Sz),
		Price:   e.Adapter.ParseDecimal(resp.Order.Order.LimitPx),
		Status:  string(e.Adapter.SafeMapOrderStatus(resp.Order.Status)),
	}, nil
}

func (e *Exchange) GetAccountEquity(ctx context.Context) (decimal.Decimal, error) {
	state, err := e.clearinghouseState(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return e.Adapter.ParseDecimal(state.MarginSummary.AccountValue), nil
}

func (e *Exchange) GetAccountState(ctx context.Context) (core.AccountState, error) {
	state, err := e.clearinghouseState(ctx)
	if err != nil {
		return core.AccountState{}, err
	}
	return core.AccountState{
		AccountValue:   e.Adapter.ParseDecimal(state.MarginSummary.AccountValue),
		FreeCollateral: e.Adapter.ParseDecimal(state.Withdrawable),
	}, nil
}

func (e *Exchange) GetMidPrice(ctx context.Context, coin string) (decimal.Decimal, error) {
	payload := []byte(`{"type":"allMids"}`)
	body, err := e.Adapter.ExecuteRequest(ctx, "POST", e.baseURL()+"/info", payload)
	if err != nil {
		return decimal.Zero, err
	}
	var mids map[string]string
	if err := json.Unmarshal(body, &mids); err != nil {
		return decimal.Zero, err
	}
	raw, ok := mids[coin]
	if !ok {
		return decimal.Zero, fmt.Errorf("no mid price for %s", coin)
	}
	return e.Adapter.ParseDecimal(raw), nil
}

// StreamCandles subscribes to Hyperliquid's candle feed over the adapter's
// shared WebSocket lifecycle and decodes each update into core.Candle.
func (e *Exchange) StreamCandles(ctx context.Context, coin string, interval string, onCandle func(core.Candle)) error {
	sub := map[string]interface{}{
		"method": "subscribe",
		"subscription": map[string]string{
			"type":     "candle",
			"coin":     coin,
			"interval": interval,
		},
	}

	return e.Adapter.StartWebSocketStream(ctx, e.wsURL(), func(msg []byte) {
		var env struct {
			Channel string `json:"channel"`
			Data    struct {
				T      int64  `json:"t"`
				O      string `json:"o"`
				H      string `json:"h"`
				L      string `json:"l"`
				C      string `json:"c"`
				V      string `json:"v"`
				Closed bool   `json:"closed"`
			} `json:"data"`
		}
		if err := json.Unmarshal(msg, &env); err != nil || env.Channel != "candle" {
			return
		}
		onCandle(core.Candle{
			T:      e.Adapter.ParseTimestamp(env.Data.T),
			O:      e.Adapter.ParseDecimal(env.Data.O),
			H:      e.Adapter.ParseDecimal(env.Data.H),
			L:      e.Adapter.ParseDecimal(env.Data.L),
			C:      e.Adapter.ParseDecimal(env.Data.C),
			V:      e.Adapter.ParseDecimal(env.Data.V),
			Closed: env.Data.Closed,
		})
	}, sub, "hyperliquid-candles-"+coin)
}

var _ core.ExchangeClient = (*Exchange)(nil)
