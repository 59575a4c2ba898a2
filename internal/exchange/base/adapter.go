// Package base provides common functionality for ExchangeClient adapters.
package base

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/opensqt/perpcore/internal/config"
	"github.com/opensqt/perpcore/internal/core"
	httpclient "github.com/opensqt/perpcore/pkg/http"
	"github.com/opensqt/perpcore/pkg/websocket"

	"github.com/shopspring/decimal"
)

// SignRequestFunc is a function type for exchange-specific request signing
type SignRequestFunc func(req *http.Request, body []byte) error

// ParseErrorFunc is a function type for exchange-specific error classification
type ParseErrorFunc func(statusCode int, body []byte) error

// MapOrderStatusFunc is a function type for exchange-specific order status mapping
type MapOrderStatusFunc func(rawStatus string) core.OrderStatus

// Adapter provides common functionality for all ExchangeClient adapters
type Adapter struct {
	Name       string
	Config     config.ExchangeConfig
	Logger     core.ILogger
	HTTPClient *httpclient.Client

	// Exchange-specific functions to be set by concrete implementations
	SignRequestFunc MapSignRequestFunc
	ParseError      ParseErrorFunc
	MapOrderStatus  MapOrderStatusFunc
}

// MapSignRequestFunc is a function type for exchange-specific request signing
type MapSignRequestFunc func(req *http.Request, body []byte) error

// adapterSigner defers to whatever SignRequestFunc is set on Adapter at
// call time, since NewAdapter constructs the HTTP client before a concrete
// exchange calls SetSignRequest.
type adapterSigner struct {
	adapter *Adapter
}

func (s adapterSigner) SignRequest(req *http.Request, body []byte) error {
	if s.adapter.SignRequestFunc == nil {
		return nil
	}
	return s.adapter.SignRequestFunc(req, body)
}

// NewAdapter creates a new base adapter with common configuration. The
// HTTP client carries retry-with-backoff and a circuit breaker around
// every venue call (pkg/http), since a hung or degraded venue must not
// take down the process.
func NewAdapter(name string, cfg config.ExchangeConfig, logger core.ILogger) *Adapter {
	a := &Adapter{
		Name:   name,
		Config: cfg,
		Logger: logger.WithField("exchange", name),
	}
	a.HTTPClient = httpclient.NewClient("", 10*time.Second, adapterSigner{adapter: a})
	return a
}

// GetName returns the exchange name
func (b *Adapter) GetName() string {
	return b.Name
}

// SetSignRequest sets the exchange-specific request signing function
func (b *Adapter) SetSignRequest(fn MapSignRequestFunc) {
	b.SignRequestFunc = fn
}

// SetParseError sets the exchange-specific error parsing function
func (b *Adapter) SetParseError(fn ParseErrorFunc) {
	b.ParseError = fn
}

// SetMapOrderStatus sets the exchange-specific order status mapping function
func (b *Adapter) SetMapOrderStatus(fn MapOrderStatusFunc) {
	b.MapOrderStatus = fn
}

// GetConfig returns the exchange configuration
func (b *Adapter) GetConfig() config.ExchangeConfig {
	return b.Config
}

// GetLogger returns the logger instance
func (b *Adapter) GetLogger() core.ILogger {
	return b.Logger
}

// GetHTTPClient returns the HTTP client instance
func (b *Adapter) GetHTTPClient() *httpclient.Client {
	return b.HTTPClient
}

// ExecuteRequest executes an HTTP request through the resilient client
// (retry-with-backoff, circuit breaker), applying the exchange's own
// signing and error classification. Every caller in this codebase uses
// method "POST"; the parameter is kept for interface stability.
func (b *Adapter) ExecuteRequest(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	if method != http.MethodPost {
		return nil, fmt.Errorf("unsupported method %s", method)
	}

	respBody, err := b.HTTPClient.PostRaw(ctx, url, body)
	if err == nil {
		return respBody, nil
	}

	apiErr, ok := err.(*httpclient.APIError)
	if !ok {
		return nil, core.NewKindError(core.KindTransientNetwork, "request failed", err)
	}

	if b.ParseError != nil {
		if parseErr := b.ParseError(apiErr.StatusCode, apiErr.Body); parseErr != nil {
			return nil, parseErr
		}
	}
	if apiErr.StatusCode == http.StatusTooManyRequests {
		return nil, core.NewKindError(core.KindRateLimited, apiErr.Error(), nil)
	}
	if apiErr.StatusCode >= 500 {
		return nil, core.NewKindError(core.KindTransientNetwork, apiErr.Error(), nil)
	}
	return nil, core.NewKindError(core.KindInvalidRequest, apiErr.Error(), nil)
}

// StartWebSocketStream starts a WebSocket stream with common lifecycle
// management. subscribeMsg, if non-nil, is sent on every (re)connect —
// venues like Hyperliquid require an explicit subscribe frame rather than
// encoding the subscription in the URL.
func (b *Adapter) StartWebSocketStream(
	ctx context.Context,
	wsURL string,
	onMessage func([]byte),
	subscribeMsg interface{},
	streamName string,
) error {
	client := websocket.NewClient(wsURL, onMessage, b.Logger)

	if subscribeMsg != nil {
		client.SetOnConnected(func() {
			if err := client.Send(subscribeMsg); err != nil {
				b.Logger.Warn(streamName+" failed to send subscribe message", "error", err)
			}
		})
	}

	client.Start()

	go func() {
		<-ctx.Done()
		b.Logger.Info(streamName + " WebSocket stopping")
		client.Stop()
	}()

	b.Logger.Info(streamName + " WebSocket started")
	return nil
}

// SafeMapOrderStatus maps exchange-specific order status to our OrderStatus taxonomy
func (b *Adapter) SafeMapOrderStatus(rawStatus string) core.OrderStatus {
	if b.MapOrderStatus != nil {
		return b.MapOrderStatus(rawStatus)
	}
	return core.OrderPending
}

// ParseDecimal safely parses a string to decimal. Malformed venue output is
// logged as a warning and returned as zero, so callers never see a parse error.
func (b *Adapter) ParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		b.Logger.Warn("failed to parse decimal", "value", s, "error", err)
		return decimal.Zero
	}
	return d
}

// ParseTimestamp safely parses a timestamp in milliseconds
func (b *Adapter) ParseTimestamp(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
