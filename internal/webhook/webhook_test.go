package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/opensqt/perpcore/internal/config"
	"github.com/opensqt/perpcore/internal/core"
	"github.com/opensqt/perpcore/internal/dispatcher"
	"github.com/opensqt/perpcore/internal/exchange/simulated"
	"github.com/opensqt/perpcore/internal/positionbook"
	"github.com/opensqt/perpcore/internal/store"
	"github.com/opensqt/perpcore/pkg/logging"
)

type fixedPolicy struct{ p dispatcher.InstrumentPolicy }

func (f fixedPolicy) Resolve(coin string) (dispatcher.InstrumentPolicy, error) { return f.p, nil }

type noopEvents struct{}

func (noopEvents) Publish(eventType string, data interface{}) {}

func newTestHandler(t *testing.T) (*Handler, *store.MemoryStore) {
	t.Helper()
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)

	client := simulated.New("sim")
	client.SetMidPrice("BTC", decimal.NewFromInt(50000))

	policy := dispatcher.InstrumentPolicy{
		Sizing:           core.Sizing{Mode: core.SizingCash, CashPerTrade: decimal.NewFromInt(1000)},
		Guardrails:       core.Guardrails{MaxNotionalUsd: decimal.NewFromInt(100000), MaxLeverage: 20, MaxOpenPositions: 5, MaxTradesPerDay: 50},
		SzDecimals:       4,
		PriceDecimals:    1,
		EntrySlippageBps: 10,
		Mode:             core.ModeTestnet,
	}

	st := store.NewMemoryStore()
	disp := dispatcher.New(st, positionbook.New(), client, fixedPolicy{p: policy}, noopEvents{}, logger)

	cfg := &config.Config{
		App: config.AppConfig{WebhookSecret: "shh"},
		Instruments: map[string]config.InstrumentConfig{
			"BTC": {Leverage: 10, MarginType: core.MarginIsolated},
		},
	}

	return New(disp, cfg, logger, 0, 0), st
}

func validBody(overrides map[string]interface{}) []byte {
	p := map[string]interface{}{
		"alert_id":   "alert-1",
		"event_type": "ENTRY",
		"asset":      "BTC",
		"side":       "LONG",
		"entry":      "50000",
		"sl":         "49000",
		"tp1":        "51000",
		"qty":        "0.01",
		"signal_ts":  time.Now().Unix(),
		"bar_ts":     time.Now().Unix(),
	}
	for k, v := range overrides {
		p[k] = v
	}
	b, _ := json.Marshal(p)
	return b
}

func post(h *Handler, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out["status"]
}

func TestServeHTTP_SentOnValidAlert(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := post(h, "/webhook/shh", validBody(nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sent", decodeStatus(t, rec))
}

func TestServeHTTP_DuplicateAlertID(t *testing.T) {
	// Seeding the store directly (rather than dispatching twice) isolates
	// the duplicate-alert_id path from the position-already-open path:
	// both reject a second dispatch, but only the former is "duplicate".
	h, st := newTestHandler(t)
	_, err := st.InsertSignal(context.Background(), core.SignalRecord{AlertID: "alert-1", Coin: "BTC"})
	require.NoError(t, err)

	rec := post(h, "/webhook/shh", validBody(nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "duplicate", decodeStatus(t, rec))
}

func TestServeHTTP_WrongSecretForbidden(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := post(h, "/webhook/nope", validBody(nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServeHTTP_SecretInBodyAccepted(t *testing.T) {
	h, _ := newTestHandler(t)
	body := validBody(map[string]interface{}{"secret": "shh"})
	rec := post(h, "/webhook", body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sent", decodeStatus(t, rec))
}

func TestServeHTTP_ExpiredSignal(t *testing.T) {
	h, _ := newTestHandler(t)
	old := time.Now().Add(-30 * time.Minute).Unix()
	rec := post(h, "/webhook/shh", validBody(map[string]interface{}{"signal_ts": old}))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "expired", decodeStatus(t, rec))
}

func TestServeHTTP_InvalidJSON(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := post(h, "/webhook/shh", []byte("{not json"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeHTTP_InvalidSchema(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := post(h, "/webhook/shh", validBody(map[string]interface{}{"side": "UP"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeHTTP_RateLimited(t *testing.T) {
	h, _ := newTestHandler(t)
	h.limiter = rate.NewLimiter(rate.Limit(0), 0)

	rec := post(h, "/webhook/shh", validBody(nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
