// Package webhook implements the alert-ingress HTTP endpoint: a single
// route that turns a signed third-party alert payload into a dispatcher
// request. Secret verification, per-route rate limiting and the
// signal_ts expiry window are all enforced here, before the request ever
// reaches internal/dispatcher.
package webhook

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/opensqt/perpcore/internal/config"
	"github.com/opensqt/perpcore/internal/core"
	"github.com/opensqt/perpcore/internal/dispatcher"
)

// maxAge is the staleness window from TESTABLE PROPERTIES: an alert whose
// signal_ts is older than this is reported expired without dispatch.
const maxAge = 20 * time.Minute

// defaultTP1Fraction is applied when a payload omits tp1_pct.
const defaultTP1Fraction = 50

// payload is the wire shape of an ENTRY alert.
type payload struct {
	AlertID   string          `json:"alert_id"`
	EventType    string           `json:"event_type"`
	Asset        string           `json:"asset"`
	Side         string           `json:"side"`
	Entry        decimal.Decimal  `json:"entry"`
	SL           decimal.Decimal  `json:"sl"`
	TP1          decimal.Decimal  `json:"tp1"`
	TP2          decimal.Decimal  `json:"tp2"`
	TP1Pct       *decimal.Decimal `json:"tp1_pct"`
	Qty          decimal.Decimal  `json:"qty"`
	Leverage     int              `json:"leverage"`
	RiskUsd      decimal.Decimal  `json:"risk_usd"`
	NotionalUsdc decimal.Decimal  `json:"notional_usdc"`
	MarginUsdc   decimal.Decimal  `json:"margin_usdc"`
	SignalTs     int64            `json:"signal_ts"`
	BarTs        int64            `json:"bar_ts"`
	Secret       string           `json:"secret"`
}

// Handler serves the alert webhook. Construct with New.
type Handler struct {
	dispatch *dispatcher.Dispatcher
	cfg      *config.Config
	logger   core.ILogger
	limiter  *rate.Limiter
}

// New builds a Handler. The rate limiter is shared across all callers of
// the route (a per-route limit, not per-IP): ratePerSecond/burst of 0
// disables limiting.
func New(disp *dispatcher.Dispatcher, cfg *config.Config, logger core.ILogger, ratePerSecond float64, burst int) *Handler {
	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	}
	return &Handler{
		dispatch: disp,
		cfg:      cfg,
		logger:   logger.WithField("component", "webhook"),
		limiter:  limiter,
	}
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

// ServeHTTP handles POST /webhook and POST /webhook/{secret}. Path-embedded
// secrets and body-embedded secrets are both accepted.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.limiter != nil && !h.limiter.Allow() {
		writeStatus(w, http.StatusTooManyRequests, "rate_limited")
		return
	}

	pathSecret := pathSecretSuffix(r.URL.Path)

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeStatus(w, http.StatusBadRequest, "invalid_body")
		return
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		writeStatus(w, http.StatusBadRequest, "invalid_json")
		return
	}

	secret := pathSecret
	if secret == "" {
		secret = p.Secret
	}
	if secret == "" || secret != string(h.cfg.App.WebhookSecret) {
		writeStatus(w, http.StatusForbidden, "forbidden")
		return
	}

	if err := validatePayload(p); err != nil {
		h.logger.Warn("rejected invalid alert payload", "error", err)
		writeStatus(w, http.StatusBadRequest, "invalid_payload")
		return
	}

	if time.Since(time.Unix(p.SignalTs, 0)) > maxAge {
		writeStatus(w, http.StatusOK, "expired")
		return
	}

	req := h.buildRequest(p)

	_, err = h.dispatch.Dispatch(r.Context(), req)
	if err == nil {
		writeStatus(w, http.StatusOK, "sent")
		return
	}

	kind, ok := core.AsKind(err)
	if ok && kind == core.KindDuplicate {
		writeStatus(w, http.StatusOK, "duplicate")
		return
	}
	if ok && (kind == core.KindTransientNetwork || kind == core.KindRateLimited || kind == core.KindCriticalProtectionFailure) {
		h.logger.Error("dispatch failed, not cached", "alertId", p.AlertID, "kind", kind, "error", err)
		writeStatus(w, http.StatusBadGateway, "send_failed")
		return
	}

	// Validation/RiskRejected/AutoTradingDisabled/EntryNotFilled/
	// PositionAlreadyOpenOrPending/InvalidRequest/InsufficientMargin: the
	// dispatcher has already classified and, where applicable, persisted
	// the rejection. The alert was received and handled, just not acted
	// on, so this reports 200 with the reason rather than an ingress 400.
	reason := string(kind)
	if reason == "" {
		reason = "error"
		h.logger.Error("dispatch failed with unclassified error", "alertId", p.AlertID, "error", err)
	}
	writeStatus(w, http.StatusOK, "rejected:"+reason)
}

func (h *Handler) buildRequest(p payload) dispatcher.Request {
	inst := h.cfg.Instruments[p.Asset]

	direction := core.Long
	if p.Side == "SHORT" {
		direction = core.Short
	}

	tp1Pct := decimal.NewFromInt(defaultTP1Fraction)
	if p.TP1Pct != nil {
		tp1Pct = *p.TP1Pct
	}

	var tps []core.TakeProfit
	if p.TP1.IsPositive() {
		tps = append(tps, core.TakeProfit{Price: p.TP1, Fraction: tp1Pct.Div(decimal.NewFromInt(100))})
	}
	if p.TP2.IsPositive() {
		remaining := decimal.NewFromInt(100).Sub(tp1Pct).Div(decimal.NewFromInt(100))
		tps = append(tps, core.TakeProfit{Price: p.TP2, Fraction: remaining})
	}

	leverage := p.Leverage
	if leverage <= 0 {
		leverage = inst.Leverage
	}

	return dispatcher.Request{
		Signal: core.Signal{
			Direction:   direction,
			EntryPrice:  p.Entry,
			StopLoss:    p.SL,
			TakeProfits: tps,
			Comment:     fmt.Sprintf("webhook alert %s", p.AlertID),
		},
		Source:             core.SourceAPI,
		AlertID:            p.AlertID,
		Coin:               p.Asset,
		Leverage:           leverage,
		IsCross:            inst.MarginType == core.MarginCross,
		AutoTradingEnabled: true,
		CurrentPrice:       p.Entry,
	}
}

func validatePayload(p payload) error {
	if p.AlertID == "" {
		return fmt.Errorf("alert_id is required")
	}
	if p.EventType != "ENTRY" {
		return fmt.Errorf("unsupported event_type %q", p.EventType)
	}
	if p.Asset == "" {
		return fmt.Errorf("asset is required")
	}
	if p.Side != "LONG" && p.Side != "SHORT" {
		return fmt.Errorf("side must be LONG or SHORT")
	}
	if !p.Entry.IsPositive() {
		return fmt.Errorf("entry must be positive")
	}
	if !p.SL.IsPositive() {
		return fmt.Errorf("sl must be positive")
	}
	if !p.Qty.IsPositive() {
		return fmt.Errorf("qty must be positive")
	}
	if p.TP1Pct != nil && (p.TP1Pct.IsNegative() || p.TP1Pct.GreaterThan(decimal.NewFromInt(100))) {
		return fmt.Errorf("tp1_pct must be within 0..100")
	}
	if p.SignalTs <= 0 || p.BarTs <= 0 {
		return fmt.Errorf("signal_ts and bar_ts are required")
	}
	return nil
}

// pathSecretSuffix extracts the {secret} segment from "/webhook/{secret}",
// returning "" for the bare "/webhook" route.
func pathSecretSuffix(path string) string {
	const prefix = "/webhook/"
	if len(path) > len(prefix) && path[:len(prefix)] == prefix {
		return path[len(prefix):]
	}
	return ""
}
