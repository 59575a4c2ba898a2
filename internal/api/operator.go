package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/opensqt/perpcore/internal/core"
	"github.com/opensqt/perpcore/internal/dispatcher"
)

// signalPayload is the manual-entry wire shape for POST /signal: the same
// shape the alert webhook accepts, minus the secret (this route is reached
// over the operator surface, not the public ingress).
type signalPayload struct {
	AlertID  string           `json:"alert_id"`
	Asset    string           `json:"asset"`
	Side     string           `json:"side"`
	Entry    decimal.Decimal  `json:"entry"`
	SL       decimal.Decimal  `json:"sl"`
	TP1      decimal.Decimal  `json:"tp1"`
	TP2      decimal.Decimal  `json:"tp2"`
	TP1Pct   *decimal.Decimal `json:"tp1_pct"`
	Leverage int              `json:"leverage"`
}

// handleSignal serves POST /signal: a manually entered trade intent,
// dispatched with core.SourceRouter so it is distinguishable in the
// persisted signal record from both strategy and webhook-originated entries.
func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	var p signalPayload
	if err := json.Unmarshal(body, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if p.AlertID == "" || p.Asset == "" {
		writeError(w, http.StatusBadRequest, "alert_id and asset are required")
		return
	}
	if p.Side != "LONG" && p.Side != "SHORT" {
		writeError(w, http.StatusBadRequest, "side must be LONG or SHORT")
		return
	}
	if !p.Entry.IsPositive() || !p.SL.IsPositive() {
		writeError(w, http.StatusBadRequest, "entry and sl must be positive")
		return
	}

	inst, ok := s.cfg.Instruments[p.Asset]
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("no instrument configured for %s", p.Asset))
		return
	}

	direction := core.Long
	if p.Side == "SHORT" {
		direction = core.Short
	}

	tp1Pct := decimal.NewFromInt(defaultSignalTP1Fraction)
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

	req := dispatcher.Request{
		Signal: core.Signal{
			Direction:   direction,
			EntryPrice:  p.Entry,
			StopLoss:    p.SL,
			TakeProfits: tps,
			Comment:     fmt.Sprintf("manual signal %s", p.AlertID),
		},
		Source:             core.SourceRouter,
		AlertID:            p.AlertID,
		Coin:               p.Asset,
		Leverage:           leverage,
		IsCross:            inst.MarginType == core.MarginCross,
		AutoTradingEnabled: true,
		CurrentPrice:       p.Entry,
	}

	pos, err := s.sup.Dispatch.Dispatch(r.Context(), req)
	if err != nil {
		kind, ok := core.AsKind(err)
		if ok {
			writeJSON(w, http.StatusOK, map[string]string{"status": "rejected", "reason": string(kind)})
			return
		}
		s.logger.Error("manual signal dispatch failed", "error", err)
		writeError(w, http.StatusBadGateway, "dispatch failed")
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// defaultSignalTP1Fraction mirrors the webhook's default: an omitted
// tp1_pct splits the position evenly across tp1/tp2.
const defaultSignalTP1Fraction = 50

// handleClose serves POST /close/{coin}: flattens the open position with a
// reduce-only market order on the opposite side.
func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	coin := r.PathValue("coin")
	pos, open := s.sup.Book.Get(coin)
	if !open {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no open position for %s", coin))
		return
	}

	closeSide := core.SideForDirection(pos.Direction.Opposite())
	orderID, err := s.sup.Client.PlaceMarketOrder(r.Context(), coin, closeSide == core.Buy, pos.Size, true)
	if err != nil {
		s.logger.Error("close order failed", "coin", coin, "error", err)
		writeError(w, http.StatusBadGateway, "failed to place close order")
		return
	}

	s.sup.Book.Close(coin)
	s.insertCloseOrder(r, coin, closeSide, pos, orderID)
	s.sup.Events.Publish("position_closed_manual", map[string]interface{}{"coin": coin, "orderId": orderID})

	writeJSON(w, http.StatusOK, map[string]string{"status": "closed", "orderId": orderID})
}

func (s *Server) insertCloseOrder(r *http.Request, coin string, side core.Side, pos core.Position, orderID string) {
	_, err := s.sup.Store.InsertOrder(r.Context(), core.OrderRecord{
		SignalID:        pos.SignalID,
		ExchangeOrderID: orderID,
		Coin:            coin,
		Side:            side,
		Size:            pos.Size,
		Price:           pos.CurrentPrice,
		Type:            core.OrderTypeMarket,
		Tag:             core.TagClose,
		Status:          core.OrderPending,
	})
	if err != nil {
		s.logger.Error("failed to persist close order", "coin", coin, "error", err)
	}
}

// handleCancel serves POST /cancel/{oid}?coin=COIN. CancelOrder is
// coin-scoped at the exchange boundary, so the coin travels as a query
// parameter rather than a second path segment.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	oid := r.PathValue("oid")
	coin := r.URL.Query().Get("coin")
	if coin == "" {
		writeError(w, http.StatusBadRequest, "coin query parameter is required")
		return
	}

	if err := s.sup.Client.CancelOrder(r.Context(), coin, oid); err != nil {
		s.logger.Error("cancel order failed", "coin", coin, "orderId", oid, "error", err)
		writeError(w, http.StatusBadGateway, "failed to cancel order")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "orderId": oid})
}

type autoTradingPayload struct {
	Coin    string `json:"coin"`
	Enabled bool   `json:"enabled"`
}

// handleAutoTrading serves POST /auto-trading: flips the live per-coin gate
// on the matching StrategyRunner.
func (s *Server) handleAutoTrading(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var p autoTradingPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	for _, runner := range s.sup.Runners() {
		if runner.Coin() == p.Coin {
			runner.SetAutoTradingEnabled(p.Enabled)
			writeJSON(w, http.StatusOK, map[string]interface{}{"coin": p.Coin, "enabled": p.Enabled})
			return
		}
	}
	writeError(w, http.StatusNotFound, fmt.Sprintf("no runner configured for %s", p.Coin))
}
