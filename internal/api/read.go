package api

import (
	"net/http"
	"strconv"

	"github.com/opensqt/perpcore/internal/core"
)

// handlePositions serves GET /positions: every open position the local
// PositionBook currently holds.
func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	positions := make([]core.Position, 0, s.sup.Book.Count())
	for _, coin := range s.sup.Book.Coins() {
		if pos, open := s.sup.Book.Get(coin); open {
			positions = append(positions, pos)
		}
	}
	writeJSON(w, http.StatusOK, positions)
}

// handleOrders serves GET /orders: recent durable order records, optionally
// bounded by ?limit (default 100).
func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	orders, err := s.sup.Store.GetRecentOrders(r.Context(), limit)
	if err != nil {
		s.logger.Error("get recent orders failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read orders")
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// handleOpenOrders serves GET /open-orders: the exchange's own view of
// currently resting orders.
func (s *Server) handleOpenOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	orders, err := s.sup.Client.GetOpenOrders(r.Context())
	if err != nil {
		s.logger.Error("get open orders failed", "error", err)
		writeError(w, http.StatusBadGateway, "failed to fetch open orders")
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// handleEquity serves GET /equity: the venue's current account equity.
func (s *Server) handleEquity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	equity, err := s.sup.Client.GetAccountEquity(r.Context())
	if err != nil {
		s.logger.Error("get account equity failed", "error", err)
		writeError(w, http.StatusBadGateway, "failed to fetch equity")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"equity": equity})
}

// handleAccount serves GET /account: the composed equity/margin view.
func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	state, err := s.sup.Client.GetAccountState(r.Context())
	if err != nil {
		s.logger.Error("get account state failed", "error", err)
		writeError(w, http.StatusBadGateway, "failed to fetch account state")
		return
	}
	writeJSON(w, http.StatusOK, state)
}
