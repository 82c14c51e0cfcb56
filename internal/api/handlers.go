package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"quant/internal/broker"
	"quant/internal/domain"
	"quant/internal/engine"
	"quant/internal/store"
	"quant/internal/util"
	"quant/pkg/quant"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, quant.ErrorResponse{Error: msg})
}

// statusFor maps a domain error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, broker.ErrUnknownSymbol),
		errors.Is(err, domain.ErrNegativeQuantity),
		errors.Is(err, engine.ErrInvalidQuantity),
		errors.Is(err, engine.ErrPositionLimit),
		errors.Is(err, store.ErrQueryTooShort):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---------------------------------------------------------------------------
// Watchlist
// ---------------------------------------------------------------------------

func (s *Server) watchlistResponse() quant.WatchlistResponse {
	items := s.deps.Watchlist.Items()
	resp := quant.WatchlistResponse{Symbols: make([]string, 0, len(items)), Bars: make([]quant.Bar, 0, len(items))}
	for _, b := range items {
		resp.Symbols = append(resp.Symbols, b.Symbol)
		resp.Bars = append(resp.Bars, toBar(b))
	}
	return resp
}

// persist writes the watchlist to the configured symbol store, if any.
func (s *Server) persist(r *http.Request) error {
	if s.deps.Symbols == nil {
		return nil
	}
	return s.deps.Watchlist.Save(r.Context(), s.deps.Symbols)
}

func (s *Server) handleGetWatchlist(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.watchlistResponse())
}

func (s *Server) handleSetWatchlist(w http.ResponseWriter, r *http.Request) {
	var req quant.WatchlistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	next := make([]string, 0, len(req.Symbols))
	for _, sym := range req.Symbols {
		if sym = normalize(sym); sym != "" {
			next = append(next, sym)
		}
	}

	added, removed := util.Diff(s.deps.Watchlist.Symbols(), next)
	for _, sym := range removed {
		s.deps.Watchlist.Remove(sym)
	}
	for _, sym := range added {
		s.deps.Watchlist.AddSymbol(sym, decimal.Zero)
	}
	if err := s.persist(r); err != nil {
		s.log.Error("persisting watchlist", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save watchlist")
		return
	}
	s.log.Info("watchlist replaced", "added", added, "removed", removed)
	writeJSON(w, http.StatusOK, s.watchlistResponse())
}

func (s *Server) handleAddWatchlist(w http.ResponseWriter, r *http.Request) {
	symbol := normalize(r.PathValue("symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol required")
		return
	}
	s.deps.Watchlist.AddSymbol(symbol, decimal.Zero)
	if err := s.persist(r); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to add %s: %v", symbol, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveWatchlist(w http.ResponseWriter, r *http.Request) {
	symbol := normalize(r.PathValue("symbol"))
	if !s.deps.Watchlist.Remove(symbol) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("%s is not watched", symbol))
		return
	}
	if err := s.persist(r); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to remove %s: %v", symbol, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Positions and orders
// ---------------------------------------------------------------------------

func (s *Server) requireBroker(w http.ResponseWriter) bool {
	if s.deps.Broker == nil {
		writeError(w, http.StatusServiceUnavailable, "no broker configured")
		return false
	}
	return true
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	if !s.requireBroker(w) {
		return
	}
	b := s.deps.Broker
	resp := quant.PositionsResponse{Positions: []quant.Position{}, TotalPnL: b.TotalPnL()}
	for _, p := range b.CurrentPositions() {
		pnl, err := b.PnL(p.Symbol)
		if err != nil {
			pnl = decimal.Zero
		}
		resp.Positions = append(resp.Positions, quant.Position{
			Symbol:    p.Symbol,
			Direction: p.Direction.String(),
			Quantity:  p.Quantity,
			PnL:       pnl,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	if !s.requireBroker(w) {
		return
	}
	var orders []domain.Order
	switch status := r.URL.Query().Get("status"); status {
	case "":
		orders = s.deps.Broker.Orders()
	case "open":
		orders = s.deps.Broker.OpenOrders()
	case "filled":
		orders = s.deps.Broker.FilledOrders()
	case "history":
		if s.deps.Orders == nil {
			writeError(w, http.StatusServiceUnavailable, "no order store configured")
			return
		}
		var err error
		if orders, err = s.deps.Orders.ListOrders(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list orders")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status filter %q", status))
		return
	}
	writeJSON(w, http.StatusOK, quant.OrdersResponse{Orders: toOrders(orders)})
}

// handleOrder looks the order up in the live book first and falls back to
// the order store.
func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	if !s.requireBroker(w) {
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	for _, o := range s.deps.Broker.Orders() {
		if o.ID == id {
			writeJSON(w, http.StatusOK, toOrder(o))
			return
		}
	}
	if s.deps.Orders == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("order %d not found", id))
		return
	}
	o, err := s.deps.Orders.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toOrder(o))
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	if !s.requireBroker(w) {
		return
	}
	var req quant.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	dir, err := domain.ParseDirection(req.Direction)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pos, err := domain.NewPosition(normalize(req.Symbol), dir, req.Quantity)
	if err == nil {
		err = s.deps.Risk.CheckOpen(pos)
	}
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	o, err := s.deps.Broker.PlaceOrder(r.Context(), pos)
	if err != nil {
		s.log.Warn("placing order", "position", pos.String(), "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toOrder(o))
}

func (s *Server) handleCancelPending(w http.ResponseWriter, r *http.Request) {
	if !s.requireBroker(w) {
		return
	}
	if err := s.deps.Broker.CancelPendingOrders(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Search
// ---------------------------------------------------------------------------

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Search == nil {
		writeError(w, http.StatusServiceUnavailable, "symbol search not configured")
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	infos, err := s.deps.Search.SearchSymbols(r.Context(), q)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	resp := quant.SearchResponse{Query: q, Results: make([]quant.SymbolInfo, 0, len(infos))}
	for _, info := range infos {
		resp.Results = append(resp.Results, toSymbolInfo(info))
	}
	writeJSON(w, http.StatusOK, resp)
}
