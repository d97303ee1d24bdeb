package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"

	"fenrir/auth"
	"fenrir/domain/orderbook"
	"fenrir/service"
)

var symbolRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

type credentialsRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type placeOrderRequest struct {
	Symbol    string `json:"symbol" validate:"required"`
	Side      string `json:"side" validate:"required,oneof=buy sell"`
	Type      string `json:"type" validate:"required,oneof=market limit stop stop_limit"`
	Price     int64  `json:"price" validate:"gte=0"`
	StopPrice int64  `json:"stop_price" validate:"gte=0"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
	TIF       string `json:"tif" validate:"omitempty,oneof=GTC IOC FOK"`
	Expiry    int64  `json:"expiry" validate:"gte=0"`
}

type modifyOrderRequest struct {
	Price    int64 `json:"price" validate:"required,gt=0"`
	Quantity int64 `json:"quantity" validate:"required,gt=0"`
}

type orderResponse struct {
	ID        uint64 `json:"id"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Type      string `json:"type"`
	Price     int64  `json:"price"`
	StopPrice int64  `json:"stop_price,omitempty"`
	Quantity  int64  `json:"quantity"`
	Filled    int64  `json:"filled"`
	Status    string `json:"status"`
	UserID    string `json:"user_id"`
	TIF       string `json:"tif"`
	Expiry    int64  `json:"expiry,omitempty"`
}

type tradeResponse struct {
	BuyOrderID  uint64 `json:"buy_order_id"`
	SellOrderID uint64 `json:"sell_order_id"`
	Symbol      string `json:"symbol"`
	Price       int64  `json:"price"`
	Quantity    int64  `json:"quantity"`
	Timestamp   int64  `json:"timestamp"`
}

func toOrderResponse(o orderbook.Order) orderResponse {
	return orderResponse{
		ID:        o.ID,
		Symbol:    o.Symbol,
		Side:      o.Side.String(),
		Type:      o.Type.String(),
		Price:     o.Price,
		StopPrice: o.StopPrice,
		Quantity:  o.Qty,
		Filled:    o.Filled,
		Status:    o.Status.String(),
		UserID:    o.UserID,
		TIF:       o.TIF.String(),
		Expiry:    o.Expiry,
	}
}

func toTradeResponses(trades []orderbook.Trade) []tradeResponse {
	out := make([]tradeResponse, len(trades))
	for i, t := range trades {
		out[i] = tradeResponse{
			BuyOrderID:  t.BuyOrderID,
			SellOrderID: t.SellOrderID,
			Symbol:      t.Symbol,
			Price:       t.Price,
			Quantity:    t.Qty,
			Timestamp:   t.Timestamp.UnixNano(),
		}
	}
	return out
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.auth.Register(req.Username, req.Password); err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			writeError(w, http.StatusConflict, "user already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !s.decode(w, r, &req) {
		return
	}
	token, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !symbolRe.MatchString(req.Symbol) {
		writeError(w, http.StatusBadRequest, "invalid symbol")
		return
	}

	params := service.PlaceParams{
		Symbol:    req.Symbol,
		Side:      parseSide(req.Side),
		Type:      parseOrderType(req.Type),
		Price:     req.Price,
		StopPrice: req.StopPrice,
		Qty:       req.Quantity,
		UserID:    userFrom(r.Context()),
		TIF:       parseTIF(req.TIF),
		Expiry:    req.Expiry,
	}
	order, trades, err := s.svc.PlaceOrder(params)
	if err != nil {
		s.log.Error("place order", "err", err)
		writeError(w, http.StatusInternalServerError, "order placement failed")
		return
	}

	status := http.StatusCreated
	if order.Status == orderbook.Rejected {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]any{
		"order":  toOrderResponse(order),
		"trades": toTradeResponses(trades),
	})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	cancelled, err := s.svc.CancelOrder(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cancel failed")
		return
	}
	if !cancelled {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

func (s *Server) handleModifyOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req modifyOrderRequest
	if !s.decode(w, r, &req) {
		return
	}
	modified, err := s.svc.ModifyOrder(id, req.Price, req.Quantity)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "modify failed")
		return
	}
	if !modified {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"modified": true})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	order, found := s.svc.Engine().GetOrder(id)
	if !found {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (s *Server) handleUserOrders(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	orders := s.svc.Engine().GetUserOrders(user)
	out := make([]orderResponse, len(orders))
	for i, o := range orders {
		out[i] = toOrderResponse(o)
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}

func (s *Server) handleUserTrades(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	trades := s.svc.Engine().GetUserTrades(user)
	writeJSON(w, http.StatusOK, map[string]any{"trades": toTradeResponses(trades)})
}

func (s *Server) handleOrderBook(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	if !symbolRe.MatchString(symbol) {
		writeError(w, http.StatusBadRequest, "invalid symbol")
		return
	}
	depth := 10
	if d := r.URL.Query().Get("depth"); d != "" {
		if n, err := strconv.Atoi(d); err == nil && n > 0 && n <= 100 {
			depth = n
		}
	}
	eng := s.svc.Engine()
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":   symbol,
		"bids":     eng.BidLevels(symbol, depth),
		"asks":     eng.AskLevels(symbol, depth),
		"best_bid": eng.BestBid(symbol),
		"best_ask": eng.BestAsk(symbol),
		"spread":   eng.Spread(symbol),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	if !symbolRe.MatchString(symbol) {
		writeError(w, http.StatusBadRequest, "invalid symbol")
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Engine().Metrics(symbol, 10))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Engine().GetStats())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads, parses, and validates the JSON request body.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation failed: "+err.Error())
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return 0, false
	}
	return id, true
}

func parseSide(s string) orderbook.Side {
	if s == "sell" {
		return orderbook.Sell
	}
	return orderbook.Buy
}

func parseOrderType(s string) orderbook.OrderType {
	switch s {
	case "market":
		return orderbook.Market
	case "stop":
		return orderbook.Stop
	case "stop_limit":
		return orderbook.StopLimit
	default:
		return orderbook.Limit
	}
}

func parseTIF(s string) orderbook.TimeInForce {
	switch s {
	case "IOC":
		return orderbook.IOC
	case "FOK":
		return orderbook.FOK
	default:
		return orderbook.GTC
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type ctxUserKey struct{}

func withUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, ctxUserKey{}, user)
}

func userFrom(ctx context.Context) string {
	user, _ := ctx.Value(ctxUserKey{}).(string)
	return user
}
