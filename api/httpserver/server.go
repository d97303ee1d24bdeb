// Package httpserver is the REST and WebSocket transport over the
// order service. It owns request validation, CORS, JWT auth, and
// rate limiting; the matching core knows nothing about it.
package httpserver

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"fenrir/auth"
	"fenrir/domain/orderbook"
	"fenrir/service"
)

type Server struct {
	svc        *service.OrderService
	auth       *auth.Authenticator
	validate   *validator.Validate
	limiter    *tokenBucket
	corsOrigin string
	log        *slog.Logger

	tradeHub *hub[orderbook.Trade]
	bookHub  *hub[bookUpdate]
	upgrader websocket.Upgrader
}

type bookUpdate struct {
	Symbol  string `json:"symbol"`
	BestBid int64  `json:"best_bid"`
	BestAsk int64  `json:"best_ask"`
	Spread  int64  `json:"spread"`
}

// New builds the server. redisClient may be nil, which disables rate
// limiting. The server registers itself on the engine for real-time
// streams; its listener callbacks only enqueue.
func New(
	svc *service.OrderService,
	authn *auth.Authenticator,
	redisClient redis.Cmdable,
	bucketSize int64,
	refillRate float64,
	corsOrigin string,
	log *slog.Logger,
) *Server {
	s := &Server{
		svc:        svc,
		auth:       authn,
		validate:   validator.New(),
		corsOrigin: corsOrigin,
		log:        log,
		tradeHub:   newHub[orderbook.Trade](),
		bookHub:    newHub[bookUpdate](),
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	if redisClient != nil {
		s.limiter = newTokenBucket(redisClient, bucketSize, refillRate)
	}
	svc.Engine().AddTradeListener(s)
	svc.Engine().AddOrderListener(s)
	return s
}

// OnTrade runs under book locks: broadcast is non-blocking.
func (s *Server) OnTrade(t orderbook.Trade) {
	s.tradeHub.Broadcast(t)
}

// OnOrderUpdate refreshes the top-of-book stream for the symbol the
// order touched. It only enqueues the symbol; the stream handler reads
// the top-of-book values from the engine afterwards, outside this
// callback.
func (s *Server) OnOrderUpdate(o orderbook.Order) {
	s.bookHub.Broadcast(bookUpdate{Symbol: o.Symbol})
}

// Routes wires every endpoint with its middleware stack. CORS wraps
// the whole mux so preflight requests are answered before method
// matching.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	public := func(h http.HandlerFunc) http.Handler {
		return s.withRateLimit(h)
	}
	private := func(h http.HandlerFunc) http.Handler {
		return s.withRateLimit(s.withAuth(h))
	}

	mux.Handle("POST /api/register", public(s.handleRegister))
	mux.Handle("POST /api/login", public(s.handleLogin))

	mux.Handle("POST /api/orders", private(s.handlePlaceOrder))
	mux.Handle("DELETE /api/orders/{id}", private(s.handleCancelOrder))
	mux.Handle("PUT /api/orders/{id}", private(s.handleModifyOrder))
	mux.Handle("GET /api/orders/{id}", public(s.handleGetOrder))
	mux.Handle("GET /api/orders/user/{user}", public(s.handleUserOrders))
	mux.Handle("GET /api/trades/user/{user}", public(s.handleUserTrades))
	mux.Handle("GET /api/orderbook/{symbol}", public(s.handleOrderBook))
	mux.Handle("GET /api/stats", public(s.handleStats))
	mux.Handle("GET /api/metrics/{symbol}", public(s.handleMetrics))
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /ws/trades", s.handleTradeStream)
	mux.HandleFunc("GET /ws/book", s.handleBookStream)

	return s.withCORS(mux)
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil {
			key := r.Header.Get("X-Forwarded-For")
			if key == "" {
				key = r.RemoteAddr
			}
			if !s.limiter.Allow(r.Context(), key) {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing token")
			return
		}
		user, err := s.auth.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}
