package engine

import (
	"sort"
	"sync"
	"sync/atomic"

	"fenrir/domain/orderbook"
)

// TradeListener observes executed trades. OnTrade runs while the
// producing book holds its write locks: implementations must return
// quickly and must not call back into the engine.
type TradeListener interface {
	OnTrade(orderbook.Trade)
}

// OrderListener observes order state transitions under the same
// contract as TradeListener.
type OrderListener interface {
	OnOrderUpdate(orderbook.Order)
}

// Stats aggregates activity across all books.
type Stats struct {
	TotalOrders uint64 `json:"total_orders"`
	TotalTrades uint64 `json:"total_trades"`
	TotalVolume int64  `json:"total_volume"`
}

// MatchingEngine is the multi-symbol façade over per-symbol books.
type MatchingEngine struct {
	mu    sync.RWMutex
	books map[string]*orderbook.OrderBook

	idMu       sync.RWMutex
	idToSymbol map[uint64]string

	totalOrders atomic.Uint64
	totalTrades atomic.Uint64
	totalVolume atomic.Int64

	tradeListeners []TradeListener
	orderListeners []OrderListener
}

// New creates an empty engine.
func New() *MatchingEngine {
	return &MatchingEngine{
		books:      make(map[string]*orderbook.OrderBook),
		idToSymbol: make(map[uint64]string),
	}
}

// AddTradeListener registers a trade observer. Register before the
// engine sees traffic; registration is not synchronized against
// order flow.
func (e *MatchingEngine) AddTradeListener(l TradeListener) {
	e.tradeListeners = append(e.tradeListeners, l)
}

// AddOrderListener registers an order-update observer.
func (e *MatchingEngine) AddOrderListener(l OrderListener) {
	e.orderListeners = append(e.orderListeners, l)
}

// bookFor returns the symbol's book, creating and wiring it on first
// reference.
func (e *MatchingEngine) bookFor(symbol string) *orderbook.OrderBook {
	e.mu.RLock()
	book, ok := e.books[symbol]
	e.mu.RUnlock()
	if ok {
		return book
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if book, ok = e.books[symbol]; ok {
		return book
	}
	book = orderbook.NewOrderBook(symbol)
	book.SetTradeCallback(func(t orderbook.Trade) {
		e.totalTrades.Add(1)
		e.totalVolume.Add(t.Qty)
		for _, l := range e.tradeListeners {
			l.OnTrade(t)
		}
	})
	book.SetOrderUpdateCallback(func(o orderbook.Order) {
		if o.Terminal() {
			e.idMu.Lock()
			delete(e.idToSymbol, o.ID)
			e.idMu.Unlock()
		}
		for _, l := range e.orderListeners {
			l.OnOrderUpdate(o)
		}
	})
	e.books[symbol] = book
	return book
}

// lookupBook returns an existing book without creating one.
func (e *MatchingEngine) lookupBook(symbol string) *orderbook.OrderBook {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.books[symbol]
}

// AddOrder admits an order into its symbol's book and returns the
// trades produced. The order's status reflects the outcome. Orders
// that fail bounds validation are rejected with no trades and are not
// counted as accepted; orders rejected later (stop miss, unfilled
// market) are counted.
func (e *MatchingEngine) AddOrder(o *orderbook.Order) []orderbook.Trade {
	if err := orderbook.Validate(o); err != nil {
		o.Status = orderbook.Rejected
		return nil
	}
	e.totalOrders.Add(1)

	// The mapping goes in before admission so the terminal-status
	// callback can retire it; anything that did not end up resting is
	// swept here.
	e.idMu.Lock()
	e.idToSymbol[o.ID] = o.Symbol
	e.idMu.Unlock()

	book := e.bookFor(o.Symbol)
	trades := book.AddOrder(o)

	if o.Terminal() || o.Type != orderbook.Limit {
		e.idMu.Lock()
		delete(e.idToSymbol, o.ID)
		e.idMu.Unlock()
	}
	return trades
}

// CancelOrder cancels a resting order anywhere in the engine.
func (e *MatchingEngine) CancelOrder(id uint64) bool {
	e.idMu.RLock()
	symbol, ok := e.idToSymbol[id]
	e.idMu.RUnlock()
	if !ok {
		return false
	}
	book := e.lookupBook(symbol)
	if book == nil {
		return false
	}
	return book.CancelOrder(id)
}

// ModifyOrder forwards to the owning book. The engine is acquired in
// read mode: per-book state changes are protected by the book's own
// locks.
func (e *MatchingEngine) ModifyOrder(id uint64, newPrice, newQty int64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	e.idMu.RLock()
	symbol, ok := e.idToSymbol[id]
	e.idMu.RUnlock()
	if !ok {
		return false
	}
	book := e.books[symbol]
	if book == nil {
		return false
	}
	return book.ModifyOrder(id, newPrice, newQty)
}

// GetOrder returns a snapshot of a resting order.
func (e *MatchingEngine) GetOrder(id uint64) (orderbook.Order, bool) {
	e.idMu.RLock()
	symbol, ok := e.idToSymbol[id]
	e.idMu.RUnlock()
	if !ok {
		return orderbook.Order{}, false
	}
	book := e.lookupBook(symbol)
	if book == nil {
		return orderbook.Order{}, false
	}
	return book.GetOrder(id)
}

// BestBid returns the symbol's best bid, 0 if the book or side is
// empty.
func (e *MatchingEngine) BestBid(symbol string) int64 {
	if book := e.lookupBook(symbol); book != nil {
		return book.BestBid()
	}
	return 0
}

// BestAsk returns the symbol's best ask, 0 if the book or side is
// empty.
func (e *MatchingEngine) BestAsk(symbol string) int64 {
	if book := e.lookupBook(symbol); book != nil {
		return book.BestAsk()
	}
	return 0
}

// Spread returns ask minus bid for the symbol, 0 when undefined.
func (e *MatchingEngine) Spread(symbol string) int64 {
	if book := e.lookupBook(symbol); book != nil {
		return book.Spread()
	}
	return 0
}

// BidLevels returns up to depth bid levels, best first.
func (e *MatchingEngine) BidLevels(symbol string, depth int) []orderbook.BookLevel {
	if book := e.lookupBook(symbol); book != nil {
		return book.BidLevels(depth)
	}
	return nil
}

// AskLevels returns up to depth ask levels, best first.
func (e *MatchingEngine) AskLevels(symbol string, depth int) []orderbook.BookLevel {
	if book := e.lookupBook(symbol); book != nil {
		return book.AskLevels(depth)
	}
	return nil
}

// BidDepth sums bid quantity at or above price for the symbol.
func (e *MatchingEngine) BidDepth(symbol string, price int64) int64 {
	if book := e.lookupBook(symbol); book != nil {
		return book.BidDepth(price)
	}
	return 0
}

// AskDepth sums ask quantity at or below price for the symbol.
func (e *MatchingEngine) AskDepth(symbol string, price int64) int64 {
	if book := e.lookupBook(symbol); book != nil {
		return book.AskDepth(price)
	}
	return 0
}

// GetUserOrders collects the user's resting orders across all books.
// Linear; not a hot path.
func (e *MatchingEngine) GetUserOrders(userID string) []orderbook.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []orderbook.Order
	for _, book := range e.books {
		out = append(out, book.UserOrders(userID)...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetUserTrades collects the user's trades across all books.
func (e *MatchingEngine) GetUserTrades(userID string) []orderbook.Trade {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []orderbook.Trade
	for _, book := range e.books {
		out = append(out, book.UserTrades(userID)...)
	}
	return out
}

// AllOrders returns every resting order across all books.
func (e *MatchingEngine) AllOrders() []orderbook.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []orderbook.Order
	for _, book := range e.books {
		out = append(out, book.AllOrders()...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OrderCount returns the number of resting orders engine-wide.
func (e *MatchingEngine) OrderCount() int {
	e.idMu.RLock()
	defer e.idMu.RUnlock()
	return len(e.idToSymbol)
}

// GetStats returns the aggregate counters.
func (e *MatchingEngine) GetStats() Stats {
	return Stats{
		TotalOrders: e.totalOrders.Load(),
		TotalTrades: e.totalTrades.Load(),
		TotalVolume: e.totalVolume.Load(),
	}
}

// BookMetrics are per-symbol quality-of-market measures.
type BookMetrics struct {
	AverageSpread     float64 `json:"average_spread"`
	OrderToTradeRatio float64 `json:"order_to_trade_ratio"`
	CancellationRate  float64 `json:"cancellation_rate"`
}

// Metrics reports the symbol's book metrics over the top depth
// levels. Unknown symbols read as zero.
func (e *MatchingEngine) Metrics(symbol string, depth int) BookMetrics {
	book := e.lookupBook(symbol)
	if book == nil {
		return BookMetrics{}
	}
	return BookMetrics{
		AverageSpread:     book.AverageSpread(depth),
		OrderToTradeRatio: book.OrderToTradeRatio(),
		CancellationRate:  book.CancellationRate(),
	}
}

// CancelExpiredOrders sweeps every book for elapsed expiries and
// returns how many orders were cancelled. now is unix seconds.
func (e *MatchingEngine) CancelExpiredOrders(now int64) int {
	e.mu.RLock()
	books := make([]*orderbook.OrderBook, 0, len(e.books))
	for _, b := range e.books {
		books = append(books, b)
	}
	e.mu.RUnlock()

	n := 0
	for _, b := range books {
		n += b.CancelExpiredOrders(now)
	}
	return n
}

// Clear drops every book and index and zeroes the counters.
func (e *MatchingEngine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.idMu.Lock()
	defer e.idMu.Unlock()

	e.books = make(map[string]*orderbook.OrderBook)
	e.idToSymbol = make(map[uint64]string)
	e.totalOrders.Store(0)
	e.totalTrades.Store(0)
	e.totalVolume.Store(0)
}

// Symbols lists the symbols with live books.
func (e *MatchingEngine) Symbols() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.books))
	for s := range e.books {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
