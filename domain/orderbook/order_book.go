package orderbook

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// TradeFunc observes executed trades; OrderFunc observes order state
// transitions. Both fire while the book's write locks are held.
type TradeFunc func(Trade)

// OrderFunc receives a detached snapshot of the changed order.
type OrderFunc func(Order)

// BookLevel is the externally visible shape of one price level.
type BookLevel struct {
	Price    int64 `json:"price"`
	TotalQty int64 `json:"total_quantity"`
	Orders   int   `json:"orders"`
}

// OrderBook holds all resting orders for one symbol. Bids and asks
// live in separate price trees; orders is the id index covering every
// resting order. Lock order is ordersMu, then bookMu, never reversed.
type OrderBook struct {
	symbol string

	ordersMu sync.RWMutex
	orders   map[uint64]*Order

	bookMu sync.RWMutex
	bids   *levelTree
	asks   *levelTree

	totalOrders atomic.Uint64
	totalTrades atomic.Uint64
	totalVolume atomic.Int64
	cancelled   atomic.Uint64

	histMu  sync.RWMutex
	history []TradeRecord

	onTrade TradeFunc
	onOrder OrderFunc
}

// NewOrderBook creates an empty book for symbol.
func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		symbol: symbol,
		orders: make(map[uint64]*Order),
		bids:   newLevelTree(),
		asks:   newLevelTree(),
	}
}

// Symbol returns the symbol this book trades.
func (b *OrderBook) Symbol() string { return b.symbol }

// SetTradeCallback installs the trade observer. Install before the
// book sees traffic; it is not synchronized against order flow.
func (b *OrderBook) SetTradeCallback(fn TradeFunc) { b.onTrade = fn }

// SetOrderUpdateCallback installs the order-update observer.
func (b *OrderBook) SetOrderUpdateCallback(fn OrderFunc) { b.onOrder = fn }

// AddOrder runs the admission state machine: validate, register,
// route by type, enforce time-in-force, finalize status. It returns
// the trades produced, in production order.
func (b *OrderBook) AddOrder(o *Order) []Trade {
	if err := Validate(o); err != nil {
		o.Status = Rejected
		return nil
	}

	b.ordersMu.Lock()
	defer b.ordersMu.Unlock()
	b.orders[o.ID] = o // in-flight: observable by cancel/modify before resting
	b.totalOrders.Add(1)

	b.bookMu.Lock()
	defer b.bookMu.Unlock()

	trades := b.route(o)
	b.finalize(o)

	if b.onOrder != nil {
		b.onOrder(o.Snapshot())
	}
	return trades
}

// route dispatches on order type. Caller holds both write locks.
func (b *OrderBook) route(o *Order) []Trade {
	switch o.Type {
	case Market:
		return b.processMarket(o)
	case Stop:
		return b.processStop(o)
	case StopLimit:
		return b.processStopLimit(o)
	default:
		return b.processLimit(o)
	}
}

func (b *OrderBook) processLimit(o *Order) []Trade {
	if o.TIF == FOK && !b.fillable(o) {
		o.Status = Cancelled
		return nil
	}
	trades := b.matchLoop(o)
	if o.Remaining() > 0 {
		if o.TIF == IOC {
			o.Status = Cancelled
		} else {
			b.rest(o)
		}
	}
	return trades
}

func (b *OrderBook) processMarket(o *Order) []Trade {
	if o.TIF == FOK && !b.fillable(o) {
		o.Status = Cancelled
		return nil
	}
	trades := b.matchLoop(o)
	if o.Filled == 0 {
		o.Status = Rejected
	}
	return trades
}

// processStop checks the trigger against the opposite top of book:
// best ask for a buy stop, best bid for a sell stop. An empty
// reference side or an unmet condition rejects the order; untriggered
// stops are not parked.
func (b *OrderBook) processStop(o *Order) []Trade {
	ref := b.referencePrice(o.Side)
	if ref == 0 {
		o.Status = Rejected
		return nil
	}
	if !stopTriggered(o, ref) {
		o.Status = Rejected
		return nil
	}
	o.Type = Market
	return b.processMarket(o)
}

func (b *OrderBook) processStopLimit(o *Order) []Trade {
	ref := b.referencePrice(o.Side)
	if ref == 0 {
		o.Status = Rejected
		return nil
	}
	if !stopTriggered(o, ref) {
		o.Status = Rejected
		return nil
	}
	o.Type = Limit
	return b.processLimit(o)
}

func stopTriggered(o *Order, ref int64) bool {
	if o.Side == Buy {
		return ref >= o.StopPrice
	}
	return ref <= o.StopPrice
}

// referencePrice is the price a stop order triggers against.
func (b *OrderBook) referencePrice(side Side) int64 {
	var lvl *PriceLevel
	if side == Buy {
		lvl = b.asks.Min()
	} else {
		lvl = b.bids.Max()
	}
	if lvl == nil {
		return 0
	}
	return lvl.Price
}

// finalize applies the terminal-status lattice after routing and
// releases ownership of any order that did not rest. Only limit-type
// orders rest; everything else leaves the id index here.
func (b *OrderBook) finalize(o *Order) {
	switch {
	case o.Filled == o.Qty:
		o.Status = Filled
	case o.Filled > 0 && o.Status == New:
		o.Status = Partial
	}
	resting := o.Type == Limit && !o.Terminal()
	if !resting {
		delete(b.orders, o.ID)
	}
}

// crosses is the matching predicate against a counter level.
func crosses(o *Order, levelPrice int64) bool {
	if o.Type == Market {
		return true
	}
	if o.Side == Buy {
		return levelPrice <= o.Price
	}
	return levelPrice >= o.Price
}

// fillable walks the opposite side accumulating crossable quantity.
// It is the FOK pre-check: no trade commits unless the whole order
// can fill in one pass.
func (b *OrderBook) fillable(o *Order) bool {
	need := o.Remaining()
	var have int64
	scan := func(lvl *PriceLevel) bool {
		if !crosses(o, lvl.Price) {
			return false
		}
		have += lvl.TotalQty
		return have < need
	}
	if o.Side == Buy {
		b.asks.Ascend(scan)
	} else {
		b.bids.Descend(scan)
	}
	return have >= need
}

// matchLoop consumes the opposite side best-price-first, FIFO within
// each level. Trades execute at the resting order's price. Both write
// locks are held; callbacks fire inline in production order.
func (b *OrderBook) matchLoop(o *Order) []Trade {
	var trades []Trade
	for o.Remaining() > 0 {
		var lvl *PriceLevel
		if o.Side == Buy {
			lvl = b.asks.Min()
		} else {
			lvl = b.bids.Max()
		}
		if lvl == nil || !crosses(o, lvl.Price) {
			break
		}

		for counter := lvl.Front(); counter != nil && o.Remaining() > 0; counter = lvl.Front() {
			qty := min(o.Remaining(), counter.Remaining())

			t := Trade{
				Symbol:    b.symbol,
				Price:     lvl.Price,
				Qty:       qty,
				Timestamp: time.Now(),
			}
			rec := TradeRecord{Trade: t}
			if o.Side == Buy {
				t.BuyOrderID, t.SellOrderID = o.ID, counter.ID
				rec.BuyUserID, rec.SellUserID = o.UserID, counter.UserID
			} else {
				t.BuyOrderID, t.SellOrderID = counter.ID, o.ID
				rec.BuyUserID, rec.SellUserID = counter.UserID, o.UserID
			}
			rec.Trade = t
			trades = append(trades, t)

			o.Filled += qty
			lvl.Fill(counter, qty)

			b.totalTrades.Add(1)
			b.totalVolume.Add(qty)
			b.appendHistory(rec)
			if b.onTrade != nil {
				b.onTrade(t)
			}

			if counter.Remaining() == 0 {
				counter.Status = Filled
				lvl.Unlink(counter)
				delete(b.orders, counter.ID)
			} else {
				counter.Status = Partial
			}
			if b.onOrder != nil {
				b.onOrder(counter.Snapshot())
			}
		}

		if lvl.Empty() {
			if o.Side == Buy {
				b.asks.Delete(lvl.Price)
			} else {
				b.bids.Delete(lvl.Price)
			}
		}
	}
	return trades
}

// rest inserts the unfilled remainder at its level, time priority by
// submission order.
func (b *OrderBook) rest(o *Order) {
	if o.Side == Buy {
		b.bids.Upsert(o.Price).Enqueue(o)
	} else {
		b.asks.Upsert(o.Price).Enqueue(o)
	}
}

// CancelOrder removes a resting order. It returns false for unknown
// or terminal ids; a cancel racing a fill loses cleanly because both
// serialize on the id-index lock.
func (b *OrderBook) CancelOrder(id uint64) bool {
	b.ordersMu.Lock()
	defer b.ordersMu.Unlock()

	o, ok := b.orders[id]
	if !ok || o.Terminal() {
		return false
	}
	o.Status = Cancelled

	if o.Type == Limit {
		b.bookMu.Lock()
		b.unlinkResting(o)
		b.bookMu.Unlock()
	}
	delete(b.orders, id)
	b.cancelled.Add(1)

	if b.onOrder != nil {
		b.onOrder(o.Snapshot())
	}
	return true
}

// unlinkResting drops o from its level, removing the level when it
// empties. Caller holds bookMu.
func (b *OrderBook) unlinkResting(o *Order) {
	tree := b.bids
	if o.Side == Sell {
		tree = b.asks
	}
	lvl := tree.Find(o.Price)
	if lvl == nil {
		return
	}
	lvl.Unlink(o)
	if lvl.Empty() {
		tree.Delete(o.Price)
	}
}

// ModifyOrder changes price and/or quantity. A same-price shrink is
// applied in place and keeps time priority. Anything else is an
// atomic cancel-and-readd under the same id: the order re-enters
// admission with a fresh timestamp and may trade immediately. The
// book locks are held across both halves, so no observer ever sees
// the id absent mid-modify.
func (b *OrderBook) ModifyOrder(id uint64, newPrice, newQty int64) bool {
	b.ordersMu.Lock()
	defer b.ordersMu.Unlock()

	o, ok := b.orders[id]
	if !ok || o.Terminal() || o.Filled >= o.Qty {
		return false
	}
	if newQty <= 0 || newQty > MaxQty || newQty <= o.Filled {
		return false
	}
	if o.Type == Limit && (newPrice <= 0 || newPrice > MaxPrice) {
		return false
	}

	b.bookMu.Lock()
	defer b.bookMu.Unlock()

	if newPrice == o.Price && newQty <= o.Qty {
		if o.Type == Limit {
			if lvl := b.sideTree(o.Side).Find(o.Price); lvl != nil {
				lvl.Reduce(o, newQty)
			} else {
				o.Qty = newQty
			}
		} else {
			o.Qty = newQty
		}
		if b.onOrder != nil {
			b.onOrder(o.Snapshot())
		}
		return true
	}

	if o.Type == Limit {
		b.unlinkResting(o)
	}
	o.Price = newPrice
	o.Qty = newQty
	o.Filled = 0
	o.Status = New
	o.Timestamp = time.Now()

	b.processLimit(o)
	b.finalize(o)
	if b.onOrder != nil {
		b.onOrder(o.Snapshot())
	}
	return true
}

func (b *OrderBook) sideTree(s Side) *levelTree {
	if s == Sell {
		return b.asks
	}
	return b.bids
}

// CancelExpiredOrders sweeps resting orders whose wall-clock expiry
// has elapsed. Only status NEW is considered; partially filled
// orders are left resting.
func (b *OrderBook) CancelExpiredOrders(now int64) int {
	var expired []uint64
	b.ordersMu.RLock()
	for id, o := range b.orders {
		if o.Expiry > 0 && o.Expiry <= now && o.Status == New {
			expired = append(expired, id)
		}
	}
	b.ordersMu.RUnlock()

	n := 0
	for _, id := range expired {
		if b.CancelOrder(id) {
			n++
		}
	}
	return n
}

// GetOrder returns a snapshot of a resting order. Terminal orders are
// gone from the index and report not found.
func (b *OrderBook) GetOrder(id uint64) (Order, bool) {
	b.ordersMu.RLock()
	defer b.ordersMu.RUnlock()
	o, ok := b.orders[id]
	if !ok {
		return Order{}, false
	}
	return o.Snapshot(), true
}

// BestBid returns the highest resting buy price, 0 if none.
func (b *OrderBook) BestBid() int64 {
	b.bookMu.RLock()
	defer b.bookMu.RUnlock()
	lvl := b.bids.Max()
	if lvl == nil {
		return 0
	}
	return lvl.Price
}

// BestAsk returns the lowest resting sell price, 0 if none.
func (b *OrderBook) BestAsk() int64 {
	b.bookMu.RLock()
	defer b.bookMu.RUnlock()
	lvl := b.asks.Min()
	if lvl == nil {
		return 0
	}
	return lvl.Price
}

// Spread is ask minus bid, 0 when either side is empty.
func (b *OrderBook) Spread() int64 {
	b.bookMu.RLock()
	defer b.bookMu.RUnlock()
	bid, ask := b.bids.Max(), b.asks.Min()
	if bid == nil || ask == nil {
		return 0
	}
	return ask.Price - bid.Price
}

// BidDepth sums resting quantity across bid levels priced at or above
// price.
func (b *OrderBook) BidDepth(price int64) int64 {
	b.bookMu.RLock()
	defer b.bookMu.RUnlock()
	var total int64
	b.bids.Descend(func(lvl *PriceLevel) bool {
		if lvl.Price < price {
			return false
		}
		total += lvl.TotalQty
		return true
	})
	return total
}

// AskDepth sums resting quantity across ask levels priced at or below
// price.
func (b *OrderBook) AskDepth(price int64) int64 {
	b.bookMu.RLock()
	defer b.bookMu.RUnlock()
	var total int64
	b.asks.Ascend(func(lvl *PriceLevel) bool {
		if lvl.Price > price {
			return false
		}
		total += lvl.TotalQty
		return true
	})
	return total
}

// BidLevels returns up to depth levels, best first.
func (b *OrderBook) BidLevels(depth int) []BookLevel {
	b.bookMu.RLock()
	defer b.bookMu.RUnlock()
	return collectLevels(b.bids.Descend, depth)
}

// AskLevels returns up to depth levels, best first.
func (b *OrderBook) AskLevels(depth int) []BookLevel {
	b.bookMu.RLock()
	defer b.bookMu.RUnlock()
	return collectLevels(b.asks.Ascend, depth)
}

func collectLevels(iter func(func(*PriceLevel) bool), depth int) []BookLevel {
	out := make([]BookLevel, 0, depth)
	iter(func(lvl *PriceLevel) bool {
		if len(out) >= depth {
			return false
		}
		out = append(out, BookLevel{Price: lvl.Price, TotalQty: lvl.TotalQty, Orders: lvl.OrderCount})
		return true
	})
	return out
}

// UserOrders returns snapshots of the user's resting orders, sorted
// by id for stable output.
func (b *OrderBook) UserOrders(userID string) []Order {
	b.ordersMu.RLock()
	defer b.ordersMu.RUnlock()
	var out []Order
	for _, o := range b.orders {
		if o.UserID == userID {
			out = append(out, o.Snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllOrders returns snapshots of every resting order, sorted by id.
func (b *OrderBook) AllOrders() []Order {
	b.ordersMu.RLock()
	defer b.ordersMu.RUnlock()
	out := make([]Order, 0, len(b.orders))
	for _, o := range b.orders {
		out = append(out, o.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UserTrades returns the trades in which the user was buyer or
// seller, in production order.
func (b *OrderBook) UserTrades(userID string) []Trade {
	b.histMu.RLock()
	defer b.histMu.RUnlock()
	var out []Trade
	for _, rec := range b.history {
		if rec.BuyUserID == userID || rec.SellUserID == userID {
			out = append(out, rec.Trade)
		}
	}
	return out
}

// TradeHistory returns all trades produced by this book.
func (b *OrderBook) TradeHistory() []Trade {
	b.histMu.RLock()
	defer b.histMu.RUnlock()
	out := make([]Trade, len(b.history))
	for i, rec := range b.history {
		out[i] = rec.Trade
	}
	return out
}

func (b *OrderBook) appendHistory(rec TradeRecord) {
	b.histMu.Lock()
	b.history = append(b.history, rec)
	b.histMu.Unlock()
}

// OrderCount returns the number of resting orders.
func (b *OrderBook) OrderCount() int {
	b.ordersMu.RLock()
	defer b.ordersMu.RUnlock()
	return len(b.orders)
}

// IsEmpty reports whether both sides are empty.
func (b *OrderBook) IsEmpty() bool {
	b.bookMu.RLock()
	defer b.bookMu.RUnlock()
	return b.bids.Size() == 0 && b.asks.Size() == 0
}

// Clear drops all resting orders, history, and counters.
func (b *OrderBook) Clear() {
	b.ordersMu.Lock()
	defer b.ordersMu.Unlock()
	b.bookMu.Lock()
	defer b.bookMu.Unlock()
	b.histMu.Lock()
	defer b.histMu.Unlock()

	b.orders = make(map[uint64]*Order)
	b.bids.Clear()
	b.asks.Clear()
	b.history = nil
	b.totalOrders.Store(0)
	b.totalTrades.Store(0)
	b.totalVolume.Store(0)
	b.cancelled.Store(0)
}

// AverageSpread averages ask-minus-bid across the top depth levels
// present on both sides.
func (b *OrderBook) AverageSpread(depth int) float64 {
	bids := b.BidLevels(depth)
	asks := b.AskLevels(depth)
	n := min(len(bids), len(asks))
	if n == 0 {
		return 0
	}
	var total float64
	for i := 0; i < n; i++ {
		total += float64(asks[i].Price - bids[i].Price)
	}
	return total / float64(n)
}

// OrderToTradeRatio is accepted orders divided by trades executed.
func (b *OrderBook) OrderToTradeRatio() float64 {
	trades := b.totalTrades.Load()
	if trades == 0 {
		return 0
	}
	return float64(b.totalOrders.Load()) / float64(trades)
}

// CancellationRate is cancels divided by accepted orders.
func (b *OrderBook) CancellationRate() float64 {
	orders := b.totalOrders.Load()
	if orders == 0 {
		return 0
	}
	return float64(b.cancelled.Load()) / float64(orders)
}
