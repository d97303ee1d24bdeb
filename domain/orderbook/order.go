package orderbook

import (
	"errors"
	"time"
)

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Sell {
		return "sell"
	}
	return "buy"
}

type OrderType int

const (
	Limit OrderType = iota
	Market
	Stop
	StopLimit
)

func (t OrderType) String() string {
	switch t {
	case Market:
		return "market"
	case Stop:
		return "stop"
	case StopLimit:
		return "stop_limit"
	default:
		return "limit"
	}
}

type Status int

const (
	New Status = iota
	Partial
	Filled
	Cancelled
	Rejected
)

func (s Status) String() string {
	switch s {
	case Partial:
		return "partial"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	case Rejected:
		return "rejected"
	default:
		return "new"
	}
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == Filled || s == Cancelled || s == Rejected
}

type TimeInForce int

const (
	GTC TimeInForce = iota
	IOC
	FOK
)

func (t TimeInForce) String() string {
	switch t {
	case IOC:
		return "IOC"
	case FOK:
		return "FOK"
	default:
		return "GTC"
	}
}

// Price and quantity bounds. Orders outside them are rejected at
// admission and never reach the matching loop.
const (
	MaxPrice int64 = 1_000_000
	MaxQty   int64 = 1_000_000
)

var (
	ErrInvalidQuantity = errors.New("orderbook: quantity out of bounds")
	ErrInvalidPrice    = errors.New("orderbook: price out of bounds")
)

// Order is a request to trade. Identity fields are immutable; Price,
// Qty, Filled, Status, Type, and Timestamp change only while the
// owning book holds its write locks. Type transitions happen exactly
// once, on stop trigger: Stop becomes Market, StopLimit becomes Limit.
type Order struct {
	ID        uint64
	Symbol    string
	Side      Side
	Type      OrderType
	Price     int64
	StopPrice int64
	Qty       int64
	Filled    int64
	Status    Status
	UserID    string
	TIF       TimeInForce
	Expiry    int64 // unix seconds, 0 = never
	Timestamp time.Time

	// intrusive FIFO links, owned by the resting price level
	next *Order
	prev *Order
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() int64 { return o.Qty - o.Filled }

// Terminal reports whether the order can no longer trade.
func (o *Order) Terminal() bool { return o.Status.Terminal() }

// Snapshot returns a detached copy safe to hand outside the book.
func (o *Order) Snapshot() Order {
	c := *o
	c.next = nil
	c.prev = nil
	return c
}

// Validate checks admission bounds. Limit prices matter only for the
// types that carry one; market and stop orders trade at the book.
func Validate(o *Order) error {
	if o.Qty <= 0 || o.Qty > MaxQty {
		return ErrInvalidQuantity
	}
	if o.Type == Limit || o.Type == StopLimit {
		if o.Price <= 0 || o.Price > MaxPrice {
			return ErrInvalidPrice
		}
	}
	return nil
}

// Trade records one matching event. Price is always the resting
// side's price.
type Trade struct {
	BuyOrderID  uint64
	SellOrderID uint64
	Symbol      string
	Price       int64
	Qty         int64
	Timestamp   time.Time
}

// TradeRecord is a trade annotated with both owners, kept in the
// book's history so per-user queries survive order removal.
type TradeRecord struct {
	Trade
	BuyUserID  string
	SellUserID string
}
