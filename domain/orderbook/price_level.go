package orderbook

import "fmt"

// PriceLevel is the FIFO of resting orders at one price. TotalQty
// caches the sum of remaining quantities; every mutation keeps it in
// step, so depth queries never walk the list.
type PriceLevel struct {
	Price      int64
	head       *Order
	tail       *Order
	TotalQty   int64
	OrderCount int
}

// Enqueue appends o at the back of the FIFO.
func (p *PriceLevel) Enqueue(o *Order) {
	if p.head == nil {
		p.head = o
		p.tail = o
	} else {
		p.tail.next = o
		o.prev = p.tail
		p.tail = o
	}
	p.TotalQty += o.Remaining()
	p.OrderCount++
}

// Unlink removes o from anywhere in the FIFO. Middle removal is O(1)
// through the intrusive links.
func (p *PriceLevel) Unlink(o *Order) {
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		p.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		p.tail = o.prev
	}
	o.next = nil
	o.prev = nil
	p.TotalQty -= o.Remaining()
	p.OrderCount--
	if p.TotalQty < 0 {
		p.TotalQty = 0
	}
}

// Fill applies qty of fill to a resting order and keeps the cached
// total consistent. The caller removes the order once fully filled.
func (p *PriceLevel) Fill(o *Order, qty int64) {
	o.Filled += qty
	p.TotalQty -= qty
}

// Reduce shrinks a resting order's quantity in place. FIFO position
// is retained, which is what preserves time priority on same-price
// modifies.
func (p *PriceLevel) Reduce(o *Order, newQty int64) {
	p.TotalQty -= o.Qty - newQty
	o.Qty = newQty
}

// Front returns the oldest resting order, or nil.
func (p *PriceLevel) Front() *Order { return p.head }

// Empty reports whether no orders rest at this price.
func (p *PriceLevel) Empty() bool { return p.head == nil }

func (p *PriceLevel) String() string {
	return fmt.Sprintf("level{price=%d qty=%d orders=%d}", p.Price, p.TotalQty, p.OrderCount)
}
