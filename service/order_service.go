package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fenrir/domain/engine"
	"fenrir/domain/orderbook"
	"fenrir/infra/kafka"
	"fenrir/infra/outbox"
	"fenrir/infra/sequence"
	"fenrir/infra/wal"
)

// PlaceParams are the caller-supplied order fields. The service
// assigns the id and the submission timestamp.
type PlaceParams struct {
	Symbol    string
	Side      orderbook.Side
	Type      orderbook.OrderType
	Price     int64
	StopPrice int64
	Qty       int64
	UserID    string
	TIF       orderbook.TimeInForce
	Expiry    int64
}

// OrderService coordinates the WAL, the engine, and the outbound
// event paths. It registers itself as the engine's listener and
// pumps events out of the matching hot path through buffered
// channels: the listener callbacks run under book locks and only
// enqueue.
type OrderService struct {
	eng      *engine.MatchingEngine
	seq      *sequence.Sequencer
	wal      *wal.WAL
	outbox   *outbox.Outbox  // optional
	producer *kafka.Producer // optional
	log      *slog.Logger

	trades  chan orderbook.Trade
	updates chan orderbook.Order
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewOrderService wires the dependencies and starts the event pump.
// outbox and producer may be nil; the matching path does not depend
// on either.
func NewOrderService(
	eng *engine.MatchingEngine,
	seq *sequence.Sequencer,
	w *wal.WAL,
	ob *outbox.Outbox,
	producer *kafka.Producer,
	log *slog.Logger,
) *OrderService {
	s := &OrderService{
		eng:      eng,
		seq:      seq,
		wal:      w,
		outbox:   ob,
		producer: producer,
		log:      log,
		trades:   make(chan orderbook.Trade, 4096),
		updates:  make(chan orderbook.Order, 4096),
		done:     make(chan struct{}),
	}
	eng.AddTradeListener(s)
	eng.AddOrderListener(s)
	s.wg.Add(1)
	go s.pump()
	return s
}

// OnTrade runs under the producing book's locks: enqueue only.
// Trades must not be dropped, so a full buffer applies backpressure
// to matching.
func (s *OrderService) OnTrade(t orderbook.Trade) {
	s.trades <- t
}

// OnOrderUpdate is best-effort: a full buffer drops the update
// rather than stalling the matching loop.
func (s *OrderService) OnOrderUpdate(o orderbook.Order) {
	select {
	case s.updates <- o:
	default:
	}
}

func (s *OrderService) pump() {
	defer s.wg.Done()
	for {
		select {
		case t := <-s.trades:
			s.persistTrade(t)
		case o := <-s.updates:
			s.publishUpdate(o)
		case <-s.done:
			// drain what is already queued before exiting
			for {
				select {
				case t := <-s.trades:
					s.persistTrade(t)
				case o := <-s.updates:
					s.publishUpdate(o)
				default:
					return
				}
			}
		}
	}
}

func (s *OrderService) persistTrade(t orderbook.Trade) {
	if s.outbox == nil {
		return
	}
	payload, err := json.Marshal(t)
	if err != nil {
		s.log.Error("encode trade", "err", err)
		return
	}
	if _, err := s.outbox.Put(payload); err != nil {
		s.log.Error("outbox put", "err", err)
	}
}

func (s *OrderService) publishUpdate(o orderbook.Order) {
	if s.producer == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"id":     o.ID,
		"symbol": o.Symbol,
		"status": o.Status.String(),
		"filled": o.Filled,
		"qty":    o.Qty,
	})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.producer.Send(ctx, fmt.Appendf(nil, "%d", o.ID), payload); err != nil {
		s.log.Warn("publish order update", "id", o.ID, "err", err)
	}
}

// Close stops the event pump after draining queued events.
func (s *OrderService) Close() {
	close(s.done)
	s.wg.Wait()
}

// PlaceOrder assigns an id, logs the intent, and admits the order.
// The returned order snapshot reflects the outcome; the trade slice
// is in production order.
func (s *OrderService) PlaceOrder(p PlaceParams) (orderbook.Order, []orderbook.Trade, error) {
	o := &orderbook.Order{
		ID:        s.seq.Next(),
		Symbol:    p.Symbol,
		Side:      p.Side,
		Type:      p.Type,
		Price:     p.Price,
		StopPrice: p.StopPrice,
		Qty:       p.Qty,
		UserID:    p.UserID,
		TIF:       p.TIF,
		Expiry:    p.Expiry,
		Status:    orderbook.New,
		Timestamp: time.Now(),
	}

	rec, err := placeRecord(o)
	if err != nil {
		return orderbook.Order{}, nil, err
	}
	if err := s.wal.Append(rec); err != nil {
		return orderbook.Order{}, nil, err
	}

	trades := s.eng.AddOrder(o)
	s.log.Info("order placed",
		"id", o.ID,
		"symbol", o.Symbol,
		"side", o.Side.String(),
		"type", o.Type.String(),
		"status", o.Status.String(),
		"trades", len(trades),
	)
	return o.Snapshot(), trades, nil
}

// CancelOrder logs the intent and cancels.
func (s *OrderService) CancelOrder(id uint64) (bool, error) {
	data, err := json.Marshal(cancelPayload{ID: id})
	if err != nil {
		return false, err
	}
	if err := s.wal.Append(wal.NewRecord(wal.RecordCancel, id, data)); err != nil {
		return false, err
	}
	ok := s.eng.CancelOrder(id)
	s.log.Info("order cancel", "id", id, "ok", ok)
	return ok, nil
}

// ModifyOrder logs the intent and modifies.
func (s *OrderService) ModifyOrder(id uint64, price, qty int64) (bool, error) {
	data, err := json.Marshal(modifyPayload{ID: id, Price: price, Qty: qty})
	if err != nil {
		return false, err
	}
	if err := s.wal.Append(wal.NewRecord(wal.RecordModify, id, data)); err != nil {
		return false, err
	}
	ok := s.eng.ModifyOrder(id, price, qty)
	s.log.Info("order modify", "id", id, "ok", ok)
	return ok, nil
}

// CancelExpired sweeps elapsed expiries across all books.
func (s *OrderService) CancelExpired() int {
	n := s.eng.CancelExpiredOrders(time.Now().Unix())
	if n > 0 {
		s.log.Info("expired orders cancelled", "count", n)
	}
	return n
}

// Engine exposes the read side for transport queries.
func (s *OrderService) Engine() *engine.MatchingEngine { return s.eng }

// Sequencer exposes the id source for snapshotting.
func (s *OrderService) Sequencer() *sequence.Sequencer { return s.seq }
