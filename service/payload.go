package service

import (
	"encoding/json"
	"time"

	"fenrir/domain/orderbook"
	"fenrir/infra/wal"
)

// WAL payloads. Place carries the full order so replay can
// reconstruct it with the original timestamp and identity.

type placePayload struct {
	ID        uint64 `json:"id"`
	Symbol    string `json:"symbol"`
	Side      int    `json:"side"`
	Type      int    `json:"type"`
	Price     int64  `json:"price"`
	StopPrice int64  `json:"stop_price,omitempty"`
	Qty       int64  `json:"qty"`
	UserID    string `json:"user_id"`
	TIF       int    `json:"tif"`
	Expiry    int64  `json:"expiry,omitempty"`
	TS        int64  `json:"ts"` // unix nanos
}

type cancelPayload struct {
	ID uint64 `json:"id"`
}

type modifyPayload struct {
	ID    uint64 `json:"id"`
	Price int64  `json:"price"`
	Qty   int64  `json:"qty"`
}

func placeRecord(o *orderbook.Order) (*wal.Record, error) {
	data, err := json.Marshal(placePayload{
		ID:        o.ID,
		Symbol:    o.Symbol,
		Side:      int(o.Side),
		Type:      int(o.Type),
		Price:     o.Price,
		StopPrice: o.StopPrice,
		Qty:       o.Qty,
		UserID:    o.UserID,
		TIF:       int(o.TIF),
		Expiry:    o.Expiry,
		TS:        o.Timestamp.UnixNano(),
	})
	if err != nil {
		return nil, err
	}
	return wal.NewRecord(wal.RecordPlace, o.ID, data), nil
}

func orderFromPlace(p placePayload) *orderbook.Order {
	return &orderbook.Order{
		ID:        p.ID,
		Symbol:    p.Symbol,
		Side:      orderbook.Side(p.Side),
		Type:      orderbook.OrderType(p.Type),
		Price:     p.Price,
		StopPrice: p.StopPrice,
		Qty:       p.Qty,
		UserID:    p.UserID,
		TIF:       orderbook.TimeInForce(p.TIF),
		Expiry:    p.Expiry,
		Status:    orderbook.New,
		Timestamp: time.Unix(0, p.TS),
	}
}
