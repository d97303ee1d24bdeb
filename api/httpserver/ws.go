package httpserver

import (
	"net/http"

	"fenrir/domain/orderbook"
)

type outboundMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// handleTradeStream pushes every executed trade to the client.
func (s *Server) handleTradeStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := s.tradeHub.Subscribe(64)
	defer s.tradeHub.Unsubscribe(sub)

	for trade := range sub.ch {
		msg := outboundMessage{Type: "trade", Data: toTradeResponses([]orderbook.Trade{trade})[0]}
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// handleBookStream pushes a fresh top-of-book view whenever an order
// on the symbol changes state. The view is read from the engine here,
// outside any book lock.
func (s *Server) handleBookStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := s.bookHub.Subscribe(64)
	defer s.bookHub.Unsubscribe(sub)

	eng := s.svc.Engine()
	for update := range sub.ch {
		update.BestBid = eng.BestBid(update.Symbol)
		update.BestAsk = eng.BestAsk(update.Symbol)
		update.Spread = eng.Spread(update.Symbol)
		msg := outboundMessage{Type: "book", Data: update}
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}
