// Package orderbook implements the per-symbol limit order book: a
// price-time priority matching core for market, limit, stop, and
// stop-limit orders with GTC/IOC/FOK time-in-force handling. Each
// side of the book is a red-black tree of price levels; every level
// is a FIFO of resting orders with a cached remaining quantity.
//
// The book is safe for concurrent use. Two readers-writer locks guard
// it: one for the order-id index, one for the price-level trees, and
// they are always acquired in that order. Trade and order-update
// callbacks fire while the book is locked, so handlers must not call
// back into the book.
package orderbook
