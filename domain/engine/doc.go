// Package engine routes orders to per-symbol books, maintains the
// global order-id index and aggregate counters, and multiplexes
// trade/order-update events to registered listeners. Books are
// created lazily on first add and are otherwise independent; there
// is no cross-symbol ordering guarantee.
package engine
