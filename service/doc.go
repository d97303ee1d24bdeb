// Package service is the write entry point into the system. It owns
// the coordination between the matching engine, the entry WAL, the
// trade outbox, and the order-update producer: actions are logged
// before they execute, trades are handed to the durable outbox, and
// replay rebuilds everything on boot. No globals; every dependency is
// passed in.
package service
