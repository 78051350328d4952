// Package orderbook implements price-time priority matching for a single
// instrument. Each side is a red-black tree of price levels and each
// level a FIFO queue of orders, so the head of the best level is always
// the next order to trade.
//
// An OrderBook is single-writer. It is meant to be owned by one actor
// goroutine and never touched from anywhere else while that actor runs.
package orderbook
