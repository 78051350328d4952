// Package service runs order books behind actors.
//
// Every book is owned by one BookActor: a goroutine draining an unbounded
// FIFO mailbox, so operations on a book apply one at a time in the order
// they were routed. The BookRegistry creates books on first reference,
// routes feed events to them and coordinates a bounded shutdown.
package service
