// Package dbengine adapts internal/db's blocking pgx calls to the
// reactor's non-blocking suspension contract (spec.md §4.5, components
// K and L). A database connection wraps a single pipelined handle that
// is either idle or executing exactly one request at a time; requests
// queue for it in FIFO order and run their full multi-statement body on
// a dedicated goroutine, exposing the reactor exactly one suspension
// point rather than one per statement.
package dbengine

import (
	"context"

	"github.com/ironspire/realmgate/internal/db"
)

// Connection serializes every request issued against one logical slot.
// Go's channel send/receive queueing gives the FIFO property spec.md
// asks of connection.lock()/unlock() directly, without an explicit
// event-fd per waiter.
type Connection struct {
	token chan struct{}
	db    *db.DB
}

// NewConnection wraps a shared *db.DB with its own lock queue. Multiple
// Connections may wrap the same *db.DB — the pgx pool underneath already
// multiplexes physical sockets; Connection exists to serialize the
// higher-level request sequencing spec.md describes, not to limit
// physical connections.
func NewConnection(database *db.DB) *Connection {
	c := &Connection{token: make(chan struct{}, 1), db: database}
	c.token <- struct{}{}
	return c
}

// Lock blocks until the connection is free, or ctx is done.
func (c *Connection) Lock(ctx context.Context) error {
	select {
	case <-c.token:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unlock hands the connection to the next queued waiter, if any.
func (c *Connection) Unlock() {
	c.token <- struct{}{}
}

// DB returns the underlying repository handle. Request bodies use this
// to call into internal/db.
func (c *Connection) DB() *db.DB { return c.db }
