package dbengine

import (
	"context"

	"github.com/ironspire/realmgate/internal/reactor"
)

// Result holds a Request's outcome, written exactly once by the
// goroutine Submit starts, and safe to read only after that Request's
// PendingEvent has fired.
type Result struct {
	Value any
	Err   error
}

// Request is one database dialogue: acquire a Connection, run a
// multi-statement body against it, release it. Spec.md models this as
// a step function resumed once per I/O-bound statement; here the whole
// body runs synchronously on its own goroutine using internal/db's
// ordinary blocking pgx calls, and Submit folds that into a single
// PendingEvent the caller's session can wait on without blocking its
// worker. This is a deliberate simplification of the literal
// per-statement suspension model — see DESIGN.md.
type Request struct {
	conn *Connection
	body func(ctx context.Context, conn *Connection) (any, error)
}

// NewRequest builds a Request against conn. body does whatever
// sequence of internal/db calls the operation needs; conn is already
// locked for its entire duration.
func NewRequest(conn *Connection, body func(ctx context.Context, conn *Connection) (any, error)) *Request {
	return &Request{conn: conn, body: body}
}

// Submit acquires the connection's lock, runs the request body on a
// dedicated goroutine, and returns the PendingEvent to install via
// Session.SetEvent along with the Result the caller's ResumeFunc should
// read once it is invoked.
func (r *Request) Submit(ctx context.Context) (reactor.PendingEvent, *Result) {
	ready := make(chan reactor.ReadinessMask, 1)
	result := &Result{}

	go func() {
		if err := r.conn.Lock(ctx); err != nil {
			result.Err = err
			ready <- reactor.Readable
			return
		}
		defer r.conn.Unlock()

		result.Value, result.Err = r.body(ctx, r.conn)
		ready <- reactor.Readable
	}()

	return reactor.PendingEvent{
		Ready: ready,
		Resume: func(status reactor.ReadinessMask) (*reactor.PendingEvent, error) {
			return nil, result.Err
		},
	}, result
}
