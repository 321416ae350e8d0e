package evloop

import (
	"net"
	"sync"
)

// connWriter is an io.Writer that queues bytes handed to it by the loop
// goroutine and writes them to the underlying connection from its own
// goroutine. It exists because wire.WriteBodyPart (internal/wire/response.go)
// carries response payload bytes inline, not just a temp-file path, so a
// synchronous conn.Write from the loop goroutine would let one slow-reading
// client stall every other session, queue, and dispatch decision the loop
// makes (spec §5: the event loop must never block anywhere but its own
// readiness wait). Queuing here keeps Write itself always non-blocking from
// the loop's perspective; only this goroutine ever blocks on socket I/O.
type connWriter struct {
	conn net.Conn

	mu     sync.Mutex
	queue  [][]byte
	notify chan struct{}
	closed bool
}

func newConnWriter(conn net.Conn) *connWriter {
	cw := &connWriter{
		conn:   conn,
		notify: make(chan struct{}, 1),
	}
	go cw.run()
	return cw
}

// Write enqueues a copy of p and returns immediately; it never observes the
// eventual conn.Write's outcome. A failing underlying write closes conn,
// which surfaces to the loop goroutine as a normal evConnClosed event from
// the connection's reader goroutine — the existing teardown path.
func (cw *connWriter) Write(p []byte) (int, error) {
	b := make([]byte, len(p))
	copy(b, p)

	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.closed {
		return len(p), nil
	}
	cw.queue = append(cw.queue, b)
	select {
	case cw.notify <- struct{}{}:
	default:
	}
	return len(p), nil
}

// Close stops the writer goroutine once any already-queued bytes have been
// flushed or the connection errors out. Safe to call more than once. closed
// and the notify channel's closedness are both only ever changed under mu,
// alongside the same check Write makes, so Write never sends on a channel
// Close has already closed.
func (cw *connWriter) Close() {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.closed {
		return
	}
	cw.closed = true
	close(cw.notify)
}

func (cw *connWriter) run() {
	for {
		cw.mu.Lock()
		q := cw.queue
		cw.queue = nil
		cw.mu.Unlock()

		for _, b := range q {
			if _, err := cw.conn.Write(b); err != nil {
				cw.conn.Close()
				return
			}
		}

		if _, ok := <-cw.notify; !ok {
			return
		}
	}
}
