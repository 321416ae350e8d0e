package evloop

import (
	"github.com/ianremillard/ccached/internal/session"
	"github.com/ianremillard/ccached/internal/upstream"
	"github.com/ianremillard/ccached/internal/wire"
)

// onJobComplete implements spec §4.5's completion handling and §4.3 step
// 6: detach the response from the handle, transfer it into the owning
// session if still alive (otherwise discard it), and return the handle to
// the pool.
func (l *Loop) onJobComplete(res upstream.Result) {
	l.pool.Release(res.Serial)
	l.metrics.ActiveHandles.Set(float64(l.pool.ActiveCount()))

	method := "GET"
	cc, ok := l.sessions[res.SessionID]
	if ok && cc.sess.IsPOST {
		method = "POST"
	}
	l.metrics.ObserveRequest(method, res.Elapsed.Seconds(), res.Err != nil)

	if !ok {
		// Session torn down while the job was in flight (spec §4.7,
		// §9's open question): discard the response and any attachment
		// temp files it streamed.
		if res.Resp != nil {
			discardResponse(&session.Session{Resp: res.Resp})
		}
		return
	}

	if res.Err != nil {
		l.sendFailed(res.SessionID, cc)
		return
	}

	cc.sess.BeginUpstream(res.Resp)
	l.flushResponse(res.SessionID, cc)
}

// flushResponse writes the whole reassembled response to the client in one
// pass: status, then each part, then exactly one terminal frame (spec
// §4.1 contract, §5 "frame emission ... strictly status, body parts,
// terminal"). Because internal/upstream's execute() runs an upstream
// request to full completion before reporting a Result, the Reassembler
// here is already in its final state; there is no partial-response
// interleaving to manage the way the original callback-driven design had.
// cc.wr writes through cc.cw (connWriter), so these calls only ever enqueue
// bytes for that connection's own writer goroutine — a client reading its
// response slowly blocks that goroutine alone, never this one (spec §5).
func (l *Loop) flushResponse(id uint64, cc *clientConn) {
	s := cc.sess
	s.BeginSend()
	resp := s.Resp.Response()

	writeErr := wire.WriteStatus(cc.wr, uint16(resp.StatusCode))
	s.MarkStatusSent()

	for writeErr == nil && s.NextUnsentPart() >= 0 {
		idx := s.NextUnsentPart()
		p := resp.Parts[idx]
		if p.IsAttachment {
			writeErr = wire.WriteAttachPart(cc.wr, p.Header, p.Filename, p.TmpFile)
		} else {
			writeErr = wire.WriteBodyPart(cc.wr, p.Header, p.Data)
		}
		s.AdvancePart()
	}

	if writeErr != nil {
		l.log.Warnf("session %d: write failed: %v", id, writeErr)
		l.teardown(id, cc)
		return
	}

	terminal := wire.OpComplete
	if !resp.Complete {
		terminal = wire.OpIncomplete
	}
	if err := wire.WriteTerminal(cc.wr, terminal); err != nil {
		l.log.Warnf("session %d: write terminal failed: %v", id, err)
		l.teardown(id, cc)
		return
	}

	s.Done()
	s.Reset()
}

// sendFailed writes the F terminal (a submit with no URL set and an
// upstream transport failure both surface this way; wire violations tear
// the session down in onFrame instead) and resets the
// session so it stays usable for a subsequent request (spec §4.4 RESET).
func (l *Loop) sendFailed(id uint64, cc *clientConn) {
	if err := wire.WriteTerminal(cc.wr, wire.OpFailed); err != nil {
		l.log.Warnf("session %d: write failed-terminal failed: %v", id, err)
		l.teardown(id, cc)
		return
	}
	cc.sess.Done()
	cc.sess.Reset()
}
