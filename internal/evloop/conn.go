package evloop

import (
	"errors"
	"io"
	"net"
	"os"

	"github.com/ianremillard/ccached/internal/session"
	"github.com/ianremillard/ccached/internal/shmseg"
	"github.com/ianremillard/ccached/internal/wire"
)

// clientFrameEvent carries one decoded client->daemon frame from the
// reader goroutine to the loop goroutine.
type clientFrameEvent struct {
	f   wire.ClientFrame
	err error
}

// onConnected registers a newly accepted connection as a session and
// starts its dedicated reader goroutine (spec §4.3 step 3). If the active
// client count is at or beyond the soft cap, the master socket is closed
// instead so a replacement daemon can take over (spec §4.3 step 3, §5).
func (l *Loop) onConnected(conn net.Conn) {
	if len(l.sessions) >= maxActiveClients {
		l.log.Warnf("active client cap (%d) reached, closing master socket", maxActiveClients)
		l.listener.Close()
		conn.Close()
		return
	}

	l.nextSessionID++
	id := l.nextSessionID

	cw := newConnWriter(conn)
	cc := &clientConn{
		conn: conn,
		cw:   cw,
		wr:   wire.NewWriter(cw),
		sess: session.New(id),
	}
	l.sessions[id] = cc
	l.metrics.ActiveClients.Set(float64(len(l.sessions)))

	go readerLoop(id, conn, l.events)
}

// readerLoop parses client->daemon frames off conn and forwards them to
// the loop's event channel. It is the Go translation of the receive half
// of the cooperative state machine in spec §4.4 — rather than resuming
// from a persisted byte cursor on every readiness event, this goroutine
// blocks on ReadOpcode/ReadString, which is equivalent because each
// connection serves exactly one session at a time (spec §5 "the client
// side is synchronous").
func readerLoop(id uint64, conn net.Conn, events chan<- event) {
	rd := wire.NewReader(conn)
	for {
		op, err := rd.ReadOpcode()
		if err != nil {
			events <- event{kind: evConnClosed, sessionID: id}
			return
		}
		f, err := wire.ReadClientFrame(rd, op)
		if err != nil {
			events <- event{kind: evFrame, sessionID: id, frame: clientFrameEvent{err: err}}
			return
		}
		events <- event{kind: evFrame, sessionID: id, frame: clientFrameEvent{f: f}}
	}
}

// onFrame applies one decoded client frame to its session (spec §4.4
// receive phase). A decode error or an unrecognized opcode is a wire
// framing violation: fatal to this session alone (spec §7.1).
func (l *Loop) onFrame(id uint64, fe clientFrameEvent) {
	cc, ok := l.sessions[id]
	if !ok {
		return
	}
	if fe.err != nil {
		if !errors.Is(fe.err, io.EOF) {
			l.log.Warnf("session %d: frame error: %v", id, fe.err)
		}
		l.teardown(id, cc)
		return
	}

	f := fe.f
	s := cc.sess

	switch f.Op {
	case wire.OpSetURL:
		s.SetURL(f.URL)
	case wire.OpAddHeader:
		name, value := splitHeaderLine(f.Header)
		s.AddHeader(name, value)
	case wire.OpAddField:
		s.AddField(f.FieldName, f.FieldValue)
	case wire.OpAttach:
		s.AddAttachment(session.Attachment{
			FieldName: f.AttachName,
			Filename:  f.Filename,
			ShareName: f.ShareName,
			ShareDir:  shmseg.DefaultDir,
			MapSize:   f.MapSize,
		})
	case wire.OpSubmit:
		l.onSubmit(id, cc)
	default:
		l.log.Warnf("session %d: unexpected opcode %q", id, f.Op)
		l.teardown(id, cc)
	}
}

// onSubmit handles a Submit frame (spec §4.4: "R with no URL set emits F
// immediately; R with a URL ... enqueues the session into the job queue").
func (l *Loop) onSubmit(id uint64, cc *clientConn) {
	s := cc.sess
	if s.URL == "" {
		l.sendFailed(id, cc)
		return
	}
	s.Submit()
	l.queue.Push(queueJobFor(id, s))
	l.metrics.QueueDepth.Set(float64(l.queue.Len()))
}

// onConnClosed tears down a session whose socket was closed by the client
// (recv returning zero, spec §4.7).
func (l *Loop) onConnClosed(id uint64) {
	cc, ok := l.sessions[id]
	if !ok {
		return
	}
	l.teardown(id, cc)
}

// teardown implements spec §4.7: remove the session, release its
// resources, dequeue it if waiting, and null its upstream back-reference
// if in progress so a later completion discards the response.
func (l *Loop) teardown(id uint64, cc *clientConn) {
	delete(l.sessions, id)
	l.metrics.ActiveClients.Set(float64(len(l.sessions)))
	cc.cw.Close()
	cc.conn.Close()

	switch cc.sess.Phase {
	case session.PhaseWaiting:
		l.queue.Remove(id)
		l.metrics.QueueDepth.Set(float64(l.queue.Len()))
	case session.PhaseInProgress:
		// The back-reference lives in l.sessions itself: onJobComplete
		// looks the session up by id and finds nothing, which is exactly
		// the "nulled back-reference" spec §9's open question prescribes.
	}

	for _, a := range cc.sess.Attachments {
		shmseg.Remove(a.ShareDir, a.ShareName)
	}
	discardResponse(cc.sess)
}

// discardResponse removes any attachment temp files a reassembled (but now
// abandoned) response left behind.
func discardResponse(s *session.Session) {
	if s.Resp == nil {
		return
	}
	for _, p := range s.Resp.Response().Parts {
		if p.TmpFile != "" {
			os.Remove(p.TmpFile)
		}
	}
}

// splitHeaderLine splits a raw "Name: value" header line as recorded by an
// AddHeader frame.
func splitHeaderLine(line string) (name, value string) {
	for i := 0; i < len(line); i++ {
		if line[i] == ':' {
			name = line[:i]
			value = line[i+1:]
			for len(value) > 0 && value[0] == ' ' {
				value = value[1:]
			}
			return name, value
		}
	}
	return line, ""
}
