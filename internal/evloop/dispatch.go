package evloop

import (
	"context"

	"github.com/ianremillard/ccached/internal/queue"
	"github.com/ianremillard/ccached/internal/session"
	"github.com/ianremillard/ccached/internal/shmseg"
	"github.com/ianremillard/ccached/internal/upstream"
)

func queueJobFor(id uint64, s *session.Session) queue.Job {
	return queue.Job{SessionID: id, IsPOST: s.IsPOST}
}

// dispatchPending implements spec §4.5's dispatch rule: while the queue is
// non-empty and fewer handles are active than the pool size, pop the head
// job and dispatch it.
func (l *Loop) dispatchPending() {
	for l.queue.Len() > 0 && l.pool.Available() {
		j, ok := l.queue.Pop()
		if !ok {
			break
		}
		cc, ok := l.sessions[j.SessionID]
		if !ok {
			// Session died while queued but somehow still had a job; drop it.
			continue
		}
		l.startJob(j.SessionID, cc)
	}
	l.metrics.QueueDepth.Set(float64(l.queue.Len()))
	l.metrics.ActiveHandles.Set(float64(l.pool.ActiveCount()))
}

func (l *Loop) startJob(id uint64, cc *clientConn) {
	s := cc.sess
	method := "GET"
	if s.IsPOST {
		method = "POST"
	}

	job := upstream.Job{
		SessionID: id,
		Method:    method,
		URL:       s.URL,
		Headers:   s.Headers,
		TempDir:   "",
	}
	for _, f := range s.Fields {
		job.Fields = append(job.Fields, upstream.FormField{Name: f.Name, Value: f.Value})
	}
	for _, a := range s.Attachments {
		data, release, err := shmseg.Open(a.ShareDir, a.ShareName, a.MapSize)
		if err != nil {
			l.log.Warnf("session %d: open shared artifact %q: %v", id, a.ShareName, err)
			continue
		}
		// The mapping is only needed long enough to copy it into the
		// outbound multipart body; unmap immediately afterward per spec
		// §4.7 ("unmapped at request completion regardless").
		buf := append([]byte(nil), data...)
		release()
		job.Attachments = append(job.Attachments, upstream.AttachmentSource{
			FieldName: a.FieldName,
			Filename:  a.Filename,
			Data:      buf,
		})
	}

	s.BeginUpstream(nil)

	// Dispatch is itself non-blocking: it claims a handle and starts the
	// request on its own goroutine, returning immediately. The pool's
	// forwarder goroutine (started once in Run) posts the eventual result
	// back onto l.events.
	l.pool.Dispatch(context.Background(), job)
}

// forwardResults drains the pool's completion channel for the lifetime of
// the daemon, handing each Result to the loop goroutine as an event. It is
// the Go stand-in for spec §4.3 step 6 ("pump the HTTPS engine once").
func (l *Loop) forwardResults() {
	for res := range l.pool.Results {
		l.events <- event{kind: evJobComplete, result: res}
	}
}
