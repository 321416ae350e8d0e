// Package session holds per-client session state for the daemon's event
// loop (spec §3 "Session", §4). A Session is created when a client connects
// and lives until the client disconnects; the Go translation collapses the
// original's byte-cursor receive states (STATE_INIT, STATE_SIZE, STATE_URL,
// STATE_HEADER, ...) because each connection is read by its own blocking
// goroutine instead of resuming from a persisted cursor on every epoll
// readiness event (SPEC_FULL.md "CONCURRENCY MODEL"). What does survive is
// the transit/send half of the state machine, since those states describe
// real waiting (on the upstream pool, on backpressure to the client) rather
// than buffered-byte bookkeeping.
package session

import (
	"github.com/ianremillard/ccached/internal/reassemble"
)

// Phase is where a session sits relative to the upstream job it submitted
// (spec §4: WAITING / INPROGRESS / RESET).
type Phase int

const (
	// PhaseReceiving: client is still sending SetURL/AddHeader/AddField/
	// Attach frames, no Submit seen yet.
	PhaseReceiving Phase = iota
	// PhaseWaiting: Submit seen, job pushed to the queue, no pool handle
	// assigned yet.
	PhaseWaiting
	// PhaseInProgress: a pool handle is actively running the upstream
	// request for this session.
	PhaseInProgress
	// PhaseSending: the upstream response is being streamed back to the
	// client as daemon->client frames.
	PhaseSending
	// PhaseDone: a terminal frame (C/E/F) has been sent.
	PhaseDone
)

// Attachment is one outbound form-file recorded by an Attach frame, not yet
// resolved to bytes until the job runs (spec §3 "Attach frame").
type Attachment struct {
	FieldName string
	Filename  string
	ShareName string
	ShareDir  string
	MapSize   uint32
}

// Field is one outbound multipart form field recorded by an AddField frame.
type Field struct {
	Name  string
	Value string
}

// Session is the daemon's per-client state (spec §3 "Session").
type Session struct {
	ID uint64

	Phase Phase

	URL         string
	Headers     map[string]string
	HeaderOrder []string
	Fields      []Field
	Attachments []Attachment

	IsPOST bool

	// Resp holds the reassembled upstream response once the job has
	// started producing one; nil until then.
	Resp *reassemble.Reassembler

	// sendPartIdx indexes the next Part to emit to the client during the
	// send phase (spec §4's SEND_INIT/DATA_HEADER/DATA_BODY/DR_DONE
	// states collapse to this single cursor plus the per-part byte
	// offset below).
	sendPartIdx  int
	sendByteOff  int
	sentStatus   bool
	AttachSent   map[int]bool
}

// New creates a session in the receiving phase.
func New(id uint64) *Session {
	return &Session{
		ID:      id,
		Phase:   PhaseReceiving,
		Headers: make(map[string]string),
	}
}

// SetURL records the job URL (spec §3 "SetURL frame"). A GET is assumed
// until AddField or Attach marks the job as a POST.
func (s *Session) SetURL(url string) {
	s.URL = url
}

// AddHeader records an outbound request header, preserving insertion order
// per spec §3's "ordered list" invariant.
func (s *Session) AddHeader(name, value string) {
	if _, exists := s.Headers[name]; !exists {
		s.HeaderOrder = append(s.HeaderOrder, name)
	}
	s.Headers[name] = value
}

// AddField records an outbound multipart form field and marks the job POST.
func (s *Session) AddField(name, value string) {
	s.Fields = append(s.Fields, Field{Name: name, Value: value})
	s.IsPOST = true
}

// AddAttachment records an outbound multipart form file and marks the job
// POST (spec §3 "Attach frame", §9 "Shared-memory handoff").
func (s *Session) AddAttachment(a Attachment) {
	s.Attachments = append(s.Attachments, a)
	s.IsPOST = true
}

// Submit transitions the session from receiving to waiting on the queue
// (spec §4 "Submit frame").
func (s *Session) Submit() {
	s.Phase = PhaseWaiting
}

// BeginUpstream transitions to in-progress once a pool handle picks up the
// session's job.
func (s *Session) BeginUpstream(r *reassemble.Reassembler) {
	s.Phase = PhaseInProgress
	s.Resp = r
}

// BeginSend transitions to the send phase once the upstream response is
// at least partially available.
func (s *Session) BeginSend() {
	s.Phase = PhaseSending
	if s.AttachSent == nil {
		s.AttachSent = make(map[int]bool)
	}
}

// Done marks the session as having emitted a terminal frame.
func (s *Session) Done() {
	s.Phase = PhaseDone
}

// NextUnsentPart returns the index of the next reassembled Part this
// session has not yet started sending, or -1 if every part produced so far
// has been fully sent.
func (s *Session) NextUnsentPart() int {
	if s.Resp == nil {
		return -1
	}
	parts := s.Resp.Response().Parts
	if s.sendPartIdx >= len(parts) {
		return -1
	}
	return s.sendPartIdx
}

// AdvancePart marks the current part fully sent and resets the byte cursor
// for the next one.
func (s *Session) AdvancePart() {
	s.sendPartIdx++
	s.sendByteOff = 0
}

// ByteOffset returns how many bytes of the current part have already been
// written to the client.
func (s *Session) ByteOffset() int { return s.sendByteOff }

// AdvanceBytes records n more bytes of the current part as sent.
func (s *Session) AdvanceBytes(n int) { s.sendByteOff += n }

// StatusSent reports whether the initial status frame has been written.
func (s *Session) StatusSent() bool { return s.sentStatus }

// MarkStatusSent records that the status frame has been written.
func (s *Session) MarkStatusSent() { s.sentStatus = true }

// Reset clears request-scoped state so the session can serve the next
// request on the same connection (spec §4 "RESET" state). The daemon calls
// it after every terminal frame; sessions are never reused across
// connections.
func (s *Session) Reset() {
	s.URL = ""
	s.Headers = make(map[string]string)
	s.HeaderOrder = nil
	s.Fields = nil
	s.Attachments = nil
	s.IsPOST = false
	s.Resp = nil
	s.sendPartIdx = 0
	s.sendByteOff = 0
	s.sentStatus = false
	s.AttachSent = nil
	s.Phase = PhaseReceiving
}
