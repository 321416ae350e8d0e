package session

import (
	"testing"

	"github.com/ianremillard/ccached/internal/reassemble"
)

func TestReceiveToWaitingTransition(t *testing.T) {
	s := New(1)
	if s.Phase != PhaseReceiving {
		t.Fatalf("new session phase = %v, want PhaseReceiving", s.Phase)
	}

	s.SetURL("https://cache.example/v1.0/cache/abc")
	s.AddHeader("X-USER-KEY", "k1")
	s.AddHeader("X-USER-KEY", "k2")
	if got := s.Headers["X-USER-KEY"]; got != "k2" {
		t.Fatalf("header value = %q, want k2 (last write wins)", got)
	}
	if len(s.HeaderOrder) != 1 {
		t.Fatalf("HeaderOrder = %v, want single entry (no duplicate on overwrite)", s.HeaderOrder)
	}
	if s.IsPOST {
		t.Fatalf("IsPOST = true before any field/attachment was added")
	}

	s.Submit()
	if s.Phase != PhaseWaiting {
		t.Fatalf("phase after Submit = %v, want PhaseWaiting", s.Phase)
	}
}

func TestAddFieldAndAttachmentMarkPOST(t *testing.T) {
	s := New(2)
	s.AddField("data", `{"ok":true}`)
	if !s.IsPOST {
		t.Fatalf("IsPOST = false after AddField")
	}

	s2 := New(3)
	s2.AddAttachment(Attachment{FieldName: "obj", Filename: "out.o", ShareName: "share1"})
	if !s2.IsPOST {
		t.Fatalf("IsPOST = false after AddAttachment")
	}
	if len(s2.Attachments) != 1 || s2.Attachments[0].ShareName != "share1" {
		t.Fatalf("attachment not recorded: %+v", s2.Attachments)
	}
}

func TestSendCursorAdvancesAcrossParts(t *testing.T) {
	s := New(4)
	s.Submit()

	r := reassemble.New(200, "text/plain", 10, t.TempDir())
	if err := r.Feed([]byte("0123456789")); err != nil {
		t.Fatalf("feed: %v", err)
	}

	s.BeginUpstream(r)
	s.BeginSend()

	idx := s.NextUnsentPart()
	if idx != 0 {
		t.Fatalf("NextUnsentPart = %d, want 0", idx)
	}
	s.AdvanceBytes(5)
	if s.ByteOffset() != 5 {
		t.Fatalf("ByteOffset = %d, want 5", s.ByteOffset())
	}
	s.AdvanceBytes(5)
	s.AdvancePart()
	if s.ByteOffset() != 0 {
		t.Fatalf("ByteOffset after AdvancePart = %d, want 0", s.ByteOffset())
	}
	if s.NextUnsentPart() != -1 {
		t.Fatalf("NextUnsentPart = %d, want -1 (single part, already advanced past it)", s.NextUnsentPart())
	}

	if s.StatusSent() {
		t.Fatalf("StatusSent = true before MarkStatusSent")
	}
	s.MarkStatusSent()
	if !s.StatusSent() {
		t.Fatalf("StatusSent = false after MarkStatusSent")
	}

	s.Done()
	if s.Phase != PhaseDone {
		t.Fatalf("phase after Done = %v, want PhaseDone", s.Phase)
	}
}

func TestResetClearsRequestScopedState(t *testing.T) {
	s := New(5)
	s.SetURL("https://cache.example/x")
	s.AddHeader("A", "b")
	s.AddField("f", "v")
	s.Submit()
	s.MarkStatusSent()
	s.AdvanceBytes(3)

	s.Reset()

	if s.URL != "" || len(s.Headers) != 0 || len(s.HeaderOrder) != 0 {
		t.Fatalf("Reset left request state: url=%q headers=%v order=%v", s.URL, s.Headers, s.HeaderOrder)
	}
	if s.IsPOST || s.Fields != nil || s.Attachments != nil || s.Resp != nil {
		t.Fatalf("Reset left POST/body state set")
	}
	if s.StatusSent() || s.ByteOffset() != 0 {
		t.Fatalf("Reset left send-cursor state set")
	}
	if s.Phase != PhaseReceiving {
		t.Fatalf("phase after Reset = %v, want PhaseReceiving", s.Phase)
	}
}
