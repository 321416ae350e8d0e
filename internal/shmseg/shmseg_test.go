package shmseg

import (
	"bytes"
	"testing"
)

func TestCreateOpenRemoveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("object file contents")

	cleanup, err := Create(dir, "seg1", payload)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	data, release, err := Open(dir, "seg1", uint32(len(payload)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer release()

	if !bytes.Equal(data, payload) {
		t.Fatalf("mapped data = %q, want %q", data, payload)
	}

	if err := release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := cleanup(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if err := Remove(dir, "seg1"); err == nil {
		t.Fatalf("Remove succeeded on an already-cleaned-up segment")
	}
}

func TestOpenRejectsSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	cleanup, err := Create(dir, "seg2", []byte("12345"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer cleanup()

	if _, _, err := Open(dir, "seg2", 999); err == nil {
		t.Fatalf("Open accepted a mismatched expectSize")
	}
}

func TestOpenMissingSegment(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := Open(dir, "does-not-exist", 0); err == nil {
		t.Fatalf("Open succeeded on a segment that was never created")
	}
}
