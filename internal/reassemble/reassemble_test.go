package reassemble

import (
	"os"
	"testing"
)

func singlePartBody() (status int, contentType string, body []byte) {
	return 200, "text/plain", []byte("hello world")
}

func TestSinglePartContentLength(t *testing.T) {
	status, ct, body := singlePartBody()
	r := New(status, ct, int64(len(body)), t.TempDir())

	if err := r.Feed(body[:4]); err != nil {
		t.Fatal(err)
	}
	if err := r.Feed(body[4:]); err != nil {
		t.Fatal(err)
	}

	resp := r.Response()
	if !resp.Complete {
		t.Fatal("expected response to be complete once Content-Length bytes are fed")
	}
	if len(resp.Parts) != 1 {
		t.Fatalf("expected 1 part, got %d", len(resp.Parts))
	}
	if string(resp.Parts[0].Data) != "hello world" {
		t.Fatalf("unexpected payload: %q", resp.Parts[0].Data)
	}
	if resp.Parts[0].ContentType != "text/plain" {
		t.Fatalf("expected part ContentType to mirror response, got %q", resp.Parts[0].ContentType)
	}
}

func TestSinglePartNoContentLengthFlushesOnFinal(t *testing.T) {
	r := New(200, "text/plain", -1, t.TempDir())
	if err := r.Feed([]byte("partial")); err != nil {
		t.Fatal(err)
	}
	if r.Response().Complete {
		t.Fatal("should not be complete before final flush")
	}
	if err := r.Feed(nil); err != nil {
		t.Fatal(err)
	}
	if !r.Response().Complete {
		t.Fatal("expected completion after final flush")
	}
	if len(r.Response().Parts) != 1 || string(r.Response().Parts[0].Data) != "partial" {
		t.Fatalf("unexpected parts: %+v", r.Response().Parts)
	}
}

func multipartMessage() (contentType string, body []byte) {
	boundary := "XYZ123boundary"
	ct := "multipart/mixed; boundary=" + boundary

	msg := "--" + boundary + "\r\n" +
		"Content-Type: text/plain\r\n\r\n" +
		"first part body" +
		"\r\n--" + boundary + "\r\n" +
		"Content-Type: application/octet-stream\r\n" +
		"Content-Disposition: attachment; filename=\"out.o\"\r\n\r\n" +
		"binary-ish-attachment-data" +
		"\r\n--" + boundary + "--\r\n"

	return ct, []byte(msg)
}

func feedAll(t *testing.T, ct string, chunks [][]byte) *Response {
	t.Helper()
	r := New(200, ct, -1, t.TempDir())
	for _, c := range chunks {
		if err := r.Feed(c); err != nil {
			t.Fatalf("Feed error: %v", err)
		}
	}
	if !r.Response().Complete {
		t.Fatalf("response never completed, got parts: %+v", r.Response().Parts)
	}
	return r.Response()
}

func TestMultipartSingleChunk(t *testing.T) {
	ct, body := multipartMessage()
	resp := feedAll(t, ct, [][]byte{body})

	if len(resp.Parts) != 2 {
		t.Fatalf("expected 2 parts, got %d: %+v", len(resp.Parts), resp.Parts)
	}
	if string(resp.Parts[0].Data) != "first part body" {
		t.Fatalf("unexpected part 0 data: %q", resp.Parts[0].Data)
	}
	if resp.Parts[0].IsAttachment {
		t.Fatal("part 0 should not be an attachment")
	}
	if !resp.Parts[1].IsAttachment || resp.Parts[1].Filename != "out.o" {
		t.Fatalf("expected part 1 to be attachment out.o, got %+v", resp.Parts[1])
	}
	if resp.Parts[1].TmpFile == "" {
		t.Fatal("expected attachment to be streamed to a temp file")
	}
	data, err := os.ReadFile(resp.Parts[1].TmpFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "binary-ish-attachment-data" {
		t.Fatalf("unexpected attachment contents: %q", data)
	}
}

// TestMultipartBoundaryResilience feeds the same multipart message split at
// every possible byte offset and confirms the reassembled parts are
// byte-identical to the single-chunk feed, per spec §8's boundary
// resilience requirement.
func TestMultipartBoundaryResilience(t *testing.T) {
	ct, body := multipartMessage()
	want := feedAll(t, ct, [][]byte{body})

	for split := 1; split < len(body); split++ {
		got := feedAll(t, ct, [][]byte{body[:split], body[split:]})
		comparePartsIgnoringTmpPaths(t, split, want.Parts, got.Parts)
	}
}

// TestMultipartThreeWaySplit further stresses the resilience property with
// two split points, catching boundary-straddling bugs a single split might
// miss.
func TestMultipartThreeWaySplit(t *testing.T) {
	ct, body := multipartMessage()
	want := feedAll(t, ct, [][]byte{body})

	for i := 1; i < len(body)-1; i++ {
		for j := i + 1; j < len(body); j++ {
			got := feedAll(t, ct, [][]byte{body[:i], body[i:j], body[j:]})
			comparePartsIgnoringTmpPaths(t, i*1000+j, want.Parts, got.Parts)
		}
	}
}

func comparePartsIgnoringTmpPaths(t *testing.T, label int, want, got []Part) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("split %d: expected %d parts, got %d", label, len(want), len(got))
	}
	for i := range want {
		w, g := want[i], got[i]
		if w.ContentType != g.ContentType {
			t.Fatalf("split %d part %d: ContentType mismatch: %q vs %q", label, i, w.ContentType, g.ContentType)
		}
		if w.IsAttachment != g.IsAttachment {
			t.Fatalf("split %d part %d: IsAttachment mismatch", label, i)
		}
		if w.Filename != g.Filename {
			t.Fatalf("split %d part %d: Filename mismatch: %q vs %q", label, i, w.Filename, g.Filename)
		}
		wantData := w.Data
		if w.TmpFile != "" {
			b, err := os.ReadFile(w.TmpFile)
			if err != nil {
				t.Fatal(err)
			}
			wantData = b
		}
		gotData := g.Data
		if g.TmpFile != "" {
			b, err := os.ReadFile(g.TmpFile)
			if err != nil {
				t.Fatal(err)
			}
			gotData = b
		}
		if string(wantData) != string(gotData) {
			t.Fatalf("split %d part %d: data mismatch: %q vs %q", label, i, wantData, gotData)
		}
	}
}
