package upstream

import (
	"context"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ianremillard/ccached/internal/log"
)

func TestBuildMultipartBodyRoundTrip(t *testing.T) {
	fields := []FormField{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}}
	attachments := []AttachmentSource{{FieldName: "obj", Filename: "out.o", Data: []byte("object bytes")}}

	buf, contentType, err := buildMultipartBody(fields, attachments)
	if err != nil {
		t.Fatalf("buildMultipartBody: %v", err)
	}

	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		t.Fatalf("parse content type %q: %v", contentType, err)
	}
	r := multipart.NewReader(buf, params["boundary"])

	seenFields := map[string]string{}
	var seenAttachment []byte
	var seenFilename string
	for {
		p, err := r.NextPart()
		if err != nil {
			break
		}
		if p.FileName() != "" {
			seenFilename = p.FileName()
			b := make([]byte, 64)
			n, _ := p.Read(b)
			seenAttachment = b[:n]
			continue
		}
		b := make([]byte, 64)
		n, _ := p.Read(b)
		seenFields[p.FormName()] = string(b[:n])
	}

	if seenFields["a"] != "1" || seenFields["b"] != "2" {
		t.Fatalf("fields round-tripped as %v, want a=1 b=2", seenFields)
	}
	if seenFilename != "out.o" || string(seenAttachment) != "object bytes" {
		t.Fatalf("attachment round-tripped as filename=%q data=%q", seenFilename, seenAttachment)
	}
}

func TestPoolDispatchReleaseRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("hello from upstream"))
	}))
	defer srv.Close()

	p := New(1, log.Nop())
	if !p.Available() {
		t.Fatalf("fresh pool reports unavailable")
	}

	ok := p.Dispatch(context.Background(), Job{SessionID: 42, Method: "GET", URL: srv.URL})
	if !ok {
		t.Fatalf("Dispatch returned false on a free handle")
	}

	if p.Dispatch(context.Background(), Job{SessionID: 43, Method: "GET", URL: srv.URL}) {
		t.Fatalf("Dispatch returned true with no free handle")
	}

	select {
	case res := <-p.Results:
		if res.SessionID != 42 {
			t.Fatalf("result session id = %d, want 42", res.SessionID)
		}
		if res.Err != nil {
			t.Fatalf("result err = %v", res.Err)
		}
		if res.Resp.Response().StatusCode != 200 {
			t.Fatalf("status = %d, want 200", res.Resp.Response().StatusCode)
		}
		p.Release(res.Serial)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for dispatch result")
	}

	if !p.Available() {
		t.Fatalf("pool still unavailable after Release")
	}
}

func TestExecuteOnceBypassesPool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("direct"))
	}))
	defer srv.Close()

	r, err := ExecuteOnce(context.Background(), Job{Method: "GET", URL: srv.URL})
	if err != nil {
		t.Fatalf("ExecuteOnce: %v", err)
	}
	if len(r.Response().Parts) != 1 || string(r.Response().Parts[0].Data) != "direct" {
		t.Fatalf("response parts = %+v", r.Response().Parts)
	}
}
