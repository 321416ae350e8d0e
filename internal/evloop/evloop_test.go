package evloop

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ianremillard/ccached/internal/config"
	"github.com/ianremillard/ccached/internal/log"
	"github.com/ianremillard/ccached/internal/metrics"
	"github.com/ianremillard/ccached/internal/wire"
)

// TestGetRequestRoundTrip drives a full client->daemon->upstream->client
// cycle over a real unix socket, exercising onFrame/onSubmit/dispatchPending/
// onJobComplete/flushResponse together the way a real caller would.
func TestGetRequestRoundTrip(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("cached result"))
	}))
	defer upstream.Close()

	sockPath := filepath.Join(t.TempDir(), "ccached.sock")
	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	cfg := config.Config{Connections: 2}
	loop := New(cfg, log.Nop(), metrics.New(), listener, sockPath)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() { done <- loop.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	conn, err := net.DialTimeout("unix", sockPath, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	rd := wire.NewReader(conn)
	wr := wire.NewWriter(conn)

	if err := wire.WriteSetURL(wr, upstream.URL); err != nil {
		t.Fatalf("WriteSetURL: %v", err)
	}
	if err := wire.WriteSubmit(wr); err != nil {
		t.Fatalf("WriteSubmit: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	op, err := rd.ReadOpcode()
	if err != nil {
		t.Fatalf("read status opcode: %v", err)
	}
	statusFrame, err := wire.ReadResponseFrame(rd, op)
	if err != nil {
		t.Fatalf("read status frame: %v", err)
	}
	if statusFrame.Status != 200 {
		t.Fatalf("status = %d, want 200", statusFrame.Status)
	}

	var gotBody []byte
	var terminal byte
	for {
		op, err := rd.ReadOpcode()
		if err != nil {
			t.Fatalf("read frame opcode: %v", err)
		}
		f, err := wire.ReadResponseFrame(rd, op)
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if wire.IsTerminal(op) {
			terminal = op
			break
		}
		gotBody = append(gotBody, f.Data...)
	}

	if terminal != wire.OpComplete {
		t.Fatalf("terminal = %q, want %q (OpComplete)", terminal, wire.OpComplete)
	}
	if string(gotBody) != "cached result" {
		t.Fatalf("body = %q, want %q", gotBody, "cached result")
	}
}

// TestSubmitWithoutURLFailsImmediately exercises spec §4.4's "R with no URL
// set emits F immediately" rule without ever touching the upstream pool.
func TestSubmitWithoutURLFailsImmediately(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "ccached.sock")
	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	cfg := config.Config{Connections: 1}
	loop := New(cfg, log.Nop(), metrics.New(), listener, sockPath)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() { done <- loop.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	conn, err := net.DialTimeout("unix", sockPath, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	wr := wire.NewWriter(conn)
	if err := wire.WriteSubmit(wr); err != nil {
		t.Fatalf("WriteSubmit: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	rd := wire.NewReader(conn)
	op, err := rd.ReadOpcode()
	if err != nil {
		t.Fatalf("read opcode: %v", err)
	}
	if op != wire.OpFailed {
		t.Fatalf("opcode = %q, want %q (OpFailed)", op, wire.OpFailed)
	}
}
