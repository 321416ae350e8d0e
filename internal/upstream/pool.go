// Package upstream implements the fixed-size pool of reusable upstream
// HTTPS handles the daemon dispatches queued jobs to (spec §3 "Handle pool",
// §4.5). Each handle allows at most one in-flight request; the pool never
// starts more concurrent requests than its configured size.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/ianremillard/ccached/internal/log"
	"github.com/ianremillard/ccached/internal/reassemble"
)

// Job is one dispatched request: a resolved URL/method/headers/body plus
// everything execute() needs to run it and report back.
type Job struct {
	SessionID uint64
	Method    string
	URL       string
	Headers   map[string]string

	Fields      []FormField
	Attachments []AttachmentSource

	TempDir string // where the reassembler streams attachment parts
}

// Result is what a completed (or failed) job reports back to the event
// loop over the Pool's Results channel.
type Result struct {
	SessionID uint64
	Serial    int // handle to Release() once the loop has consumed this Result
	Resp      *reassemble.Reassembler
	Err       error // non-nil on transport-level failure (spec §7.2 "Failed")
	Elapsed   time.Duration
}

// Handle is one reusable slot in the pool (spec §3: "a handle may run at
// most one request at a time").
type Handle struct {
	Serial int
	busy   bool
	client *retryablehttp.Client
}

// Pool is the fixed-size set of upstream handles (spec §4.5).
type Pool struct {
	handles []*Handle
	Results chan Result

	log log.Logger
}

// handleTimeout is the mandatory total-transfer timeout per handle (spec
// §4.5 "10-minute total-transfer timeout"), primarily to keep a background
// POST from sitting around forever on a stalled network or server.
const handleTimeout = 10 * time.Minute

// userAgent identifies this product and version on every upstream request
// (spec §4.5 "a user-agent string identifying the product and version"),
// the Go translation of the original daemon's CURLOPT_USERAGENT string.
const userAgent = "ccached/1.0"

// New builds a pool of size handles, each wrapping its own retryablehttp
// client over a dedicated http.Transport so keep-alive connections are not
// shared across handles (mirrors libcurl-multi's one-handle-one-connection
// pooling). RetryMax is forced to 0: job-level failure semantics (§7.2) are
// owned by the daemon, not masked by the HTTP client silently retrying.
func New(size int, logger log.Logger) *Pool {
	if logger == nil {
		logger = log.Nop()
	}
	p := &Pool{
		Results: make(chan Result, size),
		log:     logger,
	}
	for i := 0; i < size; i++ {
		transport := &http.Transport{
			MaxIdleConnsPerHost: 1,
			IdleConnTimeout:     90 * time.Second,
		}
		c := retryablehttp.NewClient()
		c.HTTPClient = &http.Client{Transport: transport, Timeout: handleTimeout}
		c.RetryMax = 0
		c.Logger = nil

		p.handles = append(p.handles, &Handle{Serial: i, client: c})
	}
	return p
}

// ExecuteOnce runs job synchronously on a standalone handle, bypassing the
// pool entirely. It backs the client library's compile-time "no-daemon"
// mode (spec §4.2): "runs the HTTPS call in-process using the same
// abstractions" as the pool's own dispatch path.
func ExecuteOnce(ctx context.Context, job Job) (*reassemble.Reassembler, error) {
	c := retryablehttp.NewClient()
	c.HTTPClient = &http.Client{Transport: &http.Transport{}, Timeout: handleTimeout}
	c.RetryMax = 0
	c.Logger = nil
	h := &Handle{Serial: -1, client: c}
	return h.execute(ctx, job)
}

// Size reports the pool's configured handle count.
func (p *Pool) Size() int { return len(p.handles) }

// ActiveCount reports how many handles currently have an in-flight request.
func (p *Pool) ActiveCount() int {
	n := 0
	for _, h := range p.handles {
		if h.busy {
			n++
		}
	}
	return n
}

// Available reports whether fewer handles are active than the pool size
// (spec §4.5's dispatch precondition).
func (p *Pool) Available() bool { return p.ActiveCount() < len(p.handles) }

// Dispatch claims a free handle and runs job on it in its own goroutine,
// reporting the outcome on p.Results. It must only be called from the event
// loop goroutine (the pool itself holds no lock: spec §5 "the event loop is
// the sole mutator").
func (p *Pool) Dispatch(ctx context.Context, job Job) bool {
	var h *Handle
	for _, candidate := range p.handles {
		if !candidate.busy {
			h = candidate
			break
		}
	}
	if h == nil {
		return false
	}
	h.busy = true

	go func() {
		start := time.Now()
		resp, err := h.execute(ctx, job)
		p.Results <- Result{
			SessionID: job.SessionID,
			Serial:    h.Serial,
			Resp:      resp,
			Err:       err,
			Elapsed:   time.Since(start),
		}
	}()
	return true
}

// Release marks handle serial as free again. Called by the event loop once
// it has consumed a Result.
func (p *Pool) Release(serial int) {
	for _, h := range p.handles {
		if h.Serial == serial {
			h.busy = false
			return
		}
	}
}

// execute runs one job to completion, feeding the response body into a
// Reassembler as it arrives (the Go translation of the original's header
// and body libcurl callbacks, spec §4.6).
func (h *Handle) execute(ctx context.Context, job Job) (*reassemble.Reassembler, error) {
	var bodyReader io.Reader
	contentType := ""

	if len(job.Fields) > 0 || len(job.Attachments) > 0 {
		buf, ct, err := buildMultipartBody(job.Fields, job.Attachments)
		if err != nil {
			return nil, fmt.Errorf("upstream: encode form body: %w", err)
		}
		bodyReader = buf
		contentType = ct
	}

	var rawBody []byte
	if br, ok := bodyReader.(*bytes.Buffer); ok {
		rawBody = br.Bytes()
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, job.Method, job.URL, rawBody)
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	for name, value := range job.Headers {
		req.Header.Set(name, value)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: %s %s: %w", job.Method, job.URL, err)
	}
	defer resp.Body.Close()

	contentLength := resp.ContentLength
	if contentLength == 0 && resp.Header.Get("Content-Length") != "" {
		if n, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err == nil {
			contentLength = n
		}
	}

	r := reassemble.New(resp.StatusCode, resp.Header.Get("Content-Type"), contentLength, job.TempDir)

	chunk := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(chunk)
		if n > 0 {
			if err := r.Feed(chunk[:n]); err != nil {
				return r, fmt.Errorf("upstream: reassemble: %w", err)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return r, fmt.Errorf("upstream: read body: %w", readErr)
		}
	}
	if err := r.Feed(nil); err != nil {
		return r, fmt.Errorf("upstream: reassemble flush: %w", err)
	}
	return r, nil
}
