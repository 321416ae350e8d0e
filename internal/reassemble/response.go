// Package reassemble implements response reassembly for both single-part
// and multipart/mixed upstream HTTP responses (spec §3 "Response", §4.6).
//
// It is the hardest piece of this repository: a byte-stream reassembler
// that must survive an incoming chunk being split at an arbitrary offset,
// including mid-boundary, while streaming attachment bytes straight to a
// temp file instead of buffering them in memory. It is grounded directly on
// original_source/daemon.c's header/body callback pair and boundary-scan
// loop, translated into an incrementally-fed Go type instead of C callbacks.
package reassemble

import (
	"mime"
	"os"
)

// Part is one piece of a reassembled response (spec §3 "Response" fields).
type Part struct {
	Header       string // raw header block (may be empty for part #0 of a non-multipart response)
	ContentType  string // parsed Content-Type, if any
	IsAttachment bool   // Content-Disposition: attachment; filename=... was present
	Filename     string // filename from Content-Disposition, if IsAttachment
	Data         []byte // in-memory payload; nil if streamed to TmpFile
	TmpFile      string // temp file path; empty if buffered in Data

	tmpFile     *os.File // open handle while this part is being streamed
	streamedLen int      // bytes written to tmpFile so far
}

// Response is the reassembled upstream response (spec §3 "Response").
type Response struct {
	StatusCode    int
	ContentType   string // media type without parameters, e.g. "text/plain" or "multipart/mixed"; the raw header value if it does not parse
	Boundary      string // empty for non-multipart responses
	DeclaredLen   int64  // Content-Length, if present; -1 if absent
	Parts         []Part
	Complete      bool // a terminator (Content-Length reached, end of body when no Content-Length was given, or "--" boundary) was observed
}

// IsMultipart reports whether ContentType named a multipart/mixed boundary.
func (r *Response) IsMultipart() bool { return r.Boundary != "" }

// parseContentType extracts the MIME type and, for multipart/mixed, the
// boundary parameter.
func parseContentType(raw string) (mimeType, boundary string) {
	if raw == "" {
		return "", ""
	}
	mt, params, err := mime.ParseMediaType(raw)
	if err != nil {
		return raw, ""
	}
	if mt == "multipart/mixed" {
		return mt, params["boundary"]
	}
	return mt, ""
}
