package reassemble

import (
	"bytes"
	"mime"
	"os"
	"strings"
)

// phase tracks where in a single part's lifecycle the reassembler is.
type phase int

const (
	phaseHeaders      phase = iota // consuming a part's header block (parts after #0 only)
	phaseData                      // appending payload bytes to the current part
	phaseBoundaryTail              // just consumed a boundary, deciding "--" vs next part
)

// Reassembler incrementally decodes an upstream HTTP response body into a
// Response, one Feed call per arbitrarily-sized chunk (spec §4.6). Feed may
// be called a final time with a nil/empty chunk to flush a stashed tail.
type Reassembler struct {
	resp *Response

	tempDir string // directory for attachment temp files

	stash   []byte
	phase   phase
	cur     *Part
	started bool // part #0 has been created
}

// New creates a Reassembler for one response. status/contentType/
// contentLength mirror the values an HTTP client's header callback would
// have parsed from the status line and response headers (spec §4.6
// "Header callback"). tempDir is where attachment bodies are streamed;
// os.TempDir() is used if empty.
func New(status int, contentType string, contentLength int64, tempDir string) *Reassembler {
	mt, boundary := parseContentType(contentType)
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Reassembler{
		resp: &Response{
			StatusCode:  status,
			ContentType: mt,
			Boundary:    boundary,
			DeclaredLen: contentLength,
		},
		tempDir: tempDir,
	}
}

// Response returns the response built so far. Complete is only true once a
// terminator has been observed (spec §3 invariant).
func (r *Reassembler) Response() *Response { return r.resp }

// boundaryDelim is the full delimiter line the reassembler searches for,
// including the leading CRLF and "--" per RFC 2046, e.g. "\r\n--b".
func (r *Reassembler) boundaryDelim() []byte {
	return []byte("\r\n--" + r.resp.Boundary)
}

// Feed processes one chunk of response body bytes, which may be empty to
// force-flush any stashed tail (the final call).
func (r *Reassembler) Feed(chunk []byte) error {
	if r.resp.Complete {
		return nil
	}
	final := len(chunk) == 0

	buf := r.stash
	if len(chunk) > 0 {
		buf = append(buf, chunk...)
	}
	r.stash = nil

	if !r.started {
		open := []byte("--" + r.resp.Boundary)
		if r.resp.IsMultipart() && !final && len(buf) < len(open) && bytes.HasPrefix(open, buf) {
			// Too few bytes yet to tell an opening delimiter line from
			// part #0 data; wait for the next chunk.
			r.stash = buf
			return nil
		}
		r.cur = &Part{}
		if !r.resp.IsMultipart() {
			r.cur.ContentType = r.resp.ContentType
		}
		r.started = true
		r.phase = phaseData
		if r.resp.IsMultipart() && bytes.HasPrefix(buf, open) {
			// The body opens with a delimiter line rather than part #0
			// data: drop the empty part #0 and continue with the part
			// that follows the delimiter.
			buf = buf[len(open):]
			r.cur = nil
			r.phase = phaseBoundaryTail
		}
	}

	for {
		progressed, err := r.step(&buf, final)
		if err != nil {
			return err
		}
		if !progressed {
			break
		}
		if r.resp.Complete {
			break
		}
	}

	if len(buf) > 0 && !r.resp.Complete {
		r.stash = buf
	}

	if final && !r.resp.Complete {
		// No terminator ever arrived: finalize whatever we have so the
		// caller can still observe it, but leave Complete false so the
		// daemon reports "E" (response incomplete, spec §4.2/§7.3).
		r.flushCurrent()
	}
	return nil
}

// step attempts to make one unit of progress against buf. It returns false
// when no further progress is possible without more data (buf is left
// untouched so the caller stashes it).
func (r *Reassembler) step(buf *[]byte, final bool) (bool, error) {
	if !r.resp.IsMultipart() {
		return r.stepSinglePart(buf, final)
	}

	switch r.phase {
	case phaseHeaders:
		return r.stepHeaders(buf, final)
	case phaseBoundaryTail:
		return r.stepBoundaryTail(buf, final)
	default:
		return r.stepMultipartData(buf, final)
	}
}

func (r *Reassembler) stepSinglePart(buf *[]byte, final bool) (bool, error) {
	if len(*buf) == 0 && !final {
		return false, nil
	}
	need := r.resp.DeclaredLen - int64(len(r.cur.Data))
	n := int64(len(*buf))
	if r.resp.DeclaredLen > 0 && need < n {
		n = need
	}
	if n > 0 {
		r.appendPayload((*buf)[:n])
		*buf = (*buf)[n:]
	}
	complete := false
	if r.resp.DeclaredLen > 0 {
		complete = partByteCount(r.cur) >= r.resp.DeclaredLen
	} else if final {
		complete = true
	}
	if complete {
		r.flushCurrent()
		r.resp.Complete = true
	}
	return n > 0 || complete, nil
}

// stepMultipartData scans for the next boundary and appends everything
// before it to the current part's payload.
func (r *Reassembler) stepMultipartData(buf *[]byte, final bool) (bool, error) {
	delim := r.boundaryDelim()
	idx := bytes.Index(*buf, delim)
	if idx < 0 {
		limit := len(*buf)
		if !final {
			// Hold back the last len(delim)-1 bytes: they may be the start
			// of a boundary straddling the end of this chunk, and are
			// scanned again once the next chunk arrives.
			limit -= len(delim) - 1
			if limit < 0 {
				limit = 0
			}
		}
		if limit == 0 {
			return false, nil
		}
		r.appendPayload((*buf)[:limit])
		*buf = (*buf)[limit:]
		return true, nil
	}

	r.appendPayload((*buf)[:idx])
	*buf = (*buf)[idx+len(delim):]
	r.flushCurrent()
	r.phase = phaseBoundaryTail
	return true, nil
}

// stepBoundaryTail decides whether the boundary just consumed was the
// closing "--" terminator or an ordinary separator followed by "\r\n" and
// the next part's headers.
func (r *Reassembler) stepBoundaryTail(buf *[]byte, final bool) (bool, error) {
	if len(*buf) >= 2 {
		if (*buf)[0] == '-' && (*buf)[1] == '-' {
			*buf = (*buf)[2:]
			r.resp.Complete = true
			return true, nil
		}
	} else if !final {
		return false, nil
	}

	idx := bytes.Index(*buf, []byte("\r\n"))
	if idx < 0 {
		if final {
			// Malformed trailing boundary with no further data; nothing
			// more to do.
			return false, nil
		}
		return false, nil
	}
	*buf = (*buf)[idx+2:]
	r.cur = &Part{}
	r.phase = phaseHeaders
	return true, nil
}

// stepHeaders consumes part header lines up to the blank line separating
// headers from the part's payload (spec §4.6: "consume part headers
// line-by-line until a blank line").
func (r *Reassembler) stepHeaders(buf *[]byte, final bool) (bool, error) {
	idx := bytes.Index(*buf, []byte("\r\n\r\n"))
	if idx < 0 {
		if final {
			// No header terminator ever arrived; treat everything as
			// headers and move on so Feed terminates.
			r.applyHeaders(string(*buf))
			*buf = nil
			r.phase = phaseData
			return len(*buf) == 0, nil
		}
		return false, nil
	}
	r.applyHeaders(string((*buf)[:idx]))
	*buf = (*buf)[idx+4:]
	r.phase = phaseData
	return true, nil
}

func (r *Reassembler) applyHeaders(block string) {
	r.cur.Header = block
	for _, line := range strings.Split(block, "\r\n") {
		if line == "" {
			continue
		}
		name, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		val = strings.TrimSpace(val)
		switch strings.ToLower(name) {
		case "content-type":
			r.cur.ContentType = val
		case "content-disposition":
			if filename, ok := parseDispositionFilename(val); ok {
				r.cur.IsAttachment = true
				r.cur.Filename = filename
			}
		}
	}
	if r.cur.IsAttachment {
		f, err := os.CreateTemp(r.tempDir, "ccached-attach-*")
		if err == nil {
			r.cur.tmpFile = f
			r.cur.TmpFile = f.Name()
		}
	}
}

// appendPayload writes p into the current part: to its temp file if it is
// an attachment, otherwise into its in-memory buffer. Attachments are never
// kept in memory (spec §4.6).
func (r *Reassembler) appendPayload(p []byte) {
	if len(p) == 0 {
		return
	}
	if r.cur.tmpFile != nil {
		r.cur.tmpFile.Write(p)
		r.cur.streamedLen += len(p)
		return
	}
	r.cur.Data = append(r.cur.Data, p...)
}

// flushCurrent closes any open attachment file and appends cur to the
// response's part list.
func (r *Reassembler) flushCurrent() {
	if r.cur == nil {
		return
	}
	if r.cur.tmpFile != nil {
		r.cur.tmpFile.Close()
		r.cur.tmpFile = nil
	}
	r.resp.Parts = append(r.resp.Parts, *r.cur)
	r.cur = nil
}

func partByteCount(p *Part) int64 {
	if p.tmpFile != nil || p.streamedLen > 0 {
		return int64(p.streamedLen)
	}
	return int64(len(p.Data))
}

// parseDispositionFilename extracts filename from a
// `Content-Disposition: attachment; filename="..."` value.
func parseDispositionFilename(value string) (string, bool) {
	disposition, params, err := mime.ParseMediaType(value)
	if err != nil || disposition != "attachment" {
		return "", false
	}
	filename := params["filename"]
	if filename == "" {
		return "", false
	}
	return filename, true
}

