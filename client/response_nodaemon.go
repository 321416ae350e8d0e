//go:build nodaemon

package client

import (
	"fmt"

	"github.com/ianremillard/ccached/internal/reassemble"
	"github.com/ianremillard/ccached/internal/wire"
)

// Response replays an already-complete in-process result as the same
// status/parts/terminal frame sequence the socket-backed client exposes.
type Response struct {
	resp   *reassemble.Response
	failed bool

	sentStatus bool
	partIdx    int
	done       bool
}

// Next returns the next logical frame of the request's outcome.
func (r *Response) Next() (Frame, error) {
	if r.done {
		return Frame{}, fmt.Errorf("client: response already terminated")
	}

	if r.failed {
		r.done = true
		return Frame{Kind: wire.OpFailed}, nil
	}

	if !r.sentStatus {
		r.sentStatus = true
		return Frame{Kind: wire.OpStatus, Status: uint16(r.resp.StatusCode)}, nil
	}

	if r.partIdx < len(r.resp.Parts) {
		p := r.resp.Parts[r.partIdx]
		r.partIdx++
		if p.IsAttachment {
			return Frame{Kind: wire.OpAttachPart, Headers: p.Header, Filename: p.Filename, TmpPath: p.TmpFile}, nil
		}
		return Frame{Kind: wire.OpBodyPart, Headers: p.Header, Data: p.Data}, nil
	}

	r.done = true
	if r.resp.Complete {
		return Frame{Kind: wire.OpComplete}, nil
	}
	return Frame{Kind: wire.OpIncomplete}, nil
}

// Flush discards any remaining frames.
func (r *Response) Flush() error {
	for !r.done {
		if _, err := r.Next(); err != nil {
			return err
		}
	}
	return nil
}
