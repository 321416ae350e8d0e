//go:build !nodaemon

package client

import (
	"fmt"

	"github.com/ianremillard/ccached/internal/wire"
)

// Response iterates the frames of one request (spec §4.2 "next response
// frame", "flush remaining frames").
type Response struct {
	c    *Client
	done bool
}

// Next reads and returns the next frame. Once it returns a terminal frame
// (Kind one of OpComplete/OpIncomplete/OpFailed), the session is reusable
// for another request and Next must not be called again.
func (r *Response) Next() (Frame, error) {
	if r.done {
		return Frame{}, fmt.Errorf("client: response already terminated")
	}
	op, err := r.c.rd.ReadOpcode()
	if err != nil {
		r.done = true
		return Frame{}, fmt.Errorf("client: read frame: %w", err)
	}
	rf, err := wire.ReadResponseFrame(r.c.rd, op)
	if err != nil {
		r.done = true
		return Frame{}, fmt.Errorf("client: decode frame: %w", err)
	}
	if wire.IsTerminal(op) {
		r.done = true
	}
	return Frame{
		Kind:     rf.Op,
		Status:   rf.Status,
		Headers:  rf.Headers,
		Data:     rf.Data,
		Filename: rf.Filename,
		TmpPath:  rf.TmpPath,
	}, nil
}

// Flush reads and discards any remaining frames up to and including the
// terminal (spec §4.2 "flush remaining frames"), for callers that want to
// abandon a response early without leaving the wire out of sync.
func (r *Response) Flush() error {
	for !r.done {
		if _, err := r.Next(); err != nil {
			return err
		}
	}
	return nil
}
