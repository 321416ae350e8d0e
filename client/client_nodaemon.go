//go:build nodaemon

// In this build, the client library never dials a socket or forks a
// daemon at all: every request runs in-process through the same
// internal/upstream and internal/reassemble abstractions the daemon uses
// (spec §4.2 "compile-time 'no-daemon' mode ... behavior ... identical
// from the caller's perspective").
package client

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-uuid"

	"github.com/ianremillard/ccached/internal/config"
	"github.com/ianremillard/ccached/internal/upstream"
)

// Client mirrors the socket-backed implementation's public surface.
type Client struct {
	cfg config.Config

	url     string
	headers map[string]string
	fields  []upstream.FormField

	attachments []upstream.AttachmentSource

	sessionID string
}

// Connect builds a Client that will run requests in-process.
func Connect(cfg config.Config) (*Client, error) {
	if cfg.Mode == config.ModeOff {
		return nil, fmt.Errorf("client: cloud mode is offline")
	}
	sid, err := uuid.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("client: generate session id: %w", err)
	}
	return &Client{cfg: cfg, headers: make(map[string]string), sessionID: sid}, nil
}

// SetURL records the request URL, replacing any earlier one. Headers,
// fields and attachments staged so far are kept.
func (c *Client) SetURL(url string) error {
	c.url = url
	return nil
}

// AddHeader records a raw "Name: value" request header line.
func (c *Client) AddHeader(line string) error {
	name, value := splitHeaderLineNoDaemon(line)
	c.headers[name] = value
	return nil
}

// AddFormField records a multipart form field.
func (c *Client) AddFormField(name, value string) error {
	c.fields = append(c.fields, upstream.FormField{Name: name, Value: value})
	return nil
}

// AddFormAttachment records a multipart form file directly from data, with
// no shared-memory staging needed since there is no second process
// involved.
func (c *Client) AddFormAttachment(fieldName, filename string, data []byte) error {
	c.attachments = append(c.attachments, upstream.AttachmentSource{
		FieldName: fieldName,
		Filename:  filename,
		Data:      data,
	})
	return nil
}

// Submit runs the accumulated request synchronously and returns a Response
// that replays its already-complete result.
func (c *Client) Submit() (*Response, error) {
	if c.url == "" {
		return &Response{failed: true}, nil
	}

	method := "GET"
	if len(c.fields) > 0 || len(c.attachments) > 0 {
		method = "POST"
	}

	c.headers["X-CLIENT-SESSION-ID"] = c.sessionID

	job := upstream.Job{
		Method:      method,
		URL:         c.url,
		Headers:     c.headers,
		Fields:      c.fields,
		Attachments: c.attachments,
	}
	r, err := upstream.ExecuteOnce(context.Background(), job)
	if err != nil {
		return &Response{failed: true}, nil
	}
	return &Response{resp: r.Response()}, nil
}

// Close is a no-op: there is no socket or staged shared memory to release.
func (c *Client) Close() error { return nil }

func splitHeaderLineNoDaemon(line string) (name, value string) {
	for i := 0; i < len(line); i++ {
		if line[i] == ':' {
			value = line[i+1:]
			for len(value) > 0 && value[0] == ' ' {
				value = value[1:]
			}
			return line[:i], value
		}
	}
	return line, ""
}
