//go:build !nodaemon

// Package client is the paired client library short-lived compiler
// invocations use to talk to the ccached daemon (spec §4.2). It mirrors the
// teacher's catherd CLI's ensureDaemon/pingDaemon dial-or-fork pattern,
// adapted to a single binary with a `--daemon` subcommand instead of a
// sibling binary, and to this repository's framed wire protocol instead of
// newline-delimited JSON.
//
// Building with the "nodaemon" tag swaps this whole implementation for
// client_nodaemon.go's in-process one (spec §4.2's "compile-time no-daemon
// mode"); both expose the same Client/Response/Frame surface.
package client

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/hashicorp/go-uuid"

	"github.com/ianremillard/ccached/internal/config"
	"github.com/ianremillard/ccached/internal/shmseg"
	"github.com/ianremillard/ccached/internal/wire"
)

// connectRetryInterval and connectTimeout match spec §4.2's "retries at
// 10 ms intervals for up to two seconds".
const (
	connectRetryInterval = 10 * time.Millisecond
	connectTimeout       = 2 * time.Second
)

// Client is one connection to the daemon, good for any number of
// sequential requests (spec §4.4 RESET: "the socket stays open").
type Client struct {
	cfg  config.Config
	conn net.Conn
	rd   *wire.Reader
	wr   *wire.Writer

	sessionID string

	attachments []stagedAttachment
}

type stagedAttachment struct {
	shareName string
	cleanup   func() error
}

// Connect dials the daemon's socket, starting it if necessary (spec §4.2).
// In config.ModeOff it returns an error without ever touching the socket,
// matching the original cloud.c's offline short-circuit (SPEC_FULL.md
// SUPPLEMENTED FEATURES).
func Connect(cfg config.Config) (*Client, error) {
	if cfg.Mode == config.ModeOff {
		return nil, fmt.Errorf("client: cloud mode is offline")
	}

	sockPath, err := cfg.SocketPath()
	if err != nil {
		return nil, fmt.Errorf("client: resolve socket path: %w", err)
	}

	conn, err := dialOrStart(sockPath)
	if err != nil {
		return nil, err
	}

	sid, err := uuid.GenerateUUID()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("client: generate session id: %w", err)
	}

	c := &Client{
		cfg:       cfg,
		conn:      conn,
		rd:        wire.NewReader(conn),
		wr:        wire.NewWriter(conn),
		sessionID: sid,
	}
	return c, nil
}

func dialOrStart(sockPath string) (net.Conn, error) {
	if conn, err := net.DialTimeout("unix", sockPath, 500*time.Millisecond); err == nil {
		return conn, nil
	}

	if err := spawnDaemon(); err != nil {
		return nil, fmt.Errorf("client: start daemon: %w", err)
	}

	deadline := time.Now().Add(connectTimeout)
	for time.Now().Before(deadline) {
		time.Sleep(connectRetryInterval)
		if conn, err := net.DialTimeout("unix", sockPath, 500*time.Millisecond); err == nil {
			return conn, nil
		}
	}
	return nil, fmt.Errorf("client: daemon did not become reachable at %s within %s", sockPath, connectTimeout)
}

// spawnDaemon forks the current executable with --daemon and detaches it
// (spec §4.2, §6 "if a connect attempt fails ... forks the binary with
// subcommand --daemon").
func spawnDaemon() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	cmd := exec.Command(exe, "--daemon")
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	return cmd.Start()
}

// SetURL sends a 'U' frame, replacing the session's URL (spec §3: discards
// any cached response).
func (c *Client) SetURL(url string) error {
	return wire.WriteSetURL(c.wr, url)
}

// AddHeader sends an 'H' frame appending a raw "Name: value" request
// header line.
func (c *Client) AddHeader(line string) error {
	return wire.WriteAddHeader(c.wr, line)
}

// AddFormField sends an 'F' frame appending a multipart form field.
func (c *Client) AddFormField(name, value string) error {
	return wire.WriteAddField(c.wr, name, value)
}

// AddFormAttachment stages data in a shared artifact segment and sends an
// 'A' frame referencing it (spec §3 "Shared artifact descriptor", §9
// "Shared-memory handoff"). The staged segment is kept alive until Close.
func (c *Client) AddFormAttachment(fieldName, filename string, data []byte) error {
	shareName, err := uuid.GenerateUUID()
	if err != nil {
		return fmt.Errorf("client: generate share name: %w", err)
	}
	cleanup, err := shmseg.Create(shmseg.DefaultDir, shareName, data)
	if err != nil {
		return fmt.Errorf("client: stage attachment: %w", err)
	}
	c.attachments = append(c.attachments, stagedAttachment{shareName: shareName, cleanup: cleanup})

	return wire.WriteAttach(c.wr, fieldName, shareName, filename, uint32(len(data)))
}

// Submit sends the 'R' frame and returns a Response iterator (spec §4.2
// "submit", "next response frame"). The per-invocation session id header is
// (re-)sent immediately before every submit since a RESET on the daemon side
// discards request headers between requests on the same connection (spec
// §6 "every request carries ... a per-invocation random session id").
func (c *Client) Submit() (*Response, error) {
	if err := wire.WriteAddHeader(c.wr, "X-CLIENT-SESSION-ID: "+c.sessionID); err != nil {
		return nil, fmt.Errorf("client: submit: %w", err)
	}
	if err := wire.WriteSubmit(c.wr); err != nil {
		return nil, fmt.Errorf("client: submit: %w", err)
	}
	return &Response{c: c}, nil
}

// Close releases every shared artifact this client staged and closes the
// connection. It must only be called once every terminal response frame
// has been observed (spec §4.2).
func (c *Client) Close() error {
	for _, a := range c.attachments {
		a.cleanup()
		shmseg.Remove(shmseg.DefaultDir, a.shareName)
	}
	c.attachments = nil
	return c.conn.Close()
}
