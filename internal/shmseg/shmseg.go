// Package shmseg implements the cross-process shared artifact handoff
// (spec §3 "Shared artifact descriptor", §9 "Shared-memory handoff"):
// a named, memory-mappable region a client stages before upload and the
// daemon maps read-only while building the multipart upload body, avoiding
// a copy of potentially large object files through the Unix socket.
//
// Segments are POSIX shared-memory style: backed by a file under a shared
// directory (/dev/shm on Linux) with the layout
// { share_name_len, share_name, size, data[size] } so the daemon can verify
// it mapped the region it was told to, per spec §9.
package shmseg

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// DefaultDir is where segments are created; overridable for tests.
const DefaultDir = "/dev/shm"

func segPath(dir, name string) string {
	if dir == "" {
		dir = DefaultDir
	}
	return filepath.Join(dir, "ccached-"+name)
}

// Create stages data under name in dir (or DefaultDir) so the daemon can
// later map it by name. The caller owns the returned cleanup and must keep
// the segment alive until a terminal response frame has been observed
// (spec §4.2).
func Create(dir, name string, data []byte) (cleanup func() error, err error) {
	path := segPath(dir, name)

	hdr := encodeHeader(name, uint32(len(data)))
	buf := make([]byte, 0, len(hdr)+len(data))
	buf = append(buf, hdr...)
	buf = append(buf, data...)

	if err := os.WriteFile(path, buf, 0o600); err != nil {
		return nil, fmt.Errorf("shmseg: create %s: %w", name, err)
	}
	return func() error { return os.Remove(path) }, nil
}

// Open maps the segment named name (created under dir, or DefaultDir) and
// verifies the embedded share name matches before trusting the length, as
// spec §9 requires. It returns the payload bytes and a function that must
// be called once the daemon is done using them (unmapping the region).
func Open(dir, name string, expectSize uint32) (data []byte, release func() error, err error) {
	path := segPath(dir, name)

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("shmseg: open %s: %w", name, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("shmseg: stat %s: %w", name, err)
	}

	mapped, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, fmt.Errorf("shmseg: mmap %s: %w", name, err)
	}

	gotName, gotSize, hdrLen, err := decodeHeader(mapped)
	if err != nil {
		unix.Munmap(mapped)
		return nil, nil, err
	}
	if gotName != name {
		unix.Munmap(mapped)
		return nil, nil, fmt.Errorf("shmseg: name mismatch: mapped %q, requested %q", gotName, name)
	}
	if expectSize != 0 && gotSize != expectSize {
		unix.Munmap(mapped)
		return nil, nil, fmt.Errorf("shmseg: size mismatch: embedded %d, requested %d", gotSize, expectSize)
	}
	if int(hdrLen)+int(gotSize) > len(mapped) {
		unix.Munmap(mapped)
		return nil, nil, fmt.Errorf("shmseg: truncated segment %q", name)
	}

	payload := mapped[hdrLen : hdrLen+gotSize]
	return payload, func() error { return unix.Munmap(mapped) }, nil
}

// Remove deletes the backing file for name. Called by the owning client on
// exit regardless of whether the daemon ever mapped it, and by the daemon
// for the attachments of a session torn down before its response was
// delivered.
func Remove(dir, name string) error {
	return os.Remove(segPath(dir, name))
}

// encodeHeader writes { name_len(u32) name size(u32) }.
func encodeHeader(name string, size uint32) []byte {
	buf := make([]byte, 4+len(name)+4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(name)))
	copy(buf[4:4+len(name)], name)
	binary.LittleEndian.PutUint32(buf[4+len(name):], size)
	return buf
}

func decodeHeader(mapped []byte) (name string, size uint32, headerLen int, err error) {
	if len(mapped) < 4 {
		return "", 0, 0, fmt.Errorf("shmseg: header truncated")
	}
	nameLen := int(binary.LittleEndian.Uint32(mapped[0:4]))
	if len(mapped) < 4+nameLen+4 {
		return "", 0, 0, fmt.Errorf("shmseg: header truncated")
	}
	name = string(mapped[4 : 4+nameLen])
	size = binary.LittleEndian.Uint32(mapped[4+nameLen : 4+nameLen+4])
	return name, size, 4 + nameLen + 4, nil
}
