package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrShortRead is returned when a frame is cut off mid-payload — a wire
// framing violation per spec §7.1, always fatal to the one session that hit
// it.
var ErrShortRead = errors.New("wire: short read")

// maxFieldLen bounds any single length-prefixed field to guard against a
// corrupt or hostile peer trying to make us allocate unbounded memory.
const maxFieldLen = 256 << 20 // 256 MiB

// Reader reads length-prefixed fields and opcodes from a client/daemon
// connection. All multi-byte integers are little-endian (spec §6).
type Reader struct {
	r io.Reader
}

// NewReader wraps r for frame decoding.
func NewReader(r io.Reader) *Reader { return &Reader{r: r} }

// ReadOpcode reads a single opcode byte.
func (rd *Reader) ReadOpcode() (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(rd.r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadUint32 reads a 32-bit little-endian length prefix.
func (rd *Reader) ReadUint32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(rd.r, b[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrShortRead, err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// ReadUint16 reads a 16-bit little-endian HTTP status code (§4.1 "R" daemon
// frame; §6 "all multi-byte integers are little-endian").
func (rd *Reader) ReadUint16() (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(rd.r, b[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrShortRead, err)
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

// ReadString reads a length-prefixed string (len, then len raw bytes, no
// terminator — the length prefix is authoritative).
func (rd *Reader) ReadString() (string, error) {
	n, err := rd.ReadUint32()
	if err != nil {
		return "", err
	}
	if n > maxFieldLen {
		return "", fmt.Errorf("wire: field length %d exceeds cap", n)
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(rd.r, buf); err != nil {
			return "", fmt.Errorf("%w: %v", ErrShortRead, err)
		}
	}
	return string(buf), nil
}

// Writer writes length-prefixed fields and opcodes.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w for frame encoding.
func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

func (wr *Writer) WriteOpcode(op byte) error {
	_, err := wr.w.Write([]byte{op})
	return err
}

func (wr *Writer) WriteUint32(n uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], n)
	_, err := wr.w.Write(b[:])
	return err
}

func (wr *Writer) WriteUint16(n uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], n)
	_, err := wr.w.Write(b[:])
	return err
}

func (wr *Writer) WriteString(s string) error {
	if err := wr.WriteUint32(uint32(len(s))); err != nil {
		return err
	}
	if len(s) == 0 {
		return nil
	}
	_, err := wr.w.Write([]byte(s))
	return err
}
