package wire

// ClientFrame is one decoded client→daemon frame (spec §4.1 table).
type ClientFrame struct {
	Op byte

	URL        string // OpSetURL
	Header     string // OpAddHeader
	FieldName  string // OpAddField
	FieldValue string // OpAddField
	AttachName string // OpAttach: form field name
	ShareName  string // OpAttach: shared artifact name
	Filename   string // OpAttach: user-visible filename
	MapSize    uint32 // OpAttach: shared artifact byte length
}

// ReadClientFrame decodes one client→daemon frame. The opcode has already
// been read by the caller's receive-phase state machine (it selects the
// decode path); ReadClientFrame reads only the payload for op.
func ReadClientFrame(rd *Reader, op byte) (ClientFrame, error) {
	f := ClientFrame{Op: op}
	var err error
	switch op {
	case OpSetURL:
		f.URL, err = rd.ReadString()
	case OpAddHeader:
		f.Header, err = rd.ReadString()
	case OpAddField:
		if f.FieldName, err = rd.ReadString(); err != nil {
			return f, err
		}
		f.FieldValue, err = rd.ReadString()
	case OpAttach:
		if f.AttachName, err = rd.ReadString(); err != nil {
			return f, err
		}
		if f.ShareName, err = rd.ReadString(); err != nil {
			return f, err
		}
		if f.Filename, err = rd.ReadString(); err != nil {
			return f, err
		}
		f.MapSize, err = rd.ReadUint32()
	case OpSubmit:
		// no payload
	}
	return f, err
}

// WriteSetURL writes a 'U' frame.
func WriteSetURL(wr *Writer, url string) error {
	if err := wr.WriteOpcode(OpSetURL); err != nil {
		return err
	}
	return wr.WriteString(url)
}

// WriteAddHeader writes an 'H' frame.
func WriteAddHeader(wr *Writer, header string) error {
	if err := wr.WriteOpcode(OpAddHeader); err != nil {
		return err
	}
	return wr.WriteString(header)
}

// WriteAddField writes an 'F' frame.
func WriteAddField(wr *Writer, name, value string) error {
	if err := wr.WriteOpcode(OpAddField); err != nil {
		return err
	}
	if err := wr.WriteString(name); err != nil {
		return err
	}
	return wr.WriteString(value)
}

// WriteAttach writes an 'A' frame.
func WriteAttach(wr *Writer, fieldName, shareName, filename string, mapSize uint32) error {
	if err := wr.WriteOpcode(OpAttach); err != nil {
		return err
	}
	if err := wr.WriteString(fieldName); err != nil {
		return err
	}
	if err := wr.WriteString(shareName); err != nil {
		return err
	}
	if err := wr.WriteString(filename); err != nil {
		return err
	}
	return wr.WriteUint32(mapSize)
}

// WriteSubmit writes an 'R' frame.
func WriteSubmit(wr *Writer) error {
	return wr.WriteOpcode(OpSubmit)
}
