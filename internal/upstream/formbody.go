package upstream

import (
	"bytes"
	"mime/multipart"
)

// AttachmentSource supplies the bytes for one outbound form attachment.
// The event loop fills Data with a copy of a mapped shared artifact
// (internal/shmseg) and releases the mapping before the job runs;
// buildMultipartBody then copies Data into the request body.
type AttachmentSource struct {
	FieldName string
	Filename  string
	Data      []byte
}

// FormField is one outbound multipart form field (spec §3 "ordered list of
// form fields").
type FormField struct {
	Name  string
	Value string
}

// buildMultipartBody writes fields and attachments into a single
// multipart/form-data body in order, matching the session's recorded
// ordering (spec §3 invariant on ordered lists). mime/multipart is stdlib
// because no library in the retrieval pack offers a multipart *writer* —
// see DESIGN.md.
func buildMultipartBody(fields []FormField, attachments []AttachmentSource) (body *bytes.Buffer, contentType string, err error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	for _, f := range fields {
		if err := w.WriteField(f.Name, f.Value); err != nil {
			return nil, "", err
		}
	}
	for _, a := range attachments {
		part, err := w.CreateFormFile(a.FieldName, a.Filename)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(a.Data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}
