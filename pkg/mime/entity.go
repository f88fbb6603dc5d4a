// Package mime implements MIME entity handling for AS2
package mime

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"sort"
	"strings"

	"github.com/google/uuid"
)

const (
	// ContentTypeOctetStream is the default payload type
	ContentTypeOctetStream = "application/octet-stream"
	// ContentTypeTextPlain is used for the human-readable MDN part
	ContentTypeTextPlain = "text/plain"

	// TransferEncodingBinary is used for all pkcs7 and payload entities
	TransferEncodingBinary = "binary"
	// TransferEncoding7Bit is used for MDN parts
	TransferEncoding7Bit = "7bit"
	// TransferEncodingBase64 is used for detached signatures
	TransferEncodingBase64 = "base64"
)

// Entity is a MIME entity: header fields and a body.
type Entity struct {
	Header textproto.MIMEHeader
	Body   []byte
}

// NewEntity creates an entity with the given content type and a binary
// transfer encoding.
func NewEntity(contentType string, body []byte) *Entity {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Type", contentType)
	h.Set("Content-Transfer-Encoding", TransferEncodingBinary)
	return &Entity{Header: h, Body: body}
}

// ContentType returns the raw Content-Type header.
func (e *Entity) ContentType() string {
	ct := e.Header.Get("Content-Type")
	if ct == "" {
		return ContentTypeTextPlain
	}
	return ct
}

// MediaType parses the Content-Type header. The media type is lower-cased.
func (e *Entity) MediaType() (string, map[string]string, error) {
	mediaType, params, err := mime.ParseMediaType(e.ContentType())
	if err != nil {
		return "", nil, fmt.Errorf("failed to parse content type: %w", err)
	}
	return mediaType, params, nil
}

// IsMediaType reports whether the entity's media type is any of types.
// An unparsable Content-Type matches nothing.
func (e *Entity) IsMediaType(types ...string) bool {
	mediaType, _, err := e.MediaType()
	if err != nil {
		return false
	}
	for _, t := range types {
		if strings.EqualFold(mediaType, t) {
			return true
		}
	}
	return false
}

// Param returns a Content-Type parameter, or "".
func (e *Entity) Param(name string) string {
	_, params, err := e.MediaType()
	if err != nil {
		return ""
	}
	return params[strings.ToLower(name)]
}

// SetFilename sets an attachment Content-Disposition.
func (e *Entity) SetFilename(name string) {
	e.Header.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
}

// Filename returns the filename from Content-Disposition, or "".
func (e *Entity) Filename() string {
	cd := e.Header.Get("Content-Disposition")
	if cd == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(cd)
	if err != nil {
		return ""
	}
	return params["filename"]
}

// DecodedBody returns the body with its transfer encoding removed.
func (e *Entity) DecodedBody() ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(e.Header.Get("Content-Transfer-Encoding"))) {
	case TransferEncodingBase64:
		clean := strings.Map(func(r rune) rune {
			switch r {
			case '\r', '\n', ' ', '\t':
				return -1
			}
			return r
		}, string(e.Body))
		data, err := base64.StdEncoding.DecodeString(clean)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 body: %w", err)
		}
		return data, nil
	case "quoted-printable":
		data, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(e.Body)))
		if err != nil {
			return nil, fmt.Errorf("failed to decode quoted-printable body: %w", err)
		}
		return data, nil
	default:
		return e.Body, nil
	}
}

// Bytes returns the canonical serialisation: header fields sorted by name,
// a blank line, then the body.
func (e *Entity) Bytes() []byte {
	var buf bytes.Buffer
	keys := make([]string, 0, len(e.Header))
	for k := range e.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range e.Header[k] {
			fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
		}
	}
	buf.WriteString("\r\n")
	buf.Write(e.Body)
	return buf.Bytes()
}

// Clone returns a deep copy.
func (e *Entity) Clone() *Entity {
	h := make(textproto.MIMEHeader, len(e.Header))
	for k, v := range e.Header {
		h[k] = append([]string(nil), v...)
	}
	return &Entity{Header: h, Body: append([]byte(nil), e.Body...)}
}

// ParseEntity parses a serialised entity (header block, blank line, body).
func ParseEntity(raw []byte) (*Entity, error) {
	br := bufio.NewReader(bytes.NewReader(raw))
	header, err := textproto.NewReader(br).ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read entity headers: %w", err)
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return nil, fmt.Errorf("failed to read entity body: %w", err)
	}
	if header == nil {
		header = make(textproto.MIMEHeader)
	}
	return &Entity{Header: header, Body: body}, nil
}

// NewMultipart creates a multipart/<subtype> entity from parts. Parts are
// written in canonical form.
func NewMultipart(subtype string, params map[string]string, parts ...*Entity) (*Entity, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	boundary := generateBoundary()
	if err := writer.SetBoundary(boundary); err != nil {
		return nil, fmt.Errorf("failed to set boundary: %w", err)
	}

	for i, part := range parts {
		pw, err := writer.CreatePart(part.Header)
		if err != nil {
			return nil, fmt.Errorf("failed to create part %d: %w", i, err)
		}
		if _, err := pw.Write(part.Body); err != nil {
			return nil, fmt.Errorf("failed to write part %d: %w", i, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	allParams := map[string]string{"boundary": boundary}
	for k, v := range params {
		allParams[k] = v
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Type", mime.FormatMediaType("multipart/"+subtype, allParams))
	return &Entity{Header: h, Body: buf.Bytes()}, nil
}

// Parts splits a multipart entity. Part bodies keep their transfer encoding.
func (e *Entity) Parts() ([]*Entity, error) {
	mediaType, params, err := e.MediaType()
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return nil, fmt.Errorf("not a multipart entity: %s", mediaType)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, fmt.Errorf("boundary not found in content type")
	}

	reader := multipart.NewReader(bytes.NewReader(e.Body), boundary)
	var parts []*Entity
	for {
		part, err := reader.NextRawPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read part: %w", err)
		}

		data, err := io.ReadAll(part)
		if err != nil {
			return nil, fmt.Errorf("failed to read part data: %w", err)
		}

		header := make(textproto.MIMEHeader, len(part.Header))
		for k, v := range part.Header {
			header[k] = v
		}
		parts = append(parts, &Entity{Header: header, Body: data})
	}
	return parts, nil
}

// generateBoundary generates a MIME boundary string
func generateBoundary() string {
	return fmt.Sprintf("----=_Part_%s", strings.ReplaceAll(uuid.New().String(), "-", ""))
}
