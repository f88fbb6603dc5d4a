package mime

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEntity(t *testing.T) {
	e := NewEntity("application/xml", []byte("<invoice/>"))

	assert.Equal(t, "application/xml", e.ContentType())
	assert.Equal(t, TransferEncodingBinary, e.Header.Get("Content-Transfer-Encoding"))
	assert.True(t, e.IsMediaType("application/xml"))
	assert.False(t, e.IsMediaType("text/plain"))
}

func TestEntity_BytesIsSortedAndParsable(t *testing.T) {
	e := NewEntity("application/xml", []byte("<invoice/>\r\n"))
	e.SetFilename("invoice.xml")

	raw := e.Bytes()
	assert.True(t, bytes.HasPrefix(raw, []byte("Content-Disposition: attachment; filename=invoice.xml\r\nContent-Transfer-Encoding: binary\r\nContent-Type: application/xml\r\n\r\n")), string(raw))

	parsed, err := ParseEntity(raw)
	require.NoError(t, err)
	assert.Equal(t, e.Body, parsed.Body)
	assert.Equal(t, "invoice.xml", parsed.Filename())
	assert.Equal(t, raw, parsed.Bytes())
}

func TestParseEntity_NoHeaders(t *testing.T) {
	parsed, err := ParseEntity([]byte("\r\nbody"))
	require.NoError(t, err)
	assert.Empty(t, parsed.Header)
	assert.Equal(t, []byte("body"), parsed.Body)
}

func TestMultipart_RoundTrip(t *testing.T) {
	first := NewEntity("text/plain; charset=us-ascii", []byte("hello\r\n"))
	first.Header.Set("Content-Transfer-Encoding", TransferEncoding7Bit)
	second := NewEntity("application/octet-stream", []byte{0x00, 0xff, 0x10, '\r', '\n', 0x01})

	mp, err := NewMultipart("report", map[string]string{"report-type": "disposition-notification"}, first, second)
	require.NoError(t, err)

	assert.True(t, mp.IsMediaType("multipart/report"))
	assert.Equal(t, "disposition-notification", mp.Param("report-type"))
	assert.NotEmpty(t, mp.Param("boundary"))

	parts, err := mp.Parts()
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, first.Bytes(), parts[0].Bytes())
	assert.Equal(t, second.Bytes(), parts[1].Bytes())
}

func TestMultipart_UniqueBoundaries(t *testing.T) {
	a, err := NewMultipart("mixed", nil, NewEntity("text/plain", []byte("a")))
	require.NoError(t, err)
	b, err := NewMultipart("mixed", nil, NewEntity("text/plain", []byte("b")))
	require.NoError(t, err)

	assert.NotEqual(t, a.Param("boundary"), b.Param("boundary"))
	assert.True(t, strings.HasPrefix(a.Param("boundary"), "----=_Part_"))
}

func TestParts_NotMultipart(t *testing.T) {
	_, err := NewEntity("application/xml", nil).Parts()
	assert.Error(t, err)
}

func TestDecodedBody(t *testing.T) {
	payload := []byte("signature bytes \x00\x01")
	enc := base64.StdEncoding.EncodeToString(payload)

	e := NewEntity("application/pkcs7-signature", []byte(enc[:8]+"\r\n"+enc[8:]))
	e.Header.Set("Content-Transfer-Encoding", "base64")
	decoded, err := e.DecodedBody()
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)

	qp := NewEntity("text/plain", []byte("caf=C3=A9"))
	qp.Header.Set("Content-Transfer-Encoding", "quoted-printable")
	decoded, err = qp.DecodedBody()
	require.NoError(t, err)
	assert.Equal(t, "café", string(decoded))

	raw := NewEntity("text/plain", []byte("as-is"))
	decoded, err = raw.DecodedBody()
	require.NoError(t, err)
	assert.Equal(t, []byte("as-is"), decoded)
}

func TestClone(t *testing.T) {
	e := NewEntity("text/plain", []byte("abc"))
	c := e.Clone()
	c.Body[0] = 'x'
	c.Header.Set("Content-Type", "text/html")

	assert.Equal(t, "abc", string(e.Body))
	assert.Equal(t, "text/plain", e.ContentType())
}
