package smime

import (
	"crypto/rand"
	"io"
	gomime "mime"
	"strings"

	"github.com/sirosfoundation/go-as2/pkg/compression"
	"github.com/sirosfoundation/go-as2/pkg/mime"
)

// Content types of the security layers.
const (
	ContentTypePKCS7Mime       = "application/pkcs7-mime"
	ContentTypePKCS7MimeX      = "application/x-pkcs7-mime"
	ContentTypePKCS7Signature  = "application/pkcs7-signature"
	ContentTypePKCS7SignatureX = "application/x-pkcs7-signature"
	ContentTypeMultipartSigned = "multipart/signed"

	SMIMETypeEnveloped  = "enveloped-data"
	SMIMETypeCompressed = "compressed-data"
)

// Config configures a Provider.
type Config struct {
	// Compressor is the zlib codec. Defaults to compression.NewCompressor().
	Compressor *compression.Compressor
	// Rand is the entropy source for keys, IVs and signatures. Defaults to
	// crypto/rand.Reader.
	Rand io.Reader
}

// Provider implements the AS2 cryptographic operations.
type Provider struct {
	compressor *compression.Compressor
	rand       io.Reader
}

// New creates a Provider.
func New(cfg Config) *Provider {
	p := &Provider{
		compressor: cfg.Compressor,
		rand:       cfg.Rand,
	}
	if p.compressor == nil {
		p.compressor = compression.NewCompressor()
	}
	if p.rand == nil {
		p.rand = rand.Reader
	}
	return p
}

// IsEncrypted reports whether e declares itself as enveloped data.
func (p *Provider) IsEncrypted(e *mime.Entity) bool {
	return isPKCS7Mime(e, SMIMETypeEnveloped)
}

// IsCompressed reports whether e declares itself as compressed data.
func (p *Provider) IsCompressed(e *mime.Entity) bool {
	return isPKCS7Mime(e, SMIMETypeCompressed)
}

// IsSigned reports whether e is a multipart/signed entity.
func (p *Provider) IsSigned(e *mime.Entity) bool {
	return e != nil && e.IsMediaType(ContentTypeMultipartSigned)
}

func isPKCS7Mime(e *mime.Entity, smimeType string) bool {
	if e == nil || !e.IsMediaType(ContentTypePKCS7Mime, ContentTypePKCS7MimeX) {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(e.Param("smime-type")), smimeType)
}

func pkcs7MimeEntity(smimeType, name string, body []byte) *mime.Entity {
	ct := gomime.FormatMediaType(ContentTypePKCS7Mime, map[string]string{
		"smime-type": smimeType,
		"name":       name,
	})
	e := mime.NewEntity(ct, body)
	e.SetFilename(name)
	return e
}
