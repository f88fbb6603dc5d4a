package security

import (
	"context"
	"crypto"
	"crypto/x509"
	"io"

	"github.com/sirosfoundation/go-as2/pkg/mime"
)

// Crypto performs the cryptographic operations of the pipeline.
type Crypto interface {
	IsEncrypted(e *mime.Entity) bool
	IsSigned(e *mime.Entity) bool
	IsCompressed(e *mime.Entity) bool

	Encrypt(e *mime.Entity, cert *x509.Certificate, algorithm string) (*mime.Entity, error)
	Decrypt(e *mime.Entity, cert *x509.Certificate, key crypto.Decrypter) (*mime.Entity, error)

	Sign(e *mime.Entity, cert *x509.Certificate, key crypto.Signer, digest string) (*mime.Entity, error)
	// Verify fails if the signature is invalid or was not made with cert.
	Verify(e *mime.Entity, cert *x509.Certificate) (*mime.Entity, error)

	Compress(e *mime.Entity, algorithm string) (*mime.Entity, error)
	Decompress(e *mime.Entity) (*mime.Entity, error)

	// CalculateMIC returns "<base64 digest>, <algorithm>".
	CalculateMIC(r io.Reader, digest string) (string, error)
}

// CertificateManager looks up certificates and private keys by alias.
type CertificateManager interface {
	GetCertificate(ctx context.Context, alias string) (*x509.Certificate, error)
	GetPrivateKey(ctx context.Context, alias, passphrase string) (crypto.Signer, error)
}
