package smime

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"fmt"

	"github.com/smallstep/pkcs7"

	"github.com/sirosfoundation/go-as2/pkg/message"
	"github.com/sirosfoundation/go-as2/pkg/mime"
)

var signatureDigests = map[string]asn1.ObjectIdentifier{
	message.DigestSHA1: pkcs7.OIDDigestAlgorithmSHA1,
}

// Sign wraps e in a multipart/signed entity. The first part is e in
// canonical form, the second a detached CMS SignedData over those bytes.
func (p *Provider) Sign(e *mime.Entity, cert *x509.Certificate, key crypto.Signer, digest string) (*mime.Entity, error) {
	alg, err := message.NormalizeSignatureDigest(digest)
	if err != nil {
		return nil, err
	}
	if cert == nil || key == nil {
		return nil, fmt.Errorf("%w: signing certificate and key are required", message.ErrConfiguration)
	}

	content := e.Clone()
	sd, err := pkcs7.NewSignedData(content.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to create signed data: %w", err)
	}
	sd.SetDigestAlgorithm(signatureDigests[alg])
	if err := sd.AddSigner(cert, key, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, fmt.Errorf("failed to sign content: %w", err)
	}
	sd.Detach()
	der, err := sd.Finish()
	if err != nil {
		return nil, fmt.Errorf("failed to encode signed data: %w", err)
	}

	sigPart := mime.NewEntity(ContentTypePKCS7Signature+"; name=smime.p7s", encodeBase64Lines(der))
	sigPart.Header.Set("Content-Transfer-Encoding", mime.TransferEncodingBase64)
	sigPart.SetFilename("smime.p7s")

	return mime.NewMultipart("signed", map[string]string{
		"protocol": ContentTypePKCS7Signature,
		"micalg":   alg,
	}, content, sigPart)
}

// Verify checks the signature of a multipart/signed entity and returns the
// signed content. The only signer must be cert.
func (p *Provider) Verify(e *mime.Entity, cert *x509.Certificate) (*mime.Entity, error) {
	if cert == nil {
		return nil, fmt.Errorf("%w: verification certificate is required", message.ErrConfiguration)
	}

	parts, err := e.Parts()
	if err != nil {
		return nil, fmt.Errorf("%w: malformed signed entity: %v", message.ErrIntegrity, err)
	}
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: signed entity has %d parts, expected 2", message.ErrIntegrity, len(parts))
	}
	content, sigPart := parts[0], parts[1]
	if !sigPart.IsMediaType(ContentTypePKCS7Signature, ContentTypePKCS7SignatureX) {
		return nil, fmt.Errorf("%w: unexpected signature type %q", message.ErrIntegrity, sigPart.ContentType())
	}

	der, err := sigPart.DecodedBody()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", message.ErrIntegrity, err)
	}
	p7, err := pkcs7.Parse(der)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed signature: %v", message.ErrIntegrity, err)
	}
	p7.Content = content.Bytes()
	if err := p7.Verify(); err != nil {
		return nil, fmt.Errorf("%w: signature verification failed: %v", message.ErrIntegrity, err)
	}

	signer := p7.GetOnlySigner()
	if signer == nil {
		return nil, fmt.Errorf("%w: signature must carry exactly one signer certificate", message.ErrIntegrity)
	}
	if !bytes.Equal(signer.Raw, cert.Raw) {
		return nil, fmt.Errorf("%w: signed by %q, expected %q", message.ErrIntegrity,
			signer.Subject.CommonName, cert.Subject.CommonName)
	}

	return content, nil
}

// encodeBase64Lines encodes data as base64 in CRLF-terminated 76 character
// lines.
func encodeBase64Lines(data []byte) []byte {
	enc := base64.StdEncoding.EncodeToString(data)
	var buf bytes.Buffer
	for len(enc) > 76 {
		buf.WriteString(enc[:76])
		buf.WriteString("\r\n")
		enc = enc[76:]
	}
	buf.WriteString(enc)
	buf.WriteString("\r\n")
	return buf.Bytes()
}
