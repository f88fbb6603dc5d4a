package security

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-as2/internal/testcert"
	"github.com/sirosfoundation/go-as2/pkg/message"
	"github.com/sirosfoundation/go-as2/pkg/mime"
	"github.com/sirosfoundation/go-as2/pkg/smime"
)

// recordingCrypto counts calls and can fail encryption.
type recordingCrypto struct {
	Crypto
	calls         map[string]int
	encryptErr    error
	decompressErr error
}

func newRecordingCrypto() *recordingCrypto {
	return &recordingCrypto{Crypto: smime.New(smime.Config{}), calls: map[string]int{}}
}

func (r *recordingCrypto) Verify(e *mime.Entity, cert *x509.Certificate) (*mime.Entity, error) {
	r.calls["verify"]++
	return r.Crypto.Verify(e, cert)
}

func (r *recordingCrypto) Decompress(e *mime.Entity) (*mime.Entity, error) {
	r.calls["decompress"]++
	if r.decompressErr != nil {
		return nil, r.decompressErr
	}
	return r.Crypto.Decompress(e)
}

func (r *recordingCrypto) Compress(e *mime.Entity, alg string) (*mime.Entity, error) {
	r.calls["compress"]++
	return r.Crypto.Compress(e, alg)
}

func (r *recordingCrypto) Encrypt(e *mime.Entity, cert *x509.Certificate, alg string) (*mime.Entity, error) {
	r.calls["encrypt"]++
	if r.encryptErr != nil {
		return nil, r.encryptErr
	}
	return r.Crypto.Encrypt(e, cert, alg)
}

type fixture struct {
	certs    testcert.Store
	crypto   *recordingCrypto
	pipeline *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	certs := testcert.Store{
		"acme":    testcert.New(t, "acme"),
		"globex":  testcert.New(t, "globex"),
		"mallory": testcert.New(t, "mallory"),
	}
	rc := newRecordingCrypto()
	p, err := NewPipeline(Config{Crypto: rc, Certificates: certs})
	require.NoError(t, err)
	return &fixture{certs: certs, crypto: rc, pipeline: p}
}

func newMessage(sec message.Security) *message.Message {
	msg := message.New("acme", "globex", message.WithSecurity(sec))
	msg.Data = mime.NewEntity("application/xml", []byte("<Invoice><ID>4711</ID></Invoice>"))
	msg.Data.SetFilename("invoice.xml")
	return msg
}

func outbound(encrypt, sign, compress bool) message.Security {
	return message.Security{
		Encrypt:              encrypt,
		Sign:                 sign,
		Compress:             compress,
		SignCertAlias:        "acme",
		SignDigestAlgorithm:  message.DigestSHA1,
		EncryptCertAlias:     "globex",
		EncryptAlgorithm:     message.CipherTripleDES,
		CompressionAlgorithm: message.CompressionZlib,
	}
}

func inboundPolicy(encrypt, sign bool) Policy {
	return Policy{
		RequireEncryption: encrypt,
		RequireSignature:  sign,
		DecryptCertAlias:  "globex",
		VerifyCertAlias:   "acme",
	}
}

func TestNewPipeline_RequiresCapabilities(t *testing.T) {
	_, err := NewPipeline(Config{Certificates: testcert.Store{}})
	assert.ErrorIs(t, err, message.ErrConfiguration)

	_, err = NewPipeline(Config{Crypto: smime.New(smime.Config{})})
	assert.ErrorIs(t, err, message.ErrConfiguration)
}

func TestPipeline_RoundTripAllSubsets(t *testing.T) {
	f := newFixture(t)

	for _, encrypt := range []bool{false, true} {
		for _, sign := range []bool{false, true} {
			for _, compress := range []bool{false, true} {
				name := fmt.Sprintf("encrypt=%t/sign=%t/compress=%t", encrypt, sign, compress)
				t.Run(name, func(t *testing.T) {
					msg := newMessage(outbound(encrypt, sign, compress))
					original := msg.Data.Clone()

					require.NoError(t, f.pipeline.Secure(context.Background(), msg))
					assert.Equal(t, encrypt, f.crypto.IsEncrypted(msg.Data))
					if !encrypt {
						assert.Equal(t, sign, f.crypto.IsSigned(msg.Data))
					}

					inbound := message.FromHeaders(message.NewHeaders(
						message.HeaderMessageID, msg.ID,
						message.HeaderAS2From, "acme",
						message.HeaderContentType, msg.Data.ContentType(),
					), msg.Data.Body)

					layers, err := f.pipeline.Unsecure(context.Background(), inbound, inboundPolicy(encrypt, sign))
					require.NoError(t, err)
					assert.Equal(t, Layers{Encrypted: encrypt, Signed: sign, Compressed: compress}, layers)

					if encrypt || sign || compress {
						assert.Equal(t, original.Bytes(), inbound.Data.Bytes())
					} else {
						assert.Equal(t, original.Body, inbound.Data.Body)
					}
				})
			}
		}
	}
}

func TestPipeline_RequiredEncryptionMissing(t *testing.T) {
	f := newFixture(t)

	msg := newMessage(outbound(false, true, true))
	require.NoError(t, f.pipeline.Secure(context.Background(), msg))
	secured := msg.Data
	f.crypto.calls = map[string]int{}

	_, err := f.pipeline.Unsecure(context.Background(), msg, inboundPolicy(true, true))
	assert.ErrorIs(t, err, message.ErrPolicyViolation)
	assert.Zero(t, f.crypto.calls["verify"])
	assert.Zero(t, f.crypto.calls["decompress"])
	assert.Same(t, secured, msg.Data)
}

func TestPipeline_RequiredSignatureMissing(t *testing.T) {
	f := newFixture(t)

	msg := newMessage(outbound(true, false, true))
	require.NoError(t, f.pipeline.Secure(context.Background(), msg))
	f.crypto.calls = map[string]int{}

	_, err := f.pipeline.Unsecure(context.Background(), msg, inboundPolicy(true, true))
	assert.ErrorIs(t, err, message.ErrPolicyViolation)
	assert.Zero(t, f.crypto.calls["decompress"])
}

func TestPipeline_WrongSignerCertificate(t *testing.T) {
	f := newFixture(t)

	sec := outbound(false, true, false)
	sec.SignCertAlias = "mallory"
	msg := newMessage(sec)
	require.NoError(t, f.pipeline.Secure(context.Background(), msg))

	// valid against the actual signer
	_, err := f.crypto.Verify(msg.Data, f.certs["mallory"].Certificate)
	require.NoError(t, err)

	_, err = f.pipeline.Unsecure(context.Background(), msg, inboundPolicy(false, true))
	assert.ErrorIs(t, err, message.ErrIntegrity)
}

func TestPipeline_UnknownAlgorithmFailsBeforeAnyLayer(t *testing.T) {
	f := newFixture(t)

	sec := outbound(true, true, true)
	sec.EncryptAlgorithm = "aes-256-gcm"
	msg := newMessage(sec)
	original := msg.Data

	assert.ErrorIs(t, f.pipeline.ValidateOutbound(sec), message.ErrConfiguration)

	err := f.pipeline.Secure(context.Background(), msg)
	assert.ErrorIs(t, err, message.ErrConfiguration)
	assert.Same(t, original, msg.Data)
	assert.Zero(t, f.crypto.calls["compress"])
}

func TestPipeline_UnknownAliasFailsBeforeAnyLayer(t *testing.T) {
	f := newFixture(t)

	sec := outbound(true, true, true)
	sec.EncryptCertAlias = "initech"
	msg := newMessage(sec)
	original := msg.Data

	err := f.pipeline.Secure(context.Background(), msg)
	assert.ErrorIs(t, err, message.ErrConfiguration)
	assert.Same(t, original, msg.Data)
	assert.Zero(t, f.crypto.calls["compress"])
}

func TestPipeline_FailedLayerLeavesMessageUntouched(t *testing.T) {
	f := newFixture(t)
	f.crypto.encryptErr = errors.New("hsm unavailable")

	msg := newMessage(outbound(true, true, true))
	original := msg.Data

	err := f.pipeline.Secure(context.Background(), msg)
	assert.Error(t, err)
	assert.Equal(t, 1, f.crypto.calls["compress"])
	assert.Same(t, original, msg.Data)
}

func TestPipeline_DecompressionFailure(t *testing.T) {
	f := newFixture(t)
	f.crypto.decompressErr = fmt.Errorf("%w: zlib: invalid header", message.ErrIntegrity)

	msg := newMessage(outbound(true, true, true))
	require.NoError(t, f.pipeline.Secure(context.Background(), msg))

	layers, err := f.pipeline.Unsecure(context.Background(), msg, inboundPolicy(true, true))
	assert.ErrorIs(t, err, ErrDecompression)
	assert.ErrorIs(t, err, message.ErrIntegrity)
	assert.Equal(t, Layers{Encrypted: true, Signed: true}, layers)
}

func TestPipeline_DecryptWithWrongKeyFails(t *testing.T) {
	f := newFixture(t)

	msg := newMessage(outbound(true, false, false))
	require.NoError(t, f.pipeline.Secure(context.Background(), msg))

	policy := inboundPolicy(true, false)
	policy.DecryptCertAlias = "mallory"
	_, err := f.pipeline.Unsecure(context.Background(), msg, policy)
	assert.ErrorIs(t, err, message.ErrIntegrity)
}

func TestPipeline_SignerCertificateValidation(t *testing.T) {
	f := newFixture(t)
	validator := NewValidityValidator()
	validator.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	f.pipeline.validator = validator

	msg := newMessage(outbound(false, true, false))
	require.NoError(t, f.pipeline.Secure(context.Background(), msg))

	_, err := f.pipeline.Unsecure(context.Background(), msg, inboundPolicy(false, true))
	assert.ErrorIs(t, err, message.ErrIntegrity)
}
