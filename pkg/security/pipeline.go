package security

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sirosfoundation/go-as2/pkg/message"
	"github.com/sirosfoundation/go-as2/pkg/mime"
)

// ErrDecompression marks failures of the compression layer of an inbound
// message. It is wrapped alongside the error kind.
var ErrDecompression = errors.New("decompression failed")

// Policy holds the inbound requirements and key aliases for one partner.
type Policy struct {
	RequireEncryption bool
	RequireSignature  bool

	// DecryptCertAlias and DecryptKeyPassphrase select our key.
	DecryptCertAlias     string
	DecryptKeyPassphrase string

	// VerifyCertAlias is the partner certificate signatures must be made with.
	VerifyCertAlias string
}

// Layers reports which security layers an inbound message carried.
type Layers struct {
	Encrypted  bool
	Signed     bool
	Compressed bool
}

// Config holds pipeline dependencies
type Config struct {
	Crypto       Crypto
	Certificates CertificateManager
	// Validator is applied to signer certificates after verification. Optional.
	Validator CertificateValidator
	Logger    *slog.Logger
}

// Pipeline applies and removes AS2 security layers
type Pipeline struct {
	crypto    Crypto
	certs     CertificateManager
	validator CertificateValidator
	logger    *slog.Logger
}

// NewPipeline creates a security pipeline
func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.Crypto == nil {
		return nil, fmt.Errorf("%w: crypto capability is required", message.ErrConfiguration)
	}
	if cfg.Certificates == nil {
		return nil, fmt.Errorf("%w: certificate manager is required", message.ErrConfiguration)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		crypto:    cfg.Crypto,
		certs:     cfg.Certificates,
		validator: cfg.Validator,
		logger:    logger,
	}, nil
}

// Crypto returns the crypto capability the pipeline was built with.
func (p *Pipeline) Crypto() Crypto {
	return p.crypto
}

// ValidateOutbound checks algorithm identifiers and aliases of sec.
func (p *Pipeline) ValidateOutbound(sec message.Security) error {
	if sec.Compress {
		if _, err := message.NormalizeCompression(sec.CompressionAlgorithm); err != nil {
			return err
		}
	}
	if sec.Sign {
		if _, err := message.NormalizeSignatureDigest(sec.SignDigestAlgorithm); err != nil {
			return err
		}
		if sec.SignCertAlias == "" {
			return fmt.Errorf("%w: signing certificate alias is not configured", message.ErrConfiguration)
		}
	}
	if sec.Encrypt {
		if _, err := message.NormalizeCipher(sec.EncryptAlgorithm); err != nil {
			return err
		}
		if sec.EncryptCertAlias == "" {
			return fmt.Errorf("%w: encryption certificate alias is not configured", message.ErrConfiguration)
		}
	}
	return nil
}

// Secure applies compression, signing and encryption to msg.Data as
// selected by msg.Security.
func (p *Pipeline) Secure(ctx context.Context, msg *message.Message) error {
	if msg.Data == nil {
		return fmt.Errorf("%w: message %s has no content", message.ErrConfiguration, msg.ID)
	}
	sec := msg.Security
	if err := p.ValidateOutbound(sec); err != nil {
		return err
	}

	// Key material is resolved before any layer is applied.
	var (
		signCert *x509.Certificate
		signKey  crypto.Signer
		encCert  *x509.Certificate
		err      error
	)
	if sec.Sign {
		if signCert, err = p.certificate(ctx, sec.SignCertAlias); err != nil {
			return err
		}
		if signKey, err = p.privateKey(ctx, sec.SignCertAlias, sec.SignKeyPassphrase); err != nil {
			return err
		}
	}
	if sec.Encrypt {
		if encCert, err = p.certificate(ctx, sec.EncryptCertAlias); err != nil {
			return err
		}
	}

	data := msg.Data
	if sec.Compress {
		if data, err = p.crypto.Compress(data, sec.CompressionAlgorithm); err != nil {
			return fmt.Errorf("failed to compress message %s: %w", msg.ID, err)
		}
	}
	if sec.Sign {
		if data, err = p.crypto.Sign(data, signCert, signKey, sec.SignDigestAlgorithm); err != nil {
			return fmt.Errorf("failed to sign message %s: %w", msg.ID, err)
		}
	}
	if sec.Encrypt {
		if data, err = p.crypto.Encrypt(data, encCert, sec.EncryptAlgorithm); err != nil {
			return fmt.Errorf("failed to encrypt message %s: %w", msg.ID, err)
		}
	}

	msg.Data = data
	p.logger.Debug("message secured",
		slog.String("message_id", msg.ID),
		slog.Bool("compressed", sec.Compress),
		slog.Bool("signed", sec.Sign),
		slog.Bool("encrypted", sec.Encrypt))
	return nil
}

// Unsecure removes the security layers declared by msg.Data in the order
// decrypt, verify, decompress, enforcing policy after each step.
func (p *Pipeline) Unsecure(ctx context.Context, msg *message.Message, policy Policy) (Layers, error) {
	var layers Layers
	if msg.Data == nil {
		return layers, fmt.Errorf("%w: message %s has no content", message.ErrPolicyViolation, msg.ID)
	}
	log := p.logger.With(slog.String("message_id", msg.ID), slog.String("from", msg.FromAddress))

	data := msg.Data
	var err error

	if p.crypto.IsEncrypted(data) {
		if data, err = p.decrypt(ctx, data, policy); err != nil {
			log.Error("decryption failed", slog.String("event", "security"), slog.String("error", err.Error()))
			return layers, err
		}
		layers.Encrypted = true
	}
	if policy.RequireEncryption && !layers.Encrypted {
		return layers, fmt.Errorf("%w: message %s is not encrypted", message.ErrPolicyViolation, msg.ID)
	}

	if p.crypto.IsSigned(data) {
		if data, err = p.verify(ctx, data, policy); err != nil {
			log.Error("signature verification failed", slog.String("event", "security"), slog.String("error", err.Error()))
			return layers, err
		}
		layers.Signed = true
	}
	if policy.RequireSignature && !layers.Signed {
		return layers, fmt.Errorf("%w: message %s is not signed", message.ErrPolicyViolation, msg.ID)
	}

	if p.crypto.IsCompressed(data) {
		if data, err = p.crypto.Decompress(data); err != nil {
			return layers, fmt.Errorf("%w: message %s: %w", ErrDecompression, msg.ID, err)
		}
		layers.Compressed = true
	}

	msg.Data = data
	log.Debug("message unsecured",
		slog.Bool("encrypted", layers.Encrypted),
		slog.Bool("signed", layers.Signed),
		slog.Bool("compressed", layers.Compressed))
	return layers, nil
}

func (p *Pipeline) decrypt(ctx context.Context, data *mime.Entity, policy Policy) (*mime.Entity, error) {
	if policy.DecryptCertAlias == "" {
		return nil, fmt.Errorf("%w: no decryption certificate configured", message.ErrConfiguration)
	}
	cert, err := p.certificate(ctx, policy.DecryptCertAlias)
	if err != nil {
		return nil, err
	}
	signer, err := p.privateKey(ctx, policy.DecryptCertAlias, policy.DecryptKeyPassphrase)
	if err != nil {
		return nil, err
	}
	key, ok := signer.(crypto.Decrypter)
	if !ok {
		return nil, fmt.Errorf("%w: key %q cannot decrypt", message.ErrConfiguration, policy.DecryptCertAlias)
	}
	out, err := p.crypto.Decrypt(data, cert, key)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return out, nil
}

func (p *Pipeline) verify(ctx context.Context, data *mime.Entity, policy Policy) (*mime.Entity, error) {
	if policy.VerifyCertAlias == "" {
		return nil, fmt.Errorf("%w: no verification certificate configured", message.ErrConfiguration)
	}
	cert, err := p.certificate(ctx, policy.VerifyCertAlias)
	if err != nil {
		return nil, err
	}
	out, err := p.crypto.Verify(data, cert)
	if err != nil {
		if message.KindOf(err) == nil {
			err = fmt.Errorf("%w: %v", message.ErrIntegrity, err)
		}
		return nil, fmt.Errorf("failed to verify: %w", err)
	}
	if p.validator != nil {
		if err := p.validator.ValidateCertificate(cert, nil, "signing"); err != nil {
			return nil, fmt.Errorf("%w: signer certificate %q: %v", message.ErrIntegrity, policy.VerifyCertAlias, err)
		}
	}
	return out, nil
}

func (p *Pipeline) certificate(ctx context.Context, alias string) (*x509.Certificate, error) {
	cert, err := p.certs.GetCertificate(ctx, alias)
	if err != nil {
		return nil, wrapLookup(err, "certificate", alias)
	}
	return cert, nil
}

func (p *Pipeline) privateKey(ctx context.Context, alias, passphrase string) (crypto.Signer, error) {
	key, err := p.certs.GetPrivateKey(ctx, alias, passphrase)
	if err != nil {
		return nil, wrapLookup(err, "private key", alias)
	}
	return key, nil
}

func wrapLookup(err error, what, alias string) error {
	if errors.Is(err, message.ErrConfiguration) {
		return fmt.Errorf("failed to load %s %q: %w", what, alias, err)
	}
	return fmt.Errorf("%w: failed to load %s %q: %v", message.ErrConfiguration, what, alias, err)
}
