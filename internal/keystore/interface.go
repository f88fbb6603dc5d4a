// Package keystore provides the certificates and private keys used by the
// AS2 security pipeline.
//
// Certificates and keys are addressed by alias, the name a party's
// configuration uses for its signing and encryption certificates. Two
// backends are available:
//
//   - File-based: PEM files in a directory, <alias>.crt and <alias>.key.
//     Keys may be PKCS#1, SEC1, PKCS#8 or passphrase-protected PKCS#8.
//   - PKCS#11: Keys and certificates held by an HSM or smart card, found by
//     object label.
//
// A Provider satisfies security.CertificateManager.
package keystore

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/sirosfoundation/go-as2/pkg/party"
)

// Common errors
var (
	ErrKeyNotFound         = errors.New("private key not found")
	ErrCertificateNotFound = errors.New("certificate not found")
	ErrPassphraseRequired  = errors.New("passphrase required to unlock key")
	ErrInvalidAlias        = errors.New("invalid certificate alias")
)

// Provider looks up certificates and private keys by alias
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// GetCertificate returns the X.509 certificate stored under alias.
	GetCertificate(ctx context.Context, alias string) (*x509.Certificate, error)

	// GetPrivateKey returns the private key stored under alias. The
	// passphrase unlocks encrypted keys and is ignored otherwise. RSA keys
	// also implement crypto.Decrypter.
	GetPrivateKey(ctx context.Context, alias, passphrase string) (crypto.Signer, error)

	// Close releases any resources held by the provider.
	Close() error
}

// KeyInfo describes a certificate held by a provider
type KeyInfo struct {
	Alias              string
	Algorithm          string
	KeySize            int
	NotBefore          time.Time
	NotAfter           time.Time
	CertificateSubject string
}

// Describe returns the KeyInfo for the certificate stored under alias.
func Describe(ctx context.Context, p Provider, alias string) (KeyInfo, error) {
	cert, err := p.GetCertificate(ctx, alias)
	if err != nil {
		return KeyInfo{}, err
	}
	return KeyInfo{
		Alias:              alias,
		Algorithm:          keyAlgorithmName(cert.PublicKey),
		KeySize:            keySize(cert.PublicKey),
		NotBefore:          cert.NotBefore,
		NotAfter:           cert.NotAfter,
		CertificateSubject: cert.Subject.String(),
	}, nil
}

// CheckParties verifies that every certificate the parties refer to is
// available, and that the local parties' private keys can be unlocked.
// It returns the certificates found, so they can be logged at startup.
func CheckParties(ctx context.Context, p Provider, parties *party.Registry) ([]KeyInfo, error) {
	var infos []KeyInfo
	seen := make(map[string]bool)
	check := func(alias, passphrase string, local bool) error {
		if alias == "" || seen[alias] {
			return nil
		}
		seen[alias] = true
		info, err := Describe(ctx, p, alias)
		if err != nil {
			return fmt.Errorf("certificate %q: %w", alias, err)
		}
		infos = append(infos, info)
		if local {
			if _, err := p.GetPrivateKey(ctx, alias, passphrase); err != nil {
				return fmt.Errorf("private key %q: %w", alias, err)
			}
		}
		return nil
	}

	for _, pt := range parties.All() {
		if err := check(pt.SignCertAlias, pt.SignKeyPassphrase, pt.Local); err != nil {
			return nil, fmt.Errorf("party %s: %w", pt.Alias, err)
		}
		if err := check(pt.EncryptCertAlias, pt.EncryptKeyPassphrase, pt.Local); err != nil {
			return nil, fmt.Errorf("party %s: %w", pt.Alias, err)
		}
	}
	return infos, nil
}
