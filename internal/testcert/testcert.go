// Package testcert generates self-signed RSA identities for tests.
package testcert

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"testing"
	"time"
)

// Identity is a private key and its self-signed certificate.
type Identity struct {
	Key         *rsa.PrivateKey
	Certificate *x509.Certificate
}

// New generates a 2048-bit RSA key and a self-signed certificate with the
// given common name.
func New(t testing.TB, commonName string) *Identity {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		t.Fatalf("failed to generate serial number: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{"Test Organization"},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageEmailProtection},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}

	return &Identity{Key: key, Certificate: cert}
}

// CertPEM returns the PEM-encoded certificate.
func (id *Identity) CertPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: id.Certificate.Raw})
}

// KeyPEM returns the PEM-encoded unencrypted PKCS#1 private key.
func (id *Identity) KeyPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(id.Key)})
}

// Store is an in-memory certificate manager keyed by alias.
type Store map[string]*Identity

// GetCertificate returns the certificate stored under alias.
func (s Store) GetCertificate(_ context.Context, alias string) (*x509.Certificate, error) {
	id, ok := s[alias]
	if !ok {
		return nil, fmt.Errorf("alias %q not found", alias)
	}
	return id.Certificate, nil
}

// GetPrivateKey returns the key stored under alias. The passphrase is ignored.
func (s Store) GetPrivateKey(_ context.Context, alias, _ string) (crypto.Signer, error) {
	id, ok := s[alias]
	if !ok {
		return nil, fmt.Errorf("alias %q not found", alias)
	}
	return id.Key, nil
}
