// Package security implements signer certificate validation
package security

import (
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCertificateExpired is returned when a certificate has expired
	ErrCertificateExpired = errors.New("certificate has expired")
	// ErrCertificateNotYetValid is returned when a certificate is not yet valid
	ErrCertificateNotYetValid = errors.New("certificate is not yet valid")
	// ErrCertificateUntrusted is returned when a certificate is not trusted
	ErrCertificateUntrusted = errors.New("certificate is not trusted")
)

// CertificateValidator validates a certificate for an intended purpose
// ("signing", "encryption").
type CertificateValidator interface {
	ValidateCertificate(cert *x509.Certificate, intermediates []*x509.Certificate, purpose string) error
}

// DefaultCertificateValidator implements traditional PKI validation
type DefaultCertificateValidator struct {
	roots *x509.CertPool
	now   func() time.Time
}

// NewDefaultCertificateValidator creates a validator using traditional PKI
func NewDefaultCertificateValidator(roots *x509.CertPool) *DefaultCertificateValidator {
	return &DefaultCertificateValidator{
		roots: roots,
		now:   time.Now,
	}
}

// ValidateCertificate validates a single certificate against the trust store
func (v *DefaultCertificateValidator) ValidateCertificate(cert *x509.Certificate, intermediates []*x509.Certificate, purpose string) error {
	now := v.now()
	if err := checkValidity(cert, now); err != nil {
		return err
	}

	opts := x509.VerifyOptions{
		Roots:         v.roots,
		CurrentTime:   now,
		Intermediates: x509.NewCertPool(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	for _, intermediate := range intermediates {
		opts.Intermediates.AddCert(intermediate)
	}

	switch purpose {
	case "signing", "encryption":
		opts.KeyUsages = []x509.ExtKeyUsage{x509.ExtKeyUsageEmailProtection, x509.ExtKeyUsageAny}
	}

	if _, err := cert.Verify(opts); err != nil {
		return fmt.Errorf("%w: %v", ErrCertificateUntrusted, err)
	}
	return nil
}

// ValidityValidator checks only the validity period. Trust comes from the
// certificate being configured for the partner.
type ValidityValidator struct {
	now func() time.Time
}

// NewValidityValidator creates a validity period validator
func NewValidityValidator() *ValidityValidator {
	return &ValidityValidator{now: time.Now}
}

// ValidateCertificate implements CertificateValidator
func (v *ValidityValidator) ValidateCertificate(cert *x509.Certificate, _ []*x509.Certificate, _ string) error {
	return checkValidity(cert, v.now())
}

func checkValidity(cert *x509.Certificate, now time.Time) error {
	if now.Before(cert.NotBefore) {
		return ErrCertificateNotYetValid
	}
	if now.After(cert.NotAfter) {
		return ErrCertificateExpired
	}
	return nil
}
