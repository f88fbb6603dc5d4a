//go:build pkcs11

package keystore

import (
	"context"
	"crypto"
	"crypto/x509"
	"fmt"
	"strings"
	"sync"

	"github.com/ThalesGroup/crypto11"
)

// PKCS11Provider implements Provider using a PKCS#11 token (HSM/smart card)
//
// The token PIN is used for login; per-key passphrases are ignored.
type PKCS11Provider struct {
	ctx          *crypto11.Context
	labelPattern string
	mu           sync.RWMutex
	keys         map[string]crypto.Signer
}

// PKCS11Config holds configuration for the PKCS#11 provider
type PKCS11Config struct {
	// ModulePath is the path to the PKCS#11 library (.so/.dylib/.dll)
	ModulePath string

	// SlotID is the slot number to use (optional if SlotLabel is provided)
	SlotID *uint

	// SlotLabel is the token label to search for (optional if SlotID is provided)
	SlotLabel string

	// PIN is the user PIN for authentication
	PIN string

	// LabelPattern is the pattern for object labels
	// Use {alias} as placeholder, e.g., "as2-{alias}"
	LabelPattern string
}

// NewPKCS11Provider creates a new PKCS#11 provider
func NewPKCS11Provider(cfg *PKCS11Config) (*PKCS11Provider, error) {
	config := &crypto11.Config{
		Path: cfg.ModulePath,
		Pin:  cfg.PIN,
	}

	if cfg.SlotID != nil {
		slotID := int(*cfg.SlotID)
		config.SlotNumber = &slotID
	}
	if cfg.SlotLabel != "" {
		config.TokenLabel = cfg.SlotLabel
	}

	ctx, err := crypto11.Configure(config)
	if err != nil {
		return nil, fmt.Errorf("configuring PKCS#11: %w", err)
	}

	pattern := cfg.LabelPattern
	if pattern == "" {
		pattern = "{alias}"
	}

	return &PKCS11Provider{
		ctx:          ctx,
		labelPattern: pattern,
		keys:         make(map[string]crypto.Signer),
	}, nil
}

// GetCertificate returns the certificate labelled for alias
func (p *PKCS11Provider) GetCertificate(_ context.Context, alias string) (*x509.Certificate, error) {
	cert, err := p.ctx.FindCertificate(nil, []byte(p.label(alias)), nil)
	if err != nil {
		return nil, fmt.Errorf("finding certificate: %w", err)
	}
	if cert == nil {
		return nil, fmt.Errorf("%w: %s", ErrCertificateNotFound, alias)
	}
	return cert, nil
}

// GetPrivateKey returns the key pair labelled for alias
func (p *PKCS11Provider) GetPrivateKey(_ context.Context, alias, _ string) (crypto.Signer, error) {
	// Check cache first
	p.mu.RLock()
	if key, ok := p.keys[alias]; ok {
		p.mu.RUnlock()
		return key, nil
	}
	p.mu.RUnlock()

	key, err := p.ctx.FindKeyPair(nil, []byte(p.label(alias)))
	if err != nil {
		return nil, fmt.Errorf("finding key pair: %w", err)
	}
	if key == nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, alias)
	}

	// Cache it
	p.mu.Lock()
	p.keys[alias] = key
	p.mu.Unlock()

	return key, nil
}

// Close releases PKCS#11 resources
func (p *PKCS11Provider) Close() error {
	return p.ctx.Close()
}

func (p *PKCS11Provider) label(alias string) string {
	return strings.ReplaceAll(p.labelPattern, "{alias}", alias)
}
