package keystore

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/youmark/pkcs8"
)

// FileProvider implements Provider using PEM files on disk
//
// Certificate files are expected at: {keyDir}/{alias}.crt
// Key files at: {keyDir}/{alias}.key
//
// Partner certificates have no key file. Keys are cached after the first
// successful load.
type FileProvider struct {
	keyDir string
	mu     sync.RWMutex
	keys   map[string]crypto.Signer
}

// NewFileProvider creates a new file-based provider
func NewFileProvider(keyDir string) (*FileProvider, error) {
	info, err := os.Stat(keyDir)
	if err != nil {
		return nil, fmt.Errorf("checking key directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("key directory is not a directory: %s", keyDir)
	}

	return &FileProvider{
		keyDir: keyDir,
		keys:   make(map[string]crypto.Signer),
	}, nil
}

// GetCertificate returns the certificate stored under alias
func (p *FileProvider) GetCertificate(_ context.Context, alias string) (*x509.Certificate, error) {
	path, err := p.path(alias, ".crt")
	if err != nil {
		return nil, err
	}
	return loadCertificate(path)
}

// GetPrivateKey returns the private key stored under alias
func (p *FileProvider) GetPrivateKey(_ context.Context, alias, passphrase string) (crypto.Signer, error) {
	// Check cache first
	p.mu.RLock()
	if key, ok := p.keys[alias]; ok {
		p.mu.RUnlock()
		return key, nil
	}
	p.mu.RUnlock()

	path, err := p.path(alias, ".key")
	if err != nil {
		return nil, err
	}
	keyPEM, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, alias)
		}
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	key, err := parsePrivateKey(keyPEM, passphrase)
	if err != nil {
		return nil, fmt.Errorf("parsing private key %s: %w", alias, err)
	}

	// Cache it
	p.mu.Lock()
	p.keys[alias] = key
	p.mu.Unlock()

	return key, nil
}

// Aliases returns every certificate in the key directory
func (p *FileProvider) Aliases(ctx context.Context) ([]KeyInfo, error) {
	entries, err := os.ReadDir(p.keyDir)
	if err != nil {
		return nil, fmt.Errorf("reading key directory: %w", err)
	}

	var infos []KeyInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".crt" {
			continue
		}
		info, err := Describe(ctx, p, strings.TrimSuffix(name, ".crt"))
		if err != nil {
			continue // Skip unreadable certificates
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Close drops the cached keys
func (p *FileProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = make(map[string]crypto.Signer)
	return nil
}

func (p *FileProvider) path(alias, ext string) (string, error) {
	if alias == "" || alias != filepath.Base(alias) || strings.HasPrefix(alias, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidAlias, alias)
	}
	return filepath.Join(p.keyDir, alias+ext), nil
}

func parsePrivateKey(pemData []byte, passphrase string) (crypto.Signer, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	var (
		key any
		err error
	)
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	case "ENCRYPTED PRIVATE KEY":
		if passphrase == "" {
			return nil, ErrPassphraseRequired
		}
		key, err = pkcs8.ParsePKCS8PrivateKey(block.Bytes, []byte(passphrase))
	default:
		return nil, fmt.Errorf("unsupported key type: %s", block.Type)
	}
	if err != nil {
		return nil, err
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("key is not a signer")
	}
	return signer, nil
}

func loadCertificate(path string) (*x509.Certificate, error) {
	certPEM, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrCertificateNotFound, filepath.Base(path))
		}
		return nil, fmt.Errorf("reading certificate file: %w", err)
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	return x509.ParseCertificate(block.Bytes)
}

func keyAlgorithmName(pub crypto.PublicKey) string {
	switch pub.(type) {
	case *ecdsa.PublicKey:
		return "EC"
	case *rsa.PublicKey:
		return "RSA"
	default:
		return "Unknown"
	}
}

func keySize(pub crypto.PublicKey) int {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		return k.Curve.Params().BitSize
	case *rsa.PublicKey:
		return k.N.BitLen()
	default:
		return 0
	}
}

// LoadTrustRoots reads a PEM bundle of CA certificates into a pool
func LoadTrustRoots(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trust roots: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}
