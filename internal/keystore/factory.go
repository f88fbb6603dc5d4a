package keystore

import (
	"fmt"

	"github.com/sirosfoundation/go-as2/internal/config"
)

// NewProvider creates a Provider based on the configuration
func NewProvider(cfg *config.KeystoreConfig) (Provider, error) {
	switch cfg.Mode {
	case "pkcs11":
		return newPKCS11Provider(cfg)
	case "file":
		return newFileProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown keystore mode: %s", cfg.Mode)
	}
}

func newPKCS11Provider(cfg *config.KeystoreConfig) (Provider, error) {
	p11cfg := &PKCS11Config{
		ModulePath:   cfg.PKCS11.ModulePath,
		SlotLabel:    cfg.PKCS11.SlotLabel,
		PIN:          cfg.PKCS11.PIN,
		LabelPattern: cfg.PKCS11.LabelPattern,
	}
	if cfg.PKCS11.SlotID > 0 {
		slotID := cfg.PKCS11.SlotID
		p11cfg.SlotID = &slotID
	}
	p, err := NewPKCS11Provider(p11cfg)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func newFileProvider(cfg *config.KeystoreConfig) (Provider, error) {
	keyDir := cfg.File.KeyDir
	if keyDir == "" {
		keyDir = "./keys"
	}
	p, err := NewFileProvider(keyDir)
	if err != nil {
		return nil, err
	}
	return p, nil
}
