//go:build !pkcs11

package keystore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sirosfoundation/go-as2/internal/config"
)

func TestPKCS11NotCompiledIn(t *testing.T) {
	_, err := NewProvider(&config.KeystoreConfig{
		Mode:   "pkcs11",
		PKCS11: config.PKCS11Config{ModulePath: "/usr/lib/softhsm/libsofthsm2.so"},
	})
	assert.ErrorIs(t, err, ErrPKCS11NotSupported)

	var p PKCS11Provider
	_, err = p.GetCertificate(context.Background(), "globex")
	assert.ErrorIs(t, err, ErrPKCS11NotSupported)
	_, err = p.GetPrivateKey(context.Background(), "globex", "")
	assert.ErrorIs(t, err, ErrPKCS11NotSupported)
	assert.NoError(t, p.Close())
}
