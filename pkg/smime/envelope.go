package smime

import (
	"bytes"
	"crypto"
	"crypto/cipher"
	"crypto/des"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"io"

	idea "github.com/dgryski/go-idea"
	rc2 "github.com/dgryski/go-rc2"
	"golang.org/x/crypto/cast5"

	"github.com/sirosfoundation/go-as2/pkg/message"
	"github.com/sirosfoundation/go-as2/pkg/mime"
)

// contentCipher describes a CBC content-encryption algorithm and how its
// AlgorithmIdentifier parameters carry the IV. effectiveBits only matters
// for RC2.
type contentCipher struct {
	oid      asn1.ObjectIdentifier
	keySize  int
	newBlock func(key []byte, effectiveBits int) (cipher.Block, error)
	params   func(iv []byte) any
	parse    func(der []byte) (iv []byte, effectiveBits int, err error)
}

var contentCiphers = map[string]contentCipher{
	message.CipherTripleDES: {
		oid:     oidDESEDE3CBC,
		keySize: 24,
		newBlock: func(key []byte, _ int) (cipher.Block, error) {
			return des.NewTripleDESCipher(key)
		},
		params: func(iv []byte) any { return iv },
		parse: func(der []byte) ([]byte, int, error) {
			var iv []byte
			_, err := asn1.Unmarshal(der, &iv)
			return iv, 0, err
		},
	},
	message.CipherRC2: {
		oid:     oidRC2CBC,
		keySize: 16,
		newBlock: func(key []byte, effectiveBits int) (cipher.Block, error) {
			return rc2.New(key, effectiveBits)
		},
		params: func(iv []byte) any { return rc2CBCParameter{Version: 58, IV: iv} },
		parse: func(der []byte) ([]byte, int, error) {
			var p rc2CBCParameter
			if _, err := asn1.Unmarshal(der, &p); err != nil {
				return nil, 0, err
			}
			bits, err := rc2EffectiveBits(p.Version)
			return p.IV, bits, err
		},
	},
	message.CipherCAST5: {
		oid:     oidCAST5CBC,
		keySize: 16,
		newBlock: func(key []byte, _ int) (cipher.Block, error) {
			return cast5.NewCipher(key)
		},
		params: func(iv []byte) any { return cast5CBCParameters{IV: iv, KeyLength: 128} },
		parse: func(der []byte) ([]byte, int, error) {
			var p cast5CBCParameters
			if _, err := asn1.Unmarshal(der, &p); err != nil {
				return nil, 0, err
			}
			if p.KeyLength != 128 {
				return nil, 0, fmt.Errorf("unsupported CAST5 key length %d", p.KeyLength)
			}
			return p.IV, 0, nil
		},
	},
	message.CipherIDEA: {
		oid:     oidIDEACBC,
		keySize: 16,
		newBlock: func(key []byte, _ int) (cipher.Block, error) {
			return idea.NewCipher(key)
		},
		params: func(iv []byte) any { return ideaCBCPar{IV: iv} },
		parse: func(der []byte) ([]byte, int, error) {
			var p ideaCBCPar
			_, err := asn1.Unmarshal(der, &p)
			return p.IV, 0, err
		},
	},
}

// rc2EffectiveBits maps an RC2 parameter version to the effective key
// length (RFC 8018, appendix B.2.3).
func rc2EffectiveBits(version int) (int, error) {
	switch {
	case version == 160:
		return 40, nil
	case version == 120:
		return 64, nil
	case version == 58:
		return 128, nil
	case version >= 256:
		return version, nil
	}
	return 0, fmt.Errorf("unsupported RC2 parameter version %d", version)
}

func cipherByOID(oid asn1.ObjectIdentifier) (string, contentCipher, bool) {
	for name, cc := range contentCiphers {
		if cc.oid.Equal(oid) {
			return name, cc, true
		}
	}
	return "", contentCipher{}, false
}

// Encrypt envelopes e for the holder of cert as CMS EnvelopedData. The
// content is encrypted in CBC mode with a random key; the key is
// transported with the RSA public key of cert.
func (p *Provider) Encrypt(e *mime.Entity, cert *x509.Certificate, algorithm string) (*mime.Entity, error) {
	alg, err := message.NormalizeCipher(algorithm)
	if err != nil {
		return nil, err
	}
	if cert == nil {
		return nil, fmt.Errorf("%w: encryption certificate is required", message.ErrConfiguration)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: encryption certificate does not contain an RSA public key", message.ErrConfiguration)
	}
	cc := contentCiphers[alg]

	key := make([]byte, cc.keySize)
	if _, err := io.ReadFull(p.rand, key); err != nil {
		return nil, fmt.Errorf("failed to generate content key: %w", err)
	}
	block, err := cc.newBlock(key, cc.keySize*8)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s cipher: %w", alg, err)
	}
	iv := make([]byte, block.BlockSize())
	if _, err := io.ReadFull(p.rand, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	plaintext := pkcs7Pad(e.Bytes(), block.BlockSize())
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, plaintext)

	encryptedKey, err := rsa.EncryptPKCS1v15(p.rand, pub, key)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt content key: %w", err)
	}

	paramsDER, err := asn1.Marshal(cc.params(iv))
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s parameters: %w", alg, err)
	}

	der, err := marshalContentInfo(oidEnvelopedData, envelopedData{
		Version: 0,
		RecipientInfos: []keyTransRecipientInfo{{
			Version: 0,
			IssuerAndSerialNumber: issuerAndSerialNumber{
				Issuer:       asn1.RawValue{FullBytes: cert.RawIssuer},
				SerialNumber: cert.SerialNumber,
			},
			KeyEncryptionAlgorithm: pkix.AlgorithmIdentifier{Algorithm: oidRSAEncryption, Parameters: asn1.NullRawValue},
			EncryptedKey:           encryptedKey,
		}},
		EncryptedContentInfo: encryptedContentInfo{
			ContentType: oidData,
			ContentEncryptionAlgorithm: pkix.AlgorithmIdentifier{
				Algorithm:  cc.oid,
				Parameters: asn1.RawValue{FullBytes: paramsDER},
			},
			EncryptedContent: asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, Bytes: ciphertext},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode enveloped data: %w", err)
	}
	return pkcs7MimeEntity(SMIMETypeEnveloped, "smime.p7m", der), nil
}

// Decrypt opens an enveloped entity addressed to cert using key and returns
// the inner entity.
func (p *Provider) Decrypt(e *mime.Entity, cert *x509.Certificate, key crypto.Decrypter) (*mime.Entity, error) {
	if cert == nil || key == nil {
		return nil, fmt.Errorf("%w: decryption certificate and key are required", message.ErrConfiguration)
	}
	if !p.IsEncrypted(e) {
		return nil, fmt.Errorf("%w: entity is not enveloped data", message.ErrIntegrity)
	}

	body, err := e.DecodedBody()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", message.ErrIntegrity, err)
	}
	var ed envelopedData
	if err := unmarshalContentInfo(body, oidEnvelopedData, &ed); err != nil {
		return nil, fmt.Errorf("%w: malformed enveloped data: %v", message.ErrIntegrity, err)
	}

	ri, ok := recipientFor(ed.RecipientInfos, cert)
	if !ok {
		return nil, fmt.Errorf("%w: message is not encrypted for %q", message.ErrIntegrity, cert.Subject.CommonName)
	}
	if !ri.KeyEncryptionAlgorithm.Algorithm.Equal(oidRSAEncryption) {
		return nil, fmt.Errorf("%w: unsupported key transport algorithm %s", message.ErrIntegrity, ri.KeyEncryptionAlgorithm.Algorithm)
	}

	eci := ed.EncryptedContentInfo
	alg, cc, ok := cipherByOID(eci.ContentEncryptionAlgorithm.Algorithm)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported content encryption algorithm %s", message.ErrIntegrity, eci.ContentEncryptionAlgorithm.Algorithm)
	}
	iv, effectiveBits, err := cc.parse(eci.ContentEncryptionAlgorithm.Parameters.FullBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed %s parameters: %v", message.ErrIntegrity, alg, err)
	}
	ciphertext, err := eci.encryptedContent()
	if err != nil {
		return nil, fmt.Errorf("%w: malformed encrypted content: %v", message.ErrIntegrity, err)
	}

	contentKey, err := key.Decrypt(p.rand, ri.EncryptedKey, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decrypt content key: %v", message.ErrIntegrity, err)
	}
	if len(contentKey) != cc.keySize {
		return nil, fmt.Errorf("%w: content key has %d bytes, expected %d", message.ErrIntegrity, len(contentKey), cc.keySize)
	}

	block, err := cc.newBlock(contentKey, effectiveBits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", message.ErrIntegrity, err)
	}
	bs := block.BlockSize()
	if len(iv) != bs || len(ciphertext) == 0 || len(ciphertext)%bs != 0 {
		return nil, fmt.Errorf("%w: invalid ciphertext length", message.ErrIntegrity)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	plaintext, err = pkcs7Unpad(plaintext, bs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", message.ErrIntegrity, err)
	}

	inner, err := mime.ParseEntity(plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", message.ErrIntegrity, err)
	}
	return inner, nil
}

func recipientFor(infos []keyTransRecipientInfo, cert *x509.Certificate) (keyTransRecipientInfo, bool) {
	for _, ri := range infos {
		ias := ri.IssuerAndSerialNumber
		if ias.SerialNumber != nil && ias.SerialNumber.Cmp(cert.SerialNumber) == 0 &&
			bytes.Equal(ias.Issuer.FullBytes, cert.RawIssuer) {
			return ri, true
		}
	}
	return keyTransRecipientInfo{}, false
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	out := make([]byte, len(data), len(data)+n)
	copy(out, data)
	return append(out, bytes.Repeat([]byte{byte(n)}, n)...)
}

var errPadding = errors.New("invalid padding")

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, errPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, errPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errPadding
		}
	}
	return data[:len(data)-n], nil
}
