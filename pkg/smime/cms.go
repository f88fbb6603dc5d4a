package smime

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
)

// CMS content types (RFC 5652, RFC 3274).
var (
	oidData           = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	oidEnvelopedData  = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 3}
	oidCompressedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 9}
)

// Algorithm identifiers (RFC 3370, RFC 2984, RFC 3058, RFC 3274).
var (
	oidRSAEncryption = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
	oidDESEDE3CBC    = asn1.ObjectIdentifier{1, 2, 840, 113549, 3, 7}
	oidRC2CBC        = asn1.ObjectIdentifier{1, 2, 840, 113549, 3, 2}
	oidCAST5CBC      = asn1.ObjectIdentifier{1, 2, 840, 113533, 7, 66, 10}
	oidIDEACBC       = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 188, 7, 1, 1, 2}
	oidZlib          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 3, 8}
)

type contentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,tag:0"`
}

type envelopedData struct {
	Version              int
	RecipientInfos       []keyTransRecipientInfo `asn1:"set"`
	EncryptedContentInfo encryptedContentInfo
}

type keyTransRecipientInfo struct {
	Version                int
	IssuerAndSerialNumber  issuerAndSerialNumber
	KeyEncryptionAlgorithm pkix.AlgorithmIdentifier
	EncryptedKey           []byte
}

type issuerAndSerialNumber struct {
	Issuer       asn1.RawValue
	SerialNumber *big.Int
}

type encryptedContentInfo struct {
	ContentType                asn1.ObjectIdentifier
	ContentEncryptionAlgorithm pkix.AlgorithmIdentifier
	EncryptedContent           asn1.RawValue `asn1:"tag:0,optional"`
}

type compressedData struct {
	Version              int
	CompressionAlgorithm pkix.AlgorithmIdentifier
	EncapContentInfo     encapsulatedContentInfo
}

type encapsulatedContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     []byte `asn1:"explicit,optional,tag:0"`
}

// rc2CBCParameter is RC2-CBC-Parameter. Version 58 selects a 128-bit
// effective key.
type rc2CBCParameter struct {
	Version int
	IV      []byte
}

type cast5CBCParameters struct {
	IV        []byte
	KeyLength int
}

type ideaCBCPar struct {
	IV []byte `asn1:"optional"`
}

var errTrailingData = errors.New("trailing data after CMS structure")

// marshalContentInfo wraps the DER encoding of inner in a ContentInfo.
func marshalContentInfo(contentType asn1.ObjectIdentifier, inner any) ([]byte, error) {
	der, err := asn1.Marshal(inner)
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(contentInfo{
		ContentType: contentType,
		Content:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: der},
	})
}

// unmarshalContentInfo parses a ContentInfo of the expected type into inner.
func unmarshalContentInfo(der []byte, contentType asn1.ObjectIdentifier, inner any) error {
	var ci contentInfo
	rest, err := asn1.Unmarshal(der, &ci)
	if err != nil {
		return err
	}
	if len(rest) > 0 {
		return errTrailingData
	}
	if !ci.ContentType.Equal(contentType) {
		return fmt.Errorf("content type %s, expected %s", ci.ContentType, contentType)
	}
	rest, err = asn1.Unmarshal(ci.Content.Bytes, inner)
	if err != nil {
		return err
	}
	if len(rest) > 0 {
		return errTrailingData
	}
	return nil
}

// encryptedContent returns the ciphertext of eci. A constructed encoding
// is the concatenation of its OCTET STRING segments.
func (eci encryptedContentInfo) encryptedContent() ([]byte, error) {
	raw := eci.EncryptedContent
	if !raw.IsCompound {
		return raw.Bytes, nil
	}
	var out []byte
	for rest := raw.Bytes; len(rest) > 0; {
		var segment []byte
		var err error
		if rest, err = asn1.Unmarshal(rest, &segment); err != nil {
			return nil, err
		}
		out = append(out, segment...)
	}
	return out, nil
}
