// Copyright (c) 2025 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package smime implements the cryptographic layers of an AS2 message.

A Provider signs, verifies, encrypts, decrypts, compresses and decompresses
MIME entities and calculates Message Integrity Check (MIC) values. The
layers are recognised from their content types:

	application/pkcs7-mime; smime-type=enveloped-data   encrypted
	application/pkcs7-mime; smime-type=compressed-data  compressed
	multipart/signed                                    signed

The application/x-pkcs7-* aliases are accepted when detecting.

# Layer encoding

Every layer is DER-encoded CMS (RFC 5652) in a ContentInfo. A signed
entity is a two-part multipart/signed whose base64
application/pkcs7-signature part holds a detached SignedData. Enveloped
entities carry EnvelopedData with one key-transport recipient identified
by issuer and serial number. Compressed entities carry CompressedData
(RFC 3274). BER indefinite-length input is rejected by the enveloped and
compressed decoders.

# Algorithms

Signatures use SHA-1 with the signer's RSA or ECDSA key. MD5 is accepted
for MIC values but not for signatures. Content encryption uses CBC mode
with one of 3DES, CAST5, RC2 (128-bit effective key) or IDEA and a random
content key transported with RSA PKCS#1 v1.5. Compression is zlib.

# Usage

	p := smime.New(smime.Config{})

	signed, err := p.Sign(entity, cert, key, message.DigestSHA1)
	enveloped, err := p.Encrypt(signed, partnerCert, message.CipherTripleDES)

	inner, err := p.Decrypt(enveloped, cert, key)
	content, err := p.Verify(inner, partnerCert)

	mic, err := smime.CalculateMIC(bytes.NewReader(payload), message.DigestSHA1)
*/
package smime
