// Copyright (c) 2025 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package message

import (
	"fmt"
	"strings"
)

// Digest algorithm identifiers. The same names appear in MIC values and in
// the micalg parameters of AS2 headers.
const (
	DigestSHA1 = "sha1"
	DigestMD5  = "md5"
)

// Content encryption algorithm identifiers.
const (
	CipherTripleDES = "3des"
	CipherCAST5     = "cast5"
	CipherRC2       = "rc2"
	CipherIDEA      = "idea"
)

// Compression algorithm identifiers.
const (
	CompressionZlib = "zlib"
)

var digestAliases = map[string]string{
	"sha1":  DigestSHA1,
	"sha-1": DigestSHA1,
	"md5":   DigestMD5,
}

var cipherAliases = map[string]string{
	"3des":         CipherTripleDES,
	"des-ede3":     CipherTripleDES,
	"des-ede3-cbc": CipherTripleDES,
	"tripledes":    CipherTripleDES,
	"cast5":        CipherCAST5,
	"cast5-cbc":    CipherCAST5,
	"rc2":          CipherRC2,
	"rc2-cbc":      CipherRC2,
	"idea":         CipherIDEA,
	"idea-cbc":     CipherIDEA,
}

// NormalizeDigest maps a digest identifier to its canonical name.
func NormalizeDigest(name string) (string, error) {
	if canonical, ok := digestAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return canonical, nil
	}
	return "", fmt.Errorf("%w: unknown digest algorithm %q", ErrConfiguration, name)
}

// NormalizeSignatureDigest is NormalizeDigest restricted to the digests
// CMS signatures are produced with. MD5 remains valid for MIC values only.
func NormalizeSignatureDigest(name string) (string, error) {
	alg, err := NormalizeDigest(name)
	if err != nil {
		return "", err
	}
	if alg == DigestMD5 {
		return "", fmt.Errorf("%w: %s signatures are not supported", ErrConfiguration, alg)
	}
	return alg, nil
}

// SignatureDigest returns the digest a receipt requested with micalg is
// signed with, falling back to SHA-1.
func SignatureDigest(micalg string) string {
	if alg, err := NormalizeSignatureDigest(micalg); err == nil {
		return alg
	}
	return DigestSHA1
}

// NormalizeCipher maps a cipher identifier to its canonical name.
func NormalizeCipher(name string) (string, error) {
	if canonical, ok := cipherAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return canonical, nil
	}
	return "", fmt.Errorf("%w: unknown encryption algorithm %q", ErrConfiguration, name)
}

// NormalizeCompression maps a compression identifier to its canonical name.
// An empty name selects zlib, the only codec AS2 defines.
func NormalizeCompression(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "zlib", "deflate":
		return CompressionZlib, nil
	}
	return "", fmt.Errorf("%w: unknown compression algorithm %q", ErrConfiguration, name)
}
