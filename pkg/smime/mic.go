package smime

import (
	"crypto"
	_ "crypto/md5"  // registers crypto.MD5
	_ "crypto/sha1" // registers crypto.SHA1
	"encoding/base64"
	"fmt"
	"io"

	"github.com/sirosfoundation/go-as2/pkg/message"
)

var digestHashes = map[string]crypto.Hash{
	message.DigestSHA1: crypto.SHA1,
	message.DigestMD5:  crypto.MD5,
}

func digestHash(name string) (string, crypto.Hash, error) {
	alg, err := message.NormalizeDigest(name)
	if err != nil {
		return "", 0, err
	}
	return alg, digestHashes[alg], nil
}

// CalculateMIC digests everything read from r and returns the MIC value
// "<base64 digest>, <algorithm>".
func CalculateMIC(r io.Reader, digest string) (string, error) {
	alg, hash, err := digestHash(digest)
	if err != nil {
		return "", err
	}
	h := hash.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to read MIC input: %w", err)
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)) + ", " + alg, nil
}

// CalculateMIC is the Provider form of the package-level CalculateMIC.
func (p *Provider) CalculateMIC(r io.Reader, digest string) (string, error) {
	return CalculateMIC(r, digest)
}
