// Package party implements AS2 trading partner configuration
package party

import (
	"fmt"
	"strings"

	"github.com/sirosfoundation/go-as2/pkg/message"
)

// MDNMode selects how a partner acknowledges messages
type MDNMode string

const (
	// MDNNone requests no acknowledgment
	MDNNone MDNMode = "none"
	// MDNSync requests the MDN inline on the HTTP response
	MDNSync MDNMode = "sync"
	// MDNAsync requests the MDN on a separate connection
	MDNAsync MDNMode = "async"
)

// ParseMDNMode parses an MDN mode. Empty selects MDNNone.
func ParseMDNMode(s string) (MDNMode, error) {
	switch MDNMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", MDNNone:
		return MDNNone, nil
	case MDNSync:
		return MDNSync, nil
	case MDNAsync:
		return MDNAsync, nil
	}
	return "", fmt.Errorf("%w: unknown mdn mode %q", message.ErrConfiguration, s)
}

// Party is a configured AS2 identity
type Party struct {
	// Alias is the AS2 identifier carried in AS2-From / AS2-To
	Alias string
	// Local marks our own identity
	Local bool
	// URL is the partner's inbound endpoint
	URL string
	// Email is the From header value; defaults to <alias>@as2
	Email string

	SignCertAlias     string
	SignKeyPassphrase string

	EncryptCertAlias     string
	EncryptKeyPassphrase string

	Sign     bool
	Encrypt  bool
	Compress bool

	SignDigestAlgorithm  string
	EncryptAlgorithm     string
	CompressionAlgorithm string

	// ContentType of outbound payloads; defaults to application/octet-stream
	ContentType string

	MDNMode             MDNMode
	RequestSignedMDN    bool
	MDNSigningAlgorithm string

	// Subject of outbound messages
	Subject string
}

// Validate checks the party for missing aliases and unknown algorithm
// identifiers. It normalizes algorithm names in place.
func (p *Party) Validate() error {
	if strings.TrimSpace(p.Alias) == "" {
		return fmt.Errorf("%w: party alias is required", message.ErrConfiguration)
	}

	if p.Sign || p.Local {
		if p.SignCertAlias == "" {
			return fmt.Errorf("%w: party %s: signing certificate alias is required", message.ErrConfiguration, p.Alias)
		}
	}
	if p.Encrypt || p.Local {
		if p.EncryptCertAlias == "" {
			return fmt.Errorf("%w: party %s: encryption certificate alias is required", message.ErrConfiguration, p.Alias)
		}
	}

	var err error
	if p.SignDigestAlgorithm != "" || p.Sign {
		if p.SignDigestAlgorithm, err = message.NormalizeSignatureDigest(defaultString(p.SignDigestAlgorithm, message.DigestSHA1)); err != nil {
			return fmt.Errorf("party %s: %w", p.Alias, err)
		}
	}
	if p.EncryptAlgorithm != "" || p.Encrypt {
		if p.EncryptAlgorithm, err = message.NormalizeCipher(defaultString(p.EncryptAlgorithm, message.CipherTripleDES)); err != nil {
			return fmt.Errorf("party %s: %w", p.Alias, err)
		}
	}
	if p.CompressionAlgorithm != "" || p.Compress {
		if p.CompressionAlgorithm, err = message.NormalizeCompression(p.CompressionAlgorithm); err != nil {
			return fmt.Errorf("party %s: %w", p.Alias, err)
		}
	}
	if p.MDNSigningAlgorithm != "" || p.RequestSignedMDN {
		if p.MDNSigningAlgorithm, err = message.NormalizeDigest(defaultString(p.MDNSigningAlgorithm, p.micAlgorithm())); err != nil {
			return fmt.Errorf("party %s: %w", p.Alias, err)
		}
	}
	if p.MDNMode, err = ParseMDNMode(string(p.MDNMode)); err != nil {
		return fmt.Errorf("party %s: %w", p.Alias, err)
	}
	if p.MDNMode != MDNNone && !p.Local && p.URL == "" {
		return fmt.Errorf("%w: party %s: url is required", message.ErrConfiguration, p.Alias)
	}
	return nil
}

// FromEmail returns the From header value for messages sent by p.
func (p *Party) FromEmail() string {
	if p.Email != "" {
		return p.Email
	}
	return message.DefaultSenderEmail(p.Alias)
}

// MICAlgorithm returns the digest used for the MIC of messages sent to p.
func (p *Party) MICAlgorithm() string {
	if p.MDNSigningAlgorithm != "" {
		return p.MDNSigningAlgorithm
	}
	return p.micAlgorithm()
}

func (p *Party) micAlgorithm() string {
	if p.SignDigestAlgorithm != "" {
		return p.SignDigestAlgorithm
	}
	return message.DigestSHA1
}

// OutboundSecurity returns the security settings for a message sent from
// local to p: signed with the local key, encrypted for p's certificate.
func (p *Party) OutboundSecurity(local *Party) message.Security {
	return message.Security{
		Encrypt:              p.Encrypt,
		Sign:                 p.Sign,
		Compress:             p.Compress,
		SignCertAlias:        local.SignCertAlias,
		SignKeyPassphrase:    local.SignKeyPassphrase,
		SignDigestAlgorithm:  p.SignDigestAlgorithm,
		EncryptCertAlias:     p.EncryptCertAlias,
		EncryptAlgorithm:     p.EncryptAlgorithm,
		CompressionAlgorithm: p.CompressionAlgorithm,
	}
}

// MDNRequest returns the acknowledgment to request from p. asyncURL is our
// endpoint for asynchronous MDNs.
func (p *Party) MDNRequest(local *Party, asyncURL string) message.MDNRequest {
	if p.MDNMode == MDNNone || p.MDNMode == "" {
		return message.MDNRequest{}
	}
	req := message.MDNRequest{
		Requested:     true,
		ReturnAddress: local.FromEmail(),
		Signed:        p.RequestSignedMDN,
		MICAlgorithm:  p.MICAlgorithm(),
	}
	if p.MDNMode == MDNAsync {
		req.DeliveryURL = asyncURL
	}
	return req
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
