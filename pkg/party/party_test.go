package party

import (
	"errors"
	"testing"

	"github.com/sirosfoundation/go-as2/pkg/message"
)

func partner() *Party {
	return &Party{
		Alias:               "globex",
		URL:                 "https://as2.globex.example.com/as2",
		SignCertAlias:       "globex-sign",
		EncryptCertAlias:    "globex-enc",
		Sign:                true,
		Encrypt:             true,
		SignDigestAlgorithm: "SHA-1",
		EncryptAlgorithm:    "des-ede3-cbc",
		MDNMode:             "SYNC",
		RequestSignedMDN:    true,
	}
}

func local() *Party {
	return &Party{
		Alias:             "acme",
		Local:             true,
		SignCertAlias:     "acme-sign",
		SignKeyPassphrase: "secret",
		EncryptCertAlias:  "acme-enc",
	}
}

func TestParty_ValidateNormalizes(t *testing.T) {
	p := partner()
	if err := p.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.SignDigestAlgorithm != message.DigestSHA1 {
		t.Errorf("expected digest %q, got %q", message.DigestSHA1, p.SignDigestAlgorithm)
	}
	if p.EncryptAlgorithm != message.CipherTripleDES {
		t.Errorf("expected cipher %q, got %q", message.CipherTripleDES, p.EncryptAlgorithm)
	}
	if p.MDNMode != MDNSync {
		t.Errorf("expected mdn mode sync, got %q", p.MDNMode)
	}
	if p.MDNSigningAlgorithm != message.DigestSHA1 {
		t.Errorf("expected mdn signing algorithm to default to the sign digest, got %q", p.MDNSigningAlgorithm)
	}
}

func TestParty_ValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Party)
	}{
		{"missing alias", func(p *Party) { p.Alias = " " }},
		{"unknown digest", func(p *Party) { p.SignDigestAlgorithm = "sha-512" }},
		{"md5 signatures", func(p *Party) { p.SignDigestAlgorithm = "md5" }},
		{"unknown cipher", func(p *Party) { p.EncryptAlgorithm = "aes256" }},
		{"unknown compression", func(p *Party) { p.Compress = true; p.CompressionAlgorithm = "lz4" }},
		{"unknown mdn mode", func(p *Party) { p.MDNMode = "sometimes" }},
		{"sign without certificate", func(p *Party) { p.SignCertAlias = "" }},
		{"encrypt without certificate", func(p *Party) { p.EncryptCertAlias = "" }},
		{"mdn without url", func(p *Party) { p.URL = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := partner()
			tt.mutate(p)
			err := p.Validate()
			if !errors.Is(err, message.ErrConfiguration) {
				t.Errorf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestParty_OutboundSecurity(t *testing.T) {
	p := partner()
	if err := p.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sec := p.OutboundSecurity(local())
	if !sec.Sign || !sec.Encrypt || sec.Compress {
		t.Errorf("unexpected flags: %+v", sec)
	}
	if sec.SignCertAlias != "acme-sign" || sec.SignKeyPassphrase != "secret" {
		t.Errorf("expected local signing key, got %q", sec.SignCertAlias)
	}
	if sec.EncryptCertAlias != "globex-enc" {
		t.Errorf("expected partner encryption certificate, got %q", sec.EncryptCertAlias)
	}
}

func TestParty_MDNRequest(t *testing.T) {
	p := partner()
	p.MDNMode = MDNAsync
	p.MDNSigningAlgorithm = "md5"
	if err := p.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := p.MDNRequest(local(), "https://acme.example.com/as2/mdn")
	if !req.Requested || !req.Signed {
		t.Errorf("expected signed mdn request, got %+v", req)
	}
	if !req.Async() {
		t.Error("expected async request")
	}
	if req.MICAlgorithm != message.DigestMD5 {
		t.Errorf("expected md5, got %q", req.MICAlgorithm)
	}
	if req.ReturnAddress != "acme@as2" {
		t.Errorf("unexpected return address %q", req.ReturnAddress)
	}

	p.MDNMode = MDNNone
	if p.MDNRequest(local(), "").Requested {
		t.Error("expected no mdn request")
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(local())
	reg.Add(partner())

	p, err := reg.Get("GLOBEX")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Alias != "globex" {
		t.Errorf("expected globex, got %q", p.Alias)
	}

	if _, err := reg.Get("initech"); !errors.Is(err, message.ErrConfiguration) {
		t.Errorf("expected configuration error for unknown party, got %v", err)
	}

	l, err := reg.Local()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Alias != "acme" {
		t.Errorf("expected local party acme, got %q", l.Alias)
	}

	all := reg.All()
	if len(all) != 2 || all[0].Alias != "acme" || all[1].Alias != "globex" {
		t.Errorf("unexpected parties: %v", all)
	}

	if _, err := NewRegistry(partner()).Local(); err == nil {
		t.Error("expected error without local party")
	}
}
