// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package party provides the trading partner configuration for AS2.

A Party is the immutable record of one AS2 identity: its address (the
AS2-From / AS2-To value), the certificate aliases used for signing and
encryption, the preferred algorithms and the acknowledgment settings.
Parties are loaded once at startup and looked up by alias through a
Registry.

# Local and remote parties

The local party holds the aliases of our own keys:

	local := &party.Party{
	    Alias:            "acme",
	    Local:            true,
	    SignCertAlias:    "acme-sign",
	    EncryptCertAlias: "acme-enc",
	}

A remote party holds the partner's certificates and the agreement flags
that apply in both directions. When sending, the message is signed with the
local key and encrypted for the partner certificate. When receiving, the
signature is checked against the partner certificate and the message is
decrypted with the local key. The Sign and Encrypt flags of the partner are
also the inbound requirements.

	partner := &party.Party{
	    Alias:               "globex",
	    URL:                 "https://as2.globex.example.com/as2",
	    SignCertAlias:       "globex-sign",
	    EncryptCertAlias:    "globex-enc",
	    Sign:                true,
	    Encrypt:             true,
	    SignDigestAlgorithm: "sha1",
	    EncryptAlgorithm:    "3des",
	    MDNMode:             party.MDNSync,
	    RequestSignedMDN:    true,
	}

# Registry

	reg := party.NewRegistry()
	reg.Add(local)
	reg.Add(partner)
	p, err := reg.Get("GLOBEX") // aliases are case-insensitive
*/
package party
