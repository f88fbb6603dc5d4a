// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package security implements the AS2 security pipeline.

The pipeline applies and removes the security layers of an AS2 message in
a fixed order:

	outbound: compress -> sign -> encrypt
	inbound:  decrypt  -> verify -> decompress

Compression runs before signing so the signature covers the bytes that are
delivered, and signing runs before encryption so the signature can be
checked by the recipient only. Inbound layers are detected from the content
type of the entity, never from configuration: an entity is decrypted only
if it declares itself enveloped.

# Capabilities

The pipeline does not implement cryptography or key storage itself. It is
constructed with a Crypto capability (see package smime) and a
CertificateManager (see internal/keystore):

	pipeline, err := security.NewPipeline(security.Config{
	    Crypto:       smime.New(smime.Config{}),
	    Certificates: keystore,
	    Logger:       logger,
	})

# Outbound

	if err := pipeline.ValidateOutbound(msg.Security); err != nil {
	    return err // unknown algorithm: fails before any I/O
	}
	err := pipeline.Secure(ctx, msg)

# Inbound

	layers, err := pipeline.Unsecure(ctx, msg, security.Policy{
	    RequireEncryption: partner.Encrypt,
	    RequireSignature:  partner.Sign,
	    DecryptCertAlias:  local.EncryptCertAlias,
	    VerifyCertAlias:   partner.SignCertAlias,
	})

A message that lacks a layer the policy requires is rejected with
message.ErrPolicyViolation. A signature made with a certificate other than
the one on file for the sender is rejected with message.ErrIntegrity even
if the signature itself is valid.

Neither Secure nor Unsecure leaves a partially processed entity behind:
msg.Data is replaced only after every layer succeeded.

# Certificate validation

An optional CertificateValidator is applied to the signer certificate after
verification. DefaultCertificateValidator checks the chain against a root
pool; ValidityValidator only checks the validity period, which suits the
self-signed certificates commonly exchanged between AS2 partners.
*/
package security
