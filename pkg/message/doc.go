// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package message provides the in-memory model of AS2 transfers.

A transfer unit is either a primary [Message] carrying a business payload or
an [MDN] (Message Disposition Notification) acknowledging one. MDN does not
specialise Message through behaviour; it composes the base fields and adds
the disposition fields. Use [NewMDN] to acknowledge an outbound message and
[MDNFromMessage] to interpret an inbound one.

# Messages

	msg := message.New("acme", "globex",
	    message.WithSecurity(message.Security{
	        Sign:                true,
	        SignCertAlias:       "acme-sign",
	        SignDigestAlgorithm: message.DigestSHA1,
	    }),
	    message.WithSubject("invoice 4711"),
	)
	msg.Data = mime.NewEntity("application/octet-stream", payload)

# Headers

[Headers] keeps insertion order and compares names case-insensitively, as
HTTP and MIME do on the wire:

	h.Set("AS2-From", "acme")
	h.Get("as2-from") // "acme"

# Errors

Every failure surfaced by the AS2 components wraps one of the error kinds
[ErrConfiguration], [ErrPolicyViolation], [ErrIntegrity], [ErrCorrelation]
or [ErrTransport]. Classify with errors.Is or [KindOf].

# References

  - RFC 4130 (AS2): https://datatracker.ietf.org/doc/html/rfc4130
  - RFC 3798 (MDN): https://datatracker.ietf.org/doc/html/rfc3798
*/
package message
