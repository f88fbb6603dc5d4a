// Copyright (c) 2025 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package mdn builds and parses AS2 Message Disposition Notifications
(RFC 3798, RFC 4130 section 7).

An MDN is a multipart/report entity with report-type
disposition-notification. The first part is a human-readable text/plain
explanation, the second a message/disposition-notification part:

	Reporting-UA: go-as2
	Original-Recipient: rfc822; globex
	Final-Recipient: rfc822; globex
	Original-Message-ID: <5d0f...@acme>
	Disposition: automatic-action/MDN-sent-automatically; processed
	Received-Content-MIC: qZk+NkcGgWq6PiVxeFDCbJzQ2J0=, sha1

# Building

	mdn := builder.Build(received, message.DispositionProcessed, local)
	err := builder.Package(ctx, mdn)

When the original sender asked for a signed MDN, Package signs the report
with the digest the sender requested. MDNs are never encrypted or
compressed.

# Parsing

	res, err := parser.Parse(inbound)
	if errors.Is(err, mdn.ErrNotMDN) {
	    // a regular AS2 message from res.From to res.To
	}
	// remove the signature layer, then
	err = mdn.ReadReport(res.MDN)
*/
package mdn
