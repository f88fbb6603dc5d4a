// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package mime handles the MIME entities that make up AS2 messages.

An AS2 payload is a single MIME entity. Each security layer wraps the
previous entity in a new one: application/pkcs7-mime for compressed and
enveloped data, multipart/signed for signatures, multipart/report for MDNs.

# Entities

	e := mime.NewEntity("application/edi-x12", payload)
	e.SetFilename("invoice.edi")

The canonical form returned by [Entity.Bytes] writes header fields sorted by
name, exactly as mime/multipart does when it writes a part, so a signed part
can be re-serialised byte-for-byte after parsing:

	Content-Disposition: attachment; filename="invoice.edi"
	Content-Transfer-Encoding: binary
	Content-Type: application/edi-x12

	ISA*00*...

# Multipart Entities

	report, err := mime.NewMultipart("report",
	    map[string]string{"report-type": "disposition-notification"},
	    textPart, dispositionPart)

	parts, err := report.Parts()

# References

  - MIME: https://datatracker.ietf.org/doc/html/rfc2045
  - MIME Multipart: https://datatracker.ietf.org/doc/html/rfc2046
  - S/MIME multipart/signed: https://datatracker.ietf.org/doc/html/rfc1847
*/
package mime
