// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package goas2 implements AS2 (Applicability Statement 2, RFC 4130) for
exchanging business documents over HTTP with S/MIME security and signed
receipts.

# Overview

go-as2 sends files to trading partners and receives files from them. Each
outbound message may be compressed, signed and encrypted; the receiver
reverses those layers, delivers the payload and acknowledges it with a
Message Disposition Notification (MDN). The MDN carries the Message
Integrity Check (MIC) of the original content so the sender can prove
the partner received exactly what was sent.

# Specifications Implemented

  - RFC 4130: MIME-Based Secure Peer-to-Peer Business Data Interchange Using HTTP (AS2)
  - RFC 3798 / RFC 8098: Message Disposition Notification
  - RFC 5652 / RFC 5751: CMS and S/MIME 3.2
  - RFC 3274: Compressed Data Content Type for CMS

# Package Structure

	github.com/sirosfoundation/go-as2/pkg/as2         - Protocol controller (send, receive, MDN correlation)
	github.com/sirosfoundation/go-as2/pkg/mdn         - MDN builder and parser
	github.com/sirosfoundation/go-as2/pkg/security    - Compress, sign and encrypt pipeline
	github.com/sirosfoundation/go-as2/pkg/smime       - S/MIME and CMS primitives
	github.com/sirosfoundation/go-as2/pkg/compression - zlib compression
	github.com/sirosfoundation/go-as2/pkg/mime        - MIME entity model
	github.com/sirosfoundation/go-as2/pkg/message     - Messages, headers, MIC and errors
	github.com/sirosfoundation/go-as2/pkg/party       - Trading partner registry
	github.com/sirosfoundation/go-as2/pkg/reliability - Asynchronous MDN monitor
	github.com/sirosfoundation/go-as2/pkg/transport   - HTTP client and inbound handler

The as2d daemon in cmd/as2d wires these packages together with a file or
PKCS#11 keystore, a MongoDB audit trail and an outbox sender.

# Quick Start

	ctrl, err := as2.NewController(as2.Config{
	    Parties:     parties,
	    Pipeline:    pipeline,
	    Monitor:     reliability.NewMonitor(reliability.Config{}),
	    Transport:   transport.NewClient(nil),
	    Files:       workspace,
	    DeliveryDir: "/var/lib/as2/inbox",
	})
	res, err := ctrl.Send(ctx, &message.TransferContext{
	    FullTarget: "/var/lib/as2/outbox/acme/invoice.xml",
	    To:         "acme",
	})

See examples/basic for a complete in-process exchange.

# Security Features

  - Signing: detached CMS SignedData with SHA-1; MIC values with SHA-1 or MD5
  - Encryption: 3DES, CAST5, RC2 and IDEA content ciphers with RSA key transport
  - Compression: zlib (RFC 3274)
  - Certificates: validity checks on signer certificates

# License

BSD-2-Clause License
*/
package goas2
