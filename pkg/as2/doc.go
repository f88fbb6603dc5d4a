// Copyright (c) 2025 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package as2 is the protocol controller: the send and receive entry points
that move a transfer through the security pipeline, the MDN builder and
parser, the MDN monitor and the transport.

# Controller Creation

	ctrl, err := as2.NewController(as2.Config{
	    Parties:     registry,
	    Pipeline:    pipeline,
	    Monitor:     monitor,
	    Transport:   transport.NewClient(nil),
	    Files:       workspace,
	    DeliveryDir: "/var/lib/as2/inbox",
	    AsyncMDNURL: "https://as2.example.com/as2/mdn",
	})

# Sending

Send reads the file named by the transfer context, applies the partner's
security settings and posts it:

	res, err := ctrl.Send(ctx, &message.TransferContext{
	    FullTarget: "/var/lib/as2/outbox/acme/invoice.xml",
	    To:         "acme",
	})

A synchronous MDN is validated in memory before Send returns. For an
asynchronous MDN the message is registered with the monitor under its MIC
before it leaves, and the MDN is matched when it arrives on Receive.

# Receiving

Controller implements transport.Receiver. Receive removes the security
layers, writes the payload to <DeliveryDir>/<sender alias>/ and returns the
synchronous MDN if one was requested. The MDN is packaged before the
payload is delivered. Asynchronous MDNs are only posted to the host of the
sender's configured URL; any other Receipt-Delivery-Option is answered
synchronously. Inbound MDNs are correlated with the monitor and never
delivered.

# Events

Every state change of a transfer is reported to Config.EventHandler, which
the daemon uses to keep the audit trail.
*/
package as2
