// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package transport carries AS2 messages over HTTP(S).

# TLS Configuration

TLS 1.3 is preferred with fallback to TLS 1.2:

	config := transport.DefaultHTTPSConfig()
	// MinTLSVersion: TLS 1.2
	// MaxTLSVersion: TLS 1.3

For TLS 1.2 only ECDHE suites with AES-GCM are offered.

# Client

Client posts a secured message with its AS2 headers and returns the
response, which carries the synchronous MDN when one was requested:

	client := transport.NewClient(transport.DefaultHTTPSConfig())
	resp, err := client.Send(ctx, partner.URL, msg.Headers, msg.Data.Body)

Connection failures and non-2xx statuses wrap message.ErrTransport.

# Handler

Handler adapts HTTP requests to the controller. It spools the body to a
work file, builds a message.TransferContext and writes the Reply:

	http.Handle("/as2", transport.NewHandler(transport.HandlerConfig{
	    Receiver: controller,
	    Spool:    workspace.CreateWorkFile,
	}))

# References

  - RFC 4130 AS2: https://datatracker.ietf.org/doc/html/rfc4130
  - TLS 1.3 RFC 8446: https://datatracker.ietf.org/doc/html/rfc8446
*/
package transport
