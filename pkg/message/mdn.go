// Copyright (c) 2025 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package message

import (
	"fmt"
	"strings"
)

// Disposition status values.
const (
	DispositionProcessed = "automatic-action/MDN-sent-automatically; processed"
	dispositionErrorFmt  = "automatic-action/MDN-sent-automatically; processed/error: %s"
)

// Disposition error modifiers reported when the payload could not be
// accepted.
const (
	DispositionDecryptionFailed     = "decryption-failed"
	DispositionAuthenticationFailed = "authentication-failed"
	DispositionIntegrityCheckFailed = "integrity-check-failed"
	DispositionUnexpectedError      = "unexpected-processing-error"
)

// DispositionError returns the disposition reporting a processing error.
func DispositionError(modifier string) string {
	return fmt.Sprintf(dispositionErrorFmt, modifier)
}

// IsProcessed reports whether a disposition value reports success.
func IsProcessed(disposition string) bool {
	_, status, ok := strings.Cut(disposition, ";")
	if !ok {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(status), "processed")
}

// MDNRequest describes the acknowledgment a sender asked for.
type MDNRequest struct {
	Requested bool
	// ReturnAddress is the Disposition-Notification-To value.
	ReturnAddress string
	// DeliveryURL is set for asynchronous MDNs.
	DeliveryURL string
	Signed      bool
	// MICAlgorithm is the digest the sender wants the MDN signed and the
	// MIC computed with.
	MICAlgorithm string
}

// Async reports whether the MDN is delivered on a separate connection.
func (r MDNRequest) Async() bool {
	return r.Requested && r.DeliveryURL != ""
}

// MICDigest returns the digest both ends compute the MIC with. Only a
// signed-receipt request carries the algorithm on the wire, so unsigned
// requests fall back to SHA-1.
func (r MDNRequest) MICDigest() string {
	if r.Signed && r.MICAlgorithm != "" {
		return r.MICAlgorithm
	}
	return DigestSHA1
}

// Apply writes the request headers.
func (r MDNRequest) Apply(h *Headers) {
	if !r.Requested {
		return
	}
	ret := r.ReturnAddress
	if ret == "" {
		ret = "as2"
	}
	h.Set(HeaderDispositionNotificationTo, ret)
	if r.Signed {
		alg := r.MICAlgorithm
		if alg == "" {
			alg = DigestSHA1
		}
		h.Set(HeaderDispositionNotificationOptions,
			"signed-receipt-protocol=optional, pkcs7-signature; signed-receipt-micalg=optional, "+alg)
	}
	if r.DeliveryURL != "" {
		h.Set(HeaderReceiptDeliveryOption, r.DeliveryURL)
	}
}

// RequestFromHeaders reads the MDN request from received headers.
func RequestFromHeaders(h Headers) MDNRequest {
	ret, ok := h.Lookup(HeaderDispositionNotificationTo)
	if !ok {
		return MDNRequest{}
	}
	req := MDNRequest{
		Requested:     true,
		ReturnAddress: ret,
		DeliveryURL:   strings.TrimSpace(h.Get(HeaderReceiptDeliveryOption)),
	}
	req.Signed, req.MICAlgorithm = parseDispositionOptions(h.Get(HeaderDispositionNotificationOptions))
	return req
}

// parseDispositionOptions reads
// "signed-receipt-protocol=optional, pkcs7-signature; signed-receipt-micalg=optional, sha1, md5".
// The first supported micalg wins.
func parseDispositionOptions(v string) (bool, string) {
	if strings.TrimSpace(v) == "" {
		return false, ""
	}
	signed := false
	micalg := ""
	for _, param := range strings.Split(v, ";") {
		name, value, ok := strings.Cut(param, "=")
		if !ok {
			continue
		}
		values := strings.Split(value, ",")
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "signed-receipt-protocol":
			for _, val := range values[1:] {
				if strings.EqualFold(strings.TrimSpace(val), "pkcs7-signature") {
					signed = true
				}
			}
		case "signed-receipt-micalg":
			for _, val := range values[1:] {
				if alg, err := NormalizeDigest(val); err == nil {
					micalg = alg
					break
				}
			}
		}
	}
	return signed, micalg
}

// MDN is a Message Disposition Notification: the base message fields plus
// the disposition report.
type MDN struct {
	Message

	OriginalMessageID   string
	OriginalMessageDate string
	OriginalSubject     string
	// OriginalRecipient is the address the original message was sent to.
	OriginalRecipient  string
	Disposition        string
	ReceivedContentMIC string
	// Text is the human-readable explanation.
	Text string
}

// NewMDN creates the acknowledgment for msg. Addresses are swapped: the MDN
// travels from the original recipient back to the original sender. The
// signing settings follow the original sender's request.
func NewMDN(msg *Message, disposition string) *MDN {
	m := &MDN{
		Message: Message{
			ID:          GenerateMessageID(msg.ToAddress),
			FromAddress: msg.ToAddress,
			ToAddress:   msg.FromAddress,
			MDN:         msg.MDN,
		},
		OriginalMessageID:  msg.ID,
		OriginalSubject:    msg.Subject,
		OriginalRecipient:  msg.ToAddress,
		Disposition:        disposition,
		ReceivedContentMIC: msg.MIC,
	}
	if !msg.Date.IsZero() {
		m.OriginalMessageDate = FormatDate(msg.Date)
	}
	m.FromEmail = DefaultSenderEmail(m.FromAddress)
	if msg.MDN.Signed {
		m.Security = Security{Sign: true, SignDigestAlgorithm: SignatureDigest(msg.MDN.MICAlgorithm)}
	}
	return m
}

// MDNFromMessage reinterprets an inbound message as an MDN. Disposition
// fields are filled in by the parser.
func MDNFromMessage(msg *Message) *MDN {
	return &MDN{Message: *msg}
}
