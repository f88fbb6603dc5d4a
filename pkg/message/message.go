// Copyright (c) 2025 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package message

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirosfoundation/go-as2/pkg/mime"
)

// DateLayout is the layout of the Date header (RFC 1123 with numeric zone).
const DateLayout = time.RFC1123Z

// Security holds the security flags and algorithm choices applied to a
// message on the outbound path.
type Security struct {
	Encrypt  bool
	Sign     bool
	Compress bool

	SignCertAlias       string
	SignKeyPassphrase   string
	SignDigestAlgorithm string

	EncryptCertAlias string
	EncryptAlgorithm string

	CompressionAlgorithm string
}

// Enabled reports whether any security layer is requested.
func (s Security) Enabled() bool {
	return s.Encrypt || s.Sign || s.Compress
}

// Message is a single AS2 transfer unit. It is owned by the transfer that
// created it and mutated in place as security layers are applied or removed.
type Message struct {
	ID          string
	Date        time.Time
	Subject     string
	FromAddress string
	ToAddress   string
	FromEmail   string

	// Headers are the transport-level headers (AS2-From, Message-ID, ...).
	Headers Headers

	// Data is the current MIME entity: the plain payload before Secure and
	// after Unsecure, the outermost security layer in between.
	Data *mime.Entity

	Security Security

	// MIC is the integrity value of the original payload, "<base64>, <alg>".
	MIC string

	MDN MDNRequest
}

// Option configures a Message built with New.
type Option func(*Message)

// WithSecurity sets the outbound security settings.
func WithSecurity(sec Security) Option {
	return func(m *Message) {
		m.Security = sec
	}
}

// WithSubject sets the Subject.
func WithSubject(subject string) Option {
	return func(m *Message) {
		m.Subject = subject
	}
}

// WithFromEmail sets the From (email) header value.
func WithFromEmail(email string) Option {
	return func(m *Message) {
		m.FromEmail = email
	}
}

// WithMDNRequest sets the acknowledgment requested from the recipient.
func WithMDNRequest(req MDNRequest) Option {
	return func(m *Message) {
		m.MDN = req
	}
}

// WithDate overrides the message date.
func WithDate(t time.Time) Option {
	return func(m *Message) {
		m.Date = t
	}
}

// New creates an outbound message from one party address to another with a
// freshly generated message identifier.
func New(from, to string, opts ...Option) *Message {
	m := &Message{
		ID:          GenerateMessageID(from),
		Date:        time.Now(),
		FromAddress: from,
		ToAddress:   to,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.FromEmail == "" {
		m.FromEmail = DefaultSenderEmail(from)
	}
	return m
}

// GenerateMessageID returns a globally unique message identifier of the
// form <uuid@sender>.
func GenerateMessageID(from string) string {
	host := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '<', '>', '@', '"':
			return '_'
		}
		return r
	}, from)
	if host == "" {
		host = "as2"
	}
	return fmt.Sprintf("<%s@%s>", uuid.New().String(), host)
}

// EqualID reports whether two message identifiers are the same, ignoring
// surrounding whitespace and angle brackets.
func EqualID(a, b string) bool {
	a, b = bareID(a), bareID(b)
	return a != "" && a == b
}

func bareID(id string) string {
	return strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(id), "<"), ">")
}

// DefaultSenderEmail derives a From header value from a party address.
func DefaultSenderEmail(from string) string {
	return strings.ReplaceAll(from, " ", "_") + "@as2"
}

// FormatDate renders t for the Date header.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ApplyProtocolHeaders sets the AS2 headers that identify the message on
// the wire. Content-Type is taken from Data. The acknowledgment request is
// applied separately with MDNRequest.Apply.
func (m *Message) ApplyProtocolHeaders(userAgent, connection string) {
	m.Headers.Set(HeaderAS2From, m.FromAddress)
	m.Headers.Set(HeaderAS2To, m.ToAddress)
	m.Headers.Set(HeaderAS2Version, AS2Version)
	m.Headers.Set(HeaderConnection, connection)
	m.Headers.Set(HeaderUserAgent, userAgent)
	m.Headers.Set(HeaderAcceptEncoding, "gzip,deflate")
	m.Headers.Set(HeaderMimeVersion, "1.0")
	m.Headers.Set(HeaderDate, FormatDate(m.Date))
	m.Headers.Set(HeaderMessageID, m.ID)
	if m.Subject != "" {
		m.Headers.Set(HeaderSubject, m.Subject)
	}
	if m.FromEmail != "" {
		m.Headers.Set(HeaderFrom, m.FromEmail)
	}
	if m.Data != nil {
		m.Headers.Set(HeaderContentType, m.Data.ContentType())
		if cte := m.Data.Header.Get(HeaderContentTransferEncoding); cte != "" {
			m.Headers.Set(HeaderContentTransferEncoding, cte)
		}
	}
}

// FromHeaders creates an inbound message from received headers and body.
// The body is wrapped in an entity typed by the Content-Type header.
func FromHeaders(h Headers, body []byte) *Message {
	m := &Message{
		ID:          strings.TrimSpace(h.Get(HeaderMessageID)),
		Subject:     h.Get(HeaderSubject),
		FromAddress: strings.TrimSpace(h.Get(HeaderAS2From)),
		ToAddress:   strings.TrimSpace(h.Get(HeaderAS2To)),
		FromEmail:   h.Get(HeaderFrom),
		Headers:     h,
		MDN:         RequestFromHeaders(h),
	}
	if d := h.Get(HeaderDate); d != "" {
		if t, err := time.Parse(DateLayout, d); err == nil {
			m.Date = t
		}
	}
	contentType := h.Get(HeaderContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	m.Data = mime.NewEntity(contentType, body)
	if cte := h.Get(HeaderContentTransferEncoding); cte != "" {
		m.Data.Header.Set(HeaderContentTransferEncoding, cte)
	}
	return m
}

// Direction tags a transfer as inbound or outbound.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// TransferContext is handed by the transport to the controller for a single
// transfer. The controller treats it as read-only.
type TransferContext struct {
	// FullTarget is the path of the file to send, or of the spooled
	// inbound body.
	FullTarget string
	// Headers are the inbound transport headers; empty for outbound.
	Headers   Headers
	Direction Direction

	// From and To name the parties of an outbound transfer.
	From string
	To   string
}
