package mdn

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/textproto"
	"strings"

	"github.com/sirosfoundation/go-as2/pkg/message"
	"github.com/sirosfoundation/go-as2/pkg/mime"
	"github.com/sirosfoundation/go-as2/pkg/party"
)

// ErrNotMDN is returned by Parse when the message is a regular AS2 message.
var ErrNotMDN = errors.New("not an MDN")

// Result is the outcome of Parse. From and To are set whenever the party
// headers resolved, including when Parse returns ErrNotMDN.
type Result struct {
	MDN  *message.MDN
	From *party.Party
	To   *party.Party
}

// Parser recognises inbound MDNs.
type Parser struct {
	parties *party.Registry
	logger  *slog.Logger
}

// NewParser creates a parser resolving party addresses in parties.
func NewParser(parties *party.Registry, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{parties: parties, logger: logger}
}

// Parse validates the AS2 headers of msg, resolves its parties and checks
// whether the content is a disposition notification. It returns ErrNotMDN,
// together with the resolved parties, for regular messages. The report
// fields are read by ReadReport once the security layers are removed.
func (p *Parser) Parse(msg *message.Message) (*Result, error) {
	from := strings.TrimSpace(msg.FromAddress)
	if from == "" {
		return nil, fmt.Errorf("%w: %s header is empty, unknown sender", message.ErrPolicyViolation, message.HeaderAS2From)
	}
	to := strings.TrimSpace(msg.ToAddress)
	if to == "" {
		return nil, fmt.Errorf("%w: %s header is empty, unknown recipient", message.ErrPolicyViolation, message.HeaderAS2To)
	}
	if strings.EqualFold(from, to) {
		return nil, fmt.Errorf("%w: %s can't be equal to %s", message.ErrPolicyViolation, message.HeaderAS2To, message.HeaderAS2From)
	}
	if strings.TrimSpace(msg.ID) == "" {
		return nil, fmt.Errorf("%w: %s header is empty", message.ErrPolicyViolation, message.HeaderMessageID)
	}

	fromParty, err := p.parties.Get(from)
	if err != nil {
		return nil, err
	}
	toParty, err := p.parties.Get(to)
	if err != nil {
		return nil, err
	}
	res := &Result{From: fromParty, To: toParty}

	if !IsMDN(msg.Data) {
		p.logger.Debug("not an MDN, handling as a regular AS2 message", slog.String("message_id", msg.ID))
		return res, ErrNotMDN
	}

	res.MDN = message.MDNFromMessage(msg)
	return res, nil
}

// IsMDN reports whether e is a disposition notification, possibly inside a
// multipart/signed wrapper.
func IsMDN(e *mime.Entity) bool {
	if e == nil {
		return false
	}
	if e.IsMediaType("multipart/signed") {
		parts, err := e.Parts()
		if err != nil {
			return false
		}
		for _, part := range parts {
			if isDispositionType(part) {
				return true
			}
		}
		return false
	}
	return isDispositionType(e)
}

func isDispositionType(e *mime.Entity) bool {
	return strings.Contains(strings.ToLower(e.ContentType()), ReportTypeDispositionNotification)
}

// ReadReport fills the disposition fields of m from its unsecured content.
func ReadReport(m *message.MDN) error {
	if m.Data == nil {
		return fmt.Errorf("%w: MDN has no content", message.ErrPolicyViolation)
	}

	var parts []*mime.Entity
	if m.Data.IsMediaType(ContentTypeReport) {
		var err error
		if parts, err = m.Data.Parts(); err != nil {
			return fmt.Errorf("%w: malformed disposition report: %v", message.ErrPolicyViolation, err)
		}
	} else {
		parts = []*mime.Entity{m.Data}
	}

	found := false
	for _, part := range parts {
		body, err := part.DecodedBody()
		if err != nil {
			return fmt.Errorf("%w: %v", message.ErrPolicyViolation, err)
		}
		switch {
		case part.IsMediaType(ContentTypeDispositionNotification):
			fields, err := readFields(body)
			if err != nil {
				return fmt.Errorf("%w: malformed disposition notification: %v", message.ErrPolicyViolation, err)
			}
			m.OriginalMessageID = strings.TrimSpace(fieldValue(fields, FieldOriginalMessageID))
			m.Disposition = strings.TrimSpace(fieldValue(fields, FieldDisposition))
			m.ReceivedContentMIC = strings.TrimSpace(fieldValue(fields, FieldReceivedContentMIC))
			m.OriginalRecipient = stripAddressType(fieldValue(fields, FieldOriginalRecipient))
			if m.OriginalRecipient == "" {
				m.OriginalRecipient = stripAddressType(fieldValue(fields, FieldFinalRecipient))
			}
			m.MIC = m.ReceivedContentMIC
			found = true
		case part.IsMediaType(mime.ContentTypeTextPlain):
			m.Text = string(body)
		}
	}
	if !found {
		return fmt.Errorf("%w: MDN has no %s part", message.ErrPolicyViolation, ContentTypeDispositionNotification)
	}
	return nil
}

func readFields(body []byte) (textproto.MIMEHeader, error) {
	r := textproto.NewReader(bufio.NewReader(bytes.NewReader(body)))
	fields, err := r.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return nil, err
	}
	return fields, nil
}

// fieldValue joins repeated fields with ", ".
func fieldValue(fields textproto.MIMEHeader, name string) string {
	return strings.Join(fields.Values(name), ", ")
}

// stripAddressType turns "rfc822; globex" into "globex".
func stripAddressType(v string) string {
	if _, addr, ok := strings.Cut(v, ";"); ok {
		return strings.TrimSpace(addr)
	}
	return strings.TrimSpace(v)
}
