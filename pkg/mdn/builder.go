package mdn

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sirosfoundation/go-as2/pkg/message"
	"github.com/sirosfoundation/go-as2/pkg/mime"
	"github.com/sirosfoundation/go-as2/pkg/party"
	"github.com/sirosfoundation/go-as2/pkg/security"
)

// Disposition report field names.
const (
	FieldReportingUA        = "Reporting-UA"
	FieldOriginalRecipient  = "Original-Recipient"
	FieldFinalRecipient     = "Final-Recipient"
	FieldOriginalMessageID  = "Original-Message-ID"
	FieldDisposition        = "Disposition"
	FieldReceivedContentMIC = "Received-Content-MIC"
)

// Media types of the report and its parts.
const (
	ContentTypeReport                  = "multipart/report"
	ContentTypeDispositionNotification = "message/disposition-notification"
	ReportTypeDispositionNotification  = "disposition-notification"
)

// DefaultAppName names this implementation in MDN subjects and the
// Reporting-UA field.
const DefaultAppName = "go-as2"

// Config configures a Builder.
type Config struct {
	// Pipeline signs MDNs when the original sender requested it.
	Pipeline  *security.Pipeline
	AppName   string
	UserAgent string
	Logger    *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Builder creates MDNs for received messages.
type Builder struct {
	pipeline  *security.Pipeline
	appName   string
	userAgent string
	logger    *slog.Logger
	now       func() time.Time
}

// NewBuilder creates an MDN builder.
func NewBuilder(cfg Config) *Builder {
	b := &Builder{
		pipeline:  cfg.Pipeline,
		appName:   cfg.AppName,
		userAgent: cfg.UserAgent,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
	if b.appName == "" {
		b.appName = DefaultAppName
	}
	if b.userAgent == "" {
		b.userAgent = b.appName
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

// Build creates the MDN acknowledging msg. msg must carry the MIC of the
// received payload. local is the responding party whose key signs the MDN.
func (b *Builder) Build(msg *message.Message, disposition string, local *party.Party) *message.MDN {
	m := message.NewMDN(msg, disposition)
	if m.Security.Sign {
		m.Security.SignCertAlias = local.SignCertAlias
		m.Security.SignKeyPassphrase = local.SignKeyPassphrase
	}
	m.FromEmail = local.FromEmail()
	m.Text = explanation(m)
	return m
}

// Package serializes m into a multipart/report entity, signs it if
// requested and sets the transport headers.
func (b *Builder) Package(ctx context.Context, m *message.MDN) error {
	textPart := mime.NewEntity("text/plain; charset=us-ascii", []byte(m.Text))
	textPart.Header.Set(message.HeaderContentTransferEncoding, mime.TransferEncoding7Bit)

	dispositionPart := mime.NewEntity(ContentTypeDispositionNotification, b.report(m))
	dispositionPart.Header.Set(message.HeaderContentTransferEncoding, mime.TransferEncoding7Bit)

	report, err := mime.NewMultipart("report", map[string]string{
		"report-type": ReportTypeDispositionNotification,
	}, textPart, dispositionPart)
	if err != nil {
		return fmt.Errorf("failed to build disposition report: %w", err)
	}

	m.Data = report
	m.Date = b.now()
	m.Subject = fmt.Sprintf("This is an AS2 MDN message generated by %s.", b.appName)
	m.Security.Encrypt = false
	m.Security.Compress = false

	if m.Security.Sign {
		if b.pipeline == nil {
			return fmt.Errorf("%w: signed MDN requested but no security pipeline configured", message.ErrConfiguration)
		}
		if err := b.pipeline.Secure(ctx, &m.Message); err != nil {
			return fmt.Errorf("failed to sign MDN: %w", err)
		}
	}

	m.ApplyProtocolHeaders(b.userAgent, "close")

	b.logger.Debug("MDN packaged",
		slog.String("message_id", m.ID),
		slog.String("original_message_id", m.OriginalMessageID),
		slog.String("disposition", m.Disposition),
		slog.Bool("signed", m.Security.Sign))
	return nil
}

func (b *Builder) report(m *message.MDN) []byte {
	var buf bytes.Buffer
	field := func(name, value string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", name, value)
	}
	field(FieldReportingUA, b.appName)
	field(FieldOriginalRecipient, "rfc822; "+m.OriginalRecipient)
	field(FieldFinalRecipient, "rfc822; "+m.OriginalRecipient)
	field(FieldOriginalMessageID, m.OriginalMessageID)
	field(FieldDisposition, m.Disposition)
	if m.ReceivedContentMIC != "" {
		field(FieldReceivedContentMIC, m.ReceivedContentMIC)
	}
	buf.WriteString("\r\n")
	return buf.Bytes()
}

func explanation(m *message.MDN) string {
	text := fmt.Sprintf("The message sent to Recipient [%s] on [%s]\r\n"+
		"with Subject [%s] and Id [%s] has been received.\r\n",
		m.OriginalRecipient, m.OriginalMessageDate, m.OriginalSubject, m.OriginalMessageID)
	if !message.IsProcessed(m.Disposition) {
		return text + "It could not be processed: " + m.Disposition + "\r\n"
	}
	return text +
		"In addition, the sender of the message, [" + m.ToAddress + "] was authenticated\r\n" +
		"as the originator of the message.\r\n" +
		"This is not a guarantee that the message has been completely processed or\r\n" +
		"understood by the receiving party.\r\n"
}
