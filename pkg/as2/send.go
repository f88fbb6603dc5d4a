package as2

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sirosfoundation/go-as2/pkg/mdn"
	"github.com/sirosfoundation/go-as2/pkg/message"
	"github.com/sirosfoundation/go-as2/pkg/mime"
	"github.com/sirosfoundation/go-as2/pkg/party"
	"github.com/sirosfoundation/go-as2/pkg/transport"
)

// Send transfers the file at tc.FullTarget to the partner named by tc.To.
// tc.From selects the local identity and defaults to the local party.
//
// When the partner returns a synchronous MDN it is verified before Send
// returns. A disposition other than processed fails with
// message.ErrPolicyViolation, a receipt for another message with
// message.ErrCorrelation and a MIC mismatch with message.ErrIntegrity.
func (c *Controller) Send(ctx context.Context, tc *message.TransferContext) (*SendResult, error) {
	ev := TransferEvent{
		Type:      EventOutbound,
		Direction: message.DirectionOutbound,
		From:      tc.From,
		To:        tc.To,
		FileName:  filepath.Base(tc.FullTarget),
	}
	fail := func(err error) (*SendResult, error) {
		ev.Status = StatusFailed
		ev.Error = err
		c.logger.Error("failed to send message",
			slog.String("message_id", ev.MessageID),
			slog.String("to", ev.To),
			slog.String("file", tc.FullTarget),
			slog.String("kind", message.KindName(err)),
			slog.String("error", err.Error()))
		c.emit(ev)
		return nil, err
	}

	local, partner, err := c.outboundParties(tc)
	if err != nil {
		return fail(err)
	}
	ev.From, ev.To, ev.MDNMode = local.Alias, partner.Alias, partner.MDNMode

	if err := c.files.CheckSize(tc.FullTarget); err != nil {
		return fail(err)
	}
	data, err := os.ReadFile(tc.FullTarget)
	if err != nil {
		return fail(fmt.Errorf("failed to read %s: %w", tc.FullTarget, err))
	}
	ev.Size = int64(len(data))

	msg, err := c.buildMessage(local, partner, ev.FileName, data)
	if err != nil {
		return fail(err)
	}
	ev.MessageID, ev.MIC = msg.ID, msg.MIC
	ev.Layers.Compressed = msg.Security.Compress
	ev.Layers.Signed = msg.Security.Sign
	ev.Layers.Encrypted = msg.Security.Encrypt

	if err := c.pipeline.Secure(ctx, msg); err != nil {
		return fail(err)
	}
	msg.ApplyProtocolHeaders(c.userAgent, connectionHeader)
	msg.MDN.Apply(&msg.Headers)
	body := msg.Data.Body

	work, err := c.files.WriteWorkFile(body)
	if err != nil {
		return fail(fmt.Errorf("failed to write work file: %w", err))
	}
	defer c.files.RemoveWorkFile(work)

	// Registered before the request leaves so that an MDN racing the HTTP
	// response still finds its entry and is reported after this event.
	async := msg.MDN.Async()
	if async {
		if err := c.monitor.Register(msg.MIC, msg); err != nil {
			return fail(err)
		}
		ev.Status = StatusAwaitingMDN
		c.emit(ev)
	}

	c.logger.Info("sending message",
		slog.String("message_id", msg.ID),
		slog.String("from", local.Alias),
		slog.String("to", partner.Alias),
		slog.String("url", partner.URL),
		slog.String("mic", msg.MIC),
		slog.String("mdn", string(partner.MDNMode)))

	sendCtx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()
	resp, err := c.transport.Send(sendCtx, partner.URL, msg.Headers, body)
	if err != nil {
		if async {
			c.monitor.Withdraw(msg.MIC)
		}
		return fail(err)
	}

	result := &SendResult{MessageID: msg.ID, MIC: msg.MIC}
	switch {
	case async:
		result.Status = StatusAwaitingMDN
	case msg.MDN.Requested:
		receipt, m, err := c.validateSyncMDN(ctx, msg, resp, local, partner)
		ev.Receipt = receipt
		if m != nil {
			ev.Disposition = m.Disposition
		}
		if err != nil {
			return fail(err)
		}
		result.Status = StatusConfirmed
		result.MDN = m
		c.logger.Info("synchronous MDN confirmed message",
			slog.String("message_id", msg.ID),
			slog.String("mic", msg.MIC))
	default:
		result.Status = StatusSent
	}

	if !async {
		ev.Status = result.Status
		c.emit(ev)
	}
	return result, nil
}

func (c *Controller) outboundParties(tc *message.TransferContext) (local, partner *party.Party, err error) {
	if tc.From != "" {
		local, err = c.parties.Get(tc.From)
	} else {
		local, err = c.parties.Local()
	}
	if err != nil {
		return nil, nil, err
	}
	if tc.To == "" {
		return nil, nil, fmt.Errorf("%w: no recipient given for %s", message.ErrConfiguration, tc.FullTarget)
	}
	if partner, err = c.parties.Get(tc.To); err != nil {
		return nil, nil, err
	}
	if partner.URL == "" {
		return nil, nil, fmt.Errorf("%w: party %s has no url", message.ErrConfiguration, partner.Alias)
	}
	if partner.MDNMode == party.MDNAsync && c.asyncURL == "" {
		return nil, nil, fmt.Errorf("%w: party %s wants asynchronous MDNs but no MDN url is configured",
			message.ErrConfiguration, partner.Alias)
	}
	return local, partner, nil
}

// buildMessage wraps the payload, validates the security settings and
// computes the MIC over the unsecured payload.
func (c *Controller) buildMessage(local, partner *party.Party, name string, data []byte) (*message.Message, error) {
	contentType := partner.ContentType
	if contentType == "" {
		contentType = mime.ContentTypeOctetStream
	}
	payload := mime.NewEntity(contentType, data)
	payload.Header.Set(message.HeaderContentTransferEncoding, mime.TransferEncodingBinary)
	payload.SetFilename(name)

	req := partner.MDNRequest(local, c.asyncURL)
	msg := message.New(local.Alias, partner.Alias,
		message.WithSecurity(partner.OutboundSecurity(local)),
		message.WithSubject(partner.Subject),
		message.WithFromEmail(local.FromEmail()),
		message.WithMDNRequest(req),
	)
	msg.Data = payload

	if err := c.pipeline.ValidateOutbound(msg.Security); err != nil {
		return nil, err
	}

	digest := partner.MICAlgorithm()
	if req.Requested {
		digest = req.MICDigest()
	}
	mic, err := c.pipeline.Crypto().CalculateMIC(bytes.NewReader(data), digest)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate MIC: %w", err)
	}
	msg.MIC = mic
	return msg, nil
}

// validateSyncMDN checks the MDN returned inline against the message just
// sent. The receipt is returned whenever the response carried content.
func (c *Controller) validateSyncMDN(ctx context.Context, msg *message.Message, resp *transport.Response, local, partner *party.Party) (*Receipt, *message.MDN, error) {
	if !resp.HasBody() {
		return nil, nil, fmt.Errorf("%w: %s returned no MDN for %s", message.ErrPolicyViolation, partner.Alias, msg.ID)
	}
	receipt := &Receipt{
		ContentType: resp.Headers.Get(message.HeaderContentType),
		Data:        resp.Body,
	}

	res, err := c.parser.Parse(message.FromHeaders(resp.Headers, resp.Body))
	if errors.Is(err, mdn.ErrNotMDN) {
		return receipt, nil, fmt.Errorf("%w: response from %s is not an MDN", message.ErrPolicyViolation, partner.Alias)
	}
	if err != nil {
		return receipt, nil, err
	}
	if res.From != partner {
		return receipt, nil, fmt.Errorf("%w: MDN for %s was sent by %s", message.ErrPolicyViolation, msg.ID, res.From.Alias)
	}

	m := res.MDN
	if _, err := c.pipeline.Unsecure(ctx, &m.Message, mdnPolicy(partner, local)); err != nil {
		return receipt, nil, err
	}
	if err := mdn.ReadReport(m); err != nil {
		return receipt, nil, err
	}
	return receipt, m, checkReceipt(msg, m)
}

// checkReceipt compares an MDN with the message it acknowledges.
func checkReceipt(msg *message.Message, m *message.MDN) error {
	if !message.EqualID(m.OriginalMessageID, msg.ID) {
		return fmt.Errorf("%w: MDN references %s, expected %s", message.ErrCorrelation, m.OriginalMessageID, msg.ID)
	}
	if !message.IsProcessed(m.Disposition) {
		return fmt.Errorf("%w: %s reported %q for %s", message.ErrPolicyViolation, msg.ToAddress, m.Disposition, msg.ID)
	}
	if !message.EqualMIC(m.ReceivedContentMIC, msg.MIC) {
		return fmt.Errorf("%w: MDN MIC %q does not match %q for %s", message.ErrIntegrity, m.ReceivedContentMIC, msg.MIC, msg.ID)
	}
	return nil
}
