package as2

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirosfoundation/go-as2/pkg/mdn"
	"github.com/sirosfoundation/go-as2/pkg/message"
	"github.com/sirosfoundation/go-as2/pkg/party"
	"github.com/sirosfoundation/go-as2/pkg/security"
	"github.com/sirosfoundation/go-as2/pkg/transport"
)

// Receive handles one inbound exchange. The body spooled at tc.FullTarget
// is removed when Receive returns.
//
// MDNs are correlated with the monitor and never delivered; an MDN that
// matches nothing is logged and still accepted. Regular messages are
// unsecured according to the sender's policy and written to the delivery
// folder. The returned reply carries the synchronous MDN, if requested.
func (c *Controller) Receive(ctx context.Context, tc *message.TransferContext) (*transport.Reply, error) {
	defer c.files.RemoveWorkFile(tc.FullTarget)

	msg, body, err := c.load(tc)
	if err != nil {
		c.logger.Warn("inbound message rejected",
			slog.String("message_id", tc.Headers.Get(message.HeaderMessageID)),
			slog.String("from", tc.Headers.Get(message.HeaderAS2From)),
			slog.String("error", err.Error()))
		return nil, err
	}

	res, err := c.parser.Parse(msg)
	switch {
	case err == nil:
		return c.receiveMDN(ctx, res, body)
	case errors.Is(err, mdn.ErrNotMDN):
		return c.receiveMessage(ctx, msg, res.From, res.To)
	}

	c.logger.Warn("inbound message rejected",
		slog.String("message_id", msg.ID),
		slog.String("from", msg.FromAddress),
		slog.String("to", msg.ToAddress),
		slog.String("kind", message.KindName(err)),
		slog.String("error", err.Error()))
	c.emit(TransferEvent{
		Type:      EventInbound,
		MessageID: msg.ID,
		Status:    StatusRejected,
		Direction: message.DirectionInbound,
		From:      msg.FromAddress,
		To:        msg.ToAddress,
		MDNMode:   modeOf(msg.MDN),
		Error:     err,
	})
	return nil, err
}

func (c *Controller) load(tc *message.TransferContext) (*message.Message, []byte, error) {
	if err := c.files.CheckSize(tc.FullTarget); err != nil {
		return nil, nil, err
	}
	backup, err := c.files.Backup(tc.FullTarget)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to back up inbound message: %w", err)
	}
	if backup != "" {
		c.logger.Debug("inbound message backed up", slog.String("path", backup))
	}
	body, err := os.ReadFile(tc.FullTarget)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read inbound message: %w", err)
	}
	return message.FromHeaders(tc.Headers, body), body, nil
}

func (c *Controller) receiveMessage(ctx context.Context, msg *message.Message, from, local *party.Party) (*transport.Reply, error) {
	log := c.logger.With(
		slog.String("message_id", msg.ID),
		slog.String("from", from.Alias),
		slog.String("to", local.Alias))
	ev := TransferEvent{
		Type:      EventInbound,
		MessageID: msg.ID,
		Direction: message.DirectionInbound,
		From:      from.Alias,
		To:        local.Alias,
		MDNMode:   modeOf(msg.MDN),
	}
	reject := func(err error) (*transport.Reply, error) {
		log.Warn("inbound message rejected",
			slog.String("kind", message.KindName(err)),
			slog.String("error", err.Error()))
		ev.Status = StatusRejected
		ev.Error = err
		c.emit(ev)
		return nil, err
	}

	if !local.Local {
		return reject(fmt.Errorf("%w: %s is not a local party", message.ErrPolicyViolation, local.Alias))
	}

	policy := inboundPolicy(from, local)
	encrypted := c.pipeline.Crypto().IsEncrypted(msg.Data)
	layers, err := c.pipeline.Unsecure(ctx, msg, policy)
	ev.Layers = layers
	if err != nil {
		modifier, ok := dispositionModifier(err, policy, layers, encrypted)
		if !ok {
			return reject(err)
		}
		return c.refuse(ctx, msg, from, local, ev, modifier, err)
	}

	payload, err := msg.Data.DecodedBody()
	if err != nil {
		err = fmt.Errorf("%w: %v", message.ErrIntegrity, err)
		return c.refuse(ctx, msg, from, local, ev, message.DispositionIntegrityCheckFailed, err)
	}
	msg.MIC, err = c.pipeline.Crypto().CalculateMIC(bytes.NewReader(payload), msg.MDN.MICDigest())
	if err != nil {
		return reject(fmt.Errorf("failed to calculate MIC: %w", err))
	}
	ev.MIC = msg.MIC
	ev.Size = int64(len(payload))

	// A receipt that cannot be signed must leave nothing delivered.
	var receipt *message.MDN
	if msg.MDN.Requested {
		if receipt, err = c.prepareMDN(ctx, msg, from, local, message.DispositionProcessed); err != nil {
			log.Error("failed to create MDN", slog.String("error", err.Error()))
			return reject(err)
		}
	}

	path, err := c.files.Deliver(filepath.Join(c.deliveryDir, from.Alias), msg.Data.Filename(), payload)
	if err != nil {
		return reject(fmt.Errorf("failed to deliver %s: %w", msg.ID, err))
	}
	ev.FileName = filepath.Base(path)
	ev.Status = StatusDelivered
	log.Info("message delivered",
		slog.String("path", path),
		slog.String("mic", msg.MIC),
		slog.Int64("size", ev.Size))
	c.emit(ev)

	if receipt == nil {
		return nil, nil
	}
	return c.dispatchMDN(receipt), nil
}

// refuse answers a message that failed processing with an error MDN when
// one was requested. Without an MDN the error is returned to the transport.
func (c *Controller) refuse(ctx context.Context, msg *message.Message, from, local *party.Party, ev TransferEvent, modifier string, err error) (*transport.Reply, error) {
	log := c.logger.With(
		slog.String("message_id", msg.ID),
		slog.String("from", from.Alias),
		slog.String("to", local.Alias),
		slog.String("kind", message.KindName(err)),
		slog.String("error", err.Error()))
	ev.Status = StatusRejected
	ev.Error = err

	if msg.MDN.Requested {
		m, mdnErr := c.prepareMDN(ctx, msg, from, local, message.DispositionError(modifier))
		if mdnErr == nil {
			log.Warn("inbound message rejected, error MDN returned", slog.String("disposition", modifier))
			c.emit(ev)
			return c.dispatchMDN(m), nil
		}
		log.Error("failed to create error MDN", slog.String("mdn_error", mdnErr.Error()))
	}
	log.Warn("inbound message rejected")
	c.emit(ev)
	return nil, err
}

// dispositionModifier selects the processed/error modifier reported for an
// unsecure failure. Configuration errors are ours and get no MDN.
func dispositionModifier(err error, policy security.Policy, layers security.Layers, encrypted bool) (string, bool) {
	kind := message.KindOf(err)
	switch {
	case kind == message.ErrConfiguration:
		return "", false
	case encrypted && !layers.Encrypted, policy.RequireEncryption && !layers.Encrypted:
		return message.DispositionDecryptionFailed, true
	case errors.Is(err, security.ErrDecompression):
		return message.DispositionIntegrityCheckFailed, true
	case kind == message.ErrIntegrity, policy.RequireSignature && !layers.Signed:
		return message.DispositionAuthenticationFailed, true
	}
	return message.DispositionUnexpectedError, true
}

// prepareMDN builds and packages the MDN for msg. An asynchronous request
// whose URL does not point at the partner's own host is answered
// synchronously instead.
func (c *Controller) prepareMDN(ctx context.Context, msg *message.Message, from, local *party.Party, disposition string) (*message.MDN, error) {
	if msg.MDN.Async() && !sameHost(msg.MDN.DeliveryURL, from.URL) {
		c.logger.Warn("asynchronous MDN url does not match partner, replying synchronously",
			slog.String("message_id", msg.ID),
			slog.String("from", from.Alias),
			slog.String("url", msg.MDN.DeliveryURL),
			slog.String("partner_url", from.URL))
		msg.MDN.DeliveryURL = ""
	}
	m := c.builder.Build(msg, disposition, local)
	if err := c.builder.Package(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to create MDN for %s: %w", msg.ID, err)
	}
	return m, nil
}

// dispatchMDN returns a synchronous MDN as the reply and posts an
// asynchronous one in the background.
func (c *Controller) dispatchMDN(m *message.MDN) *transport.Reply {
	if m.Message.MDN.Async() {
		c.deliverAsync(m)
		return nil
	}
	return &transport.Reply{Headers: m.Headers, Body: m.Data.Body}
}

// sameHost reports whether both URLs name the same host. Ports and paths
// may differ.
func sameHost(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return ua.Hostname() != "" && strings.EqualFold(ua.Hostname(), ub.Hostname())
}

func (c *Controller) receiveMDN(ctx context.Context, res *mdn.Result, body []byte) (*transport.Reply, error) {
	m := res.MDN
	from, local := res.From, res.To
	log := c.logger.With(
		slog.String("message_id", m.ID),
		slog.String("from", from.Alias),
		slog.String("to", local.Alias))

	if !local.Local {
		err := fmt.Errorf("%w: %s is not a local party", message.ErrPolicyViolation, local.Alias)
		log.Warn("MDN rejected", slog.String("error", err.Error()))
		return nil, err
	}
	receipt := &Receipt{ContentType: m.Headers.Get(message.HeaderContentType), Data: body}

	if _, err := c.pipeline.Unsecure(ctx, &m.Message, mdnPolicy(from, local)); err != nil {
		log.Warn("MDN rejected", slog.String("kind", message.KindName(err)), slog.String("error", err.Error()))
		return nil, err
	}
	if err := mdn.ReadReport(m); err != nil {
		log.Warn("MDN rejected", slog.String("error", err.Error()))
		return nil, err
	}
	log = log.With(
		slog.String("original_message_id", m.OriginalMessageID),
		slog.String("mic", m.ReceivedContentMIC))

	orig, err := c.monitor.Resolve(m.ReceivedContentMIC, m.OriginalMessageID, from.Alias)
	if err != nil {
		// Logged by the monitor. The exchange itself succeeded.
		return nil, nil
	}

	ev := TransferEvent{
		Type:        EventMDN,
		MessageID:   orig.ID,
		Status:      StatusConfirmed,
		Direction:   message.DirectionOutbound,
		From:        orig.FromAddress,
		To:          orig.ToAddress,
		MIC:         orig.MIC,
		MDNMode:     party.MDNAsync,
		Disposition: m.Disposition,
		Receipt:     receipt,
	}
	if !message.IsProcessed(m.Disposition) {
		ev.Status = StatusFailed
		ev.Error = fmt.Errorf("%w: %s reported %q for %s", message.ErrPolicyViolation, from.Alias, m.Disposition, orig.ID)
		log.Warn("partner reported a processing error", slog.String("disposition", m.Disposition))
	} else {
		log.Info("MDN received")
	}
	c.emit(ev)
	return nil, nil
}
