package as2

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sirosfoundation/go-as2/pkg/mdn"
	"github.com/sirosfoundation/go-as2/pkg/message"
	"github.com/sirosfoundation/go-as2/pkg/party"
	"github.com/sirosfoundation/go-as2/pkg/reliability"
	"github.com/sirosfoundation/go-as2/pkg/security"
)

const (
	// DefaultUserAgent is sent on every request and MDN
	DefaultUserAgent = "go-as2"
	// DefaultSendTimeout bounds one transport exchange
	DefaultSendTimeout = 60 * time.Second

	connectionHeader = "close, TE"
)

// Config holds controller dependencies
type Config struct {
	Parties  *party.Registry
	Pipeline *security.Pipeline
	// Builder and Parser default to instances built on Pipeline and Parties.
	Builder *mdn.Builder
	Parser  *mdn.Parser
	Monitor *reliability.Monitor

	Transport Transport
	Files     Files

	// DeliveryDir receives inbound payloads under one folder per sender.
	DeliveryDir string
	// AsyncMDNURL is our endpoint for asynchronous MDNs, sent in the
	// Receipt-Delivery-Option header.
	AsyncMDNURL string

	UserAgent    string
	SendTimeout  time.Duration
	EventHandler EventHandler
	Logger       *slog.Logger
}

// Controller sends and receives AS2 transfers
type Controller struct {
	parties   *party.Registry
	pipeline  *security.Pipeline
	builder   *mdn.Builder
	parser    *mdn.Parser
	monitor   *reliability.Monitor
	transport Transport
	files     Files

	deliveryDir string
	asyncURL    string
	userAgent   string
	sendTimeout time.Duration
	onEvent     EventHandler
	logger      *slog.Logger

	// pending asynchronous MDN deliveries
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewController creates a controller
func NewController(cfg Config) (*Controller, error) {
	if cfg.Parties == nil {
		return nil, fmt.Errorf("%w: party registry is required", message.ErrConfiguration)
	}
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("%w: security pipeline is required", message.ErrConfiguration)
	}
	if cfg.Monitor == nil {
		return nil, fmt.Errorf("%w: MDN monitor is required", message.ErrConfiguration)
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("%w: transport is required", message.ErrConfiguration)
	}
	if cfg.Files == nil {
		return nil, fmt.Errorf("%w: workspace is required", message.ErrConfiguration)
	}
	if cfg.DeliveryDir == "" {
		return nil, fmt.Errorf("%w: delivery folder is required", message.ErrConfiguration)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}

	c := &Controller{
		parties:     cfg.Parties,
		pipeline:    cfg.Pipeline,
		builder:     cfg.Builder,
		parser:      cfg.Parser,
		monitor:     cfg.Monitor,
		transport:   cfg.Transport,
		files:       cfg.Files,
		deliveryDir: cfg.DeliveryDir,
		asyncURL:    cfg.AsyncMDNURL,
		userAgent:   userAgent,
		sendTimeout: timeout,
		onEvent:     cfg.EventHandler,
		logger:      logger,
	}
	if c.builder == nil {
		c.builder = mdn.NewBuilder(mdn.Config{Pipeline: cfg.Pipeline, UserAgent: userAgent, Logger: logger})
	}
	if c.parser == nil {
		c.parser = mdn.NewParser(cfg.Parties, logger)
	}
	return c, nil
}

// HandleExpired reports a message whose asynchronous MDN never arrived. It
// is meant to be installed as the monitor's OnExpired callback.
func (c *Controller) HandleExpired(p reliability.Pending) {
	msg := p.Message
	c.logger.Warn("no MDN received within the confirmation window",
		slog.String("message_id", msg.ID),
		slog.String("mic", p.MIC),
		slog.String("to", msg.ToAddress),
		slog.Duration("window", c.monitor.Window()))
	c.emit(TransferEvent{
		Type:      EventOutbound,
		MessageID: msg.ID,
		Status:    StatusExpired,
		Direction: message.DirectionOutbound,
		From:      msg.FromAddress,
		To:        msg.ToAddress,
		MIC:       p.MIC,
		MDNMode:   party.MDNAsync,
		Error:     fmt.Errorf("%w: no MDN received for %s", message.ErrCorrelation, msg.ID),
	})
}

// Close waits for background MDN deliveries to finish. Receive must not be
// called afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Controller) emit(ev TransferEvent) {
	if c.onEvent == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	c.onEvent(ev)
}

// inboundPolicy is what local requires of messages from partner.
func inboundPolicy(partner, local *party.Party) security.Policy {
	return security.Policy{
		RequireEncryption:    partner.Encrypt,
		RequireSignature:     partner.Sign,
		DecryptCertAlias:     local.EncryptCertAlias,
		DecryptKeyPassphrase: local.EncryptKeyPassphrase,
		VerifyCertAlias:      partner.SignCertAlias,
	}
}

// mdnPolicy is what local requires of MDNs returned by partner.
func mdnPolicy(partner, local *party.Party) security.Policy {
	return security.Policy{
		RequireSignature:     partner.RequestSignedMDN,
		DecryptCertAlias:     local.EncryptCertAlias,
		DecryptKeyPassphrase: local.EncryptKeyPassphrase,
		VerifyCertAlias:      partner.SignCertAlias,
	}
}

func modeOf(req message.MDNRequest) party.MDNMode {
	switch {
	case !req.Requested:
		return party.MDNNone
	case req.Async():
		return party.MDNAsync
	}
	return party.MDNSync
}
