package reliability

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/sirosfoundation/go-as2/pkg/message"
)

// Defaults for the asynchronous confirmation window and the sweep period.
const (
	DefaultWindow        = 3 * time.Second
	DefaultSweepInterval = time.Second
)

// ErrAlreadyRegistered is returned by Register when the MIC is pending.
// It matches message.ErrCorrelation.
var ErrAlreadyRegistered = fmt.Errorf("%w: MIC already registered", message.ErrCorrelation)

// Pending is a message awaiting confirmation.
type Pending struct {
	MIC          string
	Message      *message.Message
	RegisteredAt time.Time
}

// Config configures a Monitor.
type Config struct {
	// Window is how long a message may wait for its MDN.
	Window time.Duration
	// SweepInterval is the period of the background expiry sweep. It is
	// capped at Window.
	SweepInterval time.Duration
	Clock         clock.Clock
	Logger        *slog.Logger
	Metrics       *Metrics
	// OnExpired is called, outside the monitor lock, for every entry
	// removed by a sweep.
	OnExpired func(Pending)
}

// Monitor is the registry of messages awaiting an asynchronous MDN, keyed
// by MIC. All methods are safe for concurrent use.
type Monitor struct {
	mu      sync.Mutex
	pending map[string]*Pending

	window    time.Duration
	interval  time.Duration
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *Metrics
	onExpired func(Pending)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a Monitor. Call Start to run the expiry sweep.
func NewMonitor(cfg Config) *Monitor {
	m := &Monitor{
		pending:   make(map[string]*Pending),
		window:    cfg.Window,
		interval:  cfg.SweepInterval,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		onExpired: cfg.OnExpired,
	}
	if m.window <= 0 {
		m.window = DefaultWindow
	}
	if m.interval <= 0 {
		m.interval = DefaultSweepInterval
	}
	if m.interval > m.window {
		m.interval = m.window
	}
	if m.clock == nil {
		m.clock = clock.New()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.metrics == nil {
		m.metrics = NewMetrics(nil)
	}
	return m
}

// Window returns the confirmation window.
func (m *Monitor) Window() time.Duration {
	return m.window
}

// Register adds msg as pending under mic.
func (m *Monitor) Register(mic string, msg *message.Message) error {
	key := message.NormalizeMIC(mic)
	if key == "" {
		return fmt.Errorf("%w: cannot register a message without MIC", message.ErrConfiguration)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.pending[key]; ok {
		m.logger.Error("MIC collision, message not registered",
			slog.String("mic", key),
			slog.String("message_id", msg.ID),
			slog.String("pending_message_id", existing.Message.ID))
		return ErrAlreadyRegistered
	}
	m.pending[key] = &Pending{MIC: key, Message: msg, RegisteredAt: m.clock.Now()}
	m.metrics.Pending.Set(float64(len(m.pending)))

	m.logger.Debug("awaiting asynchronous MDN",
		slog.String("mic", key),
		slog.String("message_id", msg.ID),
		slog.Duration("window", m.window))
	return nil
}

// IsRegistered reports whether mic is pending.
func (m *Monitor) IsRegistered(mic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[message.NormalizeMIC(mic)]
	return ok
}

// Lookup returns the message pending under mic.
func (m *Monitor) Lookup(mic string) (*message.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[message.NormalizeMIC(mic)]
	if !ok {
		return nil, false
	}
	return p.Message, true
}

// ConfirmAndDeregister removes the entry for mic and reports whether one
// was present. Confirming an absent MIC is a logged no-op.
func (m *Monitor) ConfirmAndDeregister(mic string) bool {
	key := message.NormalizeMIC(mic)

	m.mu.Lock()
	p, ok := m.pending[key]
	if ok {
		delete(m.pending, key)
		m.metrics.Pending.Set(float64(len(m.pending)))
		m.metrics.Confirmed.Inc()
	}
	m.mu.Unlock()

	if !ok {
		m.logger.Warn("confirmation for a MIC that is not pending", slog.String("mic", key))
		return false
	}
	m.logger.Info("MDN confirmed message",
		slog.String("mic", key),
		slog.String("message_id", p.Message.ID))
	return true
}

// Resolve matches a received MDN from the partner alias from to its
// pending message. The entry is removed only when the MIC is pending, its
// message id equals originalMessageID and it was sent to from. Otherwise
// nothing changes and the returned error wraps message.ErrCorrelation.
func (m *Monitor) Resolve(mic, originalMessageID, from string) (*message.Message, error) {
	key := message.NormalizeMIC(mic)
	m.mu.Lock()
	p, ok := m.pending[key]
	switch {
	case !ok:
		m.metrics.Unexpected.Inc()
		m.mu.Unlock()
		m.logger.Error("received an MDN which is not expected",
			slog.String("mic", key),
			slog.String("original_message_id", originalMessageID))
		return nil, fmt.Errorf("%w: no message pending for MIC %q", message.ErrCorrelation, key)

	case !message.EqualID(p.Message.ID, originalMessageID):
		m.metrics.Unexpected.Inc()
		m.mu.Unlock()
		m.logger.Error("received an MDN which is not expected",
			slog.String("mic", key),
			slog.String("original_message_id", originalMessageID),
			slog.String("pending_message_id", p.Message.ID))
		return nil, fmt.Errorf("%w: MDN references %s but MIC belongs to %s",
			message.ErrCorrelation, originalMessageID, p.Message.ID)

	case !strings.EqualFold(p.Message.ToAddress, from):
		m.metrics.Unexpected.Inc()
		m.mu.Unlock()
		m.logger.Error("received an MDN which is not expected",
			slog.String("mic", key),
			slog.String("from", from),
			slog.String("expected_from", p.Message.ToAddress),
			slog.String("pending_message_id", p.Message.ID))
		return nil, fmt.Errorf("%w: MDN from %s for a message sent to %s",
			message.ErrCorrelation, from, p.Message.ToAddress)
	}
	delete(m.pending, key)
	m.metrics.Pending.Set(float64(len(m.pending)))
	m.metrics.Confirmed.Inc()
	m.mu.Unlock()

	m.logger.Info("MDN confirmed message",
		slog.String("mic", key),
		slog.String("message_id", p.Message.ID),
		slog.Duration("latency", m.clock.Since(p.RegisteredAt)))
	return p.Message, nil
}

// Withdraw removes mic without counting it as confirmed. The controller
// uses it when the transport fails after registration.
func (m *Monitor) Withdraw(mic string) bool {
	key := message.NormalizeMIC(mic)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[key]; !ok {
		return false
	}
	delete(m.pending, key)
	m.metrics.Pending.Set(float64(len(m.pending)))
	return true
}

// SweepExpired removes and returns the entries registered more than the
// confirmation window before now.
func (m *Monitor) SweepExpired(now time.Time) []Pending {
	m.mu.Lock()
	var expired []Pending
	for key, p := range m.pending {
		if now.Sub(p.RegisteredAt) > m.window {
			expired = append(expired, *p)
			delete(m.pending, key)
		}
	}
	if len(expired) > 0 {
		m.metrics.Pending.Set(float64(len(m.pending)))
		m.metrics.Expired.Add(float64(len(expired)))
	}
	m.mu.Unlock()

	for _, p := range expired {
		m.logger.Warn("no MDN received within confirmation window",
			slog.String("mic", p.MIC),
			slog.String("message_id", p.Message.ID),
			slog.String("to", p.Message.ToAddress),
			slog.Time("registered_at", p.RegisteredAt))
		if m.onExpired != nil {
			m.onExpired(p)
		}
	}
	return expired
}

// Len returns the number of pending entries.
func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Start runs the expiry sweep until ctx is done or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	ticker := m.clock.Ticker(m.interval)

	go func(done chan struct{}) {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.SweepExpired(m.clock.Now())
			}
		}
	}(m.done)
}

// Stop ends the expiry sweep and waits for it to return.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
