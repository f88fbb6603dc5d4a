package reliability

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-as2/pkg/message"
)

const testMIC = "qZk+NkcGgWq6PiVxeFDCbJzQ2J0=, sha1"

func newTestMonitor(t *testing.T, onExpired func(Pending)) (*Monitor, *clock.Mock, *Metrics) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	metrics := NewMetrics(prometheus.NewRegistry())
	m := NewMonitor(Config{
		Window:        3 * time.Second,
		SweepInterval: time.Second,
		Clock:         mock,
		Metrics:       metrics,
		OnExpired:     onExpired,
	})
	return m, mock, metrics
}

func outboundMessage(id string) *message.Message {
	msg := message.New("acme", "globex")
	msg.ID = id
	msg.MIC = testMIC
	return msg
}

func TestNewMonitor_Defaults(t *testing.T) {
	m := NewMonitor(Config{})
	assert.Equal(t, DefaultWindow, m.Window())
	assert.Equal(t, DefaultSweepInterval, m.interval)

	m = NewMonitor(Config{Window: 500 * time.Millisecond, SweepInterval: time.Minute})
	assert.Equal(t, 500*time.Millisecond, m.interval)
}

func TestMonitor_RegisterConfirm(t *testing.T) {
	m, _, metrics := newTestMonitor(t, nil)
	msg := outboundMessage("<1@acme>")

	require.NoError(t, m.Register(testMIC, msg))
	assert.True(t, m.IsRegistered(testMIC))
	assert.Equal(t, 1, m.Len())

	got, ok := m.Lookup(testMIC)
	require.True(t, ok)
	assert.Same(t, msg, got)

	assert.True(t, m.ConfirmAndDeregister(testMIC))
	assert.False(t, m.IsRegistered(testMIC))

	// second confirmation is a no-op
	assert.False(t, m.ConfirmAndDeregister(testMIC))
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Confirmed))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.Pending))
}

func TestMonitor_RegisterConflict(t *testing.T) {
	m, _, _ := newTestMonitor(t, nil)
	first := outboundMessage("<1@acme>")

	require.NoError(t, m.Register(testMIC, first))
	err := m.Register(testMIC, outboundMessage("<2@acme>"))
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
	assert.ErrorIs(t, err, message.ErrCorrelation)

	got, _ := m.Lookup(testMIC)
	assert.Same(t, first, got)
}

func TestMonitor_RegisterWithoutMIC(t *testing.T) {
	m, _, _ := newTestMonitor(t, nil)
	assert.ErrorIs(t, m.Register("", outboundMessage("<1@acme>")), message.ErrConfiguration)
}

func TestMonitor_KeysAreNormalized(t *testing.T) {
	m, _, _ := newTestMonitor(t, nil)
	require.NoError(t, m.Register("qZk+NkcGgWq6PiVxeFDCbJzQ2J0=,SHA1", outboundMessage("<1@acme>")))
	assert.True(t, m.IsRegistered(testMIC))
}

func TestMonitor_SweepExpired(t *testing.T) {
	var expired []Pending
	m, mock, metrics := newTestMonitor(t, func(p Pending) { expired = append(expired, p) })

	t0 := mock.Now()
	require.NoError(t, m.Register(testMIC, outboundMessage("<1@acme>")))

	assert.Empty(t, m.SweepExpired(t0.Add(3*time.Second-time.Millisecond)))
	assert.True(t, m.IsRegistered(testMIC))

	swept := m.SweepExpired(t0.Add(3*time.Second + time.Millisecond))
	require.Len(t, swept, 1)
	assert.Equal(t, "<1@acme>", swept[0].Message.ID)
	assert.Equal(t, t0, swept[0].RegisteredAt)
	assert.False(t, m.IsRegistered(testMIC))
	require.Len(t, expired, 1)
	assert.Equal(t, testMIC, expired[0].MIC)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Expired))

	// a late MDN must not revive the entry
	_, err := m.Resolve(testMIC, "<1@acme>", "globex")
	assert.ErrorIs(t, err, message.ErrCorrelation)
	assert.False(t, m.IsRegistered(testMIC))
}

func TestMonitor_Resolve(t *testing.T) {
	m, _, metrics := newTestMonitor(t, nil)
	msg := outboundMessage("<1@acme>")
	require.NoError(t, m.Register(testMIC, msg))

	got, err := m.Resolve(testMIC, "1@acme", "GLOBEX")
	require.NoError(t, err)
	assert.Same(t, msg, got)
	assert.False(t, m.IsRegistered(testMIC))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Confirmed))
}

func TestMonitor_ResolveMismatchedMessageID(t *testing.T) {
	m, _, metrics := newTestMonitor(t, nil)
	require.NoError(t, m.Register(testMIC, outboundMessage("<1@acme>")))

	_, err := m.Resolve(testMIC, "<forged@mallory>", "globex")
	assert.ErrorIs(t, err, message.ErrCorrelation)
	assert.True(t, m.IsRegistered(testMIC))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Unexpected))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.Confirmed))
}

func TestMonitor_ResolveWrongSender(t *testing.T) {
	m, _, metrics := newTestMonitor(t, nil)
	require.NoError(t, m.Register(testMIC, outboundMessage("<1@acme>")))

	_, err := m.Resolve(testMIC, "<1@acme>", "initech")
	assert.ErrorIs(t, err, message.ErrCorrelation)
	assert.True(t, m.IsRegistered(testMIC))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Unexpected))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.Confirmed))

	_, err = m.Resolve(testMIC, "<1@acme>", "globex")
	require.NoError(t, err)
}

func TestMonitor_ResolveUnknownMIC(t *testing.T) {
	m, _, metrics := newTestMonitor(t, nil)

	_, err := m.Resolve(testMIC, "<1@acme>", "globex")
	assert.ErrorIs(t, err, message.ErrCorrelation)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Unexpected))
}

func TestMonitor_Withdraw(t *testing.T) {
	m, _, metrics := newTestMonitor(t, nil)
	require.NoError(t, m.Register(testMIC, outboundMessage("<1@acme>")))

	assert.True(t, m.Withdraw(testMIC))
	assert.False(t, m.Withdraw(testMIC))
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.Confirmed))
}

func TestMonitor_BackgroundSweep(t *testing.T) {
	expired := make(chan Pending, 1)
	m, mock, _ := newTestMonitor(t, func(p Pending) { expired <- p })

	m.Start(context.Background())
	defer m.Stop()

	require.NoError(t, m.Register(testMIC, outboundMessage("<1@acme>")))

	mock.Add(2 * time.Second)
	assert.True(t, m.IsRegistered(testMIC))

	mock.Add(2 * time.Second)
	select {
	case p := <-expired:
		assert.Equal(t, "<1@acme>", p.Message.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("entry did not expire")
	}
	assert.False(t, m.IsRegistered(testMIC))
}

func TestMonitor_StopIsIdempotent(t *testing.T) {
	m, _, _ := newTestMonitor(t, nil)
	m.Start(context.Background())
	m.Stop()
	m.Stop()
}

func TestMonitor_ConcurrentRegisterAndResolve(t *testing.T) {
	m, _, _ := newTestMonitor(t, nil)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mic := fmt.Sprintf("mic-%d, sha1", i)
			msg := outboundMessage(fmt.Sprintf("<%d@acme>", i))
			if err := m.Register(mic, msg); err != nil {
				t.Error(err)
				return
			}
			if _, err := m.Resolve(mic, msg.ID, "globex"); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, m.Len())
}
