package as2

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-as2/internal/fsutil"
	"github.com/sirosfoundation/go-as2/internal/testcert"
	"github.com/sirosfoundation/go-as2/pkg/mdn"
	"github.com/sirosfoundation/go-as2/pkg/message"
	"github.com/sirosfoundation/go-as2/pkg/party"
	"github.com/sirosfoundation/go-as2/pkg/reliability"
	"github.com/sirosfoundation/go-as2/pkg/security"
	"github.com/sirosfoundation/go-as2/pkg/smime"
	"github.com/sirosfoundation/go-as2/pkg/transport"
)

const invoice = `<?xml version="1.0"?><Invoice><ID>4711</ID><Total>99.50</Total></Invoice>`

// node is one AS2 station listening on an httptest server.
type node struct {
	t        *testing.T
	mux      *http.ServeMux
	server   *httptest.Server
	mock     *clock.Mock
	pipeline *security.Pipeline
	monitor  *reliability.Monitor
	files    *fsutil.Workspace
	outbox   string
	delivery string
	ctrl     *Controller

	mu     sync.Mutex
	events []TransferEvent
}

func newNode(t *testing.T) *node {
	n := &node{t: t, mux: http.NewServeMux(), mock: clock.NewMock()}
	n.server = httptest.NewServer(n.mux)
	t.Cleanup(n.server.Close)
	return n
}

func (n *node) url() string {
	return n.server.URL + "/as2"
}

func (n *node) start(store testcert.Store, reg *party.Registry, asyncURL string) {
	t := n.t
	dir := t.TempDir()

	files, err := fsutil.NewWorkspace(fsutil.Config{
		WorkDir:   filepath.Join(dir, "work"),
		BackupDir: filepath.Join(dir, "backup"),
		DoBackup:  true,
	})
	require.NoError(t, err)
	n.files = files
	n.outbox = filepath.Join(dir, "outbox")
	require.NoError(t, os.MkdirAll(n.outbox, 0o750))
	n.delivery = filepath.Join(dir, "inbox")

	n.pipeline, err = security.NewPipeline(security.Config{Crypto: smime.New(smime.Config{}), Certificates: store})
	require.NoError(t, err)

	n.monitor = reliability.NewMonitor(reliability.Config{
		Clock:     n.mock,
		OnExpired: func(p reliability.Pending) { n.ctrl.HandleExpired(p) },
	})

	n.ctrl, err = NewController(Config{
		Parties:      reg,
		Pipeline:     n.pipeline,
		Monitor:      n.monitor,
		Transport:    transport.NewClient(nil),
		Files:        files,
		DeliveryDir:  n.delivery,
		AsyncMDNURL:  asyncURL,
		SendTimeout:  10 * time.Second,
		EventHandler: n.record,
	})
	require.NoError(t, err)
	t.Cleanup(n.ctrl.Close)

	n.mux.Handle("/as2", transport.NewHandler(transport.HandlerConfig{
		Receiver: n.ctrl,
		Spool:    files.CreateWorkFile,
	}))
}

func (n *node) record(ev TransferEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *node) recorded() []TransferEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]TransferEvent(nil), n.events...)
}

func (n *node) writeOutbox(name, content string) string {
	path := filepath.Join(n.outbox, name)
	require.NoError(n.t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func identities(t *testing.T) testcert.Store {
	return testcert.Store{
		"acme":   testcert.New(t, "acme"),
		"globex": testcert.New(t, "globex"),
	}
}

// acmeParties is acme's view: it sends to globex.
func acmeParties(globexURL string, configure func(*party.Party)) *party.Registry {
	globex := &party.Party{
		Alias:               "globex",
		URL:                 globexURL,
		SignCertAlias:       "globex",
		EncryptCertAlias:    "globex",
		Sign:                true,
		Encrypt:             true,
		SignDigestAlgorithm: message.DigestSHA1,
		EncryptAlgorithm:    message.CipherTripleDES,
		ContentType:         "application/xml",
		MDNMode:             party.MDNSync,
		RequestSignedMDN:    true,
		MDNSigningAlgorithm: message.DigestSHA1,
	}
	if configure != nil {
		configure(globex)
	}
	return party.NewRegistry(
		&party.Party{Alias: "acme", Local: true, SignCertAlias: "acme", EncryptCertAlias: "acme"},
		globex,
	)
}

// globexParties is globex's view: acme must sign and encrypt.
func globexParties(acmeURL string) *party.Registry {
	return party.NewRegistry(
		&party.Party{Alias: "globex", Local: true, SignCertAlias: "globex", EncryptCertAlias: "globex"},
		&party.Party{
			Alias:               "acme",
			URL:                 acmeURL,
			SignCertAlias:       "acme",
			EncryptCertAlias:    "acme",
			Sign:                true,
			Encrypt:             true,
			SignDigestAlgorithm: message.DigestSHA1,
			EncryptAlgorithm:    message.CipherTripleDES,
		},
	)
}

// pair starts acme and globex. asyncPath is appended to acme's URL to
// form its asynchronous MDN endpoint.
func pair(t *testing.T, configure func(*party.Party), asyncPath string) (acme, globex *node) {
	store := identities(t)
	acme, globex = newNode(t), newNode(t)
	asyncURL := ""
	if asyncPath != "" {
		asyncURL = acme.server.URL + asyncPath
	}
	acme.start(store, acmeParties(globex.url(), configure), asyncURL)
	globex.start(store, globexParties(acme.url()), "")
	return acme, globex
}

func send(t *testing.T, n *node, path string) (*SendResult, error) {
	t.Helper()
	return n.ctrl.Send(context.Background(), &message.TransferContext{
		FullTarget: path,
		To:         "globex",
		Direction:  message.DirectionOutbound,
	})
}

func TestNewController_RequiresDependencies(t *testing.T) {
	_, err := NewController(Config{})
	assert.ErrorIs(t, err, message.ErrConfiguration)

	_, err = NewController(Config{Parties: party.NewRegistry()})
	assert.ErrorIs(t, err, message.ErrConfiguration)
}

func TestController_SignedEncryptedWithSyncMDN(t *testing.T) {
	acme, globex := pair(t, nil, "")

	res, err := send(t, acme, acme.writeOutbox("invoice.xml", invoice))
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, res.Status)
	require.NotNil(t, res.MDN)
	assert.Equal(t, message.DispositionProcessed, res.MDN.Disposition)
	assert.True(t, message.EqualMIC(res.MIC, res.MDN.ReceivedContentMIC))
	assert.True(t, message.EqualID(res.MessageID, res.MDN.OriginalMessageID))
	assert.Contains(t, res.MIC, ", sha1")

	delivered, err := os.ReadFile(filepath.Join(globex.delivery, "acme", "invoice.xml"))
	require.NoError(t, err)
	assert.Equal(t, invoice, string(delivered))

	inbound := globex.recorded()
	require.Len(t, inbound, 1)
	assert.Equal(t, StatusDelivered, inbound[0].Status)
	assert.Equal(t, res.MessageID, inbound[0].MessageID)
	assert.Equal(t, security.Layers{Encrypted: true, Signed: true}, inbound[0].Layers)
	assert.Equal(t, party.MDNSync, inbound[0].MDNMode)
	assert.Equal(t, res.MIC, inbound[0].MIC)

	outbound := acme.recorded()
	require.Len(t, outbound, 1)
	assert.Equal(t, StatusConfirmed, outbound[0].Status)
	assert.Equal(t, message.DispositionProcessed, outbound[0].Disposition)
	require.NotNil(t, outbound[0].Receipt)
	assert.Contains(t, outbound[0].Receipt.ContentType, "multipart/signed")
	assert.Equal(t, int64(len(invoice)), outbound[0].Size)

	assert.Zero(t, acme.monitor.Len())
}

func TestController_NoMDN(t *testing.T) {
	acme, globex := pair(t, func(p *party.Party) {
		p.MDNMode = party.MDNNone
		p.Compress = true
		p.CompressionAlgorithm = message.CompressionZlib
	}, "")

	res, err := send(t, acme, acme.writeOutbox("invoice.xml", invoice))
	require.NoError(t, err)
	assert.Equal(t, StatusSent, res.Status)
	assert.Nil(t, res.MDN)

	inbound := globex.recorded()
	require.Len(t, inbound, 1)
	assert.Equal(t, security.Layers{Encrypted: true, Signed: true, Compressed: true}, inbound[0].Layers)
	assert.Equal(t, party.MDNNone, inbound[0].MDNMode)
}

func TestController_RequiredEncryptionMissing(t *testing.T) {
	t.Run("sync MDN reports the failure", func(t *testing.T) {
		acme, globex := pair(t, func(p *party.Party) { p.Encrypt = false }, "")

		_, err := send(t, acme, acme.writeOutbox("invoice.xml", invoice))
		require.Error(t, err)
		assert.ErrorIs(t, err, message.ErrPolicyViolation)
		assert.Contains(t, err.Error(), message.DispositionDecryptionFailed)

		assert.NoDirExists(t, filepath.Join(globex.delivery, "acme"))
		inbound := globex.recorded()
		require.Len(t, inbound, 1)
		assert.Equal(t, StatusRejected, inbound[0].Status)
		assert.ErrorIs(t, inbound[0].Error, message.ErrPolicyViolation)

		outbound := acme.recorded()
		require.Len(t, outbound, 1)
		assert.Equal(t, StatusFailed, outbound[0].Status)
		assert.Equal(t, message.DispositionError(message.DispositionDecryptionFailed), outbound[0].Disposition)
	})

	t.Run("without MDN the exchange fails", func(t *testing.T) {
		acme, globex := pair(t, func(p *party.Party) {
			p.Encrypt = false
			p.MDNMode = party.MDNNone
		}, "")

		_, err := send(t, acme, acme.writeOutbox("invoice.xml", invoice))
		require.Error(t, err)
		assert.ErrorIs(t, err, message.ErrTransport)
		assert.Contains(t, err.Error(), "400")

		assert.NoDirExists(t, filepath.Join(globex.delivery, "acme"))
		inbound := globex.recorded()
		require.Len(t, inbound, 1)
		assert.ErrorIs(t, inbound[0].Error, message.ErrPolicyViolation)
	})
}

func TestController_WrongSignerRejected(t *testing.T) {
	store := identities(t)
	store["mallory"] = testcert.New(t, "mallory")
	acme, globex := newNode(t), newNode(t)

	// acme signs with mallory's key while globex expects acme's.
	reg := acmeParties(globex.url(), nil)
	local, err := reg.Local()
	require.NoError(t, err)
	local.SignCertAlias = "mallory"
	acme.start(store, reg, "")
	globex.start(store, globexParties(acme.url()), "")

	_, err = send(t, acme, acme.writeOutbox("invoice.xml", invoice))
	require.Error(t, err)
	assert.ErrorIs(t, err, message.ErrPolicyViolation)
	assert.Contains(t, err.Error(), message.DispositionAuthenticationFailed)

	inbound := globex.recorded()
	require.Len(t, inbound, 1)
	assert.ErrorIs(t, inbound[0].Error, message.ErrIntegrity)
	assert.NoDirExists(t, filepath.Join(globex.delivery, "acme"))
}

func TestController_AsyncMDN(t *testing.T) {
	acme, globex := pair(t, func(p *party.Party) { p.MDNMode = party.MDNAsync }, "/as2")

	res, err := send(t, acme, acme.writeOutbox("invoice.xml", invoice))
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingMDN, res.Status)

	// waits for the background MDN post, which acme handles inline
	globex.ctrl.Close()

	assert.False(t, acme.monitor.IsRegistered(res.MIC))
	outbound := acme.recorded()
	require.Len(t, outbound, 2)
	assert.Equal(t, StatusAwaitingMDN, outbound[0].Status)
	assert.Equal(t, EventMDN, outbound[1].Type)
	assert.Equal(t, StatusConfirmed, outbound[1].Status)
	assert.Equal(t, res.MessageID, outbound[1].MessageID)
	assert.Equal(t, message.DispositionProcessed, outbound[1].Disposition)
	require.NotNil(t, outbound[1].Receipt)
	assert.NotEmpty(t, outbound[1].Receipt.Data)

	inbound := globex.recorded()
	require.Len(t, inbound, 1)
	assert.Equal(t, party.MDNAsync, inbound[0].MDNMode)
}

func TestController_AsyncMDNExpires(t *testing.T) {
	// MDNs are posted to a path nobody serves, so acme never sees one.
	acme, globex := pair(t, func(p *party.Party) { p.MDNMode = party.MDNAsync }, "/lost")

	res, err := send(t, acme, acme.writeOutbox("invoice.xml", invoice))
	require.NoError(t, err)
	globex.ctrl.Close()
	require.True(t, acme.monitor.IsRegistered(res.MIC))

	acme.mock.Add(acme.monitor.Window() - time.Millisecond)
	assert.Empty(t, acme.monitor.SweepExpired(acme.mock.Now()))

	acme.mock.Add(2 * time.Millisecond)
	expired := acme.monitor.SweepExpired(acme.mock.Now())
	require.Len(t, expired, 1)
	assert.False(t, acme.monitor.IsRegistered(res.MIC))

	outbound := acme.recorded()
	require.Len(t, outbound, 2)
	assert.Equal(t, StatusExpired, outbound[1].Status)
	assert.Equal(t, res.MessageID, outbound[1].MessageID)
	assert.ErrorIs(t, outbound[1].Error, message.ErrCorrelation)
}

func TestController_AsyncSendFailureWithdraws(t *testing.T) {
	acme, _ := pair(t, func(p *party.Party) {
		p.MDNMode = party.MDNAsync
		p.URL = "http://127.0.0.1:1/as2"
	}, "/as2")

	_, err := send(t, acme, acme.writeOutbox("invoice.xml", invoice))
	require.Error(t, err)
	assert.ErrorIs(t, err, message.ErrTransport)
	assert.Zero(t, acme.monitor.Len())
}

func TestController_AsyncMDNToForeignHostIsSentInline(t *testing.T) {
	store := identities(t)
	acme, globex := newNode(t), newNode(t)

	// acme asks for the MDN on a host globex does not know it by.
	foreign := strings.Replace(acme.server.URL, "127.0.0.1", "localhost", 1) + "/as2"
	acme.start(store, acmeParties(globex.url(), func(p *party.Party) { p.MDNMode = party.MDNAsync }), foreign)
	globex.start(store, globexParties(acme.url()), "")

	res, err := send(t, acme, acme.writeOutbox("invoice.xml", invoice))
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingMDN, res.Status)
	globex.ctrl.Close()

	// nothing was posted back, the receipt went out on the original response
	assert.True(t, acme.monitor.IsRegistered(res.MIC))
	require.Len(t, acme.recorded(), 1)

	inbound := globex.recorded()
	require.Len(t, inbound, 1)
	assert.Equal(t, StatusDelivered, inbound[0].Status)
}

func TestController_MDNFailureDeliversNothing(t *testing.T) {
	store := identities(t)
	acme, globex := newNode(t), newNode(t)

	// globex can decrypt but has no key to sign the receipt with.
	reg := globexParties(acme.url())
	local, err := reg.Local()
	require.NoError(t, err)
	local.SignCertAlias = "missing"
	acme.start(store, acmeParties(globex.url(), nil), "")
	globex.start(store, reg, "")

	_, err = send(t, acme, acme.writeOutbox("invoice.xml", invoice))
	require.Error(t, err)
	assert.ErrorIs(t, err, message.ErrTransport)

	assert.NoDirExists(t, filepath.Join(globex.delivery, "acme"))
	inbound := globex.recorded()
	require.Len(t, inbound, 1)
	assert.Equal(t, StatusRejected, inbound[0].Status)
	assert.ErrorIs(t, inbound[0].Error, message.ErrConfiguration)
}

func TestController_UnexpectedMDNIsNotConfirmed(t *testing.T) {
	acme, globex := pair(t, func(p *party.Party) { p.MDNMode = party.MDNAsync }, "/as2")

	pending := message.New("acme", "globex")
	pending.MIC = "qZk+NkcGgWq6PiVxeFDCbJzQ2J0=, sha1"
	require.NoError(t, acme.monitor.Register(pending.MIC, pending))

	// globex acknowledges a different message that happens to share the MIC.
	other := message.New("acme", "globex", message.WithMDNRequest(message.MDNRequest{
		Requested:    true,
		Signed:       true,
		MICAlgorithm: message.DigestSHA1,
	}))
	other.MIC = pending.MIC
	globexParty, err := globexParties("").Get("globex")
	require.NoError(t, err)
	b := mdn.NewBuilder(mdn.Config{Pipeline: globex.pipeline})
	m := b.Build(other, message.DispositionProcessed, globexParty)
	require.NoError(t, b.Package(context.Background(), m))

	path, err := acme.files.WriteWorkFile(m.Data.Body)
	require.NoError(t, err)
	reply, err := acme.ctrl.Receive(context.Background(), &message.TransferContext{
		FullTarget: path,
		Headers:    m.Headers.Clone(),
		Direction:  message.DirectionInbound,
	})
	require.NoError(t, err)
	assert.Nil(t, reply)

	assert.True(t, acme.monitor.IsRegistered(pending.MIC))
	assert.Empty(t, acme.recorded())
	assert.NoFileExists(t, path)
}

func TestController_SendErrors(t *testing.T) {
	acme, _ := pair(t, nil, "")
	path := acme.writeOutbox("invoice.xml", invoice)

	_, err := acme.ctrl.Send(context.Background(), &message.TransferContext{FullTarget: path, To: "initech"})
	assert.ErrorIs(t, err, message.ErrConfiguration)

	_, err = acme.ctrl.Send(context.Background(), &message.TransferContext{FullTarget: path})
	assert.ErrorIs(t, err, message.ErrConfiguration)

	_, err = send(t, acme, filepath.Join(acme.outbox, "missing.xml"))
	assert.Error(t, err)

	events := acme.recorded()
	require.Len(t, events, 3)
	for _, ev := range events {
		assert.Equal(t, StatusFailed, ev.Status)
		assert.Error(t, ev.Error)
	}
}

func TestController_AsyncRequiresMDNURL(t *testing.T) {
	acme, _ := pair(t, func(p *party.Party) { p.MDNMode = party.MDNAsync }, "")

	_, err := send(t, acme, acme.writeOutbox("invoice.xml", invoice))
	assert.ErrorIs(t, err, message.ErrConfiguration)
}

func TestCheckReceipt(t *testing.T) {
	msg := message.New("acme", "globex")
	msg.MIC = "qZk+NkcGgWq6PiVxeFDCbJzQ2J0=, sha1"

	receipt := func(id, disposition, mic string) *message.MDN {
		return &message.MDN{OriginalMessageID: id, Disposition: disposition, ReceivedContentMIC: mic}
	}

	tests := []struct {
		name string
		mdn  *message.MDN
		want error
	}{
		{"matching", receipt(msg.ID, message.DispositionProcessed, "qZk+NkcGgWq6PiVxeFDCbJzQ2J0=, SHA-1"), nil},
		{"other message", receipt("<other@acme>", message.DispositionProcessed, msg.MIC), message.ErrCorrelation},
		{"error disposition", receipt(msg.ID, message.DispositionError(message.DispositionDecryptionFailed), ""), message.ErrPolicyViolation},
		{"MIC mismatch", receipt(msg.ID, message.DispositionProcessed, "AAAA, sha1"), message.ErrIntegrity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkReceipt(msg, tt.mdn)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDispositionModifier(t *testing.T) {
	strict := security.Policy{RequireEncryption: true, RequireSignature: true}

	_, ok := dispositionModifier(message.ErrConfiguration, strict, security.Layers{}, true)
	assert.False(t, ok)

	mod, ok := dispositionModifier(message.ErrPolicyViolation, strict, security.Layers{}, false)
	assert.True(t, ok)
	assert.Equal(t, message.DispositionDecryptionFailed, mod)

	mod, _ = dispositionModifier(message.ErrIntegrity, strict, security.Layers{Encrypted: true}, true)
	assert.Equal(t, message.DispositionAuthenticationFailed, mod)

	mod, _ = dispositionModifier(message.ErrPolicyViolation, strict, security.Layers{Encrypted: true}, true)
	assert.Equal(t, message.DispositionAuthenticationFailed, mod)

	decompress := fmt.Errorf("%w: %w: zlib: invalid header", security.ErrDecompression, message.ErrIntegrity)
	mod, _ = dispositionModifier(decompress, strict, security.Layers{Encrypted: true, Signed: true}, true)
	assert.Equal(t, message.DispositionIntegrityCheckFailed, mod)

	mod, _ = dispositionModifier(errors.New("corrupt stream"), security.Policy{}, security.Layers{Signed: true}, false)
	assert.Equal(t, message.DispositionUnexpectedError, mod)
}

func TestSameHost(t *testing.T) {
	assert.True(t, sameHost("https://as2.acme.example:8443/mdn", "https://AS2.acme.example/as2"))
	assert.False(t, sameHost("http://169.254.169.254/latest", "https://as2.acme.example/as2"))
	assert.False(t, sameHost("/relative", ""))
	assert.False(t, sameHost("http://%zz", "http://as2.acme.example"))
}
