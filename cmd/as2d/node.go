package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sirosfoundation/go-as2/internal/auth"
	"github.com/sirosfoundation/go-as2/internal/config"
	"github.com/sirosfoundation/go-as2/internal/fsutil"
	"github.com/sirosfoundation/go-as2/internal/keystore"
	"github.com/sirosfoundation/go-as2/internal/sender"
	"github.com/sirosfoundation/go-as2/internal/server"
	"github.com/sirosfoundation/go-as2/internal/storage"
	"github.com/sirosfoundation/go-as2/internal/storage/memory"
	"github.com/sirosfoundation/go-as2/internal/storage/mongodb"
	"github.com/sirosfoundation/go-as2/pkg/as2"
	"github.com/sirosfoundation/go-as2/pkg/message"
	"github.com/sirosfoundation/go-as2/pkg/reliability"
	"github.com/sirosfoundation/go-as2/pkg/security"
	"github.com/sirosfoundation/go-as2/pkg/smime"
	"github.com/sirosfoundation/go-as2/pkg/transport"
)

// node is one running AS2 station
type node struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   storage.Store
	monitor *reliability.Monitor
	ctrl    *as2.Controller
	server  *server.Server
	sender  *sender.Sender

	serveErr chan error
}

func newNode(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*node, error) {
	parties, err := cfg.Parties()
	if err != nil {
		return nil, err
	}

	keys, err := keystore.NewProvider(&cfg.Keystore)
	if err != nil {
		return nil, fmt.Errorf("initializing keystore: %w", err)
	}
	infos, err := keystore.CheckParties(ctx, keys, parties)
	if err != nil {
		keys.Close()
		return nil, fmt.Errorf("checking certificates: %w", err)
	}
	for _, info := range infos {
		logger.Info("certificate loaded",
			slog.String("alias", info.Alias),
			slog.String("subject", info.CertificateSubject),
			slog.String("algorithm", info.Algorithm),
			slog.Int("key_size", info.KeySize),
			slog.Time("not_after", info.NotAfter))
	}

	ws, err := fsutil.NewWorkspace(fsutil.Config{
		WorkDir:     cfg.Folders.Work,
		BackupDir:   cfg.Folders.Backup,
		DoBackup:    cfg.Folders.DoBackup,
		MaxFileSize: cfg.Limits.MaxFileSize(),
		Logger:      logger,
	})
	if err != nil {
		keys.Close()
		return nil, err
	}

	validator, err := newValidator(&cfg.Keystore)
	if err != nil {
		keys.Close()
		return nil, err
	}
	pipeline, err := security.NewPipeline(security.Config{
		Crypto:       smime.New(smime.Config{}),
		Certificates: keys,
		Validator:    validator,
		Logger:       logger,
	})
	if err != nil {
		keys.Close()
		return nil, err
	}

	store, err := newStore(ctx, &cfg.Storage.MongoDB, logger)
	if err != nil {
		keys.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	n := &node{cfg: cfg, logger: logger, store: store, serveErr: make(chan error, 1)}
	n.monitor = reliability.NewMonitor(reliability.Config{
		Window:        cfg.MDN.AsyncWindow,
		SweepInterval: cfg.MDN.SweepInterval,
		Logger:        logger,
		Metrics:       reliability.NewMetrics(registry),
		OnExpired:     func(p reliability.Pending) { n.ctrl.HandleExpired(p) },
	})

	httpsCfg := transport.DefaultHTTPSConfig()
	httpsCfg.Timeout = cfg.Sender.SendTimeout
	audit := storage.NewAudit(store, logger)

	n.ctrl, err = as2.NewController(as2.Config{
		Parties:      parties,
		Pipeline:     pipeline,
		Monitor:      n.monitor,
		Transport:    transport.NewClient(httpsCfg),
		Files:        ws,
		DeliveryDir:  cfg.Folders.Delivery,
		AsyncMDNURL:  cfg.MDN.AsyncURL,
		UserAgent:    cfg.Sender.UserAgent,
		SendTimeout:  cfg.Sender.SendTimeout,
		EventHandler: audit.Handle,
		Logger:       logger,
	})
	if err != nil {
		keys.Close()
		store.Close(ctx)
		return nil, err
	}

	handler := transport.NewHandler(transport.HandlerConfig{
		Receiver:    n.ctrl,
		Spool:       ws.CreateWorkFile,
		MaxBodySize: cfg.Limits.MaxFileSize(),
		Logger:      logger,
	})
	n.server, err = server.New(cfg, server.Deps{
		AS2:      handler,
		Store:    store,
		Keystore: keys,
		Auth:     auth.NewAuthenticator(&cfg.OAuth2, logger),
		Gatherer: registry,
		Logger:   logger,
	})
	if err != nil {
		keys.Close()
		store.Close(ctx)
		return nil, err
	}

	if cfg.Sender.Enabled {
		n.sender = sender.NewSender(n.ctrl, ws, &sender.Config{
			Outbox:          cfg.Folders.Outbox,
			PollInterval:    cfg.Sender.PollInterval,
			MaxRetries:      cfg.Sender.MaxRetries,
			InitialBackoff:  cfg.Sender.InitialBackoff,
			MaxBackoff:      cfg.Sender.MaxBackoff,
			BackoffMultiple: 2.0,
		}, logger)
	}
	return n, nil
}

func newValidator(cfg *config.KeystoreConfig) (security.CertificateValidator, error) {
	if cfg.TrustRoots == "" {
		return security.NewValidityValidator(), nil
	}
	roots, err := keystore.LoadTrustRoots(cfg.TrustRoots)
	if err != nil {
		return nil, err
	}
	return security.NewDefaultCertificateValidator(roots), nil
}

func newStore(ctx context.Context, cfg *config.MongoDBConfig, logger *slog.Logger) (storage.Store, error) {
	if cfg.URI == "" {
		logger.Warn("no database configured, audit trail is kept in memory")
		return memory.NewStore(), nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	store, err := mongodb.NewStore(connectCtx, &mongodb.Config{
		URI:            cfg.URI,
		Database:       cfg.Database,
		GridFSBucket:   cfg.GridFS.BucketName,
		ChunkSizeBytes: int32(cfg.GridFS.ChunkSizeBytes),
	})
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	logger.Info("connected to MongoDB", slog.String("database", cfg.Database))
	return store, nil
}

// start launches the expiry sweep, the HTTP listener and, when enabled
// and withSender is set, the outbox sender.
func (n *node) start(ctx context.Context, withSender bool) {
	n.monitor.Start(ctx)
	go func() {
		n.serveErr <- n.server.Start()
	}()
	if withSender && n.sender != nil {
		n.sender.Start(ctx)
	}
}

func (n *node) serve(ctx context.Context) error {
	n.start(ctx, true)

	var err error
	select {
	case <-ctx.Done():
		n.logger.Info("shutting down")
	case err = <-n.serveErr:
		if err != nil {
			n.logger.Error("server failed", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), n.cfg.Server.ShutdownTimeout)
	defer cancel()
	if closeErr := n.close(shutdownCtx); err == nil {
		err = closeErr
	}
	return err
}

func (n *node) close(ctx context.Context) error {
	if n.sender != nil {
		n.sender.Stop()
	}
	n.monitor.Stop()
	err := n.server.Shutdown(ctx)
	n.ctrl.Close()
	return err
}

// awaitMDN blocks until the asynchronous MDN for res has been handled or
// its confirmation window has elapsed, then reports the recorded outcome.
func (n *node) awaitMDN(ctx context.Context, res *as2.SendResult) error {
	if res.Status != as2.StatusAwaitingMDN {
		return nil
	}
	n.logger.Info("waiting for asynchronous MDN", slog.Duration("window", n.monitor.Window()))

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for n.monitor.IsRegistered(res.MIC) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	rec, err := n.store.Get(ctx, storage.DirectionOutbound, res.MessageID)
	if err != nil {
		return err
	}
	if rec == nil || rec.Status != storage.StatusConfirmed {
		status := "unknown"
		if rec != nil {
			status = string(rec.Status)
		}
		return fmt.Errorf("%w: message %s ended as %s", message.ErrCorrelation, res.MessageID, status)
	}
	n.logger.Info("MDN confirmed message", slog.String("message_id", res.MessageID))
	return nil
}
