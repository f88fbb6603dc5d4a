// Package sender provides background file sending for the AS2 server.
//
// The Sender runs as a background worker that polls the outbox folder and
// hands every file it finds to the protocol controller.
//
// # Outbox Layout
//
// The outbox holds one folder per partner alias. A file placed in
// <outbox>/<alias>/ is sent to that partner from the local party:
//
//	outbox/
//	  acme/
//	    invoice-0001.xml      waiting
//	    sent/                 transferred (and confirmed, for synchronous MDNs)
//	    failed/               rejected or out of retries
//
// # Retry Policy
//
// Transport failures are retried with exponential backoff. After
// MaxRetries attempts the file is moved to failed/. Every other failure
// (configuration, policy, integrity) moves the file to failed/ at once,
// since sending it again would fail the same way.
//
// # Concurrency
//
// The sender processes files sequentially within each polling round.
package sender

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/sirosfoundation/go-as2/pkg/as2"
	"github.com/sirosfoundation/go-as2/pkg/message"
)

const (
	// SentDir receives files once they are transferred
	SentDir = "sent"
	// FailedDir receives files that could not be transferred
	FailedDir = "failed"
)

// Controller sends one file
type Controller interface {
	Send(ctx context.Context, tc *message.TransferContext) (*as2.SendResult, error)
}

// Mover moves a file into a folder, returning its new path
type Mover interface {
	Move(src, dir string) (string, error)
}

// Sender handles background delivery of outbound files
type Sender struct {
	ctrl   Controller
	files  Mover
	outbox string
	clock  clock.Clock
	logger *slog.Logger

	// Configuration
	pollInterval    time.Duration
	maxRetries      int
	initialBackoff  time.Duration
	maxBackoff      time.Duration
	backoffMultiple float64

	mu      sync.Mutex
	retries map[string]*retryState

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type retryState struct {
	count     int
	nextRetry time.Time
	lastError string
}

// Config holds sender configuration
type Config struct {
	Outbox          string
	PollInterval    time.Duration
	MaxRetries      int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	BackoffMultiple float64
	Clock           clock.Clock
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		PollInterval:    10 * time.Second,
		MaxRetries:      5,
		InitialBackoff:  time.Minute,
		MaxBackoff:      time.Hour,
		BackoffMultiple: 2.0,
	}
}

// NewSender creates a new background sender
func NewSender(ctrl Controller, files Mover, cfg *Config, logger *slog.Logger) *Sender {
	def := DefaultConfig()
	if cfg == nil {
		cfg = def
	}
	if logger == nil {
		logger = slog.Default()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	s := &Sender{
		ctrl:            ctrl,
		files:           files,
		outbox:          cfg.Outbox,
		clock:           clk,
		logger:          logger,
		pollInterval:    cfg.PollInterval,
		maxRetries:      cfg.MaxRetries,
		initialBackoff:  cfg.InitialBackoff,
		maxBackoff:      cfg.MaxBackoff,
		backoffMultiple: cfg.BackoffMultiple,
		retries:         make(map[string]*retryState),
	}
	if s.pollInterval <= 0 {
		s.pollInterval = def.PollInterval
	}
	if s.maxRetries <= 0 {
		s.maxRetries = def.MaxRetries
	}
	if s.initialBackoff <= 0 {
		s.initialBackoff = def.InitialBackoff
	}
	if s.maxBackoff <= 0 {
		s.maxBackoff = def.MaxBackoff
	}
	if s.backoffMultiple < 1 {
		s.backoffMultiple = def.BackoffMultiple
	}
	return s
}

// Start begins background file processing
func (s *Sender) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run()
	s.logger.Info("sender started",
		slog.String("outbox", s.outbox),
		slog.Duration("poll_interval", s.pollInterval))
}

// Stop gracefully stops the sender
func (s *Sender) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.logger.Info("sender stopped")
}

func (s *Sender) run() {
	defer s.wg.Done()

	ticker := s.clock.Ticker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Poll(s.ctx)
		}
	}
}

// Poll runs one round over the outbox
func (s *Sender) Poll(ctx context.Context) {
	partners, err := os.ReadDir(s.outbox)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Error("failed to list outbox", slog.String("outbox", s.outbox), slog.String("error", err.Error()))
		}
		return
	}

	for _, entry := range partners {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		s.processPartner(ctx, entry.Name())
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Sender) processPartner(ctx context.Context, alias string) {
	dir := filepath.Join(s.outbox, alias)
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.logger.Error("failed to list partner outbox", slog.String("dir", dir), slog.String("error", err.Error()))
		return
	}

	// Oldest first
	files := make([]fileEntry, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileEntry{path: filepath.Join(dir, entry.Name()), modTime: info.ModTime()})
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })

	for _, f := range files {
		if ctx.Err() != nil {
			return
		}
		if !s.due(f.path) {
			continue
		}
		s.sendFile(ctx, alias, f.path)
	}
}

type fileEntry struct {
	path    string
	modTime time.Time
}

func (s *Sender) sendFile(ctx context.Context, alias, path string) {
	log := s.logger.With(slog.String("to", alias), slog.String("file", path))

	result, err := s.ctrl.Send(ctx, &message.TransferContext{
		FullTarget: path,
		Direction:  message.DirectionOutbound,
		To:         alias,
	})
	if err != nil {
		// The controller already logged the failure.
		s.handleSendError(path, err)
		return
	}

	s.forget(path)
	dst, err := s.files.Move(path, filepath.Join(filepath.Dir(path), SentDir))
	if err != nil {
		log.Error("failed to move sent file", slog.String("error", err.Error()))
		return
	}
	log.Info("file sent",
		slog.String("message_id", result.MessageID),
		slog.String("status", string(result.Status)),
		slog.String("path", dst))
}

func (s *Sender) handleSendError(path string, sendErr error) {
	if !errors.Is(sendErr, message.ErrTransport) {
		s.markFailed(path, sendErr.Error())
		return
	}

	s.mu.Lock()
	st, ok := s.retries[path]
	if !ok {
		st = &retryState{}
		s.retries[path] = st
	}
	st.count++
	st.lastError = sendErr.Error()
	count := st.count
	s.mu.Unlock()

	if count >= s.maxRetries {
		// Max retries exceeded
		s.markFailed(path, "max retries exceeded: "+sendErr.Error())
		return
	}

	// Calculate next retry time with exponential backoff
	backoff := s.initialBackoff
	for i := 1; i < count; i++ {
		backoff = time.Duration(float64(backoff) * s.backoffMultiple)
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
			break
		}
	}
	nextRetry := s.clock.Now().Add(backoff)

	s.mu.Lock()
	st.nextRetry = nextRetry
	s.mu.Unlock()

	s.logger.Info("file scheduled for retry",
		slog.String("file", path),
		slog.Int("retry_count", count),
		slog.Time("next_retry", nextRetry))
}

func (s *Sender) markFailed(path, reason string) {
	s.forget(path)
	dst, err := s.files.Move(path, filepath.Join(filepath.Dir(path), FailedDir))
	if err != nil {
		s.logger.Error("failed to move file to failed folder", slog.String("file", path), slog.String("error", err.Error()))
		return
	}
	s.logger.Warn("file marked as failed", slog.String("file", dst), slog.String("reason", reason))
}

// due reports whether path may be attempted now.
func (s *Sender) due(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.retries[path]
	return !ok || !s.clock.Now().Before(st.nextRetry)
}

func (s *Sender) forget(path string) {
	s.mu.Lock()
	delete(s.retries, path)
	s.mu.Unlock()
}
