package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/sirosfoundation/go-as2/pkg/message"
)

// Reply is the synchronous answer to an inbound transfer. An empty Body
// produces a bare 200.
type Reply struct {
	Headers message.Headers
	Body    []byte
}

// Receiver processes one inbound transfer.
type Receiver interface {
	Receive(ctx context.Context, tc *message.TransferContext) (*Reply, error)
}

// SpoolFunc stores an inbound body and returns the path of the stored file.
type SpoolFunc func(r io.Reader) (string, error)

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	Receiver Receiver
	Spool    SpoolFunc
	// MaxBodySize rejects larger requests with 413. Zero means no limit.
	MaxBodySize int64
	Logger      *slog.Logger
}

// Handler turns HTTP POST requests into inbound TransferContexts.
type Handler struct {
	receiver Receiver
	spool    SpoolFunc
	maxBody  int64
	logger   *slog.Logger
}

// NewHandler creates an inbound HTTP handler.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		receiver: cfg.Receiver,
		spool:    cfg.Spool,
		maxBody:  cfg.MaxBodySize,
		logger:   logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	body := io.Reader(r.Body)
	if h.maxBody > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	path, err := h.spool(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.logger.Error("failed to spool request body", slog.String("error", err.Error()))
		http.Error(w, "Failed to read request body", http.StatusInternalServerError)
		return
	}

	tc := &message.TransferContext{
		FullTarget: path,
		Headers:    message.FromHTTPHeader(r.Header),
		Direction:  message.DirectionInbound,
	}

	reply, err := h.receiver.Receive(r.Context(), tc)
	if err != nil {
		status := StatusFor(err)
		h.logger.Warn("inbound transfer rejected",
			slog.String("message_id", tc.Headers.Get(message.HeaderMessageID)),
			slog.String("from", tc.Headers.Get(message.HeaderAS2From)),
			slog.String("kind", message.KindName(err)),
			slog.Int("status", status),
			slog.String("error", err.Error()))
		http.Error(w, http.StatusText(status), status)
		return
	}

	if reply != nil {
		reply.Headers.Each(func(name, value string) {
			w.Header().Set(name, value)
		})
	}
	w.WriteHeader(http.StatusOK)
	if reply != nil && len(reply.Body) > 0 {
		if _, err := w.Write(reply.Body); err != nil {
			h.logger.Warn("failed to write reply", slog.String("error", err.Error()))
		}
	}
}

// StatusFor maps an error kind to the HTTP status returned to the sender.
func StatusFor(err error) int {
	switch message.KindOf(err) {
	case message.ErrConfiguration, message.ErrPolicyViolation:
		return http.StatusBadRequest
	case message.ErrIntegrity:
		return http.StatusForbidden
	case message.ErrTransport:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
