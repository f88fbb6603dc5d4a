package as2

import (
	"context"
	"time"

	"github.com/sirosfoundation/go-as2/pkg/message"
	"github.com/sirosfoundation/go-as2/pkg/party"
	"github.com/sirosfoundation/go-as2/pkg/security"
	"github.com/sirosfoundation/go-as2/pkg/transport"
)

// TransferStatus is the state a transfer reached.
type TransferStatus string

const (
	// StatusDelivered indicates the inbound payload was written out
	StatusDelivered TransferStatus = "delivered"
	// StatusRejected indicates an inbound message was refused
	StatusRejected TransferStatus = "rejected"
	// StatusSent indicates the message was posted and no MDN is expected
	StatusSent TransferStatus = "sent"
	// StatusAwaitingMDN indicates an asynchronous MDN is pending
	StatusAwaitingMDN TransferStatus = "awaiting_mdn"
	// StatusConfirmed indicates a matching MDN reported success
	StatusConfirmed TransferStatus = "confirmed"
	// StatusExpired indicates no MDN arrived within the window
	StatusExpired TransferStatus = "expired"
	// StatusFailed indicates the send failed or the partner reported an error
	StatusFailed TransferStatus = "failed"
)

// Event types
const (
	EventOutbound = "transfer.outbound"
	EventInbound  = "transfer.inbound"
	EventMDN      = "transfer.mdn"
)

// TransferEvent describes one step in the life of a transfer.
type TransferEvent struct {
	Type      string
	MessageID string
	Timestamp time.Time
	Status    TransferStatus
	Direction message.Direction

	From     string
	To       string
	FileName string
	Size     int64
	MIC      string
	Layers   security.Layers
	MDNMode  party.MDNMode

	// Disposition is set once an MDN was received.
	Disposition string
	// Receipt is the raw MDN as received.
	Receipt *Receipt

	Error error
}

// Receipt is a received MDN as it came off the wire.
type Receipt struct {
	ContentType string
	Data        []byte
}

// EventHandler is the callback for transfer lifecycle events. It is called
// synchronously on the transfer goroutine.
type EventHandler func(TransferEvent)

// Transport posts a secured message to a partner.
type Transport interface {
	Send(ctx context.Context, endpoint string, headers message.Headers, body []byte) (*transport.Response, error)
}

// Files is the controller's view of the work and delivery folders.
type Files interface {
	CheckSize(path string) error
	Backup(path string) (string, error)
	WriteWorkFile(data []byte) (string, error)
	RemoveWorkFile(path string)
	Deliver(dir, name string, data []byte) (string, error)
}

// SendResult is the outcome of a successful Send.
type SendResult struct {
	MessageID string
	MIC       string
	Status    TransferStatus
	// MDN is the validated synchronous MDN, nil otherwise.
	MDN *message.MDN
}
