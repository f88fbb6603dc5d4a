package as2

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sirosfoundation/go-as2/pkg/message"
)

// DeliverAsyncMDN posts a packaged MDN to the Receipt-Delivery-Option URL
// of the message it acknowledges.
func (c *Controller) DeliverAsyncMDN(ctx context.Context, m *message.MDN) error {
	url := m.Message.MDN.DeliveryURL
	if url == "" {
		return fmt.Errorf("%w: MDN for %s has no delivery url", message.ErrConfiguration, m.OriginalMessageID)
	}
	if _, err := c.transport.Send(ctx, url, m.Headers, m.Data.Body); err != nil {
		return fmt.Errorf("failed to deliver MDN for %s: %w", m.OriginalMessageID, err)
	}
	c.logger.Info("asynchronous MDN delivered",
		slog.String("message_id", m.ID),
		slog.String("original_message_id", m.OriginalMessageID),
		slog.String("to", m.ToAddress),
		slog.String("url", url))
	return nil
}

func (c *Controller) deliverAsync(m *message.MDN) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Warn("controller closed, asynchronous MDN dropped",
			slog.String("original_message_id", m.OriginalMessageID))
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		// The inbound request is finished by the time this runs.
		ctx, cancel := context.WithTimeout(context.Background(), c.sendTimeout)
		defer cancel()
		if err := c.DeliverAsyncMDN(ctx, m); err != nil {
			c.logger.Error("failed to deliver asynchronous MDN",
				slog.String("original_message_id", m.OriginalMessageID),
				slog.String("error", err.Error()))
		}
	}()
}
