package server

import (
	"log/slog"

	"github.com/mbocsi/especial/proto"
)

// Broker fans unsolicited messages out to connections.
type Broker struct {
	registry *ConnRegistry
	metrics  *Metrics
	logger   *slog.Logger
}

func NewBroker(registry *ConnRegistry, metrics *Metrics, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{registry: registry, metrics: metrics, logger: logger}
}

// Publish serializes resp once and delivers it to every open connection. A
// failed delivery is logged and skipped. It returns the number of
// connections the message was written to.
func (b *Broker) Publish(resp proto.Response) int {
	data, err := proto.Encode(resp)
	if err != nil {
		b.logger.Error("Failed to serialize broadcast, sending failure envelope", "event", resp.Message, "error", err)
	}

	sentCount := 0
	for _, conn := range b.registry.List() {
		if err := conn.Send(data); err != nil {
			b.logger.Warn("There was an error broadcasting a message to a connection", "event", resp.Message, "conn", conn.Meta().Id, "error", err.Error())
			b.metrics.broadcastFailed()
			continue
		}
		b.metrics.broadcastDelivered()
		sentCount++
	}
	b.logger.Debug("Message broadcast",
		"event", resp.Message,
		"connections", sentCount,
		"size", len(data),
	)
	return sentCount
}

// PublishTo delivers resp to one connection.
func (b *Broker) PublishTo(conn Conn, resp proto.Response) error {
	data, err := proto.Encode(resp)
	if err != nil {
		b.logger.Error("Failed to serialize broadcast, sending failure envelope", "event", resp.Message, "error", err)
	}
	if err := conn.Send(data); err != nil {
		b.metrics.broadcastFailed()
		return err
	}
	b.metrics.broadcastDelivered()
	return nil
}
