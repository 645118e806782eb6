package infra

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

func ConnectNats(url string, log *zap.Logger) (*nats.Conn, error) {
	if url == "" {
		return nil, nil
	}
	nc, err := nats.Connect(url,
		nats.Name("skillmart"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return nc, nil
}

// NatsBus publishes domain events as JSON. msgID goes out as Nats-Msg-Id so JetStream streams
// drop replays of the same event.
type NatsBus struct {
	nc     *nats.Conn
	prefix string
}

func NewNatsBus(nc *nats.Conn, prefix string) *NatsBus {
	return &NatsBus{nc: nc, prefix: prefix}
}

func (b *NatsBus) Publish(ctx context.Context, subject, msgID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(b.prefix + "." + subject)
	msg.Data = data
	if msgID != "" {
		msg.Header.Set(nats.MsgIdHdr, msgID)
	}
	if err := b.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}

// LogBus stands in for NATS in development: events are only logged.
type LogBus struct {
	log *zap.Logger
}

func NewLogBus(log *zap.Logger) *LogBus {
	return &LogBus{log: log.Named("events")}
}

func (b *LogBus) Publish(ctx context.Context, subject, msgID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b.log.Info("event", zap.String("subject", subject), zap.String("msg_id", msgID), zap.ByteString("payload", data))
	return nil
}
