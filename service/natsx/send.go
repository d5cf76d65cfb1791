package natsx

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

func buildMsg(subject string, data []byte, hdr map[string]string) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range hdr {
		msg.Header.Set(k, v)
	}
	return msg
}

func (c *NatsxClient) send(ctx context.Context, msg *nats.Msg) error {
	if c.cfg.Mode == JetStream {
		js, err := c.ensureJS()
		if err != nil {
			return fmt.Errorf("init jetstream: %w", err)
		}
		if _, err := js.PublishMsg(msg, nats.Context(ctx)); err != nil {
			return fmt.Errorf("publish failed: %w", err)
		}
		return nil
	}
	if err := c.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}
