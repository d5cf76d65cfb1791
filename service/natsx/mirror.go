package natsx

import (
	"context"
	"strings"

	"CragProject/module/realtime/model"

	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go"
)

const DefaultSubjectPrefix = "crag.events"

// Mirror publishes persisted realtime events to NATS, one subject per event
// name. Nats-Msg-Id carries the event id so JetStream drops redeliveries.
type Mirror struct {
	c      *NatsxClient
	prefix string
}

func NewMirror(c *NatsxClient, prefix string) *Mirror {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Mirror{c: c, prefix: prefix}
}

// Subject maps "gear:claimed" to "crag.events.gear.claimed".
func (m *Mirror) Subject(event string) string {
	return m.prefix + "." + strings.ReplaceAll(event, ":", ".")
}

func (m *Mirror) message(ev model.MirrorEvent) (*nats.Msg, error) {
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return buildMsg(m.Subject(ev.Event), data, map[string]string{
		nats.MsgIdHdr: ev.ID,
		"Crag-Room":   string(ev.RoomKey),
	}), nil
}

func (m *Mirror) Publish(ctx context.Context, ev model.MirrorEvent) error {
	msg, err := m.message(ev)
	if err != nil {
		return err
	}
	return m.c.send(ctx, msg)
}
