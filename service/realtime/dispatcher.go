package realtime

import (
	"context"
	"sync"

	"CragProject/tools/errs"

	"github.com/golang/glog"
	jsoniter "github.com/json-iterator/go"
)

// Context carries one inbound event through its handler.
type Context struct {
	Ctx   context.Context
	Hub   *Hub
	Conn  *Conn
	Event string
}

func (c *Context) UserID() string { return c.Conn.userID }

// Reply sends an event to the calling connection only.
func (c *Context) Reply(event string, payload any) error {
	return c.Hub.SendTo(c.Conn, event, payload)
}

type Handler interface {
	Event() string
	Handle(c *Context, data jsoniter.RawMessage) error
}

// HandlerFunc adapts a function to Handler under a fixed event name.
type HandlerFunc struct {
	Name string
	Fn   func(c *Context, data jsoniter.RawMessage) error
}

func (h HandlerFunc) Event() string { return h.Name }

func (h HandlerFunc) Handle(c *Context, data jsoniter.RawMessage) error { return h.Fn(c, data) }

type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register replaces any handler already bound to h.Event().
func (d *Dispatcher) Register(hs ...Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range hs {
		d.handlers[h.Event()] = h
	}
}

func (d *Dispatcher) GetHandler(event string) Handler {
	d.mu.RLock()
	h, ok := d.handlers[event]
	d.mu.RUnlock()
	if !ok {
		glog.V(2).Infof("no handler for event=%s", event)
		return nil
	}
	return h
}

func (d *Dispatcher) Dispatch(c *Context, data jsoniter.RawMessage) error {
	h := d.GetHandler(c.Event)
	if h == nil {
		return errs.ErrValidation.WrapMsg("unknown event", "event", c.Event)
	}
	glog.V(2).Infof("dispatch event=%s conn=%s user=%s", c.Event, c.Conn.id, c.Conn.userID)
	return h.Handle(c, data)
}

func (d *Dispatcher) Events() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.handlers))
	for e := range d.handlers {
		out = append(out, e)
	}
	return out
}
