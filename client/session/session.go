// Package session keeps one shared websocket connection to the realtime hub
// for every component of a client process.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"CragProject/logger"
	"CragProject/module/realtime/model"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

var (
	ErrNotConnected = errors.New("session: not connected")
	ErrBufferFull   = errors.New("session: send buffer full")
)

type Config struct {
	URL string // ws(s)://host/ws
	// Token is called before every dial so a refused handshake can be
	// retried with a fresh credential.
	Token      func(ctx context.Context) (string, error)
	Dialer     *websocket.Dialer
	MinBackoff time.Duration // default 500ms
	MaxBackoff time.Duration // default 30s
	SendBuffer int           // default 64
	WriteWait  time.Duration // default 10s
}

func (c *Config) norm() {
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = 30 * time.Second
		if c.MaxBackoff < c.MinBackoff {
			c.MaxBackoff = c.MinBackoff
		}
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
}

// Handler receives the raw payload of one inbound event. Handlers run on the
// read goroutine in arrival order, and handlers of one event run in the order
// they were registered; they must not block or call a release func.
type Handler func(data jsoniter.RawMessage)

// hook is a registered callback; slices of hooks stay sorted by id.
type hook[F any] struct {
	id uint64
	fn F
}

type Subscription struct {
	event string
	id    uint64
}

// live is one established connection; out is drained by its single writer.
type live struct {
	ws   *websocket.Conn
	out  chan []byte
	done chan struct{}
}

type Manager struct {
	cfg Config

	mu        sync.Mutex
	refs      int
	cur       *live
	nextID    uint64
	handlers  map[string][]hook[Handler]
	onConnect []hook[func()]
	cancel    context.CancelFunc
	runDone   chan struct{}
}

var (
	shared     *Manager
	sharedOnce sync.Once
)

// Shared returns the process-wide manager; cfg is only used by the first call.
func Shared(cfg Config) *Manager {
	sharedOnce.Do(func() { shared = New(cfg) })
	return shared
}

func New(cfg Config) *Manager {
	cfg.norm()
	return &Manager{
		cfg:       cfg,
		handlers:  make(map[string][]hook[Handler]),
	}
}

// Retain registers interest in the connection, connecting if nobody held it.
// The returned release disconnects once the last holder has released.
func (m *Manager) Retain() (release func()) {
	m.mu.Lock()
	m.refs++
	if m.refs == 1 {
		ctx, cancel := context.WithCancel(context.Background())
		m.cancel = cancel
		m.runDone = make(chan struct{})
		go m.run(ctx, m.runDone)
	}
	m.mu.Unlock()

	var once sync.Once
	return func() { once.Do(m.release) }
}

func (m *Manager) release() {
	m.mu.Lock()
	m.refs--
	if m.refs > 0 {
		m.mu.Unlock()
		return
	}
	cancel, done := m.cancel, m.runDone
	m.cancel, m.runDone = nil, nil
	m.mu.Unlock()

	cancel()
	<-done
}

// Connected reports whether a connection is currently established.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur != nil
}

// Emit queues one event on the current connection. Nothing is buffered while
// disconnected.
func (m *Manager) Emit(event string, payload any) error {
	frame, err := model.EncodeEnvelope(event, payload)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return ErrNotConnected
	}
	select {
	case m.cur.out <- frame:
		return nil
	default:
		return ErrBufferFull
	}
}

func (m *Manager) On(event string, h Handler) Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.handlers[event] = append(m.handlers[event], hook[Handler]{id: m.nextID, fn: h})
	return Subscription{event: event, id: m.nextID}
}

func (m *Manager) Off(s Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hs := without(m.handlers[s.event], s.id)
	if len(hs) == 0 {
		delete(m.handlers, s.event)
		return
	}
	m.handlers[s.event] = hs
}

// OnConnect runs fn after every (re)connect; rooms do not survive a
// disconnect, so this is where components re-issue their joins. The returned
// func unregisters fn.
func (m *Manager) OnConnect(fn func()) (remove func()) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.onConnect = append(m.onConnect, hook[func()]{id: id, fn: fn})
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.onConnect = without(m.onConnect, id)
		m.mu.Unlock()
	}
}

// without returns a copy of hs minus the entry with id.
func without[F any](hs []hook[F], id uint64) []hook[F] {
	out := make([]hook[F], 0, len(hs))
	for _, h := range hs {
		if h.id != id {
			out = append(out, h)
		}
	}
	return out
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	backoff := m.cfg.MinBackoff
	for {
		ws, err := m.dial(ctx)
		if err == nil {
			backoff = m.cfg.MinBackoff
			m.serve(ctx, ws)
		} else if ctx.Err() == nil {
			logger.Warnf("[Session] dial %s failed: %v (retry in %s)", m.cfg.URL, err, backoff)
		}
		if ctx.Err() != nil {
			return
		}
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		if backoff *= 2; backoff > m.cfg.MaxBackoff {
			backoff = m.cfg.MaxBackoff
		}
	}
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	h := http.Header{}
	if m.cfg.Token != nil {
		tok, err := m.cfg.Token(ctx)
		if err != nil {
			return nil, err
		}
		if tok != "" {
			h.Set("Authorization", "Bearer "+tok)
		}
	}
	ws, resp, err := m.cfg.Dialer.DialContext(ctx, m.cfg.URL, h)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: %s", err, resp.Status)
		}
		return nil, err
	}
	return ws, nil
}

// serve runs one connection until it breaks or ctx ends.
func (m *Manager) serve(ctx context.Context, ws *websocket.Conn) {
	l := &live{ws: ws, out: make(chan []byte, m.cfg.SendBuffer), done: make(chan struct{})}

	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		_ = ws.Close()
		return
	}
	m.cur = l
	hooks := make([]func(), 0, len(m.onConnect))
	for _, h := range m.onConnect {
		hooks = append(hooks, h.fn)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.writeLoop(l)
	}()
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			_ = ws.Close()
		case <-l.done:
		}
	}()

	logger.Infof("[Session] connected %s", m.cfg.URL)
	for _, fn := range hooks {
		fn()
	}
	m.readLoop(l)

	m.mu.Lock()
	if m.cur == l {
		m.cur = nil
	}
	m.mu.Unlock()
	close(l.done)
	_ = ws.Close()
	wg.Wait()
	if ctx.Err() == nil {
		logger.Infof("[Session] disconnected %s, reconnecting", m.cfg.URL)
	}
}

func (m *Manager) readLoop(l *live) {
	for {
		_, b, err := l.ws.ReadMessage()
		if err != nil {
			return
		}
		env, err := model.DecodeEnvelope(b)
		if err != nil {
			logger.Warnf("[Session] bad frame: %v", err)
			continue
		}
		m.mu.Lock()
		set := m.handlers[env.Event]
		hs := make([]Handler, 0, len(set))
		for _, h := range set {
			hs = append(hs, h.fn)
		}
		m.mu.Unlock()
		for _, h := range hs {
			h(env.Data)
		}
	}
}

func (m *Manager) writeLoop(l *live) {
	for {
		select {
		case <-l.done:
			return
		case frame := <-l.out:
			_ = l.ws.SetWriteDeadline(time.Now().Add(m.cfg.WriteWait))
			if err := l.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				// unblock the reader so the connection is torn down
				_ = l.ws.Close()
				return
			}
		}
	}
}
