package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"CragProject/module/realtime/model"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

// echoServer accepts every handshake carrying the expected bearer token,
// greets with session:ready and echoes frames back.
type echoServer struct {
	*httptest.Server
	accepted atomic.Int32
	mu       sync.Mutex
	conns    []*websocket.Conn
}

func newEchoServer(t *testing.T, token string) *echoServer {
	t.Helper()
	es := &echoServer{}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	es.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		es.accepted.Add(1)
		es.mu.Lock()
		es.conns = append(es.conns, ws)
		es.mu.Unlock()
		ready, _ := model.EncodeEnvelope(model.EvSessionReady, model.SessionReadyEvent{UserID: "a"})
		_ = ws.WriteMessage(websocket.TextMessage, ready)
		for {
			mt, b, err := ws.ReadMessage()
			if err != nil {
				return
			}
			_ = ws.WriteMessage(mt, b)
		}
	}))
	t.Cleanup(es.Close)
	return es
}

func (es *echoServer) url() string { return "ws" + strings.TrimPrefix(es.URL, "http") }

// kick closes every server-side connection.
func (es *echoServer) kick() {
	es.mu.Lock()
	defer es.mu.Unlock()
	for _, c := range es.conns {
		_ = c.Close()
	}
	es.conns = nil
}

func staticToken(tok string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return tok, nil }
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEmitWhileDisconnectedFails(t *testing.T) {
	m := New(Config{URL: "ws://127.0.0.1:1/ws"})
	if err := m.Emit(model.EvTypingStart, nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("want ErrNotConnected, got %v", err)
	}
}

func TestEmitAndReceive(t *testing.T) {
	es := newEchoServer(t, "tok")
	m := New(Config{URL: es.url(), Token: staticToken("tok"), MinBackoff: 10 * time.Millisecond})

	got := make(chan model.TypingEvent, 1)
	m.On(model.EvTypingStart, func(data jsoniter.RawMessage) {
		var ev model.TypingEvent
		if err := model.Unmarshal(data, &ev); err == nil {
			got <- ev
		}
	})
	ready := make(chan struct{}, 1)
	m.On(model.EvSessionReady, func(jsoniter.RawMessage) { ready <- struct{}{} })

	release := m.Retain()
	defer release()

	select {
	case <-ready:
	case <-time.After(3 * time.Second):
		t.Fatalf("no session:ready")
	}
	if err := m.Emit(model.EvTypingStart, model.TypingEvent{ConversationID: "c1"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	select {
	case ev := <-got:
		if ev.ConversationID != "c1" {
			t.Fatalf("ev=%+v", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no echo")
	}
}

func TestReconnectRefiresOnConnect(t *testing.T) {
	es := newEchoServer(t, "tok")
	m := New(Config{URL: es.url(), Token: staticToken("tok"), MinBackoff: 10 * time.Millisecond, MaxBackoff: 20 * time.Millisecond})

	var connects atomic.Int32
	m.OnConnect(func() {
		connects.Add(1)
		// rooms are re-joined by whoever needs them
		_ = m.Emit(model.EvConversationJoin, map[string]string{"conversationId": "c1"})
	})
	release := m.Retain()
	defer release()

	waitFor(t, "first connect", func() bool { return connects.Load() == 1 && m.Connected() })
	es.kick()
	waitFor(t, "reconnect", func() bool { return connects.Load() == 2 && m.Connected() })
	if es.accepted.Load() != 2 {
		t.Fatalf("accepted=%d", es.accepted.Load())
	}
}

func TestRefCountedRetain(t *testing.T) {
	es := newEchoServer(t, "tok")
	m := New(Config{URL: es.url(), Token: staticToken("tok"), MinBackoff: 10 * time.Millisecond})

	r1 := m.Retain()
	r2 := m.Retain()
	waitFor(t, "connect", m.Connected)

	r1()
	r1() // idempotent
	if !m.Connected() {
		t.Fatalf("released too early")
	}
	r2()
	if m.Connected() {
		t.Fatalf("still connected after last release")
	}
	if es.accepted.Load() != 1 {
		t.Fatalf("two holders opened %d connections", es.accepted.Load())
	}
	if err := m.Emit(model.EvTypingStop, nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("want ErrNotConnected, got %v", err)
	}
}

func TestRefusedHandshakeKeepsRetrying(t *testing.T) {
	es := newEchoServer(t, "good")
	var calls atomic.Int32
	m := New(Config{
		URL: es.url(),
		Token: func(context.Context) (string, error) {
			if calls.Add(1) < 3 {
				return "stale", nil
			}
			return "good", nil
		},
		MinBackoff: 5 * time.Millisecond,
		MaxBackoff: 10 * time.Millisecond,
	})
	release := m.Retain()
	defer release()
	waitFor(t, "connect with fresh token", m.Connected)
	if calls.Load() < 3 {
		t.Fatalf("token fetched %d times", calls.Load())
	}
}

func TestOffStopsDelivery(t *testing.T) {
	es := newEchoServer(t, "tok")
	m := New(Config{URL: es.url(), Token: staticToken("tok"), MinBackoff: 10 * time.Millisecond})

	var hits atomic.Int32
	sub := m.On(model.EvPostLike, func(jsoniter.RawMessage) { hits.Add(1) })
	echoed := make(chan struct{}, 4)
	m.On(model.EvPostLike, func(jsoniter.RawMessage) { echoed <- struct{}{} })

	release := m.Retain()
	defer release()
	waitFor(t, "connect", m.Connected)

	_ = m.Emit(model.EvPostLike, model.PostLikeEvent{PostID: "p1", LikeCount: 1})
	<-echoed
	m.Off(sub)
	_ = m.Emit(model.EvPostLike, model.PostLikeEvent{PostID: "p1", LikeCount: 2})
	<-echoed
	if hits.Load() != 1 {
		t.Fatalf("hits=%d", hits.Load())
	}
}

func TestHandlersRunInRegistrationOrder(t *testing.T) {
	es := newEchoServer(t, "tok")
	m := New(Config{URL: es.url(), Token: staticToken("tok"), MinBackoff: 10 * time.Millisecond})

	var (
		mu    sync.Mutex
		order []int
	)
	subs := make([]Subscription, 0, 8)
	for i := 0; i < 8; i++ {
		i := i
		subs = append(subs, m.On(model.EvPostLike, func(jsoniter.RawMessage) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}
	m.Off(subs[3])
	done := make(chan struct{}, 1)
	m.On(model.EvPostLike, func(jsoniter.RawMessage) { done <- struct{}{} })

	release := m.Retain()
	defer release()
	waitFor(t, "connect", m.Connected)

	if err := m.Emit(model.EvPostLike, model.PostLikeEvent{PostID: "p1", LikeCount: 1}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("no echo")
	}
	mu.Lock()
	defer mu.Unlock()
	want := []int{0, 1, 2, 4, 5, 6, 7}
	if len(order) != len(want) {
		t.Fatalf("order=%v want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order=%v want %v", order, want)
		}
	}
}

func TestSharedIsSingleton(t *testing.T) {
	a := Shared(Config{URL: "ws://one/ws"})
	b := Shared(Config{URL: "ws://two/ws"})
	if a != b || a.cfg.URL != "ws://one/ws" {
		t.Fatalf("shared manager not reused")
	}
}
