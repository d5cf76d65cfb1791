package realtime_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"CragProject/module/realtime/model"
	"CragProject/service/realtime"
	"CragProject/service/realtime/handlers"
	"CragProject/service/store/memstore"
	"CragProject/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var secret = []byte("test-secret")

func newServer(t *testing.T) (*httptest.Server, *memstore.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := memstore.New()
	st.AddUser("a", "Alex")
	st.AddUser("b", "Blake")
	st.AddConversation("c1", "a", "b")

	id := security.NewJWTIdentity(security.DefaultOptions(secret))
	hub := realtime.New(realtime.Conf{}, realtime.Deps{
		Store: st,
		Auth:  realtime.NewAuthenticator(id, nil),
	})
	handlers.RegisterAll(hub)
	hub.Start()

	r := gin.New()
	r.GET("/ws", hub.HandleWS(nil))
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		_ = hub.Shutdown(context.Background())
		srv.Close()
	})
	return srv, st
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, _, err := security.Generate(security.DefaultOptions(secret), userID)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func dial(t *testing.T, srv *httptest.Server, tok string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	h := http.Header{}
	if tok != "" {
		h.Set("Authorization", "Bearer "+tok)
	}
	return websocket.DefaultDialer.Dial(u, h)
}

func read(t *testing.T, ws *websocket.Conn) *model.Envelope {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, b, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	env, err := model.DecodeEnvelope(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env
}

func write(t *testing.T, ws *websocket.Conn, event string, payload any) {
	t.Helper()
	b, err := model.EncodeEnvelope(event, payload)
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestHandshakeWithoutCredentialIs401(t *testing.T) {
	srv, _ := newServer(t)
	for _, tok := range []string{"", "garbage"} {
		_, resp, err := dial(t, srv, tok)
		if err == nil {
			t.Fatalf("token %q: handshake accepted", tok)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("token %q: resp=%v", tok, resp)
		}
	}
}

func TestQueryTokenAndOfflineFlushOverWebsocket(t *testing.T) {
	srv, st := newServer(t)

	a, _, err := dial(t, srv, token(t, "a"))
	if err != nil {
		t.Fatalf("dial a: %v", err)
	}
	defer a.Close()
	if env := read(t, a); env.Event != model.EvSessionReady {
		t.Fatalf("a first frame=%s", env.Event)
	}

	write(t, a, model.EvMessageSend, model.MessageSend{ConversationID: "c1", TextContent: "hi", TempID: "t1"})
	env := read(t, a)
	var sent model.MessageSentEvent
	_ = model.Unmarshal(env.Data, &sent)
	if env.Event != model.EvMessageSent || sent.TempID != "t1" {
		t.Fatalf("a got %s %s", env.Event, env.Data)
	}
	if got := st.Messages("c1"); len(got) != 1 {
		t.Fatalf("persisted=%d", len(got))
	}

	// browsers pass the session token as a query parameter
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token(t, "b")
	b, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial b: %v", err)
	}
	defer b.Close()
	env = read(t, b)
	var msg model.MessageEvent
	_ = model.Unmarshal(env.Data, &msg)
	if env.Event != model.EvMessageNew || msg.Message.ID != sent.Message.ID {
		t.Fatalf("b first frame=%s %s", env.Event, env.Data)
	}
	if env := read(t, b); env.Event != model.EvSessionReady {
		t.Fatalf("b second frame=%s", env.Event)
	}

	write(t, b, model.EvConversationJoin, model.ConversationRef{ConversationID: "nope"})
	if env := read(t, b); env.Event != model.EvError {
		t.Fatalf("forbidden join answered with %s", env.Event)
	}
}
