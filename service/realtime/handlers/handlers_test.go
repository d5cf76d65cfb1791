package handlers

import (
	"context"
	"testing"
	"time"

	"CragProject/module/realtime/model"
	"CragProject/service/realtime"
	"CragProject/service/store/memstore"

	jsoniter "github.com/json-iterator/go"
)

type fixture struct {
	t     *testing.T
	hub   *realtime.Hub
	store *memstore.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	st.AddUser("a", "Alex")
	st.AddUser("b", "Blake")
	st.AddUser("x", "Xiu")
	st.AddUser("y", "Yara")
	st.AddConversation("c1", "a", "b")
	st.AddConversation("c2", "a", "b")
	st.AddGroup("g1", "a", "b", "x")
	st.AddPost("p1", "a")
	st.AddGearList(model.GearList{
		ID:        "gl1",
		CreatorID: "a",
		Items:     []model.GearItem{{ID: "rope", Name: "Rope", QuantityNeeded: 3}},
	})

	h := realtime.New(realtime.Conf{SendBuffer: 32}, realtime.Deps{Store: st})
	RegisterAll(h)
	h.Start()
	t.Cleanup(func() { _ = h.Shutdown(context.Background()) })
	return &fixture{t: t, hub: h, store: st}
}

// connect returns a live connection and the frames flushed before session:ready.
func (f *fixture) connect(userID string) (*realtime.Conn, []*model.Envelope) {
	f.t.Helper()
	c, err := f.hub.Connect(context.Background(), userID)
	if err != nil {
		f.t.Fatalf("connect %s: %v", userID, err)
	}
	var flushed []*model.Envelope
	for {
		env := f.recv(c)
		if env.Event == model.EvSessionReady {
			return c, flushed
		}
		flushed = append(flushed, env)
	}
}

func (f *fixture) send(c *realtime.Conn, event string, payload any) error {
	f.t.Helper()
	frame, err := model.EncodeEnvelope(event, payload)
	if err != nil {
		f.t.Fatal(err)
	}
	return f.hub.Process(context.Background(), c, frame)
}

func (f *fixture) recv(c *realtime.Conn) *model.Envelope {
	f.t.Helper()
	select {
	case b := <-c.Outbox():
		env, err := model.DecodeEnvelope(b)
		if err != nil {
			f.t.Fatalf("decode: %v", err)
		}
		return env
	case <-time.After(time.Second):
		f.t.Fatalf("no frame for %s", c.UserID())
	}
	return nil
}

func (f *fixture) silent(c *realtime.Conn) {
	f.t.Helper()
	select {
	case b := <-c.Outbox():
		f.t.Fatalf("unexpected frame for %s: %s", c.UserID(), b)
	default:
	}
}

func (f *fixture) expectError(c *realtime.Conn, code string) model.ErrorEvent {
	f.t.Helper()
	env := f.recv(c)
	if env.Event != model.EvError {
		f.t.Fatalf("event=%s want error", env.Event)
	}
	var ev model.ErrorEvent
	_ = model.Unmarshal(env.Data, &ev)
	if ev.Code != code {
		f.t.Fatalf("code=%s want %s (%s)", ev.Code, code, ev.Message)
	}
	return ev
}

func TestDirectMessageToOfflineRecipient(t *testing.T) {
	f := newFixture(t)
	a, _ := f.connect("a")

	err := f.send(a, model.EvMessageSend, model.MessageSend{ConversationID: "c1", TextContent: "hi", TempID: "t1"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	env := f.recv(a)
	var sent model.MessageSentEvent
	_ = model.Unmarshal(env.Data, &sent)
	if env.Event != model.EvMessageSent || sent.TempID != "t1" || sent.Message.ID == "" {
		t.Fatalf("confirmation=%s %s", env.Event, env.Data)
	}
	if sent.Message.Sender.DisplayName != "Alex" {
		t.Fatalf("sender profile not joined: %+v", sent.Message.Sender)
	}
	f.silent(a)

	b, flushed := f.connect("b")
	if len(flushed) != 1 || flushed[0].Event != model.EvMessageNew {
		t.Fatalf("flushed=%d", len(flushed))
	}
	if id := jsoniter.Get(flushed[0].Data, "message", "id").ToString(); id != sent.Message.ID {
		t.Fatalf("flushed message=%s want %s", id, sent.Message.ID)
	}
	f.silent(b)

	// queue was consumed by that flush
	b2, again := f.connect("b")
	if len(again) != 0 {
		t.Fatalf("second session flushed %d", len(again))
	}
	f.silent(b2)

	if n := f.store.Notifications("b"); len(n) != 1 || n[0].Type != model.NotifyMessage {
		t.Fatalf("notifications=%+v", n)
	}
}

func TestDirectMessageToLiveRecipient(t *testing.T) {
	f := newFixture(t)
	a, _ := f.connect("a")
	b, _ := f.connect("b")
	for _, c := range []*realtime.Conn{a, b} {
		if err := f.send(c, model.EvConversationJoin, model.ConversationRef{ConversationID: "c1"}); err != nil {
			t.Fatalf("join: %v", err)
		}
	}

	if err := f.send(a, model.EvMessageSend, model.MessageSend{ConversationID: "c1", TextContent: "on belay?", TempID: "t2"}); err != nil {
		t.Fatal(err)
	}
	if env := f.recv(a); env.Event != model.EvMessageSent {
		t.Fatalf("sender got %s", env.Event)
	}
	f.silent(a)

	seen := map[string]int{}
	for i := 0; i < 2; i++ {
		seen[f.recv(b).Event]++
	}
	if seen[model.EvMessageNew] != 1 || seen[model.EvNotificationNew] != 1 {
		t.Fatalf("recipient frames=%v", seen)
	}
	f.silent(b)

	// nothing queued for a recipient who was in the room
	if n := f.hub.Offline().(*realtime.MemoryQueue).Len("b"); n != 0 {
		t.Fatalf("queued=%d", n)
	}
}

func TestNonParticipantIsRejected(t *testing.T) {
	f := newFixture(t)
	a, _ := f.connect("a")
	_ = f.send(a, model.EvConversationJoin, model.ConversationRef{ConversationID: "c2"})
	y, _ := f.connect("y")

	if err := f.send(y, model.EvConversationJoin, model.ConversationRef{ConversationID: "c2"}); err == nil {
		t.Fatalf("join should fail")
	}
	f.expectError(y, "FORBIDDEN")

	if err := f.send(y, model.EvMessageSend, model.MessageSend{ConversationID: "c2", TextContent: "let me in", TempID: "t9"}); err == nil {
		t.Fatalf("send should fail")
	}
	ev := f.expectError(y, "FORBIDDEN")
	if ev.Event != model.EvMessageSend || ev.TempID != "t9" {
		t.Fatalf("error frame=%+v", ev)
	}
	f.silent(a)
	if got := f.store.Messages("c2"); len(got) != 0 {
		t.Fatalf("persisted %d messages", len(got))
	}
}

func TestEmptyMessageIsInvalid(t *testing.T) {
	f := newFixture(t)
	a, _ := f.connect("a")
	_ = f.send(a, model.EvMessageSend, model.MessageSend{ConversationID: "c1", TextContent: "  ", TempID: "t"})
	f.expectError(a, "VALIDATION_FAILED")
	if len(f.store.Messages("c1")) != 0 {
		t.Fatalf("empty message persisted")
	}
}

func TestGearClaimClampsToNeeded(t *testing.T) {
	f := newFixture(t)
	x, _ := f.connect("x")
	watcher, _ := f.connect("b")
	for _, c := range []*realtime.Conn{x, watcher} {
		if err := f.send(c, model.EvGearJoin, model.GearListRef{GearListID: "gl1"}); err != nil {
			t.Fatal(err)
		}
	}

	if err := f.send(x, model.EvGearClaim, model.GearClaimReq{GearListID: "gl1", ItemID: "rope", Quantity: 5}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	for _, c := range []*realtime.Conn{x, watcher} {
		env := f.recv(c)
		var ev model.GearClaimEvent
		_ = model.Unmarshal(env.Data, &ev)
		if env.Event != model.EvGearClaimed || ev.QuantityClaimed != 3 || ev.UserID != "x" {
			t.Fatalf("%s got %s %+v", c.UserID(), env.Event, ev)
		}
		if len(ev.ClaimedByUsers) != 1 || ev.ClaimedByUsers[0].ID != "x" || ev.ClaimedByUsers[0].Quantity != 3 {
			t.Fatalf("claimedBy=%+v", ev.ClaimedByUsers)
		}
	}

	// full: a further claim fails and nothing is broadcast
	_ = f.send(watcher, model.EvGearClaim, model.GearClaimReq{GearListID: "gl1", ItemID: "rope", Quantity: 1})
	f.expectError(watcher, "VALIDATION_FAILED")
	f.silent(x)

	if n := f.store.Notifications("a"); len(n) != 1 || n[0].Type != model.NotifyGearClaim {
		t.Fatalf("creator notifications=%+v", n)
	}
}

func TestGearUnclaimReleasesAll(t *testing.T) {
	f := newFixture(t)
	x, _ := f.connect("x")
	_ = f.send(x, model.EvGearJoin, model.GearListRef{GearListID: "gl1"})
	_ = f.send(x, model.EvGearClaim, model.GearClaimReq{GearListID: "gl1", ItemID: "rope", Quantity: 2})
	f.recv(x)

	if err := f.send(x, model.EvGearUnclaim, model.GearClaimReq{GearListID: "gl1", ItemID: "rope"}); err != nil {
		t.Fatal(err)
	}
	env := f.recv(x)
	var ev model.GearClaimEvent
	_ = model.Unmarshal(env.Data, &ev)
	if env.Event != model.EvGearUnclaimed || ev.QuantityClaimed != 0 || len(ev.ClaimedByUsers) != 0 {
		t.Fatalf("unclaim=%s %+v", env.Event, ev)
	}
}

func TestCommentNotifiesPostAuthorAndParent(t *testing.T) {
	f := newFixture(t)
	a, _ := f.connect("a")
	b, _ := f.connect("b")
	_ = f.send(a, model.EvPostJoin, model.PostRef{PostID: "p1"})

	if err := f.send(b, model.EvCommentCreate, model.CommentCreate{PostID: "p1", Body: "clean send", TempID: "tc"}); err != nil {
		t.Fatal(err)
	}
	env := f.recv(b)
	var mine model.CommentEvent
	_ = model.Unmarshal(env.Data, &mine)
	if env.Event != model.EvCommentNew || mine.TempID != "tc" {
		t.Fatalf("author confirmation=%s %+v", env.Event, mine)
	}
	seen := map[string]int{}
	for i := 0; i < 2; i++ {
		seen[f.recv(a).Event]++
	}
	if seen[model.EvCommentNew] != 1 || seen[model.EvNotificationNew] != 1 {
		t.Fatalf("post author frames=%v", seen)
	}

	// post author replies to b: b is notified, a (self) is not
	if err := f.send(a, model.EvCommentCreate, model.CommentCreate{PostID: "p1", ParentID: mine.Comment.ID, Body: "thanks"}); err != nil {
		t.Fatal(err)
	}
	f.recv(a) // own comment:new
	f.silent(a)
	if env := f.recv(b); env.Event != model.EvNotificationNew {
		t.Fatalf("reply notification=%s", env.Event)
	}
	if n := f.store.Notifications("b"); len(n) != 1 || n[0].Type != model.NotifyReply {
		t.Fatalf("b notifications=%+v", n)
	}
}

func TestCommentEditAndDeletePermissions(t *testing.T) {
	f := newFixture(t)
	a, _ := f.connect("a") // post author
	b, _ := f.connect("b")
	x, _ := f.connect("x")
	_ = f.send(b, model.EvCommentCreate, model.CommentCreate{PostID: "p1", Body: "beta?"})
	env := f.recv(b)
	f.recv(a) // notification
	id := jsoniter.Get(env.Data, "comment", "id").ToString()

	_ = f.send(x, model.EvCommentEdit, model.CommentEdit{PostID: "p1", CommentID: id, Body: "hijack"})
	f.expectError(x, "FORBIDDEN")
	_ = f.send(a, model.EvCommentEdit, model.CommentEdit{PostID: "p1", CommentID: id, Body: "mod edit"})
	f.expectError(a, "FORBIDDEN")

	_ = f.send(b, model.EvPostJoin, model.PostRef{PostID: "p1"})
	if err := f.send(b, model.EvCommentEdit, model.CommentEdit{PostID: "p1", CommentID: id, Body: "beta please"}); err != nil {
		t.Fatal(err)
	}
	if env := f.recv(b); env.Event != model.EvCommentEdited {
		t.Fatalf("edit=%s", env.Event)
	}

	_ = f.send(x, model.EvCommentDelete, model.CommentDelete{PostID: "p1", CommentID: id})
	f.expectError(x, "FORBIDDEN")
	if err := f.send(a, model.EvCommentDelete, model.CommentDelete{PostID: "p1", CommentID: id}); err != nil {
		t.Fatalf("post author delete: %v", err)
	}
	if env := f.recv(b); env.Event != model.EvCommentDeleted {
		t.Fatalf("delete=%s", env.Event)
	}
}

func TestGroupMessageAndReadDedup(t *testing.T) {
	f := newFixture(t)
	a, _ := f.connect("a")
	b, _ := f.connect("b")
	for _, c := range []*realtime.Conn{a, b} {
		_ = f.send(c, model.EvGroupJoin, model.GroupRef{GroupID: "g1"})
	}
	if err := f.send(a, model.EvGroupMessageSend, model.GroupMessageSend{GroupID: "g1", TextContent: "crag saturday?", TempID: "tg"}); err != nil {
		t.Fatal(err)
	}
	env := f.recv(a)
	if env.Event != model.EvGroupMessageSent || jsoniter.Get(env.Data, "tempId").ToString() != "tg" {
		t.Fatalf("sent=%s %s", env.Event, env.Data)
	}
	msgID := jsoniter.Get(env.Data, "message", "id").ToString()
	seen := map[string]int{}
	for i := 0; i < 2; i++ {
		seen[f.recv(b).Event]++
	}
	if seen[model.EvGroupMessageNew] != 1 {
		t.Fatalf("member frames=%v", seen)
	}

	for i := 0; i < 2; i++ {
		if err := f.send(b, model.EvGroupMessageRead, model.GroupMessageReadReq{GroupID: "g1", MessageID: msgID}); err != nil {
			t.Fatal(err)
		}
	}
	env = f.recv(a)
	if env.Event != model.EvGroupMessageRead || jsoniter.Get(env.Data, "reader", "id").ToString() != "b" {
		t.Fatalf("read=%s %s", env.Event, env.Data)
	}
	f.recv(b) // own read echo
	f.silent(a)
	f.silent(b)

	// x is a member but was offline: the message waits in the queue
	_, flushed := f.connect("x")
	if len(flushed) != 1 || flushed[0].Event != model.EvGroupMessageNew {
		t.Fatalf("x flushed=%d", len(flushed))
	}
}

func TestMessageReadGoesToSenderRoom(t *testing.T) {
	f := newFixture(t)
	a, _ := f.connect("a")
	b, _ := f.connect("b")
	_ = f.send(a, model.EvMessageSend, model.MessageSend{ConversationID: "c1", TextContent: "yo", TempID: "t"})
	env := f.recv(a)
	id := jsoniter.Get(env.Data, "message", "id").ToString()
	f.recv(b) // notification

	if err := f.send(b, model.EvMessageRead, model.MessageReadReq{MessageID: id}); err != nil {
		t.Fatal(err)
	}
	env = f.recv(a)
	if env.Event != model.EvMessageRead || jsoniter.Get(env.Data, "readBy").ToString() != "b" {
		t.Fatalf("read=%s %s", env.Event, env.Data)
	}
	f.silent(b)

	_ = f.send(b, model.EvMessageRead, model.MessageReadReq{MessageID: "missing"})
	f.expectError(b, "FORBIDDEN")
}

func TestTypingExcludesSender(t *testing.T) {
	f := newFixture(t)
	a, _ := f.connect("a")
	b, _ := f.connect("b")
	for _, c := range []*realtime.Conn{a, b} {
		_ = f.send(c, model.EvConversationJoin, model.ConversationRef{ConversationID: "c1"})
	}
	if err := f.send(a, model.EvTypingStart, model.ConversationRef{ConversationID: "c1"}); err != nil {
		t.Fatal(err)
	}
	env := f.recv(b)
	if env.Event != model.EvTypingStart || jsoniter.Get(env.Data, "user", "displayName").ToString() != "Alex" {
		t.Fatalf("typing=%s %s", env.Event, env.Data)
	}
	f.silent(a)
}
