package typing

import (
	"sync"
	"testing"
	"time"

	"CragProject/module/realtime/model"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Emit(event string, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNotifierStartsOnceAndStopsWhenIdle(t *testing.T) {
	rec := &recorder{}
	n := NewNotifier(rec, "c1", 40*time.Millisecond)
	for i := 0; i < 5; i++ {
		n.Keystroke()
		time.Sleep(10 * time.Millisecond)
	}
	if got := rec.got(); len(got) != 1 || got[0] != model.EvTypingStart {
		t.Fatalf("events=%v", got)
	}
	eventually(t, func() bool { return !n.Typing() })
	if got := rec.got(); len(got) != 2 || got[1] != model.EvTypingStop {
		t.Fatalf("events=%v", got)
	}
}

func TestNotifierExplicitStop(t *testing.T) {
	rec := &recorder{}
	n := NewNotifier(rec, "c1", time.Hour)
	n.Keystroke()
	n.Stop()
	n.Stop()
	if got := rec.got(); len(got) != 2 || got[1] != model.EvTypingStop {
		t.Fatalf("events=%v", got)
	}
	n.Keystroke()
	if got := rec.got(); len(got) != 3 || got[2] != model.EvTypingStart {
		t.Fatalf("restart events=%v", got)
	}
	n.Stop()
}

func TestTrackerExpiresLostStop(t *testing.T) {
	var (
		mu      sync.Mutex
		changes [][]model.UserProfile
	)
	tr := NewTracker(40*time.Millisecond, func(s []model.UserProfile) {
		mu.Lock()
		changes = append(changes, s)
		mu.Unlock()
	})
	tr.Handle(model.EvTypingStart, model.TypingEvent{ConversationID: "c1", User: model.UserProfile{ID: "b", DisplayName: "Blake"}})
	tr.Handle(model.EvTypingStart, model.TypingEvent{ConversationID: "c1", User: model.UserProfile{ID: "x", DisplayName: "Xena"}})
	if got := tr.Typers(); len(got) != 2 || got[0].ID != "b" {
		t.Fatalf("typers=%v", got)
	}
	tr.Handle(model.EvTypingStop, model.TypingEvent{ConversationID: "c1", User: model.UserProfile{ID: "x"}})
	if got := tr.Typers(); len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("typers=%v", got)
	}
	// b's stop never arrives
	eventually(t, func() bool { return len(tr.Typers()) == 0 })

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 4 {
		t.Fatalf("changes=%d", len(changes))
	}
}

func TestTrackerRestartExtendsIndicator(t *testing.T) {
	tr := NewTracker(60*time.Millisecond, nil)
	u := model.UserProfile{ID: "b"}
	tr.Start(u)
	time.Sleep(40 * time.Millisecond)
	tr.Start(u)
	time.Sleep(40 * time.Millisecond)
	if len(tr.Typers()) != 1 {
		t.Fatalf("indicator expired despite renewed start")
	}
	eventually(t, func() bool { return len(tr.Typers()) == 0 })
}

func TestTrackerStaleExpiryKeepsRestartedTyper(t *testing.T) {
	tr := NewTracker(time.Hour, nil)
	u := model.UserProfile{ID: "u2", DisplayName: "Sam"}

	tr.Start(u)
	tr.mu.Lock()
	stale := tr.typers["u2"].gen
	tr.mu.Unlock()
	tr.Stop("u2")
	tr.Start(u)

	// the first timer already fired before Stop could cancel it
	tr.expire("u2", stale)
	if got := tr.Typers(); len(got) != 1 || got[0].ID != "u2" {
		t.Fatalf("typers=%+v, restarted indicator removed by old timer", got)
	}
	tr.Stop("u2")
}
