// Package typing drives typing indicators on the client. The server never
// times an indicator out; both sides here rely on a local idle timer.
package typing

import (
	"sync"
	"time"

	"CragProject/logger"
	"CragProject/module/realtime/model"
)

const DefaultIdle = 3 * time.Second

// Emitter is satisfied by *session.Manager.
type Emitter interface {
	Emit(event string, payload any) error
}

// Notifier sends typing:start on the first keystroke and typing:stop after
// Idle without one.
type Notifier struct {
	emit           Emitter
	conversationID string
	idle           time.Duration

	mu     sync.Mutex
	typing bool
	timer  *time.Timer
	gen    uint64
}

func NewNotifier(e Emitter, conversationID string, idle time.Duration) *Notifier {
	if idle <= 0 {
		idle = DefaultIdle
	}
	return &Notifier{emit: e, conversationID: conversationID, idle: idle}
}

func (n *Notifier) Keystroke() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.typing {
		n.typing = true
		n.send(model.EvTypingStart)
	}
	n.gen++
	gen := n.gen
	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = time.AfterFunc(n.idle, func() { n.expire(gen) })
}

// Stop ends the indicator now, e.g. when the message is sent or the input
// unmounts.
func (n *Notifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopLocked()
}

func (n *Notifier) Typing() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.typing
}

func (n *Notifier) expire(gen uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if gen != n.gen {
		return
	}
	n.stopLocked()
}

func (n *Notifier) stopLocked() {
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.gen++
	if n.typing {
		n.typing = false
		n.send(model.EvTypingStop)
	}
}

func (n *Notifier) send(event string) {
	err := n.emit.Emit(event, map[string]string{"conversationId": n.conversationID})
	if err != nil {
		logger.Debugf("[Typing] emit %s conversation=%s: %v", event, n.conversationID, err)
	}
}

// Tracker holds who is typing in one conversation. An indicator whose stop
// event was lost disappears after Idle.
type Tracker struct {
	idle     time.Duration
	onChange func([]model.UserProfile)

	mu     sync.Mutex
	typers map[string]*typer
	order  []string
	// gen outlives removed typers so a stale expiry never matches a new one
	gen uint64
}

type typer struct {
	user  model.UserProfile
	timer *time.Timer
	gen   uint64
}

// NewTracker; onChange may be nil and is called outside the lock.
func NewTracker(idle time.Duration, onChange func([]model.UserProfile)) *Tracker {
	if idle <= 0 {
		idle = DefaultIdle
	}
	return &Tracker{idle: idle, onChange: onChange, typers: make(map[string]*typer)}
}

// Handle applies a typing:start or typing:stop event.
func (t *Tracker) Handle(event string, ev model.TypingEvent) {
	switch event {
	case model.EvTypingStart:
		t.Start(ev.User)
	case model.EvTypingStop:
		t.Stop(ev.User.ID)
	}
}

func (t *Tracker) Start(u model.UserProfile) {
	t.mu.Lock()
	tp, ok := t.typers[u.ID]
	if !ok {
		tp = &typer{}
		t.typers[u.ID] = tp
		t.order = append(t.order, u.ID)
	}
	tp.user = u
	t.gen++
	tp.gen = t.gen
	gen := tp.gen
	if tp.timer != nil {
		tp.timer.Stop()
	}
	tp.timer = time.AfterFunc(t.idle, func() { t.expire(u.ID, gen) })
	snap := t.snapshotLocked()
	t.mu.Unlock()
	if !ok {
		t.notify(snap)
	}
}

func (t *Tracker) Stop(userID string) {
	t.mu.Lock()
	removed := t.removeLocked(userID)
	snap := t.snapshotLocked()
	t.mu.Unlock()
	if removed {
		t.notify(snap)
	}
}

func (t *Tracker) expire(userID string, gen uint64) {
	t.mu.Lock()
	tp, ok := t.typers[userID]
	if !ok || tp.gen != gen {
		t.mu.Unlock()
		return
	}
	t.removeLocked(userID)
	snap := t.snapshotLocked()
	t.mu.Unlock()
	t.notify(snap)
}

func (t *Tracker) removeLocked(userID string) bool {
	tp, ok := t.typers[userID]
	if !ok {
		return false
	}
	if tp.timer != nil {
		tp.timer.Stop()
	}
	delete(t.typers, userID)
	for i, id := range t.order {
		if id == userID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

// Typers lists current typers in the order they started.
func (t *Tracker) Typers() []model.UserProfile {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() []model.UserProfile {
	out := make([]model.UserProfile, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.typers[id].user)
	}
	return out
}

func (t *Tracker) notify(snap []model.UserProfile) {
	if t.onChange != nil {
		t.onChange(snap)
	}
}
