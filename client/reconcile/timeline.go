// Package reconcile merges optimistic local records with the authoritative
// records the server confirms, so a list never shows both.
package reconcile

import (
	"sort"
	"sync"
	"time"

	"CragProject/module/realtime/model"

	"github.com/google/uuid"
)

type State int

const (
	Pending State = iota
	Confirmed
)

func (s State) String() string {
	if s == Pending {
		return "pending"
	}
	return "confirmed"
}

// Keys tells the timeline how to read an authoritative record.
type Keys[T any] struct {
	ID     func(T) string
	Author func(T) string
	Text   func(T) string
	Time   func(T) time.Time
}

var MessageKeys = Keys[*model.Message]{
	ID:     func(m *model.Message) string { return m.ID },
	Author: func(m *model.Message) string { return m.SenderID },
	Text:   func(m *model.Message) string { return m.TextContent },
	Time:   func(m *model.Message) time.Time { return m.CreatedAt },
}

var GroupMessageKeys = Keys[*model.GroupMessage]{
	ID:     func(m *model.GroupMessage) string { return m.ID },
	Author: func(m *model.GroupMessage) string { return m.SenderID },
	Text:   func(m *model.GroupMessage) string { return m.TextContent },
	Time:   func(m *model.GroupMessage) time.Time { return m.CreatedAt },
}

var CommentKeys = Keys[*model.Comment]{
	ID:     func(c *model.Comment) string { return c.ID },
	Author: func(c *model.Comment) string { return c.AuthorID },
	Text:   func(c *model.Comment) string { return c.Body },
	Time:   func(c *model.Comment) time.Time { return c.CreatedAt },
}

// Entry is one row of the list. Record is the zero value while Pending.
type Entry[T any] struct {
	TempID    string
	ID        string
	State     State
	AuthorID  string
	Text      string
	Media     []string
	CreatedAt time.Time
	Record    T
	Err       error // set on entries returned by Fail and ExpirePending
}

type Options struct {
	MatchWindow    time.Duration    // content match tolerance, default 10s
	PendingTimeout time.Duration    // ExpirePending threshold, default 30s
	Clock          func() time.Time // nil => time.Now
}

// Outcome of Confirm and Merge.
type Outcome int

const (
	Duplicate Outcome = iota // permanent id already shown
	Replaced                 // a provisional entry was swapped in place
	Inserted                 // no provisional match, added in time order
)

type Timeline[T any] struct {
	keys Keys[T]
	opts Options

	mu      sync.Mutex
	entries []*Entry[T]
	byID    map[string]struct{}
	// temp ids already reconciled, with the permanent id they became
	settled map[string]string
}

func New[T any](keys Keys[T], opts Options) *Timeline[T] {
	if opts.MatchWindow <= 0 {
		opts.MatchWindow = 10 * time.Second
	}
	if opts.PendingTimeout <= 0 {
		opts.PendingTimeout = 30 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Timeline[T]{
		keys:    keys,
		opts:    opts,
		byID:    make(map[string]struct{}),
		settled: make(map[string]string),
	}
}

// AddProvisional appends a pending entry and returns its temp id, to be sent
// as the event's tempId.
func (tl *Timeline[T]) AddProvisional(authorID, text string, media []string) string {
	e := &Entry[T]{
		TempID:    uuid.NewString(),
		State:     Pending,
		AuthorID:  authorID,
		Text:      text,
		Media:     append([]string(nil), media...),
		CreatedAt: tl.opts.Clock(),
	}
	tl.mu.Lock()
	tl.entries = append(tl.entries, e)
	tl.mu.Unlock()
	return e.TempID
}

// Confirm reconciles by the echoed temp id. An unknown or already settled
// temp id falls back to Merge, so the record still shows exactly once.
func (tl *Timeline[T]) Confirm(tempID string, rec T) Outcome {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	id := tl.keys.ID(rec)
	if _, ok := tl.byID[id]; ok {
		return Duplicate
	}
	if _, done := tl.settled[tempID]; !done {
		for _, e := range tl.entries {
			if e.State == Pending && e.TempID == tempID {
				tl.settleLocked(e, rec)
				return Replaced
			}
		}
	}
	return tl.mergeLocked(rec)
}

// Merge takes an authoritative record that carries no temp id (a room
// broadcast, an offline flush, a refetch).
func (tl *Timeline[T]) Merge(rec T) Outcome {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if _, ok := tl.byID[tl.keys.ID(rec)]; ok {
		return Duplicate
	}
	return tl.mergeLocked(rec)
}

func (tl *Timeline[T]) mergeLocked(rec T) Outcome {
	if e := tl.matchLocked(rec); e != nil {
		tl.settleLocked(e, rec)
		return Replaced
	}
	e := &Entry[T]{
		ID:        tl.keys.ID(rec),
		State:     Confirmed,
		AuthorID:  tl.keys.Author(rec),
		Text:      tl.keys.Text(rec),
		CreatedAt: tl.keys.Time(rec),
		Record:    rec,
	}
	// insert after every entry not later than rec
	i := sort.Search(len(tl.entries), func(i int) bool {
		return tl.entries[i].CreatedAt.After(e.CreatedAt)
	})
	tl.entries = append(tl.entries, nil)
	copy(tl.entries[i+1:], tl.entries[i:])
	tl.entries[i] = e
	tl.byID[e.ID] = struct{}{}
	return Inserted
}

// matchLocked picks the oldest pending entry by the same author with the
// same text created within MatchWindow of rec.
func (tl *Timeline[T]) matchLocked(rec T) *Entry[T] {
	author, text, at := tl.keys.Author(rec), tl.keys.Text(rec), tl.keys.Time(rec)
	for _, e := range tl.entries {
		if e.State != Pending || e.AuthorID != author || e.Text != text {
			continue
		}
		d := at.Sub(e.CreatedAt)
		if d < 0 {
			d = -d
		}
		if d <= tl.opts.MatchWindow {
			return e
		}
	}
	return nil
}

// settleLocked replaces e in place; its position in the list is kept.
func (tl *Timeline[T]) settleLocked(e *Entry[T], rec T) {
	e.ID = tl.keys.ID(rec)
	e.State = Confirmed
	e.Record = rec
	e.AuthorID = tl.keys.Author(rec)
	e.Text = tl.keys.Text(rec)
	tl.byID[e.ID] = struct{}{}
	tl.settled[e.TempID] = e.ID
}

// Fail reverts a pending entry: it is removed and returned with err so the
// caller can surface it. Sends are never retried automatically.
func (tl *Timeline[T]) Fail(tempID string, err error) (Entry[T], bool) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	for i, e := range tl.entries {
		if e.State == Pending && e.TempID == tempID {
			tl.removeLocked(i)
			out := *e
			out.Err = err
			return out, true
		}
	}
	return Entry[T]{}, false
}

// ExpirePending reverts pending entries older than PendingTimeout at now.
func (tl *Timeline[T]) ExpirePending(now time.Time, err error) []Entry[T] {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	var out []Entry[T]
	kept := tl.entries[:0]
	for _, e := range tl.entries {
		if e.State == Pending && now.Sub(e.CreatedAt) > tl.opts.PendingTimeout {
			x := *e
			x.Err = err
			out = append(out, x)
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(tl.entries); i++ {
		tl.entries[i] = nil
	}
	tl.entries = kept
	return out
}

func (tl *Timeline[T]) removeLocked(i int) {
	copy(tl.entries[i:], tl.entries[i+1:])
	tl.entries[len(tl.entries)-1] = nil
	tl.entries = tl.entries[:len(tl.entries)-1]
}

// Entries returns a snapshot in display order.
func (tl *Timeline[T]) Entries() []Entry[T] {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	out := make([]Entry[T], len(tl.entries))
	for i, e := range tl.entries {
		out[i] = *e
		out[i].Media = append([]string(nil), e.Media...)
	}
	return out
}

func (tl *Timeline[T]) Len() int {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return len(tl.entries)
}
