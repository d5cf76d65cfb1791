package realtime

import (
	"CragProject/module/realtime/model"
)

// roomTable maps room keys to member connections and back. It has no lock of
// its own; every method runs under Hub.mu.
type roomTable struct {
	members map[model.RoomKey]map[*Conn]struct{}
	byConn  map[*Conn]map[model.RoomKey]struct{}
}

func newRoomTable() *roomTable {
	return &roomTable{
		members: make(map[model.RoomKey]map[*Conn]struct{}),
		byConn:  make(map[*Conn]map[model.RoomKey]struct{}),
	}
}

// join is idempotent; it reports whether c was newly added.
func (t *roomTable) join(c *Conn, key model.RoomKey) bool {
	m := t.members[key]
	if m == nil {
		m = make(map[*Conn]struct{})
		t.members[key] = m
	}
	if _, ok := m[c]; ok {
		return false
	}
	m[c] = struct{}{}

	rs := t.byConn[c]
	if rs == nil {
		rs = make(map[model.RoomKey]struct{})
		t.byConn[c] = rs
	}
	rs[key] = struct{}{}
	return true
}

// leave is idempotent; empty rooms are deleted.
func (t *roomTable) leave(c *Conn, key model.RoomKey) bool {
	m := t.members[key]
	if _, ok := m[c]; !ok {
		return false
	}
	delete(m, c)
	if len(m) == 0 {
		delete(t.members, key)
	}
	if rs := t.byConn[c]; rs != nil {
		delete(rs, key)
		if len(rs) == 0 {
			delete(t.byConn, c)
		}
	}
	return true
}

// dropAll removes c from every room it is in and returns how many.
func (t *roomTable) dropAll(c *Conn) int {
	rs := t.byConn[c]
	n := len(rs)
	for key := range rs {
		if m := t.members[key]; m != nil {
			delete(m, c)
			if len(m) == 0 {
				delete(t.members, key)
			}
		}
	}
	delete(t.byConn, c)
	return n
}

func (t *roomTable) has(c *Conn, key model.RoomKey) bool {
	_, ok := t.members[key][c]
	return ok
}

func (t *roomTable) hasUser(key model.RoomKey, userID string) bool {
	for c := range t.members[key] {
		if c.userID == userID {
			return true
		}
	}
	return false
}

func (t *roomTable) list(key model.RoomKey) []*Conn {
	m := t.members[key]
	out := make([]*Conn, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	return out
}

func (t *roomTable) roomsOf(c *Conn) []model.RoomKey {
	rs := t.byConn[c]
	out := make([]model.RoomKey, 0, len(rs))
	for k := range rs {
		out = append(out, k)
	}
	return out
}

func (t *roomTable) size() int { return len(t.members) }
