package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"CragProject/logger"
	"CragProject/module/realtime/model"
	"CragProject/service/metrics"
	"CragProject/service/store"
	"CragProject/tools/errs"
	"CragProject/tools/ids"
	"CragProject/tools/safe"

	jsoniter "github.com/json-iterator/go"
)

// ===== 配置 =====

type Conf struct {
	SendBuffer      int              // per-connection outbound frames (default 64)
	PingInterval    time.Duration    // websocket ping period (default 25s)
	WriteWait       time.Duration    // write deadline per frame (default 10s)
	ReadTimeout     time.Duration    // idle read deadline, refreshed by pong (default 60s)
	MaxMessageBytes int64            // inbound frame limit (default 64KiB)
	HandlerTimeout  time.Duration    // per inbound event (default 10s)
	FlushTimeout    time.Duration    // offline flush on connect (default 10s)
	MirrorBuffer    int              // pending mirror events (default 1024)
	NodeID          int64            // snowflake node for connection ids
	Clock           func() time.Time // nil => time.Now
}

func (c *Conf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.ReadTimeout <= c.PingInterval {
		c.ReadTimeout = c.PingInterval * 2
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 << 10
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 10 * time.Second
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 10 * time.Second
	}
	if c.MirrorBuffer <= 0 {
		c.MirrorBuffer = 1024
	}
}

// Mirror publishes persisted events to an external bus.
type Mirror interface {
	Publish(ctx context.Context, ev model.MirrorEvent) error
}

type Deps struct {
	Store   store.Store
	Auth    *Authenticator
	Offline OfflineQueue     // nil => MemoryQueue, unbounded
	Mirror  Mirror           // optional
	Metrics *metrics.Metrics // optional
}

var ErrHubStopped = errs.ErrInternal.WithDetail("hub stopped")

// Hub owns every live connection and room of this process. One mutex guards
// the connection index and the room table; frames are queued to members while
// it is held so a room's members see events in emission order.
type Hub struct {
	conf    Conf
	store   store.Store
	auth    *Authenticator
	offline OfflineQueue
	mirror  Mirror
	metrics *metrics.Metrics
	disp    *Dispatcher
	ids     *ids.Generator

	mu     sync.Mutex
	conns  map[string]*Conn             // conn id -> conn
	byUser map[string]map[*Conn]struct{} // user -> live conns
	rooms  *roomTable

	mirrorCh  chan model.MirrorEvent
	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func New(conf Conf, deps Deps) *Hub {
	safe.MustNotNil(deps.Store, "store")
	conf.norm()
	if deps.Offline == nil {
		deps.Offline = NewMemoryQueue(0)
	}
	h := &Hub{
		conf:    conf,
		store:   deps.Store,
		auth:    deps.Auth,
		offline: deps.Offline,
		mirror:  deps.Mirror,
		metrics: deps.Metrics,
		disp:    NewDispatcher(),
		ids:     ids.NewGenerator(conf.NodeID),
		conns:   make(map[string]*Conn),
		byUser:  make(map[string]map[*Conn]struct{}),
		rooms:   newRoomTable(),
		stopCh:  make(chan struct{}),
	}
	if h.mirror != nil {
		h.mirrorCh = make(chan model.MirrorEvent, conf.MirrorBuffer)
	}
	return h
}

func (h *Hub) Disp() *Dispatcher { return h.disp }
func (h *Hub) Store() store.Store { return h.store }
func (h *Hub) Offline() OfflineQueue { return h.offline }
func (h *Hub) Conf() Conf { return h.conf }
func (h *Hub) Now() time.Time { return h.conf.Clock() }
func (h *Hub) Metrics() *metrics.Metrics { return h.metrics }

// Start launches the background workers. It is safe to call more than once.
func (h *Hub) Start() {
	h.startOnce.Do(func() {
		if h.mirror != nil {
			h.wg.Add(1)
			go h.mirrorLoop()
		}
		logger.Infof("[Hub] started handlers=%d", len(h.disp.Events()))
	})
}

// Shutdown closes every connection and waits for the workers until ctx ends.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		h.mu.Lock()
		for _, c := range h.conns {
			c.close()
		}
		h.mu.Unlock()
	})
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) stopped() bool {
	select {
	case <-h.stopCh:
		return true
	default:
		return false
	}
}

// ===== connection lifecycle =====

// Open registers a connection for userID and joins it to the user's own room.
// first reports whether it is the user's only live connection.
func (h *Hub) Open(userID string) (c *Conn, first bool, err error) {
	if userID == "" {
		return nil, false, errs.ErrUnauthorized.WrapMsg("empty user")
	}
	c = newConn(h.ids.NextString(), userID, h.conf.SendBuffer, h.Now())

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped() {
		return nil, false, ErrHubStopped
	}
	h.conns[c.id] = c
	set := h.byUser[userID]
	if set == nil {
		set = make(map[*Conn]struct{})
		h.byUser[userID] = set
	}
	first = len(set) == 0
	set[c] = struct{}{}
	h.rooms.join(c, model.UserRoom(userID))
	h.gaugesLocked()
	return c, first, nil
}

// Ready drains the user's offline queue into c when first is set, then sends
// session:ready. It returns how many queued events were delivered.
func (h *Hub) Ready(ctx context.Context, c *Conn, first bool) int {
	flushed := 0
	if first {
		fctx, cancel := context.WithTimeout(ctx, h.conf.FlushTimeout)
		flushed = h.flushOffline(fctx, c)
		cancel()
	}
	_ = h.SendTo(c, model.EvSessionReady, model.SessionReadyEvent{
		UserID:       c.userID,
		ConnectionID: c.id,
		Flushed:      flushed,
	})
	logger.Infof("[Hub] session ready user=%s conn=%s first=%v flushed=%d", c.userID, c.id, first, flushed)
	return flushed
}

// Connect is Open followed by Ready.
func (h *Hub) Connect(ctx context.Context, userID string) (*Conn, error) {
	c, first, err := h.Open(userID)
	if err != nil {
		return nil, err
	}
	h.Ready(ctx, c, first)
	return c, nil
}

// Close unregisters c and drops it from every room.
func (h *Hub) Close(c *Conn) {
	h.mu.Lock()
	if _, ok := h.conns[c.id]; ok {
		delete(h.conns, c.id)
		if set := h.byUser[c.userID]; set != nil {
			delete(set, c)
			if len(set) == 0 {
				delete(h.byUser, c.userID)
			}
		}
		h.rooms.dropAll(c)
		h.gaugesLocked()
	}
	h.mu.Unlock()
	c.close()
}

func (h *Hub) flushOffline(ctx context.Context, c *Conn) int {
	events, err := h.offline.Flush(ctx, c.userID)
	if err != nil {
		logger.Errorf("[Hub] offline flush user=%s err=%v", c.userID, err)
		return 0
	}
	n := 0
	for i, ev := range events {
		frame, err := model.EncodeEnvelope(ev.Event, ev.Payload)
		if err != nil {
			logger.Errorf("[Hub] encode queued event=%s user=%s err=%v", ev.Event, c.userID, err)
			continue
		}
		if !c.push(ctx, frame) {
			// connection went away mid-flush: put the rest back for next time
			h.requeue(events[i:])
			break
		}
		n++
	}
	h.metrics.Flushed(n)
	return n
}

func (h *Hub) requeue(events []model.QueuedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), h.conf.FlushTimeout)
	defer cancel()
	for _, ev := range events {
		if err := h.offline.Enqueue(ctx, ev.UserID, ev.Event, ev.Payload); err != nil {
			logger.Errorf("[Hub] requeue event=%s user=%s err=%v", ev.Event, ev.UserID, err)
		}
	}
}

func (h *Hub) gaugesLocked() {
	h.metrics.SetConnections(len(h.conns))
	h.metrics.SetRooms(h.rooms.size())
}

// ===== rooms =====

func (h *Hub) Join(c *Conn, key model.RoomKey) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c.id]; !ok {
		return false
	}
	added := h.rooms.join(c, key)
	h.gaugesLocked()
	return added
}

func (h *Hub) Leave(c *Conn, key model.RoomKey) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	removed := h.rooms.leave(c, key)
	h.gaugesLocked()
	return removed
}

func (h *Hub) DropAll(c *Conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.rooms.dropAll(c)
	h.gaugesLocked()
	return n
}

func (h *Hub) InRoom(c *Conn, key model.RoomKey) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms.has(c, key)
}

// HasUser reports whether any live connection of userID is in key.
func (h *Hub) HasUser(key model.RoomKey, userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms.hasUser(key, userID)
}

func (h *Hub) Members(key model.RoomKey) []*Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms.list(key)
}

func (h *Hub) RoomsOf(c *Conn) []model.RoomKey {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms.roomsOf(c)
}

func (h *Hub) Online(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byUser[userID]) > 0
}

func (h *Hub) Stats() (conns, rooms int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns), h.rooms.size()
}

// ===== emission =====

// Broadcast queues event to every member of key except one connection and
// returns how many members accepted it. Delivery is fire-and-forget.
func (h *Hub) Broadcast(key model.RoomKey, event string, payload any, except *Conn) int {
	frame, err := model.EncodeEnvelope(event, payload)
	if err != nil {
		logger.Errorf("[Hub] encode event=%s room=%s err=%v", event, key, err)
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for c := range h.rooms.members[key] {
		if c == except {
			continue
		}
		if c.offer(frame) {
			n++
		} else {
			h.metrics.Dropped()
		}
	}
	return n
}

// SendTo queues event to a single connection.
func (h *Hub) SendTo(c *Conn, event string, payload any) error {
	frame, err := model.EncodeEnvelope(event, payload)
	if err != nil {
		return errs.ErrInternal.WrapMsg("encode", "event", event, "err", err)
	}
	h.mu.Lock()
	ok := c.offer(frame)
	h.mu.Unlock()
	if !ok {
		h.metrics.Dropped()
		logger.Warnf("[Hub] drop event=%s conn=%s user=%s", event, c.id, c.userID)
	}
	return nil
}

// Enqueue stores event for userID's next session.
func (h *Hub) Enqueue(ctx context.Context, userID, event string, payload any) error {
	raw, err := encodePayload(payload)
	if err != nil {
		return errs.ErrInternal.WrapMsg("encode", "event", event, "err", err)
	}
	if err := h.offline.Enqueue(ctx, userID, event, raw); err != nil {
		return errs.ErrPersistence.WrapMsg("offline enqueue", "user", userID, "err", err)
	}
	h.metrics.Enqueued()
	return nil
}

// PublishToUser emits event to the user's own room, or queues it when the
// user has no live connection. Liveness and the offers share one critical
// section with Close.
func (h *Hub) PublishToUser(ctx context.Context, userID, event string, payload any) error {
	frame, err := model.EncodeEnvelope(event, payload)
	if err != nil {
		return errs.ErrInternal.WrapMsg("encode", "event", event, "err", err)
	}
	h.mu.Lock()
	live := len(h.byUser[userID]) > 0
	if live {
		for c := range h.rooms.members[model.UserRoom(userID)] {
			if !c.offer(frame) {
				h.metrics.Dropped()
			}
		}
	}
	h.mu.Unlock()
	if live {
		return nil
	}
	return h.Enqueue(ctx, userID, event, payload)
}

// PublishPostLike is the hook for the like endpoint of the CRUD layer.
func (h *Hub) PublishPostLike(postID string, likeCount int64) int {
	return h.Broadcast(model.PostRoom(postID), model.EvPostLike, model.PostLikeEvent{
		PostID:    postID,
		LikeCount: likeCount,
	}, nil)
}

// ===== inbound =====

// Process runs one inbound frame from c. Failures are reported back to c as
// an error event and returned.
func (h *Hub) Process(ctx context.Context, c *Conn, raw []byte) error {
	c.touch(h.Now())
	env, err := model.DecodeEnvelope(raw)
	if err != nil || env.Event == "" {
		err = errs.ErrValidation.WrapMsg("malformed frame")
		h.reportError(c, "", "", err)
		h.metrics.Inbound("unknown", errs.Name(err))
		return err
	}

	hctx, cancel := context.WithTimeout(ctx, h.conf.HandlerTimeout)
	defer cancel()
	hc := &Context{Ctx: hctx, Hub: h, Conn: c, Event: env.Event}
	err = safe.Run(func() error { return h.disp.Dispatch(hc, env.Data) })

	label := env.Event
	if h.disp.GetHandler(label) == nil {
		label = "unknown"
	}
	if err != nil {
		h.reportError(c, env.Event, tempIDOf(env.Data), err)
		h.metrics.Inbound(label, errs.Name(err))
		return err
	}
	h.metrics.Inbound(label, "OK")
	return nil
}

func (h *Hub) reportError(c *Conn, event, tempID string, err error) {
	logger.Warnf("[Hub] event=%s user=%s conn=%s err=%+v", event, c.userID, c.id, err)
	_ = h.SendTo(c, model.EvError, model.ErrorEvent{
		Event:   event,
		Code:    errs.Name(err),
		Message: clientMessage(err),
		TempID:  tempID,
	})
}

// clientMessage hides persistence internals from the peer.
func clientMessage(err error) string {
	var ce *errs.CodeError
	if !errors.As(err, &ce) {
		return "server internal error"
	}
	switch ce.Code {
	case errs.CodePersistence, errs.CodeInternal:
		return ce.Msg
	}
	if ce.Detail != "" {
		return ce.Msg + ": " + ce.Detail
	}
	return ce.Msg
}

func tempIDOf(data jsoniter.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	return jsoniter.Get(data, "tempId").ToString()
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case []byte:
		return p, nil
	case jsoniter.RawMessage:
		return p, nil
	}
	return model.Marshal(payload)
}

// ===== mirror =====

// Mirror hands a persisted event to the external bus without blocking.
func (h *Hub) Mirror(event string, key model.RoomKey, actorID string, payload any) {
	if h.mirror == nil || h.stopped() {
		return
	}
	raw, err := encodePayload(payload)
	if err != nil {
		logger.Errorf("[Hub] mirror encode event=%s err=%v", event, err)
		return
	}
	ev := model.MirrorEvent{
		ID:      h.ids.NextString(),
		Event:   event,
		RoomKey: key,
		ActorID: actorID,
		Payload: raw,
		At:      h.Now().UTC(),
	}
	select {
	case h.mirrorCh <- ev:
	default:
		h.metrics.MirrorFailure()
		logger.Warnf("[Hub] mirror queue full, drop event=%s room=%s", event, key)
	}
}

func (h *Hub) mirrorLoop() {
	defer h.wg.Done()
	for {
		select {
		case <-h.stopCh:
			return
		case ev := <-h.mirrorCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := safe.Run(func() error { return h.mirror.Publish(ctx, ev) })
			cancel()
			if err != nil {
				h.metrics.MirrorFailure()
				logger.Warnf("[Hub] mirror publish event=%s room=%s err=%v", ev.Event, ev.RoomKey, err)
			}
		}
	}
}
