package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"livecollab/internal/metrics"
	"livecollab/internal/models"
	"livecollab/internal/utils"
)

var ErrStopped = errors.New("coordinator stopped")

// Reader loads a room's durable state on activation.
type Reader interface {
	ReadRoom(ctx context.Context, roomID string) (models.RoomSnapshot, error)
}

// Persister takes fire-and-forget writes. Implementations must not block.
type Persister interface {
	WriteFileContent(roomID, fileID, content string)
	WriteActiveFile(roomID string, fileID *string)
	WriteLanguage(roomID, language string)
	WriteFileLanguage(roomID, fileID, language string)
	AppendFile(roomID string, node models.FileNode)
	RemoveFile(roomID, fileID string)
	Submit(roomID, op string, fn func(ctx context.Context) error) bool
}

// LifecyclePublisher announces room activation and eviction.
type LifecyclePublisher interface {
	Publish(ctx context.Context, ev models.RoomLifecycleEvent) error
}

type Options struct {
	Reader         Reader
	Writes         Persister
	Lifecycle      LifecyclePublisher
	InstanceID     string
	InboxSize      int
	HydrateTimeout time.Duration
	Log            *utils.Logger
	Now            func() time.Time
}

type discardWrites struct{}

func (discardWrites) WriteFileContent(string, string, string)  {}
func (discardWrites) WriteActiveFile(string, *string)          {}
func (discardWrites) WriteLanguage(string, string)             {}
func (discardWrites) WriteFileLanguage(string, string, string) {}
func (discardWrites) AppendFile(string, models.FileNode)       {}
func (discardWrites) RemoveFile(string, string)                {}
func (discardWrites) Submit(string, string, func(context.Context) error) bool {
	return false
}

type envelopeKind int

const (
	kindInbound envelopeKind = iota
	kindDisconnect
	kindHydrated
	kindQuery
)

type envelope struct {
	kind   envelopeKind
	connID string
	roomID string
	event  string
	data   json.RawMessage

	snap models.RoomSnapshot
	err  error
	took time.Duration

	query func()
}

// Coordinator owns all room sessions. Every event, internal or inbound, is
// applied by the single goroutine running Run, in the order received.
type Coordinator struct {
	store    *Store
	registry *Registry

	reader    Reader
	writes    Persister
	lifecycle LifecyclePublisher
	instance  string
	timeout   time.Duration
	log       *utils.Logger
	now       func() time.Time

	inbox chan envelope
	ctx   context.Context
	done  chan struct{}
}

func NewCoordinator(store *Store, registry *Registry, opts Options) *Coordinator {
	if opts.InboxSize <= 0 {
		opts.InboxSize = 1024
	}
	if opts.HydrateTimeout <= 0 {
		opts.HydrateTimeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Writes == nil {
		opts.Writes = discardWrites{}
	}
	return &Coordinator{
		store:     store,
		registry:  registry,
		reader:    opts.Reader,
		writes:    opts.Writes,
		lifecycle: opts.Lifecycle,
		instance:  opts.InstanceID,
		timeout:   opts.HydrateTimeout,
		log:       opts.Log,
		now:       opts.Now,
		inbox:     make(chan envelope, opts.InboxSize),
		ctx:       context.Background(),
		done:      make(chan struct{}),
	}
}

func (c *Coordinator) Store() *Store { return c.store }

func (c *Coordinator) Registry() *Registry { return c.registry }

// Run processes the inbox until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	c.ctx = ctx
	defer close(c.done)

	c.log.Info("room coordinator started")
	for {
		select {
		case <-ctx.Done():
			c.log.Info("room coordinator stopped", "rooms", c.store.Count())
			return
		case env := <-c.inbox:
			c.dispatch(env)
		}
	}
}

// Done is closed once Run has returned.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

func (c *Coordinator) post(ctx context.Context, env envelope) error {
	select {
	case <-c.done:
		return ErrStopped
	default:
	}
	select {
	case c.inbox <- env:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit hands an inbound frame from connID to the loop. It blocks while the
// inbox is full.
func (c *Coordinator) Submit(ctx context.Context, connID string, frame models.InboundFrame) error {
	return c.post(ctx, envelope{kind: kindInbound, connID: connID, event: frame.Type, data: frame.Data})
}

// Disconnect reports that connID closed. Duplicate reports are harmless.
func (c *Coordinator) Disconnect(ctx context.Context, connID string) error {
	return c.post(ctx, envelope{kind: kindDisconnect, connID: connID, event: "disconnect"})
}

func (c *Coordinator) ask(ctx context.Context, fn func()) error {
	reply := make(chan struct{})
	if err := c.post(ctx, envelope{kind: kindQuery, query: func() {
		defer close(reply)
		fn()
	}}); err != nil {
		return err
	}
	select {
	case <-reply:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LiveRooms lists every session currently held in memory.
func (c *Coordinator) LiveRooms(ctx context.Context) ([]models.LiveRoom, error) {
	var out []models.LiveRoom
	err := c.ask(ctx, func() {
		out = make([]models.LiveRoom, 0, c.store.Count())
		for _, id := range c.store.IDs() {
			r, _ := c.store.Get(id)
			out = append(out, models.LiveRoom{RoomID: id, State: r.state.String(), Participants: r.ParticipantCount()})
		}
	})
	return out, err
}

// LiveRoom describes one session, or reports false when it is not live.
func (c *Coordinator) LiveRoom(ctx context.Context, roomID string) (models.LiveRoomDetail, bool, error) {
	var (
		out   models.LiveRoomDetail
		found bool
	)
	err := c.ask(ctx, func() {
		if r, ok := c.store.Get(roomID); ok {
			out, found = r.detail(), true
		}
	})
	return out, found, err
}

func (c *Coordinator) dispatch(env envelope) {
	switch env.kind {
	case kindQuery:
		c.safely("", "query", env.query)
	case kindHydrated:
		c.safely(env.roomID, "hydrated", func() { c.finishHydration(env) })
	case kindDisconnect:
		c.safely("", env.event, func() { c.handleDisconnect(env.connID) })
	case kindInbound:
		c.route(env)
	}
}

// route resolves the target room of an inbound event and either applies it,
// parks it behind a hydration, or drops it.
func (c *Coordinator) route(env envelope) {
	var head struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(env.data, &head); err != nil || head.RoomID == "" {
		c.reject(env, "malformed payload")
		return
	}
	env.roomID = head.RoomID

	room, ok := c.store.Get(env.roomID)
	if !ok {
		if env.event != models.EventJoinRoom {
			metrics.ObserveEvent(env.event, metrics.OutcomeDropped)
			return
		}
		room, _ = c.store.GetOrCreate(env.roomID)
		room.pending = append(room.pending, env)
		metrics.ObserveEvent(env.event, metrics.OutcomeQueued)
		c.startHydration(env.roomID)
		return
	}

	if room.state == StateHydrating {
		room.pending = append(room.pending, env)
		metrics.ObserveEvent(env.event, metrics.OutcomeQueued)
		return
	}
	c.apply(room, env)
}

func (c *Coordinator) apply(room *RoomSession, env envelope) {
	outcome := metrics.OutcomePanicked
	c.safely(room.ID, env.event, func() {
		outcome = c.handle(room, env)
	})
	if outcome != metrics.OutcomePanicked {
		metrics.ObserveEvent(env.event, outcome)
	}
	if outcome == metrics.OutcomeDropped {
		c.log.Debug("event dropped", "roomId", room.ID, "event", env.event, "connId", env.connID)
	}
}

// safely runs fn, containing any panic to the one event.
func (c *Coordinator) safely(roomID, event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ObserveEvent(event, metrics.OutcomePanicked)
			c.log.Error("event handler panicked", "roomId", roomID, "event", event, "panic", r)
		}
	}()
	fn()
}

func (c *Coordinator) reject(env envelope, reason string) {
	metrics.ObserveEvent(env.event, metrics.OutcomeDropped)
	c.log.Debug("event rejected", "event", env.event, "connId", env.connID, "reason", reason)
}

func (c *Coordinator) startHydration(roomID string) {
	parent := c.ctx
	go func() {
		ctx, cancel := context.WithTimeout(parent, c.timeout)
		defer cancel()

		start := time.Now()
		var (
			snap models.RoomSnapshot
			err  error
		)
		if c.reader != nil {
			snap, err = c.reader.ReadRoom(ctx, roomID)
		}
		took := time.Since(start)
		metrics.ObserveHydration(took)

		_ = c.post(parent, envelope{kind: kindHydrated, roomID: roomID, snap: snap, err: err, took: took})
	}()
}

func (c *Coordinator) finishHydration(env envelope) {
	room, ok := c.store.Get(env.roomID)
	if !ok || room.state != StateHydrating {
		return
	}
	if env.err != nil {
		c.log.Warn("room hydration failed, starting empty", "roomId", env.roomID, "error", env.err)
		env.snap = models.RoomSnapshot{}
	}
	room.Activate(env.snap)

	pending := room.pending
	room.pending = nil
	for _, queued := range pending {
		c.apply(room, queued)
	}

	if room.ParticipantCount() == 0 {
		c.log.Info("room abandoned during hydration", "roomId", room.ID)
		c.evict(room)
		return
	}
	c.log.Info("room activated", "roomId", room.ID, "files", room.files.Len(), "tookMs", env.took.Milliseconds())
	c.announce(room, models.LifecycleActivated)
}

func (c *Coordinator) handleDisconnect(connID string) {
	rooms, ok := c.registry.Detach(connID)
	if !ok {
		return
	}
	for _, roomID := range rooms {
		room, ok := c.store.Get(roomID)
		if !ok || room.state != StateActive {
			continue
		}
		c.safely(roomID, "disconnect", func() { c.leave(room, connID) })
	}
}

func (c *Coordinator) evict(room *RoomSession) {
	c.store.Remove(room.ID)
	c.log.Info("room evicted", "roomId", room.ID)
	c.announce(room, models.LifecycleEvicted)
}

func (c *Coordinator) announce(room *RoomSession, event string) {
	if c.lifecycle == nil {
		return
	}
	ev := models.RoomLifecycleEvent{
		RoomID:       room.ID,
		Event:        event,
		Participants: room.ParticipantCount(),
		Files:        room.files.Len(),
		InstanceID:   c.instance,
		At:           c.now().UTC().Format(time.RFC3339),
	}
	c.writes.Submit(room.ID, "publish_"+event, func(ctx context.Context) error {
		return c.lifecycle.Publish(ctx, ev)
	})
}

/*** fan-out ***/

func (c *Coordinator) toConn(connID string, frame models.WSFrame) {
	if cl, ok := c.registry.Client(connID); ok {
		cl.Send(frame)
	}
}

func (c *Coordinator) toOthers(room *RoomSession, senderConn string, frame models.WSFrame) {
	for _, p := range room.participants {
		if p.ConnectionID == senderConn {
			continue
		}
		c.toConn(p.ConnectionID, frame)
	}
}

func (c *Coordinator) toAll(room *RoomSession, frame models.WSFrame) {
	for _, p := range room.participants {
		c.toConn(p.ConnectionID, frame)
	}
}
