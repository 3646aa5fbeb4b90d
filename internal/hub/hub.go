package hub

import (
	"hash/fnv"
	"sync"

	"go.uber.org/zap"

	"gateway/internal/metrics"
	"gateway/pkg/interfaces"
	"gateway/pkg/types"
)

const roomShards = 32

type roomShard struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

// Options configures a Hub
type Options struct {
	// QueueSize bounds each room inbox
	QueueSize int
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Recorder  interfaces.EventRecorder
}

// Hub is the room registry of one namespace.
// Rooms are created lazily on first join and destroyed as soon as the last
// member leaves. Room lookups are sharded so joins and leaves in unrelated
// rooms do not contend on one lock.
type Hub struct {
	namespace types.Namespace
	shards    [roomShards]*roomShard
	queueSize int

	logger   *zap.Logger
	metrics  *metrics.Metrics
	recorder interfaces.EventRecorder

	mu     sync.RWMutex
	closed bool
}

// NewHub creates an empty hub for namespace
func NewHub(namespace types.Namespace, opts Options) *Hub {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNop()
	}

	h := &Hub{
		namespace: namespace,
		queueSize: opts.QueueSize,
		logger:    opts.Logger.With(zap.String("namespace", string(namespace))),
		metrics:   opts.Metrics,
		recorder:  opts.Recorder,
	}
	for i := range h.shards {
		h.shards[i] = &roomShard{rooms: make(map[string]*Room)}
	}
	return h
}

// Namespace returns the namespace served by the hub
func (h *Hub) Namespace() types.Namespace {
	return h.namespace
}

func (h *Hub) shardFor(roomID string) *roomShard {
	sum := fnv.New32a()
	_, _ = sum.Write([]byte(roomID))
	return h.shards[sum.Sum32()%roomShards]
}

// Join adds conn to roomID, creating the room if needed
func (h *Hub) Join(roomID string, conn interfaces.Connection) (*Room, error) {
	if conn == nil {
		return nil, ErrNilConnection
	}
	if err := types.ValidateRoomID(roomID); err != nil {
		return nil, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, ErrHubClosed
	}

	shard := h.shardFor(roomID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	room, exists := shard.rooms[roomID]
	if !exists {
		room = newRoom(roomID, h)
		shard.rooms[roomID] = room
		h.metrics.WSRooms.WithLabelValues(string(h.namespace)).Inc()
		h.record(types.EventRoomOpened, roomID, conn)
		h.logger.Debug("room opened", zap.String("room", roomID))
	}

	room.mu.Lock()
	room.members[conn.ID()] = conn
	room.mu.Unlock()
	h.metrics.WSConnections.WithLabelValues(string(h.namespace)).Inc()

	return room, nil
}

func (h *Hub) leave(room *Room, conn interfaces.Connection) error {
	shard := h.shardFor(room.id)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	room.mu.Lock()
	if _, ok := room.members[conn.ID()]; !ok {
		room.mu.Unlock()
		return ErrNotMember
	}
	delete(room.members, conn.ID())
	empty := len(room.members) == 0
	room.mu.Unlock()
	h.metrics.WSConnections.WithLabelValues(string(h.namespace)).Dec()

	if empty && shard.rooms[room.id] == room {
		delete(shard.rooms, room.id)
		close(room.done)
		h.metrics.WSRooms.WithLabelValues(string(h.namespace)).Dec()
		h.record(types.EventRoomClosed, room.id, conn)
		h.logger.Debug("room closed", zap.String("room", room.id))
	}
	return nil
}

// Room returns the live room with id, if any
func (h *Hub) Room(roomID string) (*Room, bool) {
	shard := h.shardFor(roomID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	room, ok := shard.rooms[roomID]
	return room, ok
}

// Stats counts live rooms and members
func (h *Hub) Stats() types.HubStats {
	var stats types.HubStats
	for _, shard := range h.shards {
		shard.mu.Lock()
		stats.Rooms += len(shard.rooms)
		for _, room := range shard.rooms {
			stats.Members += room.Len()
		}
		shard.mu.Unlock()
	}
	return stats
}

// Close refuses new joins and closes every member transport.
// Members leave through their own read loops once their transports close.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	var members []interfaces.Connection
	for _, shard := range h.shards {
		shard.mu.Lock()
		for _, room := range shard.rooms {
			room.mu.RLock()
			for _, member := range room.members {
				members = append(members, member)
			}
			room.mu.RUnlock()
		}
		shard.mu.Unlock()
	}

	h.logger.Info("closing hub", zap.Int("members", len(members)))
	for _, member := range members {
		_ = member.Close()
	}
	return nil
}

func (h *Hub) record(kind, roomID string, conn interfaces.Connection) {
	if h.recorder == nil {
		return
	}
	event := types.Event{
		Kind:    kind,
		Subject: string(h.namespace) + ":" + roomID,
	}
	if identity := conn.Identity(); identity != nil {
		event.Detail = identity.SubjectID
	}
	h.recorder.Record(event)
}
