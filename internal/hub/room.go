package hub

import (
	"sync"

	"go.uber.org/zap"

	"gateway/pkg/interfaces"
	"gateway/pkg/types"
)

// Room is the broadcast domain of one canvas board or chat channel.
// Inbound frames are queued on the room inbox and relayed by a single
// dispatcher goroutine, so frames from one sender keep their arrival order.
type Room struct {
	id  string
	hub *Hub

	mu      sync.RWMutex
	members map[string]interfaces.Connection

	inbox chan types.Frame
	done  chan struct{}
}

func newRoom(id string, h *Hub) *Room {
	r := &Room{
		id:      id,
		hub:     h,
		members: make(map[string]interfaces.Connection),
		inbox:   make(chan types.Frame, h.queueSize),
		done:    make(chan struct{}),
	}
	go r.dispatch()
	return r
}

// ID returns the room id
func (r *Room) ID() string {
	return r.id
}

// Namespace returns the namespace the room lives in
func (r *Room) Namespace() types.Namespace {
	return r.hub.namespace
}

// Len returns the current member count
func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Publish queues a frame for every member, the sender included.
// It blocks while the inbox is full, applying backpressure to the sender's
// read loop, and fails once the room has been destroyed.
func (r *Room) Publish(frame types.Frame) error {
	select {
	case <-r.done:
		return ErrRoomClosed
	default:
	}

	select {
	case r.inbox <- frame:
		return nil
	case <-r.done:
		return ErrRoomClosed
	}
}

// Leave removes conn from the room, destroying the room when it empties
func (r *Room) Leave(conn interfaces.Connection) error {
	return r.hub.leave(r, conn)
}

func (r *Room) dispatch() {
	for {
		select {
		case frame := <-r.inbox:
			r.relay(frame)
		case <-r.done:
			return
		}
	}
}

func (r *Room) relay(frame types.Frame) {
	r.mu.RLock()
	targets := make([]interfaces.Connection, 0, len(r.members))
	for _, member := range r.members {
		targets = append(targets, member)
	}
	r.mu.RUnlock()

	for _, member := range targets {
		if !member.IsOpen() {
			continue
		}
		if err := member.Send(frame); err != nil {
			// A member that cannot keep up is disconnected; its read loop leaves the room
			r.hub.logger.Warn("dropping slow room member",
				zap.String("namespace", string(r.hub.namespace)),
				zap.String("room", r.id),
				zap.String("connection", member.ID()),
				zap.Error(err))
			_ = member.Close()
		}
	}
	r.hub.metrics.FramesRelayed.WithLabelValues(string(r.hub.namespace)).Inc()
}
