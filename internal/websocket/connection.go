package websocket

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jpillora/sizestr"
	"go.uber.org/zap"

	"gateway/pkg/types"
)

// ConnectionOptions tunes one realtime connection
type ConnectionOptions struct {
	BufferSize   int
	WriteTimeout time.Duration
	PingInterval time.Duration
	Logger       *zap.Logger
}

// Connection implements interfaces.Connection over a gorilla WebSocket.
// All writes happen on a single writer goroutine fed by a bounded queue;
// Send never blocks, so one slow peer cannot stall a room.
type Connection struct {
	id       string
	conn     *websocket.Conn
	identity *types.Identity
	opts     ConnectionOptions

	writeCh chan types.Frame
	ctx     context.Context
	cancel  context.CancelFunc

	bytesIn  atomic.Int64
	bytesOut atomic.Int64
	logger   *zap.Logger
}

// NewConnection wraps conn and starts its writer goroutine.
// identity is nil for an unauthenticated join.
func NewConnection(conn *websocket.Conn, identity *types.Identity, opts ConnectionOptions) *Connection {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 256
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:       uuid.NewString(),
		conn:     conn,
		identity: identity,
		opts:     opts,
		writeCh:  make(chan types.Frame, opts.BufferSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	c.logger = opts.Logger.With(zap.String("connection", c.id))

	go c.writeLoop()
	return c
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.cancel()
		c.shutdown()
	}()

	for {
		select {
		case frame := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(frame.MessageType, frame.Data); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				return
			}
			c.bytesOut.Add(int64(len(frame.Data)))

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// ID returns the connection id
func (c *Connection) ID() string {
	return c.id
}

// Identity returns the verified caller, or nil
func (c *Connection) Identity() *types.Identity {
	return c.identity
}

// Send queues frame without blocking
func (c *Connection) Send(frame types.Frame) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- frame:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSendQueueFull
	}
}

// IsOpen reports whether the connection still accepts frames
func (c *Connection) IsOpen() bool {
	return c.ctx.Err() == nil
}

// Close stops the connection without blocking the caller.
// The writer goroutine sends a going-away close frame and releases the
// transport, which also ends the peer's read loop.
func (c *Connection) Close() error {
	c.cancel()
	return nil
}

// shutdown runs once, on the writer goroutine
func (c *Connection) shutdown() {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(time.Second))
	_ = c.conn.Close()
	c.logger.Debug("connection closed",
		zap.String("received", sizestr.ToString(c.bytesIn.Load())),
		zap.String("sent", sizestr.ToString(c.bytesOut.Load())))
}

// Done is closed once the connection is closed
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}
