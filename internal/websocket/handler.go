package websocket

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gateway/internal/hub"
	"gateway/pkg/interfaces"
	"gateway/pkg/types"
)

// HandlerOptions wires the upgrade endpoint of one realtime namespace
type HandlerOptions struct {
	Hub *hub.Hub
	// RoomParam is the query parameter carrying the room id (boardId, channelId)
	RoomParam string
	// Verifier checks the optional ?token= credential
	Verifier    interfaces.Verifier
	RequireAuth bool
	CheckOrigin func(r *http.Request) bool

	PingInterval   time.Duration
	PongWait       time.Duration
	WriteTimeout   time.Duration
	BufferSize     int
	MaxMessageSize int64

	Logger   *zap.Logger
	Recorder interfaces.EventRecorder
}

// Handler upgrades requests into room members.
// Every check runs before the upgrade; a refused join is still upgraded so
// it can be answered with a policy-violation close frame, but it never
// touches the room registry.
type Handler struct {
	opts     HandlerOptions
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler creates an upgrade handler for opts.Hub
func NewHandler(opts HandlerOptions) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.PongWait <= 0 {
		opts.PongWait = 60 * time.Second
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	return &Handler{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      checkOrigin,
		},
		logger: opts.Logger.With(zap.String("namespace", string(opts.Hub.Namespace()))),
	}
}

// ServeHTTP validates, upgrades and joins one connection
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	roomID := query.Get(h.opts.RoomParam)
	identity, refusal := h.admit(roomID, query.Get("token"))

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered with an HTTP error
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	if refusal != nil {
		h.refuse(ws, r, roomID, refusal)
		return
	}

	conn := NewConnection(ws, identity, ConnectionOptions{
		BufferSize:   h.opts.BufferSize,
		WriteTimeout: h.opts.WriteTimeout,
		PingInterval: h.opts.PingInterval,
		Logger:       h.logger,
	})

	room, err := h.opts.Hub.Join(roomID, conn)
	if err != nil {
		h.logger.Warn("join failed", zap.String("room", roomID), zap.Error(err))
		_ = conn.Close()
		return
	}

	fields := []zap.Field{zap.String("room", roomID), zap.String("connection", conn.ID())}
	if identity != nil {
		fields = append(fields, zap.String("subject", identity.SubjectID))
	}
	h.logger.Debug("joined room", fields...)

	go h.readLoop(conn, room)
}

// admit decides whether a join may proceed, without side effects
func (h *Handler) admit(roomID, token string) (*types.Identity, error) {
	if roomID == "" {
		return nil, ErrMissingRoomID
	}
	if err := types.ValidateRoomID(roomID); err != nil {
		return nil, err
	}

	if token == "" {
		if h.opts.RequireAuth {
			return nil, ErrMissingToken
		}
		return nil, nil
	}
	if h.opts.Verifier == nil {
		return nil, ErrMissingToken
	}
	return h.opts.Verifier.Verify(token)
}

func (h *Handler) refuse(ws *websocket.Conn, r *http.Request, roomID string, reason error) {
	message := "invalid room id"
	if errors.Is(reason, types.ErrAuthentication) || errors.Is(reason, ErrMissingToken) {
		message = "authentication failed"
	}

	h.logger.Debug("refused realtime join", zap.String("room", roomID), zap.Error(reason))
	if h.opts.Recorder != nil {
		h.opts.Recorder.Record(types.Event{
			Kind:       types.EventUpgradeRefused,
			Subject:    string(h.opts.Hub.Namespace()) + ":" + roomID,
			Detail:     reason.Error(),
			RemoteAddr: types.ClientAddrFrom(r.Context()),
		})
	}

	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message),
		time.Now().Add(time.Second))
	_ = ws.Close()
}

// readLoop relays every inbound frame to the room until the transport ends
func (h *Handler) readLoop(conn *Connection, room *hub.Room) {
	defer func() {
		if err := room.Leave(conn); err != nil {
			h.logger.Debug("leave failed", zap.String("connection", conn.ID()), zap.Error(err))
		}
		_ = conn.Close()
	}()

	if h.opts.MaxMessageSize > 0 {
		conn.conn.SetReadLimit(h.opts.MaxMessageSize)
	}
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Info("websocket read error", zap.String("connection", conn.ID()), zap.Error(err))
			}
			return
		}
		conn.bytesIn.Add(int64(len(data)))

		if err := room.Publish(types.Frame{MessageType: messageType, Data: data}); err != nil {
			return
		}
	}
}
