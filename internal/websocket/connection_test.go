package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateway/pkg/interfaces"
	"gateway/pkg/types"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func TestConnection_InterfaceCompliance(t *testing.T) {
	var _ interfaces.Connection = &Connection{}
}

// newConnectionPair returns a server-side Connection and the client end dialed to it
func newConnectionPair(t *testing.T, opts ConnectionOptions) (*Connection, *websocket.Conn) {
	t.Helper()
	serverSide := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serverSide <- conn
	}))
	t.Cleanup(server.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	var ws *websocket.Conn
	select {
	case ws = <-serverSide:
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted the connection")
	}

	conn := NewConnection(ws, &types.Identity{SubjectID: "u-1"}, opts)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, client
}

func TestConnection_SendPreservesFrameType(t *testing.T) {
	conn, client := newConnectionPair(t, ConnectionOptions{})

	assert.NotEmpty(t, conn.ID())
	assert.Equal(t, "u-1", conn.Identity().SubjectID)
	assert.True(t, conn.IsOpen())

	require.NoError(t, conn.Send(types.Frame{MessageType: websocket.TextMessage, Data: []byte(`{"type":"draw"}`)}))
	require.NoError(t, conn.Send(types.Frame{MessageType: websocket.BinaryMessage, Data: []byte{0x00, 0xff}}))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	mt, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.Equal(t, `{"type":"draw"}`, string(data))

	mt, data, err = client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	assert.Equal(t, []byte{0x00, 0xff}, data)
}

func TestConnection_SendAfterClose(t *testing.T) {
	conn, client := newConnectionPair(t, ConnectionOptions{})

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close(), "close is idempotent")
	assert.False(t, conn.IsOpen())
	assert.ErrorIs(t, conn.Send(types.Frame{MessageType: websocket.TextMessage, Data: []byte("x")}), ErrConnectionClosed)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := client.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestConnection_FullQueueFailsFast(t *testing.T) {
	// The client never reads, so once the socket buffers fill the writer stalls
	conn, _ := newConnectionPair(t, ConnectionOptions{BufferSize: 1, WriteTimeout: 5 * time.Second})

	payload := make([]byte, 64<<10)
	var err error
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if err = conn.Send(types.Frame{MessageType: websocket.BinaryMessage, Data: payload}); err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, ErrSendQueueFull)
}

func TestConnection_Pings(t *testing.T) {
	_, client := newConnectionPair(t, ConnectionOptions{PingInterval: 20 * time.Millisecond})

	pinged := make(chan struct{}, 1)
	client.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping received")
	}
}
