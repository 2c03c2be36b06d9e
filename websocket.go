package b23bot

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// websocketTransport implements transport over a gorilla WebSocket.
type websocketTransport struct {
	url         string
	accessToken string

	conn *websocket.Conn
	mu   sync.Mutex // protects conn writes

	frameHandler func(data []byte)
	disconnectFn func(error)

	done      chan struct{}
	closeOnce sync.Once
}

func newWebsocketTransport(url, accessToken string) *websocketTransport {
	return &websocketTransport{
		url:         url,
		accessToken: accessToken,
		done:        make(chan struct{}),
	}
}

func (t *websocketTransport) dial(ctx context.Context) error {
	header := http.Header{}
	if t.accessToken != "" {
		header.Set("Authorization", "Bearer "+t.accessToken)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, t.url, header)
	if err != nil {
		return &ConnectionError{URL: t.url, Reason: err.Error()}
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	go t.readLoop(conn)
	go t.pingLoop()

	return nil
}

func (t *websocketTransport) setFrameHandler(fn func(data []byte)) {
	t.frameHandler = fn
}

func (t *websocketTransport) onDisconnect(fn func(error)) {
	t.disconnectFn = fn
}

func (t *websocketTransport) write(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ErrNotConnected
	}
	t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *websocketTransport) close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)

		t.mu.Lock()
		conn := t.conn
		t.conn = nil
		t.mu.Unlock()

		if conn != nil {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			err = conn.Close()
		}
	})
	return err
}

func (t *websocketTransport) closed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// readLoop delivers frames sequentially; the next frame is not read until
// the handler for the previous one returned.
func (t *websocketTransport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if t.closed() {
				return
			}
			t.mu.Lock()
			if t.conn == conn {
				t.conn = nil
			}
			t.mu.Unlock()
			conn.Close()
			t.closeOnce.Do(func() { close(t.done) })
			if t.disconnectFn != nil {
				t.disconnectFn(err)
			}
			return
		}

		if t.frameHandler != nil {
			t.frameHandler(data)
		}
	}
}

func (t *websocketTransport) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.mu.Lock()
			conn := t.conn
			var err error
			if conn != nil {
				err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			}
			t.mu.Unlock()
			if conn == nil || err != nil {
				return
			}
		}
	}
}
