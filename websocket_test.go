package b23bot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebsocketTransport_RoundTrip(t *testing.T) {
	g := newMockGateway(t)
	tr := newWebsocketTransport(g.url(), "tok")

	frames := make(chan []byte, 4)
	tr.setFrameHandler(func(data []byte) { frames <- data })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.dial(ctx))
	defer tr.close()

	require.NoError(t, tr.write([]byte(`{"action":"get_status","params":{},"echo":"get_status_1_0"}`)))

	select {
	case data := <-frames:
		assert.Contains(t, string(data), `"echo":"get_status_1_0"`)
	case <-time.After(2 * time.Second):
		t.Fatal("no reply received")
	}
	assert.Equal(t, "Bearer tok", g.authHeader())
}

func TestWebsocketTransport_NoTokenNoHeader(t *testing.T) {
	g := newMockGateway(t)
	tr := newWebsocketTransport(g.url(), "")
	require.NoError(t, tr.dial(context.Background()))
	defer tr.close()

	assert.Empty(t, g.authHeader())
}

func TestWebsocketTransport_DialFailure(t *testing.T) {
	tr := newWebsocketTransport("ws://127.0.0.1:1", "")
	err := tr.dial(context.Background())

	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "ws://127.0.0.1:1", ce.URL)
}

func TestWebsocketTransport_RemoteCloseNotifies(t *testing.T) {
	g := newMockGateway(t)
	tr := newWebsocketTransport(g.url(), "")

	lost := make(chan error, 1)
	tr.onDisconnect(func(err error) { lost <- err })
	require.NoError(t, tr.dial(context.Background()))

	require.Eventually(t, func() bool { return g.dialCount() == 1 }, time.Second, time.Millisecond)
	g.dropConnection()

	select {
	case err := <-lost:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect callback not called")
	}
	assert.ErrorIs(t, tr.write([]byte("{}")), ErrNotConnected)
}

func TestWebsocketTransport_CloseIsSilent(t *testing.T) {
	g := newMockGateway(t)
	tr := newWebsocketTransport(g.url(), "")

	lost := make(chan error, 1)
	tr.onDisconnect(func(err error) { lost <- err })
	require.NoError(t, tr.dial(context.Background()))

	require.NoError(t, tr.close())
	assert.NoError(t, tr.close(), "close is idempotent")

	select {
	case err := <-lost:
		t.Fatalf("disconnect callback after explicit close: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}
