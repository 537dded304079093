package hub

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"meshroster/internal/service"
)

func readUntil(t *testing.T, r *bufio.Reader, prefix string) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(line)
		}
	}
}

func TestHub_StreamsBusEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := New(zaptest.NewLogger(t))
	go h.Run(ctx)

	bus := service.NewEventBus()
	h.Forward(ctx, bus)

	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	assert.Equal(t, ": connected", readUntil(t, reader, ":"))
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	bus.Publish(service.Event{Type: service.EventDeviceAdded, Payload: map[string]string{"node_id": "COM3"}})

	assert.Equal(t, "event: device_added", readUntil(t, reader, "event:"))
	data := readUntil(t, reader, "data:")
	assert.Contains(t, data, `"type":"device_added"`)
	assert.Contains(t, data, `"node_id":"COM3"`)
}

func TestHub_KeepAliveAndShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	h := New(nil)
	h.keepAlive = 20 * time.Millisecond
	go h.Run(ctx)

	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	assert.Equal(t, ": keepalive", readUntil(t, reader, ": keepalive"))

	cancel()
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, 10*time.Millisecond)

	late := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	h.ServeHTTP(late, req)
	assert.Equal(t, http.StatusServiceUnavailable, late.Code)
}

func TestEncode(t *testing.T) {
	msg, err := encode(service.Event{Type: service.EventCommitUndone})
	require.NoError(t, err)
	assert.Equal(t, "event: commit_undone\ndata: {\"type\":\"commit_undone\"}\n\n", string(msg))
}
