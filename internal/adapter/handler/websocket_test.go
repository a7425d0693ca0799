package handler

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hive-corporation/threatdeck/internal/core/ports"
)

var _ ports.Broadcaster = (*Hub)(nil)

func dialHub(t *testing.T, env *testEnv, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return env.hub.ClientCount() > 0 }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func TestHub_Broadcast(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := dialHub(t, env, "")

	env.hub.Broadcast("refresh", map[string]int{"feeds": 3})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev struct {
		Type    string         `json:"type"`
		Payload map[string]int `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(raw, &ev))
	assert.Equal(t, "refresh", ev.Type)
	assert.Equal(t, 3, ev.Payload["feeds"])
}

func TestHub_RequiresTokenWhenAuthEnabled(t *testing.T) {
	env := newTestEnv(t, NewAuthenticator("s3cret", "", nil))

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)

	dialHub(t, env, "?access_token=s3cret")
	assert.Equal(t, 1, env.hub.ClientCount())
}

func TestHub_CloseDisconnects(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := dialHub(t, env, "")

	env.hub.Close()
	assert.Equal(t, 0, env.hub.ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
