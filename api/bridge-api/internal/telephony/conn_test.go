package internal_telephony

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringbridge/pkg/commons"
)

// connPair upgrades a websocket on a test server and hands back both ends:
// our server-side Conn and the raw client socket playing the provider.
func connPair(t *testing.T) (*Conn, *websocket.Conn) {
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)

	upgrader := websocket.Upgrader{}
	serverSide := make(chan *Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverSide <- NewConn(logger, ws)
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	provider, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { provider.Close() })

	select {
	case conn := <-serverSide:
		t.Cleanup(func() { conn.Close() })
		return conn, provider
	case <-time.After(2 * time.Second):
		t.Fatal("server side connection never arrived")
		return nil, nil
	}
}

func startFrameJSON(streamSid, callSid string) string {
	return `{"event":"start","streamSid":"` + streamSid + `","start":{"accountSid":"AC0","callSid":"` + callSid + `","streamSid":"` + streamSid + `","tracks":["inbound"],"mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1}}}`
}

func readProviderMessage(t *testing.T, provider *websocket.Conn) map[string]interface{} {
	provider.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := provider.ReadMessage()
	require.NoError(t, err)
	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestConn_StartBindsStream(t *testing.T) {
	conn, provider := connPair(t)

	require.NoError(t, provider.WriteMessage(websocket.TextMessage, []byte(startFrameJSON("MZ1", "CA1"))))

	frame, err := conn.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, EventStart, frame.Event)
	assert.Equal(t, "MZ1", conn.StreamSid())
	assert.Equal(t, "CA1", conn.CallSid())
}

func TestConn_MediaQueuedUntilStart(t *testing.T) {
	conn, provider := connPair(t)

	// Audio produced before the provider announces the stream.
	require.NoError(t, conn.SendMedia("early-1"))
	require.NoError(t, conn.SendMedia("early-2"))

	require.NoError(t, provider.WriteMessage(websocket.TextMessage, []byte(startFrameJSON("MZ2", "CA2"))))
	_, err := conn.ReadFrame()
	require.NoError(t, err)

	// The queue flushes in order, stamped with the bound streamSid.
	first := readProviderMessage(t, provider)
	assert.Equal(t, "media", first["event"])
	assert.Equal(t, "MZ2", first["streamSid"])
	assert.Equal(t, "early-1", first["media"].(map[string]interface{})["payload"])

	second := readProviderMessage(t, provider)
	assert.Equal(t, "early-2", second["media"].(map[string]interface{})["payload"])
}

func TestConn_PreStartQueueDropsOldest(t *testing.T) {
	conn, provider := connPair(t)

	for i := 0; i < preStartQueueLimit+5; i++ {
		require.NoError(t, conn.SendMedia("frame"))
	}

	require.NoError(t, provider.WriteMessage(websocket.TextMessage, []byte(startFrameJSON("MZ3", "CA3"))))
	_, err := conn.ReadFrame()
	require.NoError(t, err)

	for i := 0; i < preStartQueueLimit; i++ {
		readProviderMessage(t, provider)
	}

	// Exactly the queue limit was flushed; confirm nothing extra by sending a
	// marker and seeing it come through next.
	require.NoError(t, conn.SendMark("end"))
	msg := readProviderMessage(t, provider)
	assert.Equal(t, "mark", msg["event"])
}

func TestConn_MarkBeforeStartFails(t *testing.T) {
	conn, _ := connPair(t)

	err := conn.SendMark("too-early")
	require.Error(t, err)
	assert.Equal(t, commons.ErrInvariant, commons.KindOf(err))
}

func TestConn_ClearDropsPendingQueue(t *testing.T) {
	conn, provider := connPair(t)

	require.NoError(t, conn.SendMedia("stale"))
	require.NoError(t, conn.SendClear())

	require.NoError(t, provider.WriteMessage(websocket.TextMessage, []byte(startFrameJSON("MZ4", "CA4"))))
	_, err := conn.ReadFrame()
	require.NoError(t, err)

	// Nothing flushed on start; the next message is the mark below.
	require.NoError(t, conn.SendMark("after-clear"))
	msg := readProviderMessage(t, provider)
	assert.Equal(t, "mark", msg["event"])
}

func TestConn_ClearAfterStartReachesProvider(t *testing.T) {
	conn, provider := connPair(t)

	require.NoError(t, provider.WriteMessage(websocket.TextMessage, []byte(startFrameJSON("MZ5", "CA5"))))
	_, err := conn.ReadFrame()
	require.NoError(t, err)

	require.NoError(t, conn.SendClear())
	msg := readProviderMessage(t, provider)
	assert.Equal(t, "clear", msg["event"])
	assert.Equal(t, "MZ5", msg["streamSid"])
}

func TestConn_ReadAfterPeerCloseIsTransportError(t *testing.T) {
	conn, provider := connPair(t)

	require.NoError(t, provider.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
	))

	_, err := conn.ReadFrame()
	require.Error(t, err)
	assert.Equal(t, commons.ErrTransport, commons.KindOf(err))
}

func TestConn_CloseIsIdempotent(t *testing.T) {
	conn, _ := connPair(t)

	assert.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
}
