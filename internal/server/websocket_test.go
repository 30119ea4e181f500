package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomrelay/internal/relay"
)

func TestWebSocketRoomMessageExchange(t *testing.T) {
	s, ts := startTestServer(t, nil)

	ada := dial(t, s, ts, "algebra", "Ada", 1)
	grace := dial(t, s, ts, "algebra", "Grace", 2)

	joined := readEnvelope(t, ada)
	assert.Equal(t, relay.TypeUserJoined, joined.Type)
	assert.Equal(t, "algebra", joined.Room)
	assert.Equal(t, "Grace", joined.Content)

	sendFrame(t, grace, map[string]string{"type": "message", "room": "algebra", "content": "x = 4"})

	msg := readEnvelope(t, ada)
	assert.Equal(t, relay.TypeMessage, msg.Type)
	assert.Equal(t, "Grace", msg.Sender)
	assert.Equal(t, "x = 4", msg.Content)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.Timestamp.IsZero())

	// no echo to the sender
	expectNoFrame(t, grace, 200*time.Millisecond)
}

func TestWebSocketRoomsAreIsolated(t *testing.T) {
	s, ts := startTestServer(t, nil)

	ada := dial(t, s, ts, "algebra", "Ada", 1)
	grace := dial(t, s, ts, "algebra", "Grace", 2)
	alan := dial(t, s, ts, "geometry", "Alan", 1)
	_ = readEnvelope(t, ada) // Grace joined

	sendFrame(t, grace, map[string]string{"type": "message", "room": "algebra", "content": "only algebra"})
	assert.Equal(t, "only algebra", readEnvelope(t, ada).Content)
	expectNoFrame(t, alan, 200*time.Millisecond)
}

func TestWebSocketJoinAndLeaveFrames(t *testing.T) {
	s, ts := startTestServer(t, nil)

	ada := dial(t, s, ts, "", "", 0)
	grace := dial(t, s, ts, "", "", 0)

	sendFrame(t, ada, map[string]string{"type": "join", "room": "algebra", "sender": "Ada"})
	waitForMembers(t, s, "algebra", 1)
	sendFrame(t, grace, map[string]string{"type": "join-room", "roomId": "algebra", "username": "Grace"})
	waitForMembers(t, s, "algebra", 2)

	joined := readEnvelope(t, ada)
	assert.Equal(t, relay.TypeUserJoined, joined.Type)
	assert.Equal(t, "Grace", joined.Sender)

	sendFrame(t, grace, map[string]string{"type": "leave", "room": "algebra"})
	left := readEnvelope(t, ada)
	assert.Equal(t, relay.TypeUserLeft, left.Type)
	assert.Equal(t, "Grace", left.Content)
	waitForMembers(t, s, "algebra", 1)
}

func TestWebSocketDisconnectAnnouncesLeave(t *testing.T) {
	s, ts := startTestServer(t, nil)

	ada := dial(t, s, ts, "algebra", "Ada", 1)
	grace := dial(t, s, ts, "algebra", "Grace", 2)
	_ = readEnvelope(t, ada)

	require.NoError(t, grace.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.NoError(t, grace.Close())

	left := readEnvelope(t, ada)
	assert.Equal(t, relay.TypeUserLeft, left.Type)
	assert.Equal(t, "Grace", left.Sender)
	waitForMembers(t, s, "algebra", 1)

	require.Eventually(t, func() bool {
		return s.Hub().Relay().Stats().Connections == 1
	}, readTimeout, 10*time.Millisecond)
}

func TestWebSocketMalformedFrameKeepsConnection(t *testing.T) {
	s, ts := startTestServer(t, nil)

	ada := dial(t, s, ts, "algebra", "Ada", 1)
	grace := dial(t, s, ts, "algebra", "Grace", 2)
	_ = readEnvelope(t, ada)

	require.NoError(t, grace.WriteMessage(websocket.TextMessage, []byte("not json")))
	sendFrame(t, grace, map[string]string{"type": "message", "content": "no room"})
	sendFrame(t, grace, map[string]string{"type": "shout", "room": "algebra"})
	sendFrame(t, grace, map[string]string{"type": "message", "room": "algebra", "content": "valid"})

	msg := readEnvelope(t, ada)
	assert.Equal(t, "valid", msg.Content)
	assert.Equal(t, 2, s.Hub().Relay().Stats().Connections)
}

func TestWebSocketMessageToUnjoinedRoomIsDropped(t *testing.T) {
	s, ts := startTestServer(t, nil)

	ada := dial(t, s, ts, "algebra", "Ada", 1)
	outsider := dial(t, s, ts, "geometry", "Alan", 1)

	sendFrame(t, outsider, map[string]string{"type": "message", "room": "algebra", "content": "let me in"})
	expectNoFrame(t, ada, 200*time.Millisecond)
}

func TestWebSocketOriginValidation(t *testing.T) {
	_, ts := startTestServer(t, func(cfg *Config) {
		cfg.AllowedOrigins = []string{"https://app.example.com"}
	})
	target := wsURL(t, ts.URL, url.Values{})

	for _, origin := range []string{"", "http://evil.example.com", "not-a-url"} {
		t.Run(fmt.Sprintf("rejects %q", origin), func(t *testing.T) {
			conn, resp, err := dialWithOrigin(t, target, origin)
			if conn != nil {
				_ = conn.Close()
			}
			require.Error(t, err)
			require.NotNil(t, resp)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}

	t.Run("accepts configured origin case-insensitively", func(t *testing.T) {
		conn, resp, err := dialWithOrigin(t, target, "HTTPS://APP.EXAMPLE.COM")
		require.NoError(t, err)
		_ = resp.Body.Close()
		_ = conn.Close()
	})
}

func TestWebSocketOversizedFrameClosesConnection(t *testing.T) {
	s, ts := startTestServer(t, func(cfg *Config) {
		cfg.MaxMessageSize = 128
	})

	ada := dial(t, s, ts, "algebra", "Ada", 1)
	grace := dial(t, s, ts, "algebra", "Grace", 2)
	_ = readEnvelope(t, ada)

	big := strings.Repeat("x", 512)
	sendFrame(t, grace, map[string]string{"type": "message", "room": "algebra", "content": big})

	left := readEnvelope(t, ada)
	assert.Equal(t, relay.TypeUserLeft, left.Type)
	waitForMembers(t, s, "algebra", 1)
}

func TestWebSocketRateLimitDiscardsExcess(t *testing.T) {
	s, ts := startTestServer(t, func(cfg *Config) {
		cfg.RateLimit = RateLimitConfig{Burst: 2, RefillInterval: time.Minute}
	})

	ada := dial(t, s, ts, "algebra", "Ada", 1)
	grace := dial(t, s, ts, "algebra", "Grace", 2)
	_ = readEnvelope(t, ada)

	for i := 0; i < 5; i++ {
		sendFrame(t, grace, map[string]string{"type": "message", "room": "algebra", "content": fmt.Sprint(i)})
	}

	assert.Equal(t, "0", readEnvelope(t, ada).Content)
	assert.Equal(t, "1", readEnvelope(t, ada).Content)
	expectNoFrame(t, ada, 300*time.Millisecond)
	assert.Equal(t, 2, s.Hub().Relay().Stats().Connections, "rate limiting must not disconnect")
}

func TestWebSocketHandlerRejectsNonGET(t *testing.T) {
	s, _ := startTestServer(t, nil)

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		req := httptest.NewRequest(method, "/ws", http.NoBody)
		rec := httptest.NewRecorder()
		s.WebSocketHandler(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, method)
	}
}

func TestWebSocketHandlerWithoutUpgrade(t *testing.T) {
	s, _ := startTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
	req.Header.Set("Origin", testOrigin)
	rec := httptest.NewRecorder()
	s.WebSocketHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, s.Hub().Relay().Stats().Connections)
}

func TestWebSocketManyClientsFanOut(t *testing.T) {
	s, ts := startTestServer(t, nil)

	const n = 6
	conns := make([]*websocket.Conn, n)
	for i := range conns {
		conns[i] = dial(t, s, ts, "lobby", fmt.Sprintf("user%d", i), i+1)
	}

	sendFrame(t, conns[0], map[string]string{"type": "message", "room": "lobby", "content": "hello all"})

	for i := 1; i < n; i++ {
		for {
			env := readEnvelope(t, conns[i])
			if env.Type == relay.TypeMessage {
				assert.Equal(t, "hello all", env.Content)
				assert.Equal(t, "user0", env.Sender)
				break
			}
			require.Equal(t, relay.TypeUserJoined, env.Type)
		}
	}
}
