package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomrelay/internal/relay"
)

const (
	testOrigin  = "http://localhost:8080"
	readTimeout = 2 * time.Second
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startTestServer runs a Server behind httptest. mutate may adjust the
// default config before the server is built.
func startTestServer(t *testing.T, mutate func(*Config)) (*Server, *httptest.Server) {
	t.Helper()

	cfg := NewConfig()
	cfg.Relay.SendTimeout = 200 * time.Millisecond
	cfg.ShutdownTimeout = 2 * time.Second
	if mutate != nil {
		mutate(cfg)
	}

	s := New(cfg, discardLogger())
	s.Hub().Start()
	ts := httptest.NewServer(s.SetupRoutes())

	// runs before ts.Close so open event streams end first
	t.Cleanup(ts.Close)
	t.Cleanup(func() {
		_ = s.Hub().Shutdown(cfg.ShutdownTimeout)
	})
	return s, ts
}

func wsURL(t *testing.T, serverURL string, query url.Values) string {
	t.Helper()
	u, err := url.Parse(serverURL)
	require.NoError(t, err)
	u.Scheme = "ws"
	u.Path = "/ws"
	u.RawQuery = query.Encode()
	return u.String()
}

func dialWithOrigin(t *testing.T, target, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return dialer.Dial(target, header)
}

// dial opens a WebSocket, optionally joined to room, and waits until the
// relay reports wantMembers in that room.
func dial(t *testing.T, s *Server, ts *httptest.Server, room, name string, wantMembers int) *websocket.Conn {
	t.Helper()

	query := url.Values{}
	if room != "" {
		query.Set("room", room)
		query.Set("username", name)
	}
	conn, resp, err := dialWithOrigin(t, wsURL(t, ts.URL, query), testOrigin)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	if room != "" {
		waitForMembers(t, s, room, wantMembers)
	}
	return conn
}

func waitForMembers(t *testing.T, s *Server, room string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(s.Hub().Relay().MembersOf(room)) == n
	}, readTimeout, 10*time.Millisecond, "room %q never reached %d members", room, n)
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame map[string]string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(frame))
}

func readEnvelope(t *testing.T, conn *websocket.Conn) relay.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var env relay.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

// expectNoFrame leaves conn unusable for further reads.
func expectNoFrame(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame %s", data)
}

// openEventStream starts an SSE request and returns the decoded data lines.
func openEventStream(t *testing.T, ts *httptest.Server, room, name string) (<-chan relay.Envelope, context.CancelFunc) {
	t.Helper()

	query := url.Values{"room": {room}, "username": {name}}
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events?"+query.Encode(), http.NoBody)
	require.NoError(t, err)

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan relay.Envelope, 64)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			payload, ok := strings.CutPrefix(scanner.Text(), "data: ")
			if !ok {
				continue
			}
			var env relay.Envelope
			if json.Unmarshal([]byte(payload), &env) == nil {
				events <- env
			}
		}
	}()

	t.Cleanup(cancel)
	return events, cancel
}

func nextEvent(t *testing.T, events <-chan relay.Envelope) relay.Envelope {
	t.Helper()
	select {
	case env, ok := <-events:
		require.True(t, ok, "event stream ended")
		return env
	case <-time.After(readTimeout):
		require.FailNow(t, "timed out waiting for event")
		return relay.Envelope{}
	}
}
