// Package server exposes the HTTP handlers for WebSocket upgrades, health,
// room listings and the built-in test page.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Tyrowin/roomrelay/internal/relay"
)

// WebSocketHandler upgrades the request and attaches a new Client to the
// hub. Optional room and username query parameters join a room straight away.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, s.hub, r.RemoteAddr, s.cfg)
	room := strings.TrimSpace(r.URL.Query().Get("room"))
	username := strings.TrimSpace(r.URL.Query().Get("username"))

	if err := s.hub.register(client, room, username); err != nil {
		client.logger.Warn("register client", "error", err)
		client.writeCloseMessage()
		client.closeConnection()
	}
}

type healthResponse struct {
	Status string `json:"status"`
	relay.Stats
}

// HealthHandler reports liveness along with current relay occupancy.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Stats:  s.hub.Relay().Stats(),
	}, s.logger)
}

type roomsResponse struct {
	Rooms []relay.RoomInfo `json:"rooms"`
}

// RoomsHandler lists active rooms with their member counts.
func (s *Server) RoomsHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, roomsResponse{Rooms: s.hub.Relay().Rooms()}, s.logger)
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("write json response", "error", err)
	}
}

// TestPageHandler serves an HTML page for trying rooms from a browser.
func (s *Server) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		s.logger.Warn("write test page", "error", err)
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>Room Relay Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { width: 200px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>Room Relay Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="usernameInput" placeholder="Username" value="guest">
        <input type="text" id="roomInput" placeholder="Room" value="lobby">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
        <button id="joinButton" onclick="joinRoom()" disabled>Join</button>
        <button id="leaveButton" onclick="leaveRoom()" disabled>Leave</button>
    </div>
    <div style="margin-top: 10px;">
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const usernameInput = document.getElementById('usernameInput');
        const roomInput = document.getElementById('roomInput');
        const statusDiv = document.getElementById('status');
        const controls = ['messageInput', 'sendButton', 'joinButton', 'leaveButton'];

        function addLine(text, color) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            el.style.color = color || 'gray';
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            controls.forEach(id => document.getElementById(id).disabled = !connected);
            document.getElementById('connectButton').textContent = connected ? 'Disconnect' : 'Connect';
        }

        function send(frame) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify(frame));
            }
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = () => { addLine('Connected'); updateStatus(true); joinRoom(); };
            ws.onmessage = event => {
                const env = JSON.parse(event.data);
                switch (env.type) {
                case 'user-joined': addLine(env.content + ' joined ' + env.room); break;
                case 'user-left': addLine(env.content + ' left ' + env.room); break;
                case 'message': addLine('[' + env.room + '] ' + env.sender + ': ' + env.content, 'green'); break;
                default: addLine('[' + env.room + '] ' + env.content, 'purple');
                }
            };
            ws.onclose = () => { addLine('Connection closed'); updateStatus(false); ws = null; };
            ws.onerror = () => addLine('Connection error');
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function joinRoom() {
            send({type: 'join', room: roomInput.value.trim(), sender: usernameInput.value.trim()});
        }

        function leaveRoom() {
            send({type: 'leave', room: roomInput.value.trim()});
        }

        function sendMessage() {
            const content = messageInput.value.trim();
            if (!content) {
                return;
            }
            send({type: 'message', room: roomInput.value.trim(), sender: usernameInput.value.trim(), content: content});
            addLine('[' + roomInput.value.trim() + '] You: ' + content, 'blue');
            messageInput.value = '';
        }

        messageInput.addEventListener('keypress', e => {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
