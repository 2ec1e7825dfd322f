// Package server exposes HTTP handlers, including authenticated WebSocket
// upgrades, account endpoints, room occupancy, health checks, and the
// built-in test page.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/Tyrowin/safechat/internal/auth"
	"github.com/Tyrowin/safechat/internal/membership"
	"github.com/Tyrowin/safechat/internal/storage"
)

const maxAuthBodySize = 1 << 12

// TokenResponse is returned by the register and login endpoints.
type TokenResponse struct {
	Token string `json:"token"`
}

// RoomsResponse is returned by the room occupancy endpoint.
type RoomsResponse struct {
	Rooms []membership.TopicStats `json:"rooms"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("Error writing JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// WebSocketHandler authenticates the request, upgrades it to WebSocket and
// hands the new client to the hub. The token may come from the Authorization
// header or the token query parameter.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	identity, err := s.auth.Tokens().IdentityFromRequest(r)
	if err != nil {
		s.log.Info("WebSocket upgrade refused", "addr", r.RemoteAddr, "error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	sessionID := uuid.NewString()
	client := NewClient(conn, s.hub, s.handler, s.cfg, sessionID, identity, r.RemoteAddr)

	if err := s.handler.Connected(r.Context(), sessionID, identity); err != nil {
		s.log.Error("Session rejected by protocol handler", "session", sessionID, "error", err)
		client.closeConnection()
		return
	}

	// The hub launches the pump goroutines.
	if err := s.hub.Register(client); err != nil {
		s.log.Warn("Client registration failed", "session", sessionID, "error", err)
		client.closeConnection()
		_ = s.handler.Disconnected(r.Context(), sessionID)
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "SafeChat server is running! Connected clients: %d", s.hub.ClientCount())
}

func (s *Server) decodeCredentials(w http.ResponseWriter, r *http.Request) (auth.Credentials, bool) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return auth.Credentials{}, false
	}

	var c auth.Credentials
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAuthBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return auth.Credentials{}, false
	}
	return c, true
}

// RegisterHandler creates an account and returns its first token.
func (s *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	c, ok := s.decodeCredentials(w, r)
	if !ok {
		return
	}

	token, err := s.auth.Register(r.Context(), c)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusCreated, TokenResponse{Token: token})
	case errors.Is(err, auth.ErrInvalidRequest):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrUserAlreadyExists):
		s.writeError(w, http.StatusConflict, "username already taken")
	default:
		s.log.Error("Registration failed", "username", c.Username, "error", err)
		s.writeError(w, http.StatusInternalServerError, "registration failed")
	}
}

// LoginHandler exchanges valid credentials for a token.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	c, ok := s.decodeCredentials(w, r)
	if !ok {
		return
	}

	token, err := s.auth.Login(r.Context(), c)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, TokenResponse{Token: token})
	case errors.Is(err, auth.ErrInvalidCredentials):
		s.writeError(w, http.StatusUnauthorized, "invalid credentials")
	default:
		s.log.Error("Login failed", "username", c.Username, "error", err)
		s.writeError(w, http.StatusInternalServerError, "login failed")
	}
}

// RoomsHandler reports the occupancy of every known topic. It requires a
// valid token.
func (s *Server) RoomsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, err := s.auth.Tokens().IdentityFromRequest(r); err != nil {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	rooms := s.registry.Snapshot()
	if rooms == nil {
		rooms = []membership.TopicStats{}
	}
	s.writeJSON(w, http.StatusOK, RoomsResponse{Rooms: rooms})
}

// TestPageHandler serves an HTML test page for exercising the chat protocol
// from a browser: log in, join a topic, chat and leave.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprint(w, testPage)
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>SafeChat WebSocket Test</title>
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
        input[type="text"], input[type="password"] { width: 180px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
        .error { color: #721c24; }
    </style>
</head>
<body>
    <h1>SafeChat WebSocket Test</h1>

    <div>
        <input type="text" id="username" placeholder="username">
        <input type="password" id="password" placeholder="password">
        <button onclick="authenticate('register')">Register</button>
        <button onclick="authenticate('login')">Login</button>
    </div>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="topic" value="/topic/public">
        <button onclick="send('JOIN')">Join</button>
        <button onclick="send('LEAVE')">Leave</button>
    </div>
    <div>
        <input type="text" id="messageInput" placeholder="Type a message...">
        <button onclick="send('CHAT')">Send</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const statusDiv = document.getElementById('status');

        function addLine(text, cls) {
            const el = document.createElement('div');
            el.textContent = text;
            if (cls) { el.className = cls; }
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
        }

        async function authenticate(action) {
            const body = JSON.stringify({
                username: document.getElementById('username').value,
                password: document.getElementById('password').value,
            });
            const res = await fetch('/api/auth/' + action, { method: 'POST', body: body });
            const data = await res.json();
            if (!res.ok) { addLine(data.error, 'error'); return; }
            connect(data.token);
        }

        function connect(token) {
            if (ws) { ws.close(); }
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws?token=' + encodeURIComponent(token));
            ws.onopen = () => updateStatus(true);
            ws.onclose = () => { updateStatus(false); ws = null; };
            ws.onmessage = (event) => {
                const e = JSON.parse(event.data);
                if (e.type === 'ERROR') { addLine('[' + e.status + '] ' + e.content, 'error'); return; }
                if (e.type === 'JOIN') { addLine(e.sender + ' joined ' + e.topic); return; }
                if (e.type === 'LEAVE') { addLine(e.sender + ' left ' + e.topic); return; }
                addLine(e.topic + ' ' + e.sender + ': ' + e.content);
            };
        }

        function send(type) {
            if (!ws || ws.readyState !== WebSocket.OPEN) { return; }
            const input = document.getElementById('messageInput');
            ws.send(JSON.stringify({
                type: type,
                topic: document.getElementById('topic').value,
                content: type === 'CHAT' ? input.value : '',
            }));
            if (type === 'CHAT') { input.value = ''; }
        }
    </script>
</body>
</html>`
