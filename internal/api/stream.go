package api

import (
    "context"
    "encoding/json"
    "net/http"
    "strings"
    "sync"
    "time"

    "github.com/gorilla/websocket"
    "github.com/rs/zerolog/log"

    "github.com/petal-ejector/petal-controller/internal/models"
    "github.com/petal-ejector/petal-controller/internal/session"
)

const (
    writeWait      = 10 * time.Second
    pongWait       = 60 * time.Second
    pingPeriod     = 30 * time.Second
    maxMessageSize = 1024
    sendQueueSize  = 256
)

// Stream message types
const (
    MessageHello        = "hello"
    MessageLog          = "log"
    MessageLogCleared   = "log_cleared"
    MessageState        = "state"
    MessageNotification = "notification"
)

// StreamMessage is one frame on the live stream
type StreamMessage struct {
    Type string      `json:"type"`
    Data interface{} `json:"data,omitempty"`
}

// Hello is sent once when a stream client connects
type Hello struct {
    Session models.SessionSnapshot `json:"session"`
    Log     []models.LogEntry      `json:"log"`
}

// streamCommand is a control sent by a stream client
type streamCommand struct {
    Type string `json:"type"`
    Key  string `json:"key"`
}

type streamClient struct {
    conn *websocket.Conn
    send chan []byte
}

// Hub fans session updates out to websocket clients. A slow client loses
// frames instead of stalling the session.
type Hub struct {
    mu      sync.Mutex
    clients map[*streamClient]struct{}
    closed  bool
}

// NewHub creates an empty hub
func NewHub() *Hub {
    return &Hub{clients: make(map[*streamClient]struct{})}
}

// OnLog implements session.Observer
func (h *Hub) OnLog(entry models.LogEntry) {
    h.broadcast(StreamMessage{Type: MessageLog, Data: entry})
}

// OnLogCleared implements session.Observer
func (h *Hub) OnLogCleared() {
    h.broadcast(StreamMessage{Type: MessageLogCleared})
}

// OnState implements session.Observer
func (h *Hub) OnState(state session.State) {
    h.broadcast(StreamMessage{Type: MessageState, Data: state.Snapshot()})
}

// OnNotify implements session.Observer
func (h *Hub) OnNotify(n models.Notification) {
    h.broadcast(StreamMessage{Type: MessageNotification, Data: n})
}

// Len returns the number of connected clients
func (h *Hub) Len() int {
    h.mu.Lock()
    defer h.mu.Unlock()
    return len(h.clients)
}

// Close disconnects every client
func (h *Hub) Close() {
    h.mu.Lock()
    defer h.mu.Unlock()

    h.closed = true
    for c := range h.clients {
        close(c.send)
        delete(h.clients, c)
    }
}

func (h *Hub) broadcast(msg StreamMessage) {
    payload, err := json.Marshal(msg)
    if err != nil {
        log.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal stream message")
        return
    }

    h.mu.Lock()
    defer h.mu.Unlock()

    for c := range h.clients {
        select {
        case c.send <- payload:
        default:
            log.Warn().Str("remote", c.conn.RemoteAddr().String()).Msg("Stream client queue full, dropping message")
        }
    }
}

// attach registers a client with hello queued as its first frame. hello
// runs under the hub lock so no update can slip between it and the
// registration.
func (h *Hub) attach(conn *websocket.Conn, hello func() StreamMessage) (*streamClient, bool) {
    h.mu.Lock()
    defer h.mu.Unlock()

    if h.closed {
        return nil, false
    }

    payload, err := json.Marshal(hello())
    if err != nil {
        log.Error().Err(err).Msg("Failed to marshal stream hello")
        return nil, false
    }

    c := &streamClient{conn: conn, send: make(chan []byte, sendQueueSize)}
    c.send <- payload
    h.clients[c] = struct{}{}
    return c, true
}

func (h *Hub) detach(c *streamClient) {
    h.mu.Lock()
    defer h.mu.Unlock()

    if _, ok := h.clients[c]; ok {
        close(c.send)
        delete(h.clients, c)
    }
}

// HandleStream upgrades to a websocket carrying log entries, state
// snapshots and notifications. Clients may send {"type":"key","key":"x"}.
func (s *RESTServer) HandleStream(w http.ResponseWriter, r *http.Request) {
    upgrader := websocket.Upgrader{
        ReadBufferSize:  1024,
        WriteBufferSize: 1024,
        CheckOrigin:     s.checkOrigin,
    }

    conn, err := upgrader.Upgrade(w, r, nil)
    if err != nil {
        log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Stream upgrade failed")
        return
    }

    c, ok := s.hub.attach(conn, func() StreamMessage {
        return StreamMessage{Type: MessageHello, Data: Hello{
            Session: s.session.State().Snapshot(),
            Log:     s.session.Log().Entries(),
        }}
    })
    if !ok {
        conn.WriteMessage(websocket.CloseMessage,
            websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutdown"))
        conn.Close()
        return
    }

    log.Info().Str("remote", r.RemoteAddr).Msg("Stream client connected")

    go s.writePump(c)
    s.readPump(c)

    log.Info().Str("remote", r.RemoteAddr).Msg("Stream client disconnected")
}

func (s *RESTServer) readPump(c *streamClient) {
    defer func() {
        s.hub.detach(c)
        c.conn.Close()
    }()

    c.conn.SetReadLimit(maxMessageSize)
    c.conn.SetReadDeadline(time.Now().Add(pongWait))
    c.conn.SetPongHandler(func(string) error {
        return c.conn.SetReadDeadline(time.Now().Add(pongWait))
    })

    for {
        var cmd streamCommand
        if err := c.conn.ReadJSON(&cmd); err != nil {
            if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
                log.Debug().Err(err).Msg("Stream read failed")
            }
            return
        }

        switch cmd.Type {
        case "key":
            key := cmd.Key
            if strings.EqualFold(key, "space") {
                key = " "
            }
            s.session.Dispatch(context.Background(), session.KeyPress{Key: key})
        default:
            log.Debug().Str("type", cmd.Type).Msg("Ignoring unknown stream command")
        }
    }
}

func (s *RESTServer) writePump(c *streamClient) {
    ticker := time.NewTicker(pingPeriod)
    defer func() {
        ticker.Stop()
        c.conn.Close()
    }()

    for {
        select {
        case payload, ok := <-c.send:
            c.conn.SetWriteDeadline(time.Now().Add(writeWait))
            if !ok {
                c.conn.WriteMessage(websocket.CloseMessage,
                    websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutdown"))
                return
            }
            if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
                log.Debug().Err(err).Msg("Stream write failed")
                return
            }
        case <-ticker.C:
            if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
                return
            }
        }
    }
}

// checkOrigin applies the configured CORS origins to websocket upgrades
func (s *RESTServer) checkOrigin(r *http.Request) bool {
    origin := r.Header.Get("Origin")
    if origin == "" {
        return true
    }
    for _, allowed := range s.config.API.AllowedOrigins {
        if allowed == "*" || strings.EqualFold(allowed, origin) {
            return true
        }
    }
    return false
}
