package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/home-monitor/video-svr/internal/processor"
)

const (
	feedWriteTimeout = 10 * time.Second
	feedPongWait     = 60 * time.Second
	feedPingInterval = 50 * time.Second
	feedClientBuffer = 64
)

// Feed broadcasts pass events to websocket clients. Clients that cannot keep
// up are disconnected.
type Feed struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*feedClient]struct{}
	closed  bool
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func NewFeed(logger *zap.Logger) *Feed {
	return &Feed{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// CORS is enforced by the HTTP middleware
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*feedClient]struct{}),
	}
}

// OnPassEvent implements processor.Observer.
func (f *Feed) OnPassEvent(ev processor.PassEvent) {
	msg, err := json.Marshal(ev)
	if err != nil {
		f.logger.Warn("Failed to encode pass event", zap.Error(err))
		return
	}

	f.mu.RLock()
	var slow []*feedClient
	for c := range f.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	f.mu.RUnlock()

	for _, c := range slow {
		f.logger.Debug("Dropping slow feed client", zap.String("remote", c.conn.RemoteAddr().String()))
		f.remove(c)
	}
}

// ServeWS upgrades the request and streams pass events until the client goes away.
func (f *Feed) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}

	c := &feedClient{
		conn: conn,
		send: make(chan []byte, feedClientBuffer),
		done: make(chan struct{}),
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}
	f.clients[c] = struct{}{}
	f.mu.Unlock()

	f.logger.Debug("Feed client connected", zap.String("remote", conn.RemoteAddr().String()))

	go f.writeLoop(c)
	f.readLoop(c)
}

// Clients returns the number of connected clients.
func (f *Feed) Clients() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// Close disconnects every client and rejects new ones.
func (f *Feed) Close() {
	f.mu.Lock()
	f.closed = true
	clients := make([]*feedClient, 0, len(f.clients))
	for c := range f.clients {
		clients = append(clients, c)
	}
	f.mu.Unlock()

	for _, c := range clients {
		f.remove(c)
	}
}

func (f *Feed) remove(c *feedClient) {
	f.mu.Lock()
	delete(f.clients, c)
	f.mu.Unlock()
	c.once.Do(func() { close(c.done) })
}

// readLoop only services control frames; clients do not send data.
func (f *Feed) readLoop(c *feedClient) {
	defer f.remove(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *Feed) writeLoop(c *feedClient) {
	ticker := time.NewTicker(feedPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				f.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				f.remove(c)
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
