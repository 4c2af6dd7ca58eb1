// Package realtime доставляет уведомления пользователям через websocket.
package realtime

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

// FrameNotification: тип кадра с уведомлением.
const FrameNotification = "notification"

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

var (
	connectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "campusmarket_realtime_connections",
		Help: "Number of open websocket connections",
	})
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campusmarket_realtime_frames_total",
		Help: "Notification frames by delivery outcome",
	}, []string{"outcome"})
)

// Frame: сообщение, отправляемое клиенту.
type Frame struct {
	Type    string `json:"type"`
	Room    string `json:"room"`
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// RoomForUser возвращает имя комнаты пользователя.
func RoomForUser(userID string) string {
	return "user:" + userID
}

// Hub держит открытые соединения, сгруппированные по комнатам.
// Доставка at-most-once: переполненный буфер клиента означает потерю кадра.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*client]struct{}
	closed   bool
	upgrader websocket.Upgrader
	logger   *log.Entry
}

// Option настраивает Hub.
type Option func(*Hub)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithCheckOrigin задаёт проверку Origin при upgrade.
func WithCheckOrigin(check func(r *http.Request) bool) Option {
	return func(h *Hub) {
		if check != nil {
			h.upgrader.CheckOrigin = check
		}
	}
}

// NewHub создаёт пустой Hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		rooms: make(map[string]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: log.WithField("component", "realtime-hub"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish отправляет уведомление во все соединения пользователя.
func (h *Hub) Publish(userID, eventType string, payload any) {
	if userID == "" {
		return
	}
	room := RoomForUser(userID)
	frame := Frame{Type: FrameNotification, Room: room, Event: eventType, Payload: payload}

	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := h.rooms[room]
	if len(clients) == 0 {
		framesTotal.WithLabelValues("no_subscribers").Inc()
		return
	}
	for c := range clients {
		select {
		case c.send <- frame:
			framesTotal.WithLabelValues("queued").Inc()
		default:
			framesTotal.WithLabelValues("dropped").Inc()
			h.logger.WithFields(log.Fields{
				"user_id":    userID,
				"event_type": eventType,
			}).Warn("client send buffer is full, frame dropped")
		}
	}
}

// ServeWS переводит запрос в websocket и подписывает соединение на комнату пользователя.
// userID должен быть уже аутентифицирован вызывающим кодом.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &client{
		hub:    h,
		conn:   conn,
		room:   RoomForUser(userID),
		userID: userID,
		send:   make(chan Frame, sendBufferSize),
	}
	if !h.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		return conn.Close()
	}

	go c.writePump()
	go c.readPump()
	return nil
}

// Subscribers возвращает число соединений пользователя.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[RoomForUser(userID)])
}

// Close закрывает все соединения и запрещает новые.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for room, clients := range h.rooms {
		for c := range clients {
			close(c.send)
			connectionsGauge.Dec()
		}
		delete(h.rooms, room)
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	clients, ok := h.rooms[c.room]
	if !ok {
		clients = make(map[*client]struct{})
		h.rooms[c.room] = clients
	}
	clients[c] = struct{}{}
	connectionsGauge.Inc()

	h.logger.WithField("user_id", c.userID).Debug("websocket client connected")
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.rooms[c.room]
	if !ok {
		return
	}
	if _, ok := clients[c]; !ok {
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.rooms, c.room)
	}
	close(c.send)
	connectionsGauge.Dec()

	h.logger.WithField("user_id", c.userID).Debug("websocket client disconnected")
}

var _ domain.Notifier = (*Hub)(nil)
