// Package notify pushes overlay changes to browser clients over websockets.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lewtec/rotulador-bbox/annotation"
	"github.com/lewtec/rotulador-bbox/internal/domain"
)

// Event types sent to clients
const (
	EventBuild   = "build"
	EventUpdate  = "update"
	EventVisible = "visible"
	EventRelease = "release"
)

// Event is the JSON message describing an overlay change
type Event struct {
	Type         string               `json:"type"`
	Handle       annotation.Handle    `json:"handle"`
	Visible      *bool                `json:"visible,omitempty"`
	ReviewStatus *domain.ReviewStatus `json:"review_status,omitempty"`
	Editing      bool                 `json:"editing,omitempty"`
	Dirty        bool                 `json:"dirty,omitempty"`
	Boxes        []Box                `json:"boxes,omitempty"`
	Selected     []int                `json:"selected,omitempty"`
}

// Box is an active box in normalized [x0, y0, x1, y1] form
type Box struct {
	ID   int        `json:"id"`
	Rect [4]float64 `json:"rect"`
}

const (
	writeWait = 10 * time.Second
	// DefaultPongWait is how long a client may stay silent, pings are sent
	// at nine tenths of it
	DefaultPongWait = 60 * time.Second
)

var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans overlay events out to every connected client. It implements
// annotation.Presenter and never blocks the caller: events are dropped
// when the queue is full.
type Hub struct {
	// PongWait is the read deadline of a client, renewed by every pong.
	// Set it before serving.
	PongWait time.Duration

	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		PongWait:   DefaultPongWait,
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run delivers events until ctx is cancelled, then closes every client
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("client connected", "total", total)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("client disconnected", "total", total)

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					h.logger.Error("error sending message", "err", err)
					delete(h.clients, client)
					client.Close()
				}
			}
			h.mutex.Unlock()
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Publish queues an event for every client
func (h *Hub) Publish(ev Event) {
	message, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("error encoding event", "err", err)
		return
	}
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("event queue full, dropping event", "type", ev.Type, "image_id", ev.Handle.ImageID)
	}
}

// ServeHTTP upgrades the request and keeps the client registered until it
// disconnects or stops answering pings
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	connection, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade error", "err", err)
		return
	}
	pongWait := h.PongWait
	if pongWait <= 0 {
		pongWait = DefaultPongWait
	}
	connection.SetReadLimit(512)
	connection.SetReadDeadline(time.Now().Add(pongWait))
	connection.SetPongHandler(func(appData string) error {
		connection.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	select {
	case h.register <- connection:
	case <-h.done:
		connection.Close()
		return
	}
	defer func() {
		select {
		case h.unregister <- connection:
		case <-h.done:
		}
	}()

	stop := make(chan struct{})
	defer close(stop)
	go h.ping(connection, pongWait*9/10, stop)

	for {
		if _, _, err := connection.ReadMessage(); err != nil {
			h.logger.Debug("viewer disconnected", "err", err)
			return
		}
	}
}

// ping keeps the client read deadline alive. WriteControl may run
// concurrently with the broadcast writes of Run.
func (h *Hub) ping(connection *websocket.Conn, period time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := connection.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.logger.Debug("ping failed", "err", err)
				return
			}
		}
	}
}

func recordEvent(typ string, handle annotation.Handle, rec *domain.ImageRecord) Event {
	status := rec.ReviewStatus
	ev := Event{
		Type:         typ,
		Handle:       handle,
		ReviewStatus: &status,
		Editing:      rec.Editing,
		Dirty:        rec.Dirty,
	}
	for _, b := range rec.ActiveBoxes() {
		ev.Boxes = append(ev.Boxes, Box{ID: b.ID, Rect: [4]float64{b.Rect.X0, b.Rect.Y0, b.Rect.X1, b.Rect.Y1}})
	}
	return ev
}

func (h *Hub) BuildOverlay(handle annotation.Handle, rec *domain.ImageRecord) {
	h.Publish(recordEvent(EventBuild, handle, rec))
}

func (h *Hub) UpdateOverlay(handle annotation.Handle, rec *domain.ImageRecord, selected []int) {
	ev := recordEvent(EventUpdate, handle, rec)
	ev.Selected = selected
	h.Publish(ev)
}

func (h *Hub) SetOverlayVisible(handle annotation.Handle, visible bool) {
	h.Publish(Event{Type: EventVisible, Handle: handle, Visible: &visible})
}

func (h *Hub) ReleaseOverlay(handle annotation.Handle) {
	h.Publish(Event{Type: EventRelease, Handle: handle})
}

var _ annotation.Presenter = (*Hub)(nil)
