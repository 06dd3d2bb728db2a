// Package websocket pushes stored alerts to clinicians watching a clinic or
// individual patients. Subscriptions never cross clinics: every topic is
// scoped to the tenant the connection was opened under.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ckdcare/ckd/internal/platform/db"
	"github.com/ckdcare/ckd/internal/platform/notification"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxMessage = 4096
)

// Frame is what a connected client receives for each alert.
type Frame struct {
	Type  string                  `json:"type"`
	Alert notification.AlertEvent `json:"alert"`
}

// ClientMessage changes the patients a connection follows.
type ClientMessage struct {
	Action   string   `json:"action"`
	Patients []string `json:"patients"`
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one connection. A client with no patient topics follows the
// whole clinic.
type Client struct {
	ID       string
	TenantID string
	Send     chan []byte

	patients []string
}

func NewClient(tenantID string, patients ...string) *Client {
	return &Client{
		ID:       uuid.New().String(),
		TenantID: tenantID,
		Send:     make(chan []byte, sendBuffer),
		patients: patients,
	}
}

func (c *Client) topics() []string {
	if len(c.patients) == 0 {
		return []string{clinicTopic(c.TenantID)}
	}
	out := make([]string, len(c.patients))
	for i, p := range c.patients {
		out[i] = patientTopic(c.TenantID, p)
	}
	return out
}

func clinicTopic(tenantID string) string { return tenantID + "/*" }

func patientTopic(tenantID, patientID string) string { return tenantID + "/" + patientID }

// Hub tracks clients by topic. It implements notification.Publisher so the
// ingestion pipeline can fan alerts out to it next to the Redis stream.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	all     map[*Client]struct{}
	dropped int
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger.With().Str("component", "alert-hub").Logger(),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	h.addLocked(client, client.topics())
}

// Unregister drops the client and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	h.removeLocked(client, client.topics())
	delete(h.all, client)
	close(client.Send)
}

// Subscribe narrows or extends the patients a client follows. Ids that are
// not UUIDs are ignored.
func (h *Hub) Subscribe(client *Client, patients []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	h.removeLocked(client, client.topics())
	for _, p := range validPatients(patients) {
		if !slices.Contains(client.patients, p) {
			client.patients = append(client.patients, p)
		}
	}
	h.addLocked(client, client.topics())
}

// Unsubscribe stops following the given patients. Removing the last one
// puts the client back on the clinic-wide feed.
func (h *Hub) Unsubscribe(client *Client, patients []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	h.removeLocked(client, client.topics())
	client.patients = slices.DeleteFunc(client.patients, func(p string) bool {
		return slices.Contains(patients, p)
	})
	h.addLocked(client, client.topics())
}

func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, msg.Patients)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Patients)
	}
}

func (h *Hub) addLocked(client *Client, topics []string) {
	for _, topic := range topics {
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		h.clients[topic][client] = struct{}{}
	}
}

func (h *Hub) removeLocked(client *Client, topics []string) {
	for _, topic := range topics {
		if subscribers, ok := h.clients[topic]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.clients, topic)
			}
		}
	}
}

// Publish delivers ev to the clinic feed and to followers of the patient.
// Slow clients miss frames rather than block ingestion.
func (h *Hub) Publish(_ context.Context, ev notification.AlertEvent) error {
	data, err := json.Marshal(Frame{Type: "alert", Alert: ev})
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, topic := range []string{clinicTopic(ev.TenantID), patientTopic(ev.TenantID, ev.PatientID)} {
		for client := range h.clients[topic] {
			select {
			case client.Send <- data:
			default:
				h.dropped++
				h.logger.Warn().Str("client_id", client.ID).Str("alert_id", ev.AlertID).Msg("client buffer full, frame dropped")
			}
		}
	}
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.all {
		close(client.Send)
	}
	h.all = make(map[*Client]struct{})
	h.clients = make(map[string]map[*Client]struct{})
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

func (h *Hub) Dropped() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

func validPatients(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			out = append(out, id)
		}
	}
	return out
}

// Handler upgrades GET /alerts/live to a WebSocket bound to the caller's
// clinic.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewHandler accepts upgrades only from the given browser origins. Requests
// without an Origin header (non-browser clients) are always accepted.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || slices.Contains(allowedOrigins, origin) || slices.Contains(allowedOrigins, "*")
			},
		},
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group, mw ...echo.MiddlewareFunc) {
	g.GET("/alerts/live", h.Connect, mw...)
}

// Connect subscribes to the patients named by repeated ?patient_id= params,
// or to the whole clinic when none are given.
func (h *Handler) Connect(c echo.Context) error {
	tenantID := db.TenantFromContext(c.Request().Context())
	if tenantID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "clinic could not be resolved")
	}
	requested := c.QueryParams()["patient_id"]
	patients := validPatients(requested)
	if len(patients) != len(requested) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the error response.
		return nil
	}

	ws.SetReadLimit(maxMessage)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	client := NewClient(tenantID, patients...)
	h.hub.Register(client)

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

func (h *Handler) readPump(client *Client, conn Conn) {
	defer func() {
		h.hub.Unregister(client)
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		h.hub.ProcessMessage(client, msg)
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
