package main

import (
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type wsClient struct {
	conn *websocket.Conn
	send chan any
	id   string
}

// wsHub fans room-scoped messages out to connected sockets. It tracks
// membership per room so the game core never touches a socket directly.
// Clients whose send buffer is full are dropped; their write pump then
// closes the connection and the read pump reports the disconnect.
type wsHub struct {
	mu    sync.Mutex
	rooms map[string]map[string]*wsClient
}

func newWSHub() *wsHub {
	return &wsHub{
		rooms: make(map[string]map[string]*wsClient),
	}
}

func (h *wsHub) add(roomID string, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.rooms[roomID]
	if !ok {
		clients = make(map[string]*wsClient)
		h.rooms[roomID] = clients
	}
	clients[c.id] = c
}

func (h *wsHub) remove(roomID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.rooms[roomID]
	if c, ok := clients[connID]; ok {
		delete(clients, connID)
		close(c.send)
	}
	if len(clients) == 0 {
		delete(h.rooms, roomID)
	}
}

// deliverLocked assumes h.mu is already held.
func (h *wsHub) deliverLocked(roomID string, c *wsClient, msg any) {
	select {
	case c.send <- msg:
	default:
		delete(h.rooms[roomID], c.id)
		close(c.send)
	}
}

func (h *wsHub) broadcast(roomID string, msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.rooms[roomID] {
		h.deliverLocked(roomID, c, msg)
	}
}

func (h *wsHub) sendTo(roomID, connID string, msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.rooms[roomID][connID]; ok {
		h.deliverLocked(roomID, c, msg)
	}
}

func (h *wsHub) sendToOthers(roomID, connID string, msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, c := range h.rooms[roomID] {
		if id == connID {
			continue
		}
		h.deliverLocked(roomID, c, msg)
	}
}

// closeRoom disconnects every socket in a room (used by the reaper).
func (h *wsHub) closeRoom(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.rooms[roomID] {
		close(c.send)
		_ = c.conn.Close()
	}
	delete(h.rooms, roomID)
}

func (c *wsClient) readPump(roomID string, reg *Registry, hub *wsHub) {
	defer func() {
		hub.remove(roomID, c.id)
		reg.Remove(c.id)
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "join":
			if msg.Username == "" {
				continue
			}
			reg.Join(roomID, c.id, msg.Username)
		case "guess":
			reg.Guess(roomID, c.id, msg.Guess)
		case "rematch":
			reg.VoteRematch(roomID, c.id)
		default:
			// ignore unknown types
		}
	}
}

func (c *wsClient) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// serveWS upgrades a connection and attaches it to the room named in
// the path. Each socket gets a fresh connection ID; the game only ever
// sees that ID.
func serveWS(reg *Registry, hub *wsHub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")
		if roomID == "" {
			http.Error(w, "missing room id", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &wsClient{
			conn: conn,
			send: make(chan any, 8),
			id:   uuid.New().String(),
		}

		hub.add(roomID, client)

		go client.writePump()
		client.readPump(roomID, reg, hub)
	}
}

// redirectNewRoom handles GET /path by generating a new random room ID
// (with server-side collision detection) and redirecting to /path/:roomid.
func redirectNewRoom(cfg *Config, path string, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		roomID := reg.newRoomID()
		logf(cfg, "GAME: Created room %s/%s", path, roomID)
		http.Redirect(w, r, path+"/"+roomID, http.StatusTemporaryRedirect)
	}
}

// qrHandler generates a PNG QR code for the current room URL, so the
// second player can be invited by pointing a phone at the first one's
// screen.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	roomID := ps.ByName("roomid")
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:roomid/qr; strip trailing "/qr" to get the room URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// registerTeammateGame sets up routes so that:
//   - $path                 → redirects to a new random room (8-char ID)
//   - $path/:roomid/ws      → WebSocket for that room
//   - $path/:roomid/qr      → PNG QR code for that room URL
func registerTeammateGame(cfg *Config, path string, mux *httprouter.Router, reg *Registry, hub *wsHub) {
	mux.GET(cfg.prefix+path, redirectNewRoom(cfg, path, reg))

	mux.GET(cfg.prefix+path+"/:roomid/ws", serveWS(reg, hub))

	mux.GET(cfg.prefix+path+"/:roomid/qr", qrHandler)
}
