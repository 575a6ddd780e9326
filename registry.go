package main

import (
	"crypto/rand"
	"sync"
	"time"
)

// Registry owns every room in the process. It routes inbound player
// actions to sessions, creates rooms on first join, and tears them down
// when a terminal condition empties them. Rooms never share mutable
// state, so the registry lock only guards the two maps; each session
// serializes its own mutations.
//
// Lock order: registry before session, never the reverse.
type Registry struct {
	mu     sync.Mutex
	rooms  map[string]*session // rooms with an active (or starting) game
	byConn map[string]*session // reverse index, connection ID to room membership

	cfg    *Config
	oracle TeammateOracle
	notify notifier

	tickInterval time.Duration
}

func newRegistry(cfg *Config, oracle TeammateOracle, notify notifier) *Registry {
	r := &Registry{
		rooms:        make(map[string]*session),
		byConn:       make(map[string]*session),
		cfg:          cfg,
		oracle:       oracle,
		notify:       notify,
		tickInterval: time.Second,
	}
	if cfg.sessionTimeout > 0 {
		go r.reaperLoop()
	}
	return r
}

// Join admits a connection into a room, creating the session on first
// join. Re-joining with the same connection ID is a no-op. Once the
// second player arrives, the game starts.
func (r *Registry) Join(roomID, connID, username string) {
	r.mu.Lock()
	s, ok := r.rooms[roomID]
	if !ok {
		s = newSession(roomID)
		r.rooms[roomID] = s
	}
	r.byConn[connID] = s
	r.mu.Unlock()

	s.mu.Lock()
	s.lastActive = time.Now()
	joined := false
	if _, present := s.usernames[connID]; !present {
		s.players = append(s.players, connID)
		s.usernames[connID] = username
		joined = true
	}
	count := len(s.players)
	s.mu.Unlock()

	if joined {
		logf(r.cfg, "GAME: Player %q joined %s", username, roomID)
	}

	r.notify.broadcast(roomID, PlayersUpdateMessage{
		Type:  "players_update",
		Count: count,
	})

	if joined && count == 2 {
		r.startSession(s)
	}
}

// Remove handles a dropped connection. The reverse index resolves the
// room directly, so no scan over rooms is needed. If the departure
// leaves fewer than two players, the game ends and the room is torn down.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	s, ok := r.byConn[connID]
	delete(r.byConn, connID)
	r.mu.Unlock()

	if !ok {
		return
	}

	s.mu.Lock()
	username, member := s.usernames[connID]
	if !member {
		s.mu.Unlock()
		return
	}

	dst := s.players[:0]
	for _, id := range s.players {
		if id != connID {
			dst = append(dst, id)
		}
	}
	s.players = dst
	delete(s.usernames, connID)
	delete(s.rematchVotes, connID)

	if s.timer != nil {
		s.timer.cancel()
		s.timer = nil
	}

	count := len(s.players)
	s.mu.Unlock()

	logf(r.cfg, "GAME: Player %q left %s", username, s.id)

	r.notify.broadcast(s.id, PlayersUpdateMessage{
		Type:  "players_update",
		Count: count,
	})

	if count >= 2 {
		return
	}

	r.mu.Lock()
	registered := r.rooms[s.id] == s
	r.mu.Unlock()

	if registered {
		r.notify.broadcast(s.id, GameOverMessage{
			Type:    "game_over",
			Message: "Not enough players. Game ended.",
		})
	}

	r.destroy(s)
}

// lookup resolves a room-scoped action to its active session. A nil
// return means the room was never created or was just torn down; the
// caller drops the action silently.
func (r *Registry) lookup(roomID string) *session {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.rooms[roomID]
}

// destroy ends a session's game and drops it from active play. Every
// removal bumps the generation first, so any handler resumed after an
// oracle lookup sees a stale epoch and discards its result.
func (r *Registry) destroy(s *session) {
	s.mu.Lock()
	s.generation++
	s.started = false
	if s.timer != nil {
		s.timer.cancel()
		s.timer = nil
	}
	s.candidates = nil
	s.mu.Unlock()

	r.mu.Lock()
	if r.rooms[s.id] == s {
		delete(r.rooms, s.id)
	}
	r.mu.Unlock()
}

// newRoomID generates a crypto-random room ID and ensures it doesn't
// collide with existing rooms.
func (r *Registry) newRoomID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		r.mu.Lock()
		_, exists := r.rooms[id]
		r.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// reaperLoop periodically tears down rooms that have been idle longer
// than the configured session timeout.
func (r *Registry) reaperLoop() {
	ticker := time.NewTicker(r.cfg.sessionTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-r.cfg.sessionTimeout)

		var stale []*session

		r.mu.Lock()
		for _, s := range r.rooms {
			s.mu.Lock()
			if s.lastActive.Before(cutoff) {
				stale = append(stale, s)
			}
			s.mu.Unlock()
		}
		r.mu.Unlock()

		for _, s := range stale {
			logf(r.cfg, "GAME: Reaped idle room %s", s.id)
			r.destroy(s)
			r.notify.closeRoom(s.id)
		}
	}
}
