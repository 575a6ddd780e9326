package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"
)

// session is the per-room state machine: who is in the room, whose turn
// it is, the chain of accepted guesses, and the countdown for the
// current turn. All fields are guarded by mu. The generation counter is
// bumped by every game start and teardown, so work resumed after an
// asynchronous teammate lookup can tell whether the session it captured
// is still the live one.
type session struct {
	mu sync.Mutex

	id        string
	players   []string // connection IDs in join order; slots 0 and 1 hold the turn slots
	usernames map[string]string

	started           bool
	currentTurn       int // turn slot expected to guess next
	leadoffPlayer     string
	currentPlayerName string
	candidates        map[string]string // folded name -> canonical name
	acceptedGuesses   []string
	timeLeft          int
	timer             *turnTimer

	rematchVotes map[string]struct{} // keyed by connection ID

	generation uint64
	lastActive time.Time
}

func newSession(roomID string) *session {
	return &session{
		id:           roomID,
		usernames:    make(map[string]string),
		rematchVotes: make(map[string]struct{}),
		lastActive:   time.Now(),
	}
}

func randomSlot() int {
	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return int(b[0]) % 2
}

// startSession begins a fresh game in s: votes and history are cleared,
// a leadoff player is drawn from the oracle, and the first countdown
// starts. Used both for the initial two-player start and for rematches,
// which re-register a room that a previous game-over dropped.
//
// The oracle calls happen without holding the session lock, so a
// disconnect or teardown can interleave; the captured generation is
// re-checked before any result is written back.
func (r *Registry) startSession(s *session) {
	r.mu.Lock()
	if cur, ok := r.rooms[s.id]; ok && cur != s {
		r.mu.Unlock()
		return
	}
	r.rooms[s.id] = s
	r.mu.Unlock()

	s.mu.Lock()
	s.lastActive = time.Now()
	s.rematchVotes = make(map[string]struct{})
	if s.timer != nil {
		s.timer.cancel()
		s.timer = nil
	}
	s.started = false
	s.acceptedGuesses = nil
	s.candidates = nil
	s.timeLeft = r.cfg.turnSeconds
	s.currentTurn = randomSlot()
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	leadoff, err := r.oracle.RandomStartingPlayer(ctx)
	if err != nil {
		logf(r.cfg, "ORACLE: Starting player lookup failed: %v", err)
		leadoff = ""
	}

	var mates []string
	if leadoff != "" {
		mates, err = r.oracle.Teammates(ctx, leadoff)
		if err != nil {
			logf(r.cfg, "ORACLE: Teammate lookup for %q failed: %v", leadoff, err)
			mates = nil
		}
	}

	if leadoff == "" || len(mates) == 0 {
		s.mu.Lock()
		stale := s.generation != gen
		s.mu.Unlock()
		if stale {
			return
		}

		text := "No starting player available. Game cannot proceed."
		if leadoff != "" {
			text = fmt.Sprintf("No teammates found for %s. Game cannot proceed.", leadoff)
		}
		r.notify.broadcast(s.id, GameOverMessage{
			Type:    "game_over",
			Message: text,
		})
		r.destroy(s)
		return
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.leadoffPlayer = leadoff
	s.currentPlayerName = leadoff
	s.candidates = candidateSet(mates)
	first := s.players[s.currentTurn]
	timeLeft := s.timeLeft
	t := newTurnTimer()
	s.timer = t
	s.mu.Unlock()

	logf(r.cfg, "GAME: %s started with leadoff %q (%d candidates)", s.id, leadoff, len(mates))

	r.notify.broadcast(s.id, GameStartedMessage{
		Type:              "game_started",
		FirstPlayerID:     first,
		CurrentPlayerName: leadoff,
		TimeLeft:          timeLeft,
	})

	go r.runTimer(s, t)
}

// Guess processes one guess for a room. Rejections go back privately to
// the guessing connection and leave the session untouched. The sender is
// not checked against the expected turn slot: within a two-player room,
// any member's accepted guess advances whichever slot is up.
func (r *Registry) Guess(roomID, connID, raw string) {
	s := r.lookup(roomID)
	if s == nil {
		return
	}

	s.mu.Lock()
	s.lastActive = time.Now()

	verdict := validateGuess(raw, s.started, s.leadoffPlayer, s.acceptedGuesses, s.candidates)
	if verdict != guessAccepted {
		leadoff := s.leadoffPlayer
		s.mu.Unlock()

		var text string
		switch verdict {
		case guessNotStarted:
			text = "Game hasn't started properly yet."
		case guessLeadoff:
			text = fmt.Sprintf("You can't guess the starting player: %q", leadoff)
		case guessDuplicate:
			text = fmt.Sprintf("%q has already been guessed.", strings.TrimSpace(raw))
		default:
			text = fmt.Sprintf("Incorrect guess: %q", strings.TrimSpace(raw))
		}

		r.notify.sendTo(roomID, connID, TextMessage{
			Type:    "message",
			Message: text,
		})
		return
	}

	// Cancel the countdown before any other mutation, so a tick racing
	// this guess finds a stale handle and backs off.
	if s.timer != nil {
		s.timer.cancel()
		s.timer = nil
	}

	guess := s.candidates[foldName(raw)]
	s.acceptedGuesses = append(s.acceptedGuesses, guess)
	s.currentTurn = (s.currentTurn + 1) % 2
	s.currentPlayerName = guess
	s.timeLeft = r.cfg.turnSeconds
	guesser := s.usernames[connID]
	gen := s.generation
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	mates, err := r.oracle.Teammates(ctx, guess)
	if err != nil {
		logf(r.cfg, "ORACLE: Teammate lookup for %q failed: %v", guess, err)
		mates = nil
	}

	s.mu.Lock()
	if s.generation != gen {
		// The room was torn down or restarted mid-lookup; discard.
		s.mu.Unlock()
		return
	}
	s.candidates = candidateSet(mates)
	next := s.players[s.currentTurn]
	timeLeft := s.timeLeft
	t := newTurnTimer()
	s.timer = t
	s.mu.Unlock()

	logf(r.cfg, "GAME: %q accepted in %s, %d candidates for %q", guess, roomID, len(mates), guess)

	r.notify.broadcast(roomID, TurnEndedMessage{
		Type:              "turn_ended",
		SuccessfulGuess:   fmt.Sprintf("%s guessed %q successfully!", guesser, guess),
		NextPlayerID:      next,
		CurrentPlayerName: guess,
		TimeLeft:          timeLeft,
	})

	go r.runTimer(s, t)
}

// VoteRematch records one connection's consent to restart. Votes are
// routed through the reverse index rather than the active-room map, so
// players can still vote after a game-over has dropped the room from
// active play. Once every current member has consented, a fresh game
// starts (which clears the votes).
func (r *Registry) VoteRematch(roomID, connID string) {
	r.mu.Lock()
	s := r.byConn[connID]
	r.mu.Unlock()

	if s == nil || s.id != roomID {
		return
	}

	s.mu.Lock()
	username, member := s.usernames[connID]
	if !member {
		s.mu.Unlock()
		return
	}
	s.lastActive = time.Now()
	s.rematchVotes[connID] = struct{}{}

	all := len(s.players) >= 2
	for _, id := range s.players {
		if _, voted := s.rematchVotes[id]; !voted {
			all = false
			break
		}
	}
	s.mu.Unlock()

	r.notify.sendToOthers(roomID, connID, RematchRequestedMessage{
		Type:     "rematch_requested",
		Username: username,
	})

	if all {
		logf(r.cfg, "GAME: All players agreed to a rematch in %s", roomID)
		r.startSession(s)
	}
}

// runTimer drives one turn's countdown. Each tick re-checks that t is
// still the session's authoritative timer, so a tick already in flight
// when the timer was cancelled fires once and then backs off. Reaching
// zero ends the game against the player whose turn it was.
func (r *Registry) runTimer(s *session, t *turnTimer) {
	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.timer != t {
				s.mu.Unlock()
				return
			}

			s.timeLeft--
			if s.timeLeft > 0 {
				timeLeft := s.timeLeft
				s.mu.Unlock()
				r.notify.broadcast(s.id, TimerTickMessage{
					Type:     "timer_tick",
					TimeLeft: timeLeft,
				})
				continue
			}

			s.timer = nil
			loser := s.usernames[s.players[s.currentTurn]]
			winner := s.usernames[s.players[(s.currentTurn+1)%2]]
			s.mu.Unlock()

			logf(r.cfg, "GAME: %s ended, %q ran out of time", s.id, loser)

			r.notify.broadcast(s.id, GameOverMessage{
				Type:    "game_over",
				Message: fmt.Sprintf("Time's up! %s failed to name a teammate. %s wins!", loser, winner),
			})
			r.destroy(s)
			return
		}
	}
}
