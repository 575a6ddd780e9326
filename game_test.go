package main

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOracle struct {
	mu       sync.Mutex
	starting string
	mates    map[string][]string
	startErr error
	matesErr error

	// When blockOn is set, lookups for that name signal entered and then
	// wait for unblock, simulating a slow database mid-turn.
	blockOn string
	entered chan struct{}
	unblock chan struct{}
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		starting: "Player A",
		mates: map[string][]string{
			"Player A": {"Player B", "Player C"},
			"Player B": {"Player A", "Player C"},
			"Player C": {"Player A", "Player B"},
		},
	}
}

func (o *fakeOracle) Teammates(_ context.Context, name string) ([]string, error) {
	o.mu.Lock()
	blockOn, entered, unblock := o.blockOn, o.entered, o.unblock
	mates := append([]string(nil), o.mates[name]...)
	err := o.matesErr
	o.mu.Unlock()

	if name == blockOn && unblock != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-unblock
	}

	if err != nil {
		return nil, err
	}
	return mates, nil
}

func (o *fakeOracle) RandomStartingPlayer(_ context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.starting, o.startErr
}

type sentEvent struct {
	op     string // "broadcast", "sendTo", "sendToOthers", "closeRoom"
	roomID string
	connID string
	msg    any
}

type recorder struct {
	mu     sync.Mutex
	events []sentEvent
}

func (n *recorder) record(op, roomID, connID string, msg any) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.events = append(n.events, sentEvent{op: op, roomID: roomID, connID: connID, msg: msg})
}

func (n *recorder) broadcast(roomID string, msg any) { n.record("broadcast", roomID, "", msg) }

func (n *recorder) sendTo(roomID, connID string, msg any) { n.record("sendTo", roomID, connID, msg) }

func (n *recorder) sendToOthers(roomID, connID string, msg any) {
	n.record("sendToOthers", roomID, connID, msg)
}

func (n *recorder) closeRoom(roomID string) { n.record("closeRoom", roomID, "", nil) }

func (n *recorder) snapshot() []sentEvent {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]sentEvent(nil), n.events...)
}

func messagesOf[T any](n *recorder, op string) []T {
	var out []T
	for _, e := range n.snapshot() {
		if e.op != op {
			continue
		}
		if msg, ok := e.msg.(T); ok {
			out = append(out, msg)
		}
	}
	return out
}

func newTestRegistry(oracle *fakeOracle) (*Registry, *recorder) {
	rec := &recorder{}
	cfg := &Config{turnSeconds: 15}
	return newRegistry(cfg, oracle, rec), rec
}

func fillRoom(reg *Registry, roomID string) *session {
	reg.Join(roomID, "c1", "alice")
	reg.Join(roomID, "c2", "bob")
	return reg.lookup(roomID)
}

func timerCancelled(tm *turnTimer) bool {
	select {
	case <-tm.stop:
		return true
	default:
		return false
	}
}

func TestTwoPlayersStartGame(t *testing.T) {
	t.Parallel()

	reg, rec := newTestRegistry(newFakeOracle())
	s := fillRoom(reg, "R1")
	require.NotNil(t, s)

	counts := messagesOf[PlayersUpdateMessage](rec, "broadcast")
	require.Len(t, counts, 2)
	assert.Equal(t, 1, counts[0].Count)
	assert.Equal(t, 2, counts[1].Count)

	started := messagesOf[GameStartedMessage](rec, "broadcast")
	require.Len(t, started, 1)
	assert.Equal(t, "Player A", started[0].CurrentPlayerName)
	assert.Equal(t, 15, started[0].TimeLeft)

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.True(t, s.started)
	assert.Equal(t, "Player A", s.leadoffPlayer)
	assert.Equal(t, s.players[s.currentTurn], started[0].FirstPlayerID)
	assert.NotNil(t, s.timer)
	assert.Empty(t, s.rematchVotes)
}

func TestAcceptedGuessAdvancesTurn(t *testing.T) {
	t.Parallel()

	reg, rec := newTestRegistry(newFakeOracle())
	s := fillRoom(reg, "R1")
	require.NotNil(t, s)

	s.mu.Lock()
	firstSlot := s.currentTurn
	firstTimer := s.timer
	s.mu.Unlock()

	reg.Guess("R1", "c1", "  player b ")

	ended := messagesOf[TurnEndedMessage](rec, "broadcast")
	require.Len(t, ended, 1)
	assert.Contains(t, ended[0].SuccessfulGuess, "alice")
	assert.Contains(t, ended[0].SuccessfulGuess, `"Player B"`)
	assert.Equal(t, "Player B", ended[0].CurrentPlayerName)
	assert.Equal(t, 15, ended[0].TimeLeft)

	s.mu.Lock()
	assert.Equal(t, []string{"Player B"}, s.acceptedGuesses)
	assert.Equal(t, (firstSlot+1)%2, s.currentTurn)
	assert.Equal(t, s.players[s.currentTurn], ended[0].NextPlayerID)
	assert.Equal(t, 15, s.timeLeft)
	secondTimer := s.timer
	s.mu.Unlock()

	require.NotNil(t, secondTimer)
	assert.NotSame(t, firstTimer, secondTimer)
	assert.True(t, timerCancelled(firstTimer))
	assert.False(t, timerCancelled(secondTimer))
}

func TestDuplicateGuessRejectedPrivately(t *testing.T) {
	t.Parallel()

	reg, rec := newTestRegistry(newFakeOracle())
	s := fillRoom(reg, "R1")
	require.NotNil(t, s)

	reg.Guess("R1", "c1", "Player B")
	reg.Guess("R1", "c2", "PLAYER B")

	private := messagesOf[TextMessage](rec, "sendTo")
	require.Len(t, private, 1)
	assert.Contains(t, private[0].Message, "already been guessed")

	ended := messagesOf[TurnEndedMessage](rec, "broadcast")
	assert.Len(t, ended, 1)

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, []string{"Player B"}, s.acceptedGuesses)
}

func TestLeadoffNeverGuessable(t *testing.T) {
	t.Parallel()

	reg, rec := newTestRegistry(newFakeOracle())
	require.NotNil(t, fillRoom(reg, "R1"))

	// After "Player B" is accepted, its candidate set contains the
	// leadoff "Player A" again. Guessing it must still fail.
	reg.Guess("R1", "c1", "Player B")
	reg.Guess("R1", "c2", "Player A")

	private := messagesOf[TextMessage](rec, "sendTo")
	require.Len(t, private, 1)
	assert.Contains(t, private[0].Message, "starting player")

	assert.Len(t, messagesOf[TurnEndedMessage](rec, "broadcast"), 1)
}

func TestGuessBeforeStart(t *testing.T) {
	t.Parallel()

	reg, rec := newTestRegistry(newFakeOracle())
	reg.Join("R1", "c1", "alice")

	reg.Guess("R1", "c1", "Player B")

	private := messagesOf[TextMessage](rec, "sendTo")
	require.Len(t, private, 1)
	assert.Contains(t, private[0].Message, "hasn't started")
}

func TestGuessForUnknownRoomDropped(t *testing.T) {
	t.Parallel()

	reg, rec := newTestRegistry(newFakeOracle())

	reg.Guess("nope", "c1", "Player B")
	reg.VoteRematch("nope", "c1")

	assert.Empty(t, rec.snapshot())
}

func TestTurnAttributionAlternatesBySlot(t *testing.T) {
	t.Parallel()

	reg, rec := newTestRegistry(newFakeOracle())
	s := fillRoom(reg, "R1")
	require.NotNil(t, s)

	s.mu.Lock()
	firstSlot := s.currentTurn
	players := append([]string(nil), s.players...)
	s.mu.Unlock()

	// Both guesses come from the same connection; attribution still
	// alternates between the two fixed slots.
	reg.Guess("R1", "c1", "Player B")
	reg.Guess("R1", "c1", "Player C")

	ended := messagesOf[TurnEndedMessage](rec, "broadcast")
	require.Len(t, ended, 2)
	assert.Equal(t, players[(firstSlot+1)%2], ended[0].NextPlayerID)
	assert.Equal(t, players[firstSlot], ended[1].NextPlayerID)
}

func TestCountdownExpiry(t *testing.T) {
	t.Parallel()

	reg, rec := newTestRegistry(newFakeOracle())
	reg.cfg.turnSeconds = 3
	reg.tickInterval = 2 * time.Millisecond

	s := fillRoom(reg, "R1")
	require.NotNil(t, s)

	s.mu.Lock()
	loser := s.usernames[s.players[s.currentTurn]]
	winner := s.usernames[s.players[(s.currentTurn+1)%2]]
	s.mu.Unlock()

	require.Eventually(t, func() bool {
		return len(messagesOf[GameOverMessage](rec, "broadcast")) > 0
	}, 2*time.Second, 5*time.Millisecond)

	over := messagesOf[GameOverMessage](rec, "broadcast")
	require.Len(t, over, 1)
	assert.Contains(t, over[0].Message, "Time's up!")
	assert.Contains(t, over[0].Message, fmt.Sprintf("%s failed", loser))
	assert.Contains(t, over[0].Message, fmt.Sprintf("%s wins", winner))

	ticks := messagesOf[TimerTickMessage](rec, "broadcast")
	require.NotEmpty(t, ticks)
	assert.Equal(t, 2, ticks[0].TimeLeft)

	assert.Nil(t, reg.lookup("R1"))

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.False(t, s.started)
	assert.Nil(t, s.timer)
}

func TestStartFailsWithoutCandidates(t *testing.T) {
	t.Parallel()

	oracle := newFakeOracle()
	oracle.mates = map[string][]string{}
	reg, rec := newTestRegistry(oracle)

	reg.Join("R1", "c1", "alice")
	s := reg.lookup("R1")
	require.NotNil(t, s)
	reg.Join("R1", "c2", "bob")

	over := messagesOf[GameOverMessage](rec, "broadcast")
	require.Len(t, over, 1)
	assert.Equal(t, "No teammates found for Player A. Game cannot proceed.", over[0].Message)

	assert.Empty(t, messagesOf[GameStartedMessage](rec, "broadcast"))
	assert.Nil(t, reg.lookup("R1"))

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.False(t, s.started)
	assert.Nil(t, s.timer)
}

func TestStartFailsWithoutStartingPlayer(t *testing.T) {
	t.Parallel()

	oracle := newFakeOracle()
	oracle.starting = ""
	reg, rec := newTestRegistry(oracle)

	fillRoom(reg, "R1")

	over := messagesOf[GameOverMessage](rec, "broadcast")
	require.Len(t, over, 1)
	assert.Equal(t, "No starting player available. Game cannot proceed.", over[0].Message)
	assert.Nil(t, reg.lookup("R1"))
}

func TestDisconnectTearsDownRoom(t *testing.T) {
	t.Parallel()

	reg, rec := newTestRegistry(newFakeOracle())
	s := fillRoom(reg, "R1")
	require.NotNil(t, s)

	s.mu.Lock()
	tm := s.timer
	s.mu.Unlock()
	require.NotNil(t, tm)

	reg.Remove("c2")

	counts := messagesOf[PlayersUpdateMessage](rec, "broadcast")
	require.NotEmpty(t, counts)
	assert.Equal(t, 1, counts[len(counts)-1].Count)

	over := messagesOf[GameOverMessage](rec, "broadcast")
	require.Len(t, over, 1)
	assert.Equal(t, "Not enough players. Game ended.", over[0].Message)

	assert.Nil(t, reg.lookup("R1"))
	assert.True(t, timerCancelled(tm))

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, []string{"c1"}, s.players)
	assert.NotContains(t, s.usernames, "c2")
	assert.Nil(t, s.timer)
}

func TestRematchRestartsFinishedGame(t *testing.T) {
	t.Parallel()

	reg, rec := newTestRegistry(newFakeOracle())
	reg.cfg.turnSeconds = 1
	reg.tickInterval = 2 * time.Millisecond

	s := fillRoom(reg, "R1")
	require.NotNil(t, s)

	require.Eventually(t, func() bool {
		return len(messagesOf[GameOverMessage](rec, "broadcast")) > 0
	}, 2*time.Second, 5*time.Millisecond)
	require.Nil(t, reg.lookup("R1"))

	// Slow the clock back down so the rematch game doesn't expire
	// underneath the assertions.
	reg.cfg.turnSeconds = 15
	reg.tickInterval = time.Second

	reg.VoteRematch("R1", "c1")

	requested := messagesOf[RematchRequestedMessage](rec, "sendToOthers")
	require.Len(t, requested, 1)
	assert.Equal(t, "alice", requested[0].Username)
	assert.Nil(t, reg.lookup("R1"), "one vote must not restart the game")

	reg.VoteRematch("R1", "c2")

	started := messagesOf[GameStartedMessage](rec, "broadcast")
	require.Len(t, started, 2)
	assert.Equal(t, reg.cfg.turnSeconds, started[1].TimeLeft)
	assert.Same(t, s, reg.lookup("R1"))

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.True(t, s.started)
	assert.Empty(t, s.acceptedGuesses)
	assert.Empty(t, s.rematchVotes)
	assert.NotNil(t, s.timer)
}

func TestStaleLookupDiscardedAfterTeardown(t *testing.T) {
	t.Parallel()

	oracle := newFakeOracle()
	oracle.blockOn = "Player B"
	oracle.entered = make(chan struct{}, 1)
	oracle.unblock = make(chan struct{})

	reg, rec := newTestRegistry(oracle)
	s := fillRoom(reg, "R1")
	require.NotNil(t, s)

	done := make(chan struct{})
	go func() {
		defer close(done)
		reg.Guess("R1", "c1", "Player B")
	}()

	// Wait until the guess handler is suspended in the teammate lookup,
	// then tear the room down underneath it.
	select {
	case <-oracle.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("oracle lookup never started")
	}

	reg.Remove("c2")
	require.Nil(t, reg.lookup("R1"))

	close(oracle.unblock)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("guess handler never returned")
	}

	assert.Empty(t, messagesOf[TurnEndedMessage](rec, "broadcast"))

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Nil(t, s.timer)
	assert.Nil(t, s.candidates)
}

func TestThirdJoinIsRosterOnly(t *testing.T) {
	t.Parallel()

	reg, rec := newTestRegistry(newFakeOracle())
	s := fillRoom(reg, "R1")
	require.NotNil(t, s)

	reg.Join("R1", "c3", "carol")

	counts := messagesOf[PlayersUpdateMessage](rec, "broadcast")
	require.Len(t, counts, 3)
	assert.Equal(t, 3, counts[2].Count)

	// The game does not restart, and carol never occupies a turn slot.
	assert.Len(t, messagesOf[GameStartedMessage](rec, "broadcast"), 1)

	reg.Guess("R1", "c3", "Player B")

	ended := messagesOf[TurnEndedMessage](rec, "broadcast")
	require.Len(t, ended, 1)
	assert.Contains(t, []string{"c1", "c2"}, ended[0].NextPlayerID)

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Less(t, s.currentTurn, 2)
}

func TestJoinIsIdempotent(t *testing.T) {
	t.Parallel()

	reg, rec := newTestRegistry(newFakeOracle())
	reg.Join("R1", "c1", "alice")
	reg.Join("R1", "c1", "alice")

	s := reg.lookup("R1")
	require.NotNil(t, s)

	s.mu.Lock()
	assert.Equal(t, []string{"c1"}, s.players)
	s.mu.Unlock()

	counts := messagesOf[PlayersUpdateMessage](rec, "broadcast")
	require.Len(t, counts, 2)
	assert.Equal(t, 1, counts[1].Count)
	assert.Empty(t, messagesOf[GameStartedMessage](rec, "broadcast"))
}
