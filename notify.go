package main

// Messages coming from clients
type ClientMessage struct {
	Type     string `json:"type"`               // "join", "guess", "rematch"
	Username string `json:"username,omitempty"` // join
	Guess    string `json:"guess,omitempty"`    // guess
}

// PlayersUpdateMessage is broadcast whenever room membership changes.
type PlayersUpdateMessage struct {
	Type  string `json:"type"` // "players_update"
	Count int    `json:"count"`
}

// GameStartedMessage is broadcast once a room fills and a leadoff
// player has been drawn.
type GameStartedMessage struct {
	Type              string `json:"type"` // "game_started"
	FirstPlayerID     string `json:"first_player_id"`
	CurrentPlayerName string `json:"current_player_name"`
	TimeLeft          int    `json:"time_left"`
}

// TurnEndedMessage is broadcast after every accepted guess.
type TurnEndedMessage struct {
	Type              string `json:"type"` // "turn_ended"
	SuccessfulGuess   string `json:"successful_guess"`
	NextPlayerID      string `json:"next_player_id"`
	CurrentPlayerName string `json:"current_player_name"`
	TimeLeft          int    `json:"time_left"`
}

type TimerTickMessage struct {
	Type     string `json:"type"` // "timer_tick"
	TimeLeft int    `json:"time_left"`
}

type GameOverMessage struct {
	Type    string `json:"type"` // "game_over"
	Message string `json:"message"`
}

// RematchRequestedMessage is sent to every room member except the voter.
type RematchRequestedMessage struct {
	Type     string `json:"type"` // "rematch_requested"
	Username string `json:"username"`
}

// TextMessage carries private rejection text to a single client.
type TextMessage struct {
	Type    string `json:"type"` // "message"
	Message string `json:"message"`
}

// notifier delivers outbound messages to the clients of a room. The
// websocket hub implements it in production; tests substitute a recorder.
type notifier interface {
	broadcast(roomID string, msg any)
	sendTo(roomID, connID string, msg any)
	sendToOthers(roomID, connID string, msg any)
	closeRoom(roomID string)
}
