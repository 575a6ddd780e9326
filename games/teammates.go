package games

// Two players join a room and take turns naming NBA players
// The first name is drawn at random from the database (a veteran, so the chain has somewhere to go)
// Each guess must be someone who shared a roster with the previously named player
// A 15-second countdown runs per turn; failing to produce a valid name before it expires loses the game
// Names can only be used once per game, and the starting player can never be guessed

// Implementation details:
// - One websocket per player, rooms addressed by an 8-char random ID in the URL
// - Teammate relationships come from players + player_team_stints in postgres
// - Overlapping stints on the same team count as "were teammates"

// After a game ends
// - Either player can request a rematch; when both agree, a new game starts in the same room
// - If a player leaves, the room is torn down
