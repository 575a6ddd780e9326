package main

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TeammateOracle answers the two relational questions the game depends
// on: who ever shared a roster with a given player, and which player is
// a suitable opener. Implementations degrade to empty results rather
// than surfacing partial data.
type TeammateOracle interface {
	Teammates(ctx context.Context, name string) ([]string, error)
	RandomStartingPlayer(ctx context.Context) (string, error)
}

// PlayerResult is one row of the autocomplete search.
type PlayerResult struct {
	PlayerID    int    `json:"player_id"`
	PlayerName  string `json:"player_name"`
	CurrentTeam string `json:"current_team"`
}

type PlayerSearcher interface {
	SearchPlayers(ctx context.Context, query string) ([]PlayerResult, error)
}

// postgresOracle reads the players and player_team_stints tables.
// Two players count as teammates when they had overlapping stints on
// the same team.
type postgresOracle struct {
	pool *pgxpool.Pool
}

func newPostgresOracle(ctx context.Context, connString string) (*postgresOracle, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &postgresOracle{pool: pool}, nil
}

func (o *postgresOracle) Close() {
	o.pool.Close()
}

const teammatesQuery = `
WITH player_stints AS (
	SELECT team_abbr, start_date, end_date
	FROM player_team_stints pts
	JOIN players p ON pts.player_id = p.player_id
	WHERE p.player_name = $1
)
SELECT DISTINCT p2.player_name
FROM player_team_stints pts2
JOIN players p2 ON pts2.player_id = p2.player_id
JOIN player_stints ps ON pts2.team_abbr = ps.team_abbr
WHERE p2.player_name != $1
	AND pts2.start_date <= ps.end_date
	AND pts2.end_date >= ps.start_date`

func (o *postgresOracle) Teammates(ctx context.Context, name string) ([]string, error) {
	rows, err := o.pool.Query(ctx, teammatesQuery, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var teammate string
		if err := rows.Scan(&teammate); err != nil {
			return nil, err
		}
		names = append(names, teammate)
	}

	return names, rows.Err()
}

// Openers need a real career behind them, otherwise the first candidate
// set is too thin to sustain a chain: at least ten distinct seasons
// played since 2000.
const randomStartingPlayerQuery = `
WITH player_seasons AS (
	SELECT
		player_id,
		generate_series(CAST(start_season AS INT), CAST(end_season AS INT)) AS season
	FROM player_team_stints
	WHERE start_season >= '2000'
)
SELECT p.player_name
FROM players p
JOIN (
	SELECT player_id
	FROM player_seasons
	GROUP BY player_id
	HAVING COUNT(DISTINCT season) >= 10
) ps ON p.player_id = ps.player_id
ORDER BY RANDOM()
LIMIT 1`

func (o *postgresOracle) RandomStartingPlayer(ctx context.Context) (string, error) {
	var name string

	err := o.pool.QueryRow(ctx, randomStartingPlayerQuery).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	return name, nil
}

const searchOneTermQuery = `
SELECT DISTINCT p.player_id, p.player_name,
	(SELECT pts.team_abbr
	 FROM player_team_stints pts
	 WHERE pts.player_id = p.player_id
	 ORDER BY pts.end_date DESC LIMIT 1) AS current_team
FROM players p
WHERE
	p.player_name ILIKE $1 || '%'
	OR p.player_name ILIKE '% ' || $1 || '%'
ORDER BY p.player_name
LIMIT 20`

const searchTwoTermQuery = `
SELECT DISTINCT p.player_id, p.player_name,
	(SELECT pts.team_abbr
	 FROM player_team_stints pts
	 WHERE pts.player_id = p.player_id
	 ORDER BY pts.end_date DESC LIMIT 1) AS current_team
FROM players p
WHERE
	p.player_name ILIKE $1 || '%'
	AND p.player_name ILIKE '% ' || $2 || '%'
ORDER BY p.player_name
LIMIT 20`

// SearchPlayers autocompletes a partial name. A single term matches the
// start of either the first or the last name; two terms match first and
// last name respectively.
func (o *postgresOracle) SearchPlayers(ctx context.Context, query string) ([]PlayerResult, error) {
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return nil, nil
	}

	var rows pgx.Rows
	var err error
	if len(terms) == 1 {
		rows, err = o.pool.Query(ctx, searchOneTermQuery, terms[0])
	} else {
		rows, err = o.pool.Query(ctx, searchTwoTermQuery, terms[0], terms[1])
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []PlayerResult
	for rows.Next() {
		var result PlayerResult
		var team *string
		if err := rows.Scan(&result.PlayerID, &result.PlayerName, &team); err != nil {
			return nil, err
		}
		if team != nil {
			result.CurrentTeam = *team
		}
		results = append(results, result)
	}

	return results, rows.Err()
}
