package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AsimAryal/categories-game/game"
)

var (
	ErrDatabase       = errors.New("unexpected database error")
	ErrDuplicateToken = errors.New("duplicate session token")
)

// activeWindow bounds which rooms count as live for restart recovery.
const activeWindow = 24 * time.Hour

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	code        TEXT PRIMARY KEY,
	state       TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	data        JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS players (
	player_id       TEXT PRIMARY KEY,
	session_token   TEXT UNIQUE NOT NULL,
	room_code       TEXT NOT NULL REFERENCES rooms(code) ON DELETE CASCADE,
	name            TEXT NOT NULL,
	is_host         BOOLEAN NOT NULL DEFAULT FALSE,
	is_connected    BOOLEAN NOT NULL DEFAULT TRUE,
	join_order      INTEGER NOT NULL DEFAULT 0,
	disconnect_time TIMESTAMPTZ,
	score           DOUBLE PRECISION NOT NULL DEFAULT 0,
	data            JSONB
);

CREATE INDEX IF NOT EXISTS idx_players_room_code ON players(room_code);
`

// PostgresRepo implements game.Store on a pgx connection pool. Rooms and
// players are stored as flat columns for lookups plus a JSONB snapshot for
// full recovery.
type PostgresRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresRepo(ctx context.Context, connString string) (*PostgresRepo, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %w", ErrDatabase, err)
	}
	return &PostgresRepo{pool: pool}, nil
}

func (r *PostgresRepo) Close() {
	r.pool.Close()
}

func (r *PostgresRepo) SaveRoom(ctx context.Context, room *game.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO rooms (code, state, data, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (code) DO UPDATE SET
			state = excluded.state,
			data = excluded.data,
			updated_at = now()`,
		room.Code, string(room.State), data,
	)
	if err != nil {
		return wrapDBError(err)
	}
	return nil
}

func (r *PostgresRepo) LoadRoom(ctx context.Context, code string) (*game.Room, error) {
	var data []byte
	err := r.pool.QueryRow(ctx, "SELECT data FROM rooms WHERE code = $1", code).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapDBError(err)
	}

	room := &game.Room{}
	if err := json.Unmarshal(data, room); err != nil {
		return nil, fmt.Errorf("%w: corrupt room snapshot %s: %w", ErrDatabase, code, err)
	}
	return room, nil
}

func (r *PostgresRepo) DeleteRoom(ctx context.Context, code string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM rooms WHERE code = $1", code); err != nil {
		return wrapDBError(err)
	}
	return nil
}

func (r *PostgresRepo) SavePlayer(ctx context.Context, roomCode string, p *game.Player) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO players (
			player_id, session_token, room_code, name,
			is_host, is_connected, join_order, disconnect_time, score, data
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (player_id) DO UPDATE SET
			name = excluded.name,
			is_host = excluded.is_host,
			is_connected = excluded.is_connected,
			disconnect_time = excluded.disconnect_time,
			score = excluded.score,
			data = excluded.data`,
		p.ID, p.SessionToken, roomCode, p.Name,
		p.IsHost, p.IsConnected, p.JoinOrder, p.DisconnectTime, p.Score, data,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		// "23505" is the PostgreSQL error code for unique_violation
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateToken
		}
		return wrapDBError(err)
	}
	return nil
}

func (r *PostgresRepo) GetPlayerBySession(ctx context.Context, token string) (*game.PlayerRecord, error) {
	record := &game.PlayerRecord{SessionToken: token}

	row := r.pool.QueryRow(ctx, `
		SELECT player_id, room_code, name, is_host, join_order, score
		FROM players WHERE session_token = $1`, token)

	err := row.Scan(
		&record.PlayerID, &record.RoomCode, &record.Name,
		&record.IsHost, &record.JoinOrder, &record.Score,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapDBError(err)
	}
	return record, nil
}

func (r *PostgresRepo) MarkPlayerConnected(ctx context.Context, playerID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE players SET is_connected = TRUE, disconnect_time = NULL
		WHERE player_id = $1`, playerID)
	if err != nil {
		return wrapDBError(err)
	}
	return nil
}

func (r *PostgresRepo) MarkPlayerDisconnected(ctx context.Context, playerID string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE players SET is_connected = FALSE, disconnect_time = $2
		WHERE player_id = $1`, playerID, at)
	if err != nil {
		return wrapDBError(err)
	}
	return nil
}

func (r *PostgresRepo) DeletePlayer(ctx context.Context, playerID string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM players WHERE player_id = $1", playerID); err != nil {
		return wrapDBError(err)
	}
	return nil
}

// ActiveRooms returns every room touched within the recency window, for
// startup recovery.
func (r *PostgresRepo) ActiveRooms(ctx context.Context) ([]*game.Room, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT data FROM rooms WHERE updated_at > now() - make_interval(secs => $1)",
		activeWindow.Seconds(),
	)
	if err != nil {
		return nil, wrapDBError(err)
	}
	defer rows.Close()

	var rooms []*game.Room
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, wrapDBError(err)
		}
		room := &game.Room{}
		if err := json.Unmarshal(data, room); err != nil {
			return nil, fmt.Errorf("%w: corrupt room snapshot: %w", ErrDatabase, err)
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func wrapDBError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDatabase, err)
}
