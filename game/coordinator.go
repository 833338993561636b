package game

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Store is the persistence gate. Every state-mutating coordinator operation
// writes through it after mutating in-memory state; a write failure fails
// the operation.
type Store interface {
	SaveRoom(ctx context.Context, room *Room) error
	LoadRoom(ctx context.Context, code string) (*Room, error)
	DeleteRoom(ctx context.Context, code string) error
	SavePlayer(ctx context.Context, roomCode string, p *Player) error
	GetPlayerBySession(ctx context.Context, token string) (*PlayerRecord, error)
	MarkPlayerConnected(ctx context.Context, playerID string) error
	MarkPlayerDisconnected(ctx context.Context, playerID string, at time.Time) error
	DeletePlayer(ctx context.Context, playerID string) error
	ActiveRooms(ctx context.Context) ([]*Room, error)
}

// PlayerRecord is the flat player row the store indexes by session token.
type PlayerRecord struct {
	PlayerID     string
	SessionToken string
	RoomCode     string
	Name         string
	IsHost       bool
	JoinOrder    int
	Score        float64
}

// Coordinator owns the room table and is the single choke point for room
// mutation. Operations on different rooms run concurrently; operations on
// the same room serialize on that room's lock. The coordinator lock guards
// only the lookup maps and room creation/deletion, and is never held across
// storage I/O.
type Coordinator struct {
	mu            sync.RWMutex
	rooms         map[string]*Room
	playerRoom    map[string]string // player id -> room code
	sessionPlayer map[string]string // session token -> player id

	store Store
	now   func() time.Time

	lobbyGrace time.Duration
	gameGrace  time.Duration
}

func NewCoordinator(store Store) *Coordinator {
	return &Coordinator{
		rooms:         make(map[string]*Room),
		playerRoom:    make(map[string]string),
		sessionPlayer: make(map[string]string),
		store:         store,
		now:           time.Now,
		lobbyGrace:    30 * time.Second,
		gameGrace:     5 * time.Minute,
	}
}

// Initialize loads active rooms from the store and rebuilds the lookup maps,
// so sessions minted before a restart can still rejoin.
func (c *Coordinator) Initialize(ctx context.Context) error {
	rooms, err := c.store.ActiveRooms(ctx)
	if err != nil {
		return fmt.Errorf("load active rooms: %w", err)
	}

	c.mu.Lock()
	for _, room := range rooms {
		c.rooms[room.Code] = room
		for pid, p := range room.Players {
			c.playerRoom[pid] = room.Code
			if p.SessionToken != "" {
				c.sessionPlayer[p.SessionToken] = pid
			}
		}
		slog.Info("recovered room",
			"room", room.Code,
			"state", room.State,
			"players", len(room.Players),
			"connected", len(room.connectedIDs()),
		)
	}
	c.mu.Unlock()

	slog.Info("coordinator ready", "rooms", len(rooms))
	return nil
}

func (c *Coordinator) roomByCode(code string) (*Room, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	room, ok := c.rooms[strings.ToUpper(code)]
	return room, ok
}

func (c *Coordinator) roomByPlayer(playerID string) (*Room, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	code, ok := c.playerRoom[playerID]
	if !ok {
		return nil, false
	}
	room, ok := c.rooms[code]
	return room, ok
}

// CreateRoom allocates a fresh room with the caller as host. The returned
// Player value is a copy carrying the new session token.
func (c *Coordinator) CreateRoom(ctx context.Context, hostName string, preciseScoring bool) (RoomView, Player, error) {
	host := &Player{
		ID:             newPlayerID(),
		Name:           hostName,
		IsHost:         true,
		SessionToken:   newSessionToken(),
		IsConnected:    true,
		JoinOrder:      0,
		CurrentAnswers: map[string]string{},
	}

	c.mu.Lock()
	code := newRoomCode(func(candidate string) bool {
		_, held := c.rooms[candidate]
		return held
	})
	room := newRoom(code, preciseScoring)
	room.Players[host.ID] = host
	room.NextJoinOrder = 1
	c.rooms[code] = room
	c.playerRoom[host.ID] = code
	c.sessionPlayer[host.SessionToken] = host.ID
	room.mu.Lock()
	c.mu.Unlock()

	err := c.persistRoomAndPlayer(ctx, room, host)
	view := room.view()
	room.mu.Unlock()

	if err != nil {
		c.mu.Lock()
		delete(c.rooms, code)
		delete(c.playerRoom, host.ID)
		delete(c.sessionPlayer, host.SessionToken)
		c.mu.Unlock()
		return RoomView{}, Player{}, err
	}

	slog.Info("room created", "room", code, "host", hostName)
	return view, *host, nil
}

// JoinRoom adds a player to a lobby-state room with free seats.
func (c *Coordinator) JoinRoom(ctx context.Context, code, name string) (RoomView, Player, error) {
	code = strings.ToUpper(code)

	c.mu.Lock()
	room, ok := c.rooms[code]
	if !ok {
		c.mu.Unlock()
		return RoomView{}, Player{}, ErrRoomNotFound
	}

	room.mu.Lock()
	if room.State != StateLobby || len(room.Players) >= MaxPlayers {
		room.mu.Unlock()
		c.mu.Unlock()
		return RoomView{}, Player{}, ErrRoomNotJoinable
	}

	player := &Player{
		ID:             newPlayerID(),
		Name:           name,
		SessionToken:   newSessionToken(),
		IsConnected:    true,
		JoinOrder:      room.NextJoinOrder,
		CurrentAnswers: map[string]string{},
	}
	room.NextJoinOrder++
	room.Players[player.ID] = player
	c.playerRoom[player.ID] = code
	c.sessionPlayer[player.SessionToken] = player.ID
	c.mu.Unlock()

	err := c.persistRoomAndPlayer(ctx, room, player)
	if err != nil {
		delete(room.Players, player.ID)
		room.NextJoinOrder--
		room.mu.Unlock()
		c.mu.Lock()
		delete(c.playerRoom, player.ID)
		delete(c.sessionPlayer, player.SessionToken)
		c.mu.Unlock()
		return RoomView{}, Player{}, err
	}
	view := room.view()
	room.mu.Unlock()

	slog.Info("player joined", "room", code, "player", name, "roster", len(view.Players))
	return view, *player, nil
}

// ReconnectState is the full catch-up payload a rejoining client receives,
// shaped by the phase the room is currently in.
type ReconnectState struct {
	RoomCode     string       `json:"room_code"`
	GameState    GameState    `json:"game_state"`
	IsHost       bool         `json:"is_host"`
	PlayerID     string       `json:"player_id"`
	SessionToken string       `json:"session_token"`
	Players      []PlayerView `json:"players"`
	Settings     RoomSettings `json:"settings"`

	Round            *Round            `json:"round,omitempty"`
	RemainingTime    *int              `json:"remaining_time,omitempty"`
	MyAnswers        map[string]string `json:"my_answers,omitempty"`
	ScoringRemaining *int              `json:"scoring_remaining,omitempty"`
	ScoresSubmitted  *bool             `json:"scores_submitted,omitempty"`

	RoundScores      map[string]map[string]float64 `json:"round_scores,omitempty"`
	CumulativeScores map[string]float64            `json:"cumulative_scores,omitempty"`
	IsFinalRound     *bool                         `json:"is_final_round,omitempty"`

	History     []Round            `json:"history,omitempty"`
	FinalScores map[string]float64 `json:"final_scores,omitempty"`

	OtherConnectedIDs []string `json:"-"`
}

// RejoinRoom resolves a session token back to its player, in-memory registry
// first and the store second, and marks the player connected again. The
// storage fallback covers sessions minted before a server restart.
func (c *Coordinator) RejoinRoom(ctx context.Context, sessionToken string) (ReconnectState, Player, error) {
	c.mu.RLock()
	playerID, ok := c.sessionPlayer[sessionToken]
	c.mu.RUnlock()

	if !ok {
		record, err := c.store.GetPlayerBySession(ctx, sessionToken)
		if err != nil {
			return ReconnectState{}, Player{}, err
		}
		if record == nil {
			return ReconnectState{}, Player{}, ErrSessionNotFound
		}
		playerID = record.PlayerID
	}

	room, ok := c.roomByPlayer(playerID)
	if !ok {
		return ReconnectState{}, Player{}, ErrSessionNotFound
	}

	room.mu.Lock()
	player, ok := room.Players[playerID]
	if !ok {
		room.mu.Unlock()
		return ReconnectState{}, Player{}, ErrSessionNotFound
	}

	player.IsConnected = true
	player.DisconnectTime = nil

	if err := c.store.MarkPlayerConnected(ctx, playerID); err != nil {
		player.IsConnected = false
		room.mu.Unlock()
		return ReconnectState{}, Player{}, err
	}

	state := c.buildReconnectState(room, player)
	rejoined := *player
	room.mu.Unlock()

	// Repopulate the in-memory registry on a storage-backed hit.
	c.mu.Lock()
	c.sessionPlayer[sessionToken] = playerID
	c.playerRoom[playerID] = room.Code
	c.mu.Unlock()

	slog.Info("player reconnected", "room", room.Code, "player", rejoined.Name, "state", state.GameState)
	return state, rejoined, nil
}

// buildReconnectState assembles the phase-specific catch-up payload.
// Caller holds the room lock.
func (c *Coordinator) buildReconnectState(room *Room, player *Player) ReconnectState {
	view := room.view()
	state := ReconnectState{
		RoomCode:     room.Code,
		GameState:    room.State,
		IsHost:       player.IsHost,
		PlayerID:     player.ID,
		SessionToken: player.SessionToken,
		Players:      view.Players,
		Settings:     view.Settings,
	}
	for _, id := range room.connectedIDs() {
		if id != player.ID {
			state.OtherConnectedIDs = append(state.OtherConnectedIDs, id)
		}
	}

	switch room.State {
	case StatePlaying:
		if room.CurrentRound != nil {
			snap := room.CurrentRound.snapshot()
			state.Round = &snap
			remaining := c.remainingSeconds(room.RoundStartTime, room.RoundDurationSeconds)
			state.RemainingTime = &remaining
			if answers, ok := room.CurrentRound.Answers[player.ID]; ok {
				state.MyAnswers = answers
			}
		}
	case StateScoring:
		if room.CurrentRound != nil {
			snap := room.CurrentRound.snapshot()
			state.Round = &snap
			remaining := c.deadlineSeconds(room.ScoringDeadline)
			state.ScoringRemaining = &remaining
			_, submitted := room.CurrentRound.ScoringVotes[player.ID]
			state.ScoresSubmitted = &submitted
		}
	case StateRoundResults:
		if room.CurrentRound != nil {
			snap := room.CurrentRound.snapshot()
			state.RoundScores = snap.Scores
			state.CumulativeScores = cumulativeScores(room)
			final := len(room.History) >= finalRoundCount
			state.IsFinalRound = &final
		}
	case StateFinalResults:
		state.History = historySnapshots(room)
		state.FinalScores = cumulativeScores(room)
	}

	return state
}

func (c *Coordinator) remainingSeconds(start *time.Time, total int) int {
	if start == nil {
		return total
	}
	remaining := total - int(c.now().Sub(*start).Seconds())
	return max(0, remaining)
}

func (c *Coordinator) deadlineSeconds(deadline *time.Time) int {
	if deadline == nil {
		return DefaultScoringTimeout
	}
	return max(0, int(deadline.Sub(c.now()).Seconds()))
}

// DisconnectReport describes the fallout of marking a player disconnected:
// who to notify, and the new host when migration fired.
type DisconnectReport struct {
	RoomCode          string
	Player            PlayerView
	NewHost           *PlayerView
	ConnectedIDs      []string
	OtherConnectedIDs []string
	Room              RoomView
}

// MarkPlayerDisconnected flags a player as gone without evicting them, so
// the grace window can run. When the host drops, hostship migrates to the
// connected player with the smallest join order within the same operation.
func (c *Coordinator) MarkPlayerDisconnected(ctx context.Context, playerID string) (DisconnectReport, error) {
	room, ok := c.roomByPlayer(playerID)
	if !ok {
		return DisconnectReport{}, ErrPlayerNotFound
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	player, ok := room.Players[playerID]
	if !ok {
		return DisconnectReport{}, ErrPlayerNotFound
	}

	at := c.now()
	player.IsConnected = false
	player.DisconnectTime = &at

	if err := c.store.MarkPlayerDisconnected(ctx, playerID, at); err != nil {
		player.IsConnected = true
		player.DisconnectTime = nil
		return DisconnectReport{}, err
	}

	report := DisconnectReport{
		RoomCode: room.Code,
		Player:   playerView(player),
	}

	if player.IsHost {
		if next := room.nextHost(); next != nil {
			player.IsHost = false
			next.IsHost = true
			if err := c.persistMigration(ctx, room, player, next); err != nil {
				player.IsHost = true
				next.IsHost = false
				return DisconnectReport{}, err
			}
			view := playerView(next)
			report.NewHost = &view
			slog.Info("host migrated", "room", room.Code, "from", player.Name, "to", next.Name)
		}
	}

	report.ConnectedIDs = room.connectedIDs()
	for _, id := range report.ConnectedIDs {
		if id != playerID {
			report.OtherConnectedIDs = append(report.OtherConnectedIDs, id)
		}
	}
	report.Room = room.view()

	slog.Info("player disconnected", "room", room.Code, "player", player.Name, "state", room.State)
	return report, nil
}

func (c *Coordinator) persistMigration(ctx context.Context, room *Room, old, next *Player) error {
	if err := c.store.SavePlayer(ctx, room.Code, old); err != nil {
		return err
	}
	if err := c.store.SavePlayer(ctx, room.Code, next); err != nil {
		return err
	}
	return c.store.SaveRoom(ctx, room)
}

// LeaveReport describes a removal: whether the room survived, and the
// promoted host when a connected host left intentionally.
type LeaveReport struct {
	RoomCode     string
	RoomDeleted  bool
	PlayerName   string
	NewHost      *PlayerView
	Room         RoomView
	ConnectedIDs []string
}

// RemovePlayer hard-deletes a player and its session mapping. An emptied
// room is deleted in the same operation. Disconnected hosts already migrated
// at disconnect time; a still-connected host leaving hands hostship to the
// next connected player by join order.
func (c *Coordinator) RemovePlayer(ctx context.Context, playerID string) (LeaveReport, error) {
	report, _, err := c.removePlayer(ctx, playerID, false)
	return report, err
}

// removePlayer is the single removal path for intentional leaves and sweeper
// evictions. onlyIfDisconnected guards the eviction case: the player may have
// reconnected between the sweep's scan and this call, so connectedness is
// rechecked under the room lock and a reconnected player is left alone
// (removed=false).
func (c *Coordinator) removePlayer(ctx context.Context, playerID string, onlyIfDisconnected bool) (LeaveReport, bool, error) {
	c.mu.Lock()
	code, ok := c.playerRoom[playerID]
	if !ok {
		c.mu.Unlock()
		return LeaveReport{}, false, ErrPlayerNotFound
	}
	room := c.rooms[code]

	room.mu.Lock()
	player, ok := room.Players[playerID]
	if !ok {
		room.mu.Unlock()
		delete(c.playerRoom, playerID)
		c.mu.Unlock()
		return LeaveReport{}, false, ErrPlayerNotFound
	}

	if onlyIfDisconnected && (player.IsConnected || player.DisconnectTime == nil) {
		room.mu.Unlock()
		c.mu.Unlock()
		return LeaveReport{}, false, nil
	}

	wasHost := player.IsHost
	delete(room.Players, playerID)
	delete(c.playerRoom, playerID)
	delete(c.sessionPlayer, player.SessionToken)

	roomEmpty := len(room.Players) == 0
	if roomEmpty {
		delete(c.rooms, code)
	}
	c.mu.Unlock()
	defer room.mu.Unlock()

	if err := c.store.DeletePlayer(ctx, playerID); err != nil {
		return LeaveReport{}, true, err
	}

	report := LeaveReport{RoomCode: code, PlayerName: player.Name}

	if roomEmpty {
		report.RoomDeleted = true
		if err := c.store.DeleteRoom(ctx, code); err != nil {
			return LeaveReport{}, true, err
		}
		slog.Info("room deleted", "room", code)
		return report, true, nil
	}

	if wasHost {
		if next := room.nextHost(); next != nil {
			next.IsHost = true
			if err := c.store.SavePlayer(ctx, code, next); err != nil {
				next.IsHost = false
				return LeaveReport{}, true, err
			}
			view := playerView(next)
			report.NewHost = &view
			slog.Info("host migrated", "room", code, "from", player.Name, "to", next.Name)
		}
	}

	if err := c.store.SaveRoom(ctx, room); err != nil {
		return LeaveReport{}, true, err
	}

	report.Room = room.view()
	report.ConnectedIDs = room.connectedIDs()
	return report, true, nil
}

// OpenRooms lists joinable rooms: lobby state with seats free.
func (c *Coordinator) OpenRooms() []OpenRoom {
	c.mu.RLock()
	rooms := make([]*Room, 0, len(c.rooms))
	for _, room := range c.rooms {
		rooms = append(rooms, room)
	}
	c.mu.RUnlock()

	open := make([]OpenRoom, 0, len(rooms))
	for _, room := range rooms {
		room.mu.Lock()
		if room.State == StateLobby && len(room.Players) < MaxPlayers {
			hostName := "Unknown"
			if host, ok := room.Players[room.hostID()]; ok {
				hostName = host.Name
			}
			open = append(open, OpenRoom{
				Code:        room.Code,
				HostName:    hostName,
				PlayerCount: len(room.Players),
			})
		}
		room.mu.Unlock()
	}
	return open
}

// RoomState returns a broadcast-ready snapshot of a room.
func (c *Coordinator) RoomState(code string) (RoomView, []string, bool) {
	room, ok := c.roomByCode(code)
	if !ok {
		return RoomView{}, nil, false
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	return room.view(), room.connectedIDs(), true
}

func (c *Coordinator) persistRoomAndPlayer(ctx context.Context, room *Room, p *Player) error {
	if err := c.store.SaveRoom(ctx, room); err != nil {
		return err
	}
	return c.store.SavePlayer(ctx, room.Code, p)
}

func cumulativeScores(room *Room) map[string]float64 {
	scores := make(map[string]float64, len(room.Players))
	for pid, p := range room.Players {
		scores[pid] = p.Score
	}
	return scores
}

func historySnapshots(room *Room) []Round {
	history := make([]Round, 0, len(room.History))
	for _, round := range room.History {
		history = append(history, round.snapshot())
	}
	return history
}
